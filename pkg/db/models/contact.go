package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/peptidecrm-backend/pkg/enums"
)

// Contact is a CRM buyer record scoped to one organization.
type Contact struct {
	ID                 uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OrgID              uuid.UUID         `gorm:"column:org_id;type:uuid;not null"`
	Name               string            `gorm:"column:name;not null"`
	Email              *string           `gorm:"column:email"`
	Phone              *string           `gorm:"column:phone"`
	Company            *string           `gorm:"column:company"`
	Address            *string           `gorm:"column:address"`
	Type               enums.ContactType `gorm:"column:type;type:text;not null;default:'customer'"`
	Source             *string           `gorm:"column:source"`
	ExternalCustomerID *string           `gorm:"column:external_customer_id"`
	RepID              *uuid.UUID        `gorm:"column:rep_id;type:uuid"`
	Notes              *string           `gorm:"column:notes"`
	CreatedAt          time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (Contact) TableName() string { return "contacts" }

func (c *Contact) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
