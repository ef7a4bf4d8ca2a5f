package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Peptide is a catalog product.
type Peptide struct {
	ID          uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	OrgID       uuid.UUID        `gorm:"column:org_id;type:uuid;not null"`
	Name        string           `gorm:"column:name;not null"`
	RetailPrice *decimal.Decimal `gorm:"column:retail_price;type:numeric(12,2)"`
	Active      bool             `gorm:"column:active;not null;default:true"`
	CreatedAt   time.Time        `gorm:"column:created_at;autoCreateTime"`
}

func (Peptide) TableName() string { return "peptides" }

func (p *Peptide) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// Lot is one inbound inventory receipt. Only read by the reconciliation code.
type Lot struct {
	ID                uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	OrgID             uuid.UUID       `gorm:"column:org_id;type:uuid;not null"`
	PeptideID         uuid.UUID       `gorm:"column:peptide_id;type:uuid;not null"`
	LotNumber         string          `gorm:"column:lot_number"`
	CostPerUnit       decimal.Decimal `gorm:"column:cost_per_unit;type:numeric(12,4);not null"`
	QuantityReceived  int             `gorm:"column:quantity_received;not null;default:0"`
	QuantityRemaining int             `gorm:"column:quantity_remaining;not null;default:0"`
	CreatedAt         time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (Lot) TableName() string { return "lots" }

func (l *Lot) BeforeCreate(*gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
