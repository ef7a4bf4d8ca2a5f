package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/peptidecrm-backend/pkg/enums"
)

// SalesOrder is the reconciled internal record of a sale, whichever system it
// came from. ExternalOrderID is unique per (org, source).
type SalesOrder struct {
	ID               uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrgID            uuid.UUID           `gorm:"column:org_id;type:uuid;not null;uniqueIndex:uq_sales_orders_external,priority:1"`
	ClientID         *uuid.UUID          `gorm:"column:client_id;type:uuid"`
	RepID            *uuid.UUID          `gorm:"column:rep_id;type:uuid"`
	Status           enums.OrderStatus   `gorm:"column:status;type:text;not null;default:'draft'"`
	PaymentStatus    enums.PaymentStatus `gorm:"column:payment_status;type:text;not null;default:'unpaid'"`
	TotalAmount      decimal.Decimal     `gorm:"column:total_amount;type:numeric(12,2);not null"`
	AmountPaid       decimal.Decimal     `gorm:"column:amount_paid;type:numeric(12,2);not null"`
	CommissionAmount decimal.Decimal     `gorm:"column:commission_amount;type:numeric(12,2);not null"`
	ShippingAddress  *string             `gorm:"column:shipping_address"`
	ShippingCost     decimal.Decimal     `gorm:"column:shipping_cost;type:numeric(12,2);not null"`
	CogsAmount       decimal.Decimal     `gorm:"column:cogs_amount;type:numeric(12,2);not null"`
	MerchantFee      decimal.Decimal     `gorm:"column:merchant_fee;type:numeric(12,2);not null"`
	ProfitAmount     decimal.Decimal     `gorm:"column:profit_amount;type:numeric(12,2);not null"`
	Notes            *string             `gorm:"column:notes"`
	OrderSource      enums.OrderSource   `gorm:"column:order_source;type:text;not null;uniqueIndex:uq_sales_orders_external,priority:2"`
	ExternalOrderID  *string             `gorm:"column:external_order_id;uniqueIndex:uq_sales_orders_external,priority:3"`
	// ExternalStatus is the source's raw status string, kept verbatim so a
	// redelivered event with the same status can be recognised as a no-op.
	ExternalStatus       *string    `gorm:"column:external_status"`
	ExternalCreatedAt    *string    `gorm:"column:external_created_at"`
	ExternalModifiedAt   *string    `gorm:"column:external_modified_at"`
	PaymentMethod        *string    `gorm:"column:payment_method"`
	PaymentDate          *time.Time `gorm:"column:payment_date"`
	PaymentSessionID     *string    `gorm:"column:payment_session_id"`
	PaymentProviderState *string    `gorm:"column:payment_provider_status"`
	PaymentTransactionID *string    `gorm:"column:payment_transaction_id"`

	Items []SalesOrderItem `gorm:"foreignKey:SalesOrderID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (SalesOrder) TableName() string { return "sales_orders" }

func (o *SalesOrder) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// SalesOrderItem is one resolved catalog line of an order.
type SalesOrderItem struct {
	ID           uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	SalesOrderID uuid.UUID       `gorm:"column:sales_order_id;type:uuid;not null"`
	PeptideID    uuid.UUID       `gorm:"column:peptide_id;type:uuid;not null"`
	Quantity     int             `gorm:"column:quantity;not null"`
	UnitPrice    decimal.Decimal `gorm:"column:unit_price;type:numeric(12,4);not null"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (SalesOrderItem) TableName() string { return "sales_order_items" }

func (i *SalesOrderItem) BeforeCreate(*gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

// LineTotal is unit price times quantity.
func (i SalesOrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
