package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	PricingModeRetail         = "percentage"
	PricingModeCostPlus       = "cost_plus"
	PricingModeCostMultiplier = "cost_multiplier"
)

// TenantPricing holds the org-wide rule used to price server-side checkouts.
type TenantPricing struct {
	OrgID           uuid.UUID       `gorm:"column:org_id;type:uuid;primaryKey"`
	PricingMode     string          `gorm:"column:pricing_mode;not null;default:'percentage'"`
	PriceMultiplier decimal.Decimal `gorm:"column:price_multiplier;type:numeric(8,4);not null"`
	CostPlusMarkup  decimal.Decimal `gorm:"column:cost_plus_markup;type:numeric(12,2);not null"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (TenantPricing) TableName() string { return "tenant_pricing" }
