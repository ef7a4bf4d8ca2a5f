package checkout

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/peptidecrm-backend/pkg/db/models"
)

// PricingRule is the org-wide rule for server-priced checkouts.
type PricingRule struct {
	Mode       string
	Multiplier decimal.Decimal
	Markup     decimal.Decimal
}

// DefaultPricingRule charges retail price.
func DefaultPricingRule() PricingRule {
	return PricingRule{Mode: models.PricingModeRetail, Multiplier: decimal.NewFromInt(1)}
}

func ruleFromModel(p *models.TenantPricing) PricingRule {
	if p == nil {
		return DefaultPricingRule()
	}
	return PricingRule{Mode: p.PricingMode, Multiplier: p.PriceMultiplier, Markup: p.CostPlusMarkup}
}

// UnitPrice prices one unit. Cost based modes fall back to the retail
// multiplier when the peptide has no lot cost. cost_multiplier reads its
// factor from Markup.
func (r PricingRule) UnitPrice(retail, avgCost decimal.Decimal) decimal.Decimal {
	if avgCost.IsPositive() {
		switch r.Mode {
		case models.PricingModeCostPlus:
			return avgCost.Add(r.Markup).Round(2)
		case models.PricingModeCostMultiplier:
			return avgCost.Mul(r.Markup).Round(2)
		}
	}
	multiplier := r.Multiplier
	if !multiplier.IsPositive() {
		multiplier = decimal.NewFromInt(1)
	}
	return retail.Mul(multiplier).Round(2)
}
