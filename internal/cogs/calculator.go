// Package cogs computes cost of goods sold from inventory lots and the
// derived merchant fee and profit of an order.
package cogs

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/peptidecrm-backend/internal/catalog"
	"github.com/angelmondragon/peptidecrm-backend/pkg/db/models"
	"github.com/angelmondragon/peptidecrm-backend/pkg/enums"
)

// Repository reads lot costs.
type Repository interface {
	ListLots(ctx context.Context, peptideIDs []uuid.UUID) ([]models.Lot, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) ListLots(ctx context.Context, peptideIDs []uuid.UUID) ([]models.Lot, error) {
	if len(peptideIDs) == 0 {
		return nil, nil
	}
	var lots []models.Lot
	if err := r.db.WithContext(ctx).
		Select("peptide_id", "cost_per_unit", "quantity_remaining").
		Where("peptide_id IN ?", peptideIDs).
		Find(&lots).Error; err != nil {
		return nil, err
	}
	return lots, nil
}

// Calculator derives COGS, merchant fee and profit.
type Calculator struct {
	repo    Repository
	feeRate decimal.Decimal
}

func NewCalculator(repo Repository, feeRate decimal.Decimal) *Calculator {
	return &Calculator{repo: repo, feeRate: feeRate}
}

func (c *Calculator) FeeRate() decimal.Decimal { return c.feeRate }

// AverageCosts returns the unweighted mean lot cost per peptide. Peptides
// without lots are absent from the map.
func (c *Calculator) AverageCosts(ctx context.Context, peptideIDs []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error) {
	lots, err := c.repo.ListLots(ctx, uniqueIDs(peptideIDs))
	if err != nil {
		return nil, err
	}

	sums := make(map[uuid.UUID]decimal.Decimal)
	counts := make(map[uuid.UUID]int64)
	for _, lot := range lots {
		sums[lot.PeptideID] = sums[lot.PeptideID].Add(lot.CostPerUnit)
		counts[lot.PeptideID]++
	}

	avg := make(map[uuid.UUID]decimal.Decimal, len(sums))
	for id, sum := range sums {
		avg[id] = sum.Div(decimal.NewFromInt(counts[id]))
	}
	return avg, nil
}

// Compute sums average cost times quantity over lines, rounded to cents.
// Lines whose peptide has no lots contribute zero.
func (c *Calculator) Compute(ctx context.Context, lines []catalog.ResolvedLine) (decimal.Decimal, error) {
	if len(lines) == 0 {
		return decimal.Zero, nil
	}
	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.PeptideID)
	}
	avg, err := c.AverageCosts(ctx, ids)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(avg[line.PeptideID].Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return total.Round(2), nil
}

// Financials are the derived money fields of an order. They are always
// recomputed together so Profit matches its inputs after every write.
type Financials struct {
	Total       decimal.Decimal
	Cogs        decimal.Decimal
	Shipping    decimal.Decimal
	Commission  decimal.Decimal
	MerchantFee decimal.Decimal
	Profit      decimal.Decimal
}

// Financials computes fee and profit for the given totals and payment status.
func (c *Calculator) Financials(total, cogs, shipping, commission decimal.Decimal, status enums.PaymentStatus) Financials {
	fee := MerchantFee(total, c.feeRate, status)
	return Financials{
		Total:       total,
		Cogs:        cogs,
		Shipping:    shipping,
		Commission:  commission,
		MerchantFee: fee,
		Profit:      Profit(total, cogs, shipping, commission, fee),
	}
}

// MerchantFee is rate * total for paid orders and zero otherwise.
func MerchantFee(total, rate decimal.Decimal, status enums.PaymentStatus) decimal.Decimal {
	if status != enums.PaymentStatusPaid {
		return decimal.Zero
	}
	return total.Mul(rate).Round(2)
}

func Profit(total, cogs, shipping, commission, fee decimal.Decimal) decimal.Decimal {
	return total.Sub(cogs).Sub(shipping).Sub(commission).Sub(fee)
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
