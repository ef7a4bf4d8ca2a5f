package cogs

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/peptidecrm-backend/internal/catalog"
	"github.com/angelmondragon/peptidecrm-backend/pkg/db/dbtest"
	"github.com/angelmondragon/peptidecrm-backend/pkg/db/models"
	"github.com/angelmondragon/peptidecrm-backend/pkg/enums"
)

var feeRate = decimal.RequireFromString("0.05")

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestComputeUsesUnweightedMean(t *testing.T) {
	conn := dbtest.New(t)
	orgID := uuid.New()
	peptideID := uuid.New()
	dbtest.Seed(t, conn,
		&models.Lot{OrgID: orgID, PeptideID: peptideID, CostPerUnit: dec("10"), QuantityReceived: 100, QuantityRemaining: 100},
		&models.Lot{OrgID: orgID, PeptideID: peptideID, CostPerUnit: dec("20"), QuantityReceived: 1, QuantityRemaining: 1},
		&models.Lot{OrgID: orgID, PeptideID: peptideID, CostPerUnit: dec("30"), QuantityReceived: 5, QuantityRemaining: 0},
	)

	calc := NewCalculator(NewRepository(conn), feeRate)
	total, err := calc.Compute(context.Background(), []catalog.ResolvedLine{{PeptideID: peptideID, Quantity: 2}})
	require.NoError(t, err)
	assert.True(t, dec("40").Equal(total), total.String())
}

func TestComputeAcrossPeptides(t *testing.T) {
	conn := dbtest.New(t)
	orgID := uuid.New()
	a, b, missing := uuid.New(), uuid.New(), uuid.New()
	dbtest.Seed(t, conn,
		&models.Lot{OrgID: orgID, PeptideID: a, CostPerUnit: dec("12.50")},
		&models.Lot{OrgID: orgID, PeptideID: b, CostPerUnit: dec("3.3333")},
		&models.Lot{OrgID: orgID, PeptideID: b, CostPerUnit: dec("3.3333")},
	)

	calc := NewCalculator(NewRepository(conn), feeRate)
	total, err := calc.Compute(context.Background(), []catalog.ResolvedLine{
		{PeptideID: a, Quantity: 1},
		{PeptideID: b, Quantity: 3},
		{PeptideID: a, Quantity: 2},
		{PeptideID: missing, Quantity: 10},
	})
	require.NoError(t, err)
	// 12.50*3 + 3.3333*3 = 47.4999 -> 47.50
	assert.Equal(t, "47.5", total.String())
}

func TestComputeWithoutLines(t *testing.T) {
	calc := NewCalculator(stubRepo{err: errors.New("must not be called")}, feeRate)
	total, err := calc.Compute(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, total.IsZero())
}

func TestComputePropagatesRepositoryErrors(t *testing.T) {
	calc := NewCalculator(stubRepo{err: errors.New("db down")}, feeRate)
	_, err := calc.Compute(context.Background(), []catalog.ResolvedLine{{PeptideID: uuid.New(), Quantity: 1}})
	assert.EqualError(t, err, "db down")
}

func TestAverageCostsDeduplicatesIDs(t *testing.T) {
	id := uuid.New()
	repo := &recordingRepo{lots: []models.Lot{{PeptideID: id, CostPerUnit: dec("8")}, {PeptideID: id, CostPerUnit: dec("4")}}}
	calc := NewCalculator(repo, feeRate)

	avg, err := calc.AverageCosts(context.Background(), []uuid.UUID{id, id, id})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id}, repo.requested)
	assert.True(t, dec("6").Equal(avg[id]))
}

func TestFinancials(t *testing.T) {
	calc := NewCalculator(nil, feeRate)

	paid := calc.Financials(dec("100"), dec("40"), dec("8.95"), dec("0"), enums.PaymentStatusPaid)
	assert.Equal(t, "5", paid.MerchantFee.String())
	assert.Equal(t, "46.05", paid.Profit.String())

	unpaid := calc.Financials(dec("100"), dec("40"), dec("8.95"), dec("0"), enums.PaymentStatusUnpaid)
	assert.True(t, unpaid.MerchantFee.IsZero())
	assert.Equal(t, "51.05", unpaid.Profit.String())

	partial := calc.Financials(dec("100"), dec("0"), dec("0"), dec("10"), enums.PaymentStatusPartial)
	assert.True(t, partial.MerchantFee.IsZero())
	assert.Equal(t, "90", partial.Profit.String())
}

func TestMerchantFeeRoundsToCents(t *testing.T) {
	assert.Equal(t, "6.17", MerchantFee(dec("123.45"), feeRate, enums.PaymentStatusPaid).String())
	assert.Equal(t, "0", MerchantFee(dec("123.45"), feeRate, enums.PaymentStatusUnpaid).String())
}

func TestProfitFormula(t *testing.T) {
	got := Profit(dec("250"), dec("75.5"), dec("12"), dec("20"), dec("12.5"))
	assert.Equal(t, "130", got.String())
}

type stubRepo struct {
	err error
}

func (s stubRepo) ListLots(context.Context, []uuid.UUID) ([]models.Lot, error) {
	return nil, s.err
}

type recordingRepo struct {
	lots      []models.Lot
	requested []uuid.UUID
}

func (r *recordingRepo) ListLots(_ context.Context, ids []uuid.UUID) ([]models.Lot, error) {
	r.requested = ids
	return r.lots, nil
}
