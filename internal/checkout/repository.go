package checkout

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/peptidecrm-backend/pkg/db/models"
)

// Repository exposes the queries checkout needs on orders, contacts, pricing
// and stock.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindOrder(ctx context.Context, id uuid.UUID) (*models.SalesOrder, error)
	FindContact(ctx context.Context, orgID, id uuid.UUID) (*models.Contact, error)
	FindPricing(ctx context.Context, orgID uuid.UUID) (*models.TenantPricing, error)
	StockLevels(ctx context.Context, orgID uuid.UUID, peptideIDs []uuid.UUID) (map[uuid.UUID]int, error)
	CreateOrder(ctx context.Context, order *models.SalesOrder) error
	DeleteOrder(ctx context.Context, id uuid.UUID) error
	SaveSession(ctx context.Context, id uuid.UUID, sessionID, providerStatus *string) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a checkout repository backed by the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindOrder(ctx context.Context, id uuid.UUID) (*models.SalesOrder, error) {
	var order models.SalesOrder
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindContact(ctx context.Context, orgID, id uuid.UUID) (*models.Contact, error) {
	var contact models.Contact
	err := r.db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		First(&contact).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &contact, nil
}

func (r *repository) FindPricing(ctx context.Context, orgID uuid.UUID) (*models.TenantPricing, error) {
	var pricing models.TenantPricing
	err := r.db.WithContext(ctx).Where("org_id = ?", orgID).First(&pricing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pricing, nil
}

type stockRow struct {
	PeptideID uuid.UUID
	Available int
}

// StockLevels sums the remaining lot quantity per peptide. Peptides without
// lots are absent from the result.
func (r *repository) StockLevels(ctx context.Context, orgID uuid.UUID, peptideIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	out := make(map[uuid.UUID]int, len(peptideIDs))
	if len(peptideIDs) == 0 {
		return out, nil
	}
	var rows []stockRow
	err := r.db.WithContext(ctx).
		Model(&models.Lot{}).
		Select("peptide_id, COALESCE(SUM(quantity_remaining), 0) AS available").
		Where("org_id = ? AND peptide_id IN ?", orgID, peptideIDs).
		Group("peptide_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.PeptideID] = row.Available
	}
	return out, nil
}

// CreateOrder inserts the order and its items. Callers run it inside a
// transaction so both land together.
func (r *repository) CreateOrder(ctx context.Context, order *models.SalesOrder) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(order).Error; err != nil {
		return err
	}
	if len(order.Items) == 0 {
		return nil
	}
	for i := range order.Items {
		order.Items[i].SalesOrderID = order.ID
	}
	return r.db.WithContext(ctx).Create(&order.Items).Error
}

func (r *repository) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	if err := r.db.WithContext(ctx).Where("sales_order_id = ?", id).Delete(&models.SalesOrderItem{}).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.SalesOrder{}).Error
}

func (r *repository) SaveSession(ctx context.Context, id uuid.UUID, sessionID, providerStatus *string) error {
	return r.db.WithContext(ctx).
		Model(&models.SalesOrder{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"payment_session_id":      sessionID,
			"payment_provider_status": providerStatus,
		}).Error
}
