package orders

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/peptidecrm-backend/pkg/db/models"
	"github.com/angelmondragon/peptidecrm-backend/pkg/enums"
)

// Repository persists sales orders and their line items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.SalesOrder, error)
	FindByExternalID(ctx context.Context, orgID uuid.UUID, source enums.OrderSource, externalID string) (*models.SalesOrder, error)
	LatestExternalModified(ctx context.Context, orgID uuid.UUID, source enums.OrderSource) (string, error)
	Create(ctx context.Context, order *models.SalesOrder) error
	CreateItems(ctx context.Context, items []models.SalesOrderItem) error
	Update(ctx context.Context, order *models.SalesOrder) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.SalesOrder, error) {
	var order models.SalesOrder
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByExternalID(ctx context.Context, orgID uuid.UUID, source enums.OrderSource, externalID string) (*models.SalesOrder, error) {
	var order models.SalesOrder
	err := r.db.WithContext(ctx).
		Where("org_id = ? AND order_source = ? AND external_order_id = ?", orgID, source, externalID).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// LatestExternalModified returns the newest external modification stamp
// synced from source, or "" when nothing has been synced yet.
func (r *repository) LatestExternalModified(ctx context.Context, orgID uuid.UUID, source enums.OrderSource) (string, error) {
	var stamps []string
	err := r.db.WithContext(ctx).
		Model(&models.SalesOrder{}).
		Where("org_id = ? AND order_source = ? AND external_modified_at IS NOT NULL", orgID, source).
		Order("external_modified_at DESC").
		Limit(1).
		Pluck("external_modified_at", &stamps).Error
	if err != nil || len(stamps) == 0 {
		return "", err
	}
	return stamps[0], nil
}

func (r *repository) Create(ctx context.Context, order *models.SalesOrder) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(order).Error
}

func (r *repository) CreateItems(ctx context.Context, items []models.SalesOrderItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&items).Error
}

func (r *repository) Update(ctx context.Context, order *models.SalesOrder) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(order).Error
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.SalesOrder{}).Error
}
