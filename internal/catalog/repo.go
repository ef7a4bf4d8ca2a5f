package catalog

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/peptidecrm-backend/pkg/db/models"
)

// Repository reads the catalog. It never writes.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ListPeptides(ctx context.Context, orgID uuid.UUID) ([]models.Peptide, error)
	FindPeptides(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID) ([]models.Peptide, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// ListPeptides returns the organization's catalog in a stable order so that
// the first-match rules of the matcher are deterministic.
func (r *repository) ListPeptides(ctx context.Context, orgID uuid.UUID) ([]models.Peptide, error) {
	var peptides []models.Peptide
	if err := r.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("created_at ASC, id ASC").
		Find(&peptides).Error; err != nil {
		return nil, err
	}
	return peptides, nil
}

func (r *repository) FindPeptides(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID) ([]models.Peptide, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var peptides []models.Peptide
	if err := r.db.WithContext(ctx).
		Where("org_id = ? AND id IN ?", orgID, ids).
		Find(&peptides).Error; err != nil {
		return nil, err
	}
	return peptides, nil
}

// Loader builds matchers from the stored catalog and the organization's rules.
type Loader struct {
	repo  Repository
	rules Rules
}

func NewLoader(repo Repository, rules Rules) *Loader {
	return &Loader{repo: repo, rules: rules}
}

// MatcherFor snapshots the organization's catalog. Callers build one matcher
// per order so every line sees the same catalog.
func (l *Loader) MatcherFor(ctx context.Context, orgID uuid.UUID) (*Matcher, error) {
	peptides, err := l.repo.ListPeptides(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return NewMatcher(l.rules.For(orgID), peptides), nil
}
