// Package contacts resolves order buyers to CRM contacts.
package contacts

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/peptidecrm-backend/pkg/db"
	"github.com/angelmondragon/peptidecrm-backend/pkg/db/models"
	"github.com/angelmondragon/peptidecrm-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/peptidecrm-backend/pkg/errors"
	"github.com/angelmondragon/peptidecrm-backend/pkg/logger"
)

// PlaceholderName is used when a buyer arrives without a name. A later event
// carrying a real name replaces it.
const PlaceholderName = "WooCommerce Customer"

// Repository persists contacts.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByExternalCustomerID(ctx context.Context, orgID uuid.UUID, externalID string) (*models.Contact, error)
	FindByEmail(ctx context.Context, orgID uuid.UUID, email string) (*models.Contact, error)
	Create(ctx context.Context, contact *models.Contact) error
	Update(ctx context.Context, contact *models.Contact) error
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

func (r *repository) FindByExternalCustomerID(ctx context.Context, orgID uuid.UUID, externalID string) (*models.Contact, error) {
	return r.first(r.db.WithContext(ctx).Where("org_id = ? AND external_customer_id = ?", orgID, externalID))
}

func (r *repository) FindByEmail(ctx context.Context, orgID uuid.UUID, email string) (*models.Contact, error) {
	return r.first(r.db.WithContext(ctx).Where("org_id = ? AND LOWER(email) = ?", orgID, strings.ToLower(email)))
}

func (r *repository) first(query *gorm.DB) (*models.Contact, error) {
	var contact models.Contact
	if err := query.Order("created_at ASC").First(&contact).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &contact, nil
}

// Create inserts contact inside its own transaction, or a savepoint when r is
// bound to one, so a unique violation leaves the caller's transaction usable.
func (r *repository) Create(ctx context.Context, contact *models.Contact) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(contact).Error
	})
}

func (r *repository) Update(ctx context.Context, contact *models.Contact) error {
	return r.db.WithContext(ctx).Save(contact).Error
}

// Buyer is the buyer identity carried by an external order.
type Buyer struct {
	ExternalCustomerID string
	Name               string
	Email              string
	Phone              string
	Company            string
	Address            string
	Source             string
	// Note is stored on newly created contacts only.
	Note string
}

// Service matches buyers to contacts.
type Service struct {
	repo Repository
	logg *logger.Logger
}

func NewService(repo Repository, logg *logger.Logger) (*Service, error) {
	if repo == nil {
		return nil, errors.New("contacts repository is required")
	}
	return &Service{repo: repo, logg: logg}, nil
}

// WithTx returns a service whose reads and writes run inside tx.
func (s *Service) WithTx(tx *gorm.DB) *Service {
	return &Service{repo: s.repo.WithTx(tx), logg: s.logg}
}

// FindOrCreate returns the organization's contact for buyer, matching by
// external customer id and then email. A match has its address, phone and
// company refreshed and its name replaced only while it is the placeholder.
// Otherwise a customer contact with no sales rep is created. When a concurrent
// delivery stores the same buyer first, its contact is returned instead.
func (s *Service) FindOrCreate(ctx context.Context, orgID uuid.UUID, buyer Buyer) (*models.Contact, error) {
	buyer = normalize(buyer)

	existing, err := s.lookup(ctx, orgID, buyer)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup contact")
	}
	if existing != nil {
		if refresh(existing, buyer) {
			if err := s.repo.Update(ctx, existing); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refresh contact")
			}
		}
		return existing, nil
	}

	name := buyer.Name
	if name == "" {
		name = PlaceholderName
	}
	contact := &models.Contact{
		OrgID:              orgID,
		Name:               name,
		Email:              optional(buyer.Email),
		Phone:              optional(buyer.Phone),
		Company:            optional(buyer.Company),
		Address:            optional(buyer.Address),
		Type:               enums.ContactTypeCustomer,
		Source:             optional(buyer.Source),
		ExternalCustomerID: optional(buyer.ExternalCustomerID),
		Notes:              optional(buyer.Note),
	}
	if err := s.repo.Create(ctx, contact); err != nil {
		if db.IsUniqueViolation(err, "") {
			return s.adoptConcurrent(ctx, orgID, buyer, err)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create contact")
	}

	if s.logg != nil {
		ctx = s.logg.WithFields(ctx, map[string]any{"org_id": orgID.String(), "contact_id": contact.ID.String()})
		s.logg.Info(ctx, "contact created from external order")
	}
	return contact, nil
}

func (s *Service) adoptConcurrent(ctx context.Context, orgID uuid.UUID, buyer Buyer, cause error) (*models.Contact, error) {
	existing, err := s.lookup(ctx, orgID, buyer)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload contact")
	}
	if existing == nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, cause, "contact vanished after unique violation")
	}
	if s.logg != nil {
		ctx = s.logg.WithFields(ctx, map[string]any{"org_id": orgID.String(), "contact_id": existing.ID.String()})
		s.logg.Warn(ctx, "contact inserted concurrently, reusing it")
	}
	if refresh(existing, buyer) {
		if err := s.repo.Update(ctx, existing); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refresh contact")
		}
	}
	return existing, nil
}

func (s *Service) lookup(ctx context.Context, orgID uuid.UUID, buyer Buyer) (*models.Contact, error) {
	if buyer.ExternalCustomerID != "" {
		contact, err := s.repo.FindByExternalCustomerID(ctx, orgID, buyer.ExternalCustomerID)
		if err != nil || contact != nil {
			return contact, err
		}
	}
	if buyer.Email != "" {
		return s.repo.FindByEmail(ctx, orgID, buyer.Email)
	}
	return nil, nil
}

// refresh copies the mutable fields of buyer onto contact and reports whether
// anything changed.
func refresh(contact *models.Contact, buyer Buyer) bool {
	changed := false
	set := func(dst **string, value string) {
		if value == "" || (*dst != nil && **dst == value) {
			return
		}
		v := value
		*dst = &v
		changed = true
	}
	set(&contact.Address, buyer.Address)
	set(&contact.Phone, buyer.Phone)
	set(&contact.Company, buyer.Company)
	if contact.ExternalCustomerID == nil {
		set(&contact.ExternalCustomerID, buyer.ExternalCustomerID)
	}
	if contact.Name == PlaceholderName && buyer.Name != "" {
		contact.Name = buyer.Name
		changed = true
	}
	return changed
}

func normalize(b Buyer) Buyer {
	b.ExternalCustomerID = strings.TrimSpace(b.ExternalCustomerID)
	b.Name = strings.TrimSpace(b.Name)
	b.Email = strings.ToLower(strings.TrimSpace(b.Email))
	b.Phone = strings.TrimSpace(b.Phone)
	b.Company = strings.TrimSpace(b.Company)
	b.Address = strings.TrimSpace(b.Address)
	b.Source = strings.TrimSpace(b.Source)
	return b
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
