// Package orders reconciles sales orders with the systems they originate
// from: storefront order events and payment processor webhooks.
package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/peptidecrm-backend/internal/catalog"
	"github.com/angelmondragon/peptidecrm-backend/internal/cogs"
	"github.com/angelmondragon/peptidecrm-backend/internal/contacts"
	"github.com/angelmondragon/peptidecrm-backend/internal/storefront"
	"github.com/angelmondragon/peptidecrm-backend/pkg/db"
	"github.com/angelmondragon/peptidecrm-backend/pkg/db/models"
	"github.com/angelmondragon/peptidecrm-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/peptidecrm-backend/pkg/errors"
	"github.com/angelmondragon/peptidecrm-backend/pkg/logger"
	"github.com/angelmondragon/peptidecrm-backend/pkg/payments"
)

const externalOrderConstraint = "uq_sales_orders_external"

// isExternalConflict matches the external-id unique constraint by name on
// postgres and by column on sqlite, which does not report index names.
func isExternalConflict(err error) bool {
	return db.IsUniqueViolation(err, externalOrderConstraint) || db.IsUniqueViolation(err, "external_order_id")
}

// Outcome names what a sync call did to the stored order.
type Outcome string

const (
	OutcomeCreated          Outcome = "created"
	OutcomeUpdated          Outcome = "updated"
	OutcomeSkipped          Outcome = "skipped"
	OutcomeAlreadyPaid      Outcome = "already_paid"
	OutcomeSkippedNoOrderID Outcome = "skipped_no_order_id"
	OutcomeOrderNotFound    Outcome = "order_not_found"
)

// Result describes one reconciled event.
type Result struct {
	Action      Outcome
	OrderID     uuid.UUID
	OrderNumber string
	// Unmatched lists storefront lines that resolved to no catalog product.
	Unmatched []string
}

type buyerResolver interface {
	FindOrCreate(ctx context.Context, orgID uuid.UUID, buyer contacts.Buyer) (*models.Contact, error)
}

type matcherSource interface {
	MatcherFor(ctx context.Context, orgID uuid.UUID) (*catalog.Matcher, error)
}

type costCalculator interface {
	Compute(ctx context.Context, lines []catalog.ResolvedLine) (decimal.Decimal, error)
	Financials(total, cogs, shipping, commission decimal.Decimal, status enums.PaymentStatus) cogs.Financials
}

// StatusClassifier is the part of a payment provider needed to interpret a
// webhook status.
type StatusClassifier interface {
	Name() string
	IsSuccess(status string) bool
	IsFailure(status string) bool
}

// SynchronizerParams wires the synchronizer's collaborators.
type SynchronizerParams struct {
	Repo     Repository
	Contacts buyerResolver
	Catalog  matcherSource
	Cogs     costCalculator
	Logger   *logger.Logger
	Now      func() time.Time
}

// Synchronizer applies external order and payment events to sales orders.
// It holds no mutable state; concurrent deliveries for the same order are
// serialised by the unique (org, source, external id) constraint.
type Synchronizer struct {
	repo     Repository
	contacts buyerResolver
	catalog  matcherSource
	cogs     costCalculator
	logg     *logger.Logger
	now      func() time.Time
}

func NewSynchronizer(p SynchronizerParams) (*Synchronizer, error) {
	if p.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if p.Contacts == nil {
		return nil, fmt.Errorf("contact resolver required")
	}
	if p.Catalog == nil {
		return nil, fmt.Errorf("catalog matcher source required")
	}
	if p.Cogs == nil {
		return nil, fmt.Errorf("cogs calculator required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	return &Synchronizer{
		repo:     p.Repo,
		contacts: p.Contacts,
		catalog:  p.Catalog,
		cogs:     p.Cogs,
		logg:     p.Logger,
		now:      now,
	}, nil
}

// SyncStorefrontOrder creates the order on first sight, skips a redelivery
// whose raw status is unchanged and otherwise updates status and financials.
func (s *Synchronizer) SyncStorefrontOrder(ctx context.Context, orgID uuid.UUID, order *storefront.Order) (*Result, error) {
	if order == nil || order.ID.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "storefront order id is required")
	}
	if orgID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "organization id is required")
	}
	externalID := order.ID.String()
	ctx = s.logg.WithFields(ctx, map[string]any{
		"org_id":      orgID.String(),
		"source":      enums.OrderSourceWooCommerce.String(),
		"external_id": externalID,
	})

	existing, err := s.repo.FindByExternalID(ctx, orgID, enums.OrderSourceWooCommerce, externalID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup storefront order")
	}
	if existing != nil {
		return s.updateFromStorefront(ctx, existing, order)
	}

	result, err := s.createFromStorefront(ctx, orgID, order)
	if err == nil {
		return result, nil
	}
	if !isExternalConflict(err) {
		return nil, err
	}

	// A concurrent delivery inserted the order first.
	s.logg.Warn(ctx, "storefront order inserted concurrently, applying as update")
	existing, ferr := s.repo.FindByExternalID(ctx, orgID, enums.OrderSourceWooCommerce, externalID)
	if ferr != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, ferr, "reload storefront order")
	}
	if existing == nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "storefront order vanished after unique violation")
	}
	return s.updateFromStorefront(ctx, existing, order)
}

func (s *Synchronizer) createFromStorefront(ctx context.Context, orgID uuid.UUID, order *storefront.Order) (*Result, error) {
	status, paymentStatus := storefront.MapStatus(order.Status)

	contact, err := s.contacts.FindOrCreate(ctx, orgID, buyerFromOrder(order))
	if err != nil {
		return nil, err
	}

	matcher, err := s.catalog.MatcherFor(ctx, orgID)
	if err != nil {
		return nil, err
	}

	var (
		resolved  []catalog.ResolvedLine
		unmatched []string
	)
	for _, item := range order.LineItems {
		lines := matcher.Resolve(catalog.SourceLine{
			Name:     item.Name,
			Quantity: item.Quantity,
			Total:    item.Total.Decimal,
			Price:    item.Price.Decimal,
		})
		if len(lines) == 0 {
			unmatched = append(unmatched, fmt.Sprintf("%dx %s ($%s)", item.Quantity, item.Name, item.Total.StringFixed(2)))
			continue
		}
		resolved = append(resolved, lines...)
	}

	cogsAmount, err := s.cogs.Compute(ctx, resolved)
	if err != nil {
		return nil, err
	}
	total := order.Total.Decimal
	fin := s.cogs.Financials(total, cogsAmount, order.ShippingTotal.Decimal, decimal.Zero, paymentStatus)

	amountPaid := decimal.Zero
	var paymentDate *time.Time
	if paymentStatus == enums.PaymentStatusPaid {
		amountPaid = total
		paymentDate = parseStorefrontTime(order.DatePaid)
	}

	externalID := order.ID.String()
	record := &models.SalesOrder{
		OrgID:              orgID,
		ClientID:           &contact.ID,
		Status:             status,
		PaymentStatus:      paymentStatus,
		TotalAmount:        fin.Total,
		AmountPaid:         amountPaid,
		CommissionAmount:   fin.Commission,
		ShippingAddress:    optional(order.Shipping.Formatted()),
		ShippingCost:       fin.Shipping,
		CogsAmount:         fin.Cogs,
		MerchantFee:        fin.MerchantFee,
		ProfitAmount:       fin.Profit,
		Notes:              optional(orderNotes(order.CustomerNote, unmatched)),
		OrderSource:        enums.OrderSourceWooCommerce,
		ExternalOrderID:    &externalID,
		ExternalStatus:     optional(order.Status),
		ExternalCreatedAt:  optional(order.DateCreated),
		ExternalModifiedAt: optional(order.DateModified),
		PaymentMethod:      optional(order.PaymentMethodLabel()),
		PaymentDate:        paymentDate,
	}
	if err := s.repo.Create(ctx, record); err != nil {
		if isExternalConflict(err) {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert storefront order")
	}
	ctx = s.logg.WithOrderID(ctx, record.ID.String())

	if len(resolved) > 0 {
		items := make([]models.SalesOrderItem, 0, len(resolved))
		for _, line := range resolved {
			items = append(items, models.SalesOrderItem{
				SalesOrderID: record.ID,
				PeptideID:    line.PeptideID,
				Quantity:     line.Quantity,
				UnitPrice:    line.UnitPrice,
			})
		}
		// The order stays when its items fail; an operator re-adds them.
		if err := s.repo.CreateItems(ctx, items); err != nil {
			s.logg.Error(ctx, "insert storefront order items", err)
		}
	}

	if len(unmatched) > 0 {
		ctx = s.logg.WithField(ctx, "unmatched", strings.Join(unmatched, "; "))
		s.logg.Warn(ctx, "storefront order has unmatched line items")
	}
	s.logg.Info(ctx, "storefront order created")

	return &Result{
		Action:      OutcomeCreated,
		OrderID:     record.ID,
		OrderNumber: order.DisplayNumber(),
		Unmatched:   unmatched,
	}, nil
}

func (s *Synchronizer) updateFromStorefront(ctx context.Context, existing *models.SalesOrder, order *storefront.Order) (*Result, error) {
	ctx = s.logg.WithOrderID(ctx, existing.ID.String())
	result := &Result{OrderID: existing.ID, OrderNumber: order.DisplayNumber()}

	if stringValue(existing.ExternalStatus) == strings.TrimSpace(order.Status) {
		result.Action = OutcomeSkipped
		s.logg.Debug(ctx, "storefront order status unchanged")
		return result, nil
	}

	status, paymentStatus := storefront.MapStatus(order.Status)
	if !existing.Status.CanTransitionTo(status) {
		ctx = s.logg.WithFields(ctx, map[string]any{"from": existing.Status.String(), "to": status.String()})
		s.logg.Warn(ctx, "storefront status would move order backwards, keeping lifecycle status")
		status = existing.Status
	}

	fin := s.cogs.Financials(order.Total.Decimal, existing.CogsAmount, existing.ShippingCost, existing.CommissionAmount, paymentStatus)
	existing.Status = status
	existing.PaymentStatus = paymentStatus
	existing.ExternalStatus = optional(order.Status)
	if modified := optional(order.DateModified); modified != nil {
		existing.ExternalModifiedAt = modified
	}
	existing.TotalAmount = fin.Total
	existing.MerchantFee = fin.MerchantFee
	existing.ProfitAmount = fin.Profit
	if paymentStatus == enums.PaymentStatusPaid && existing.AmountPaid.IsZero() {
		existing.AmountPaid = fin.Total
		if existing.PaymentDate == nil {
			existing.PaymentDate = parseStorefrontTime(order.DatePaid)
		}
	}

	if err := s.repo.Update(ctx, existing); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update storefront order")
	}
	s.logg.Info(ctx, "storefront order updated")

	result.Action = OutcomeUpdated
	return result, nil
}

// ApplyPaymentEvent records a verified processor event on the order it
// references. Success marks the order paid once; failures and intermediate
// statuses only record the processor state.
func (s *Synchronizer) ApplyPaymentEvent(ctx context.Context, provider StatusClassifier, event *payments.WebhookEvent) (*Result, error) {
	if event == nil || provider == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment event is required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"provider":    provider.Name(),
		"event_type":  event.EventType,
		"external_id": event.ExternalID,
	})

	if strings.TrimSpace(event.OrderID) == "" {
		s.logg.Info(ctx, "payment event without order id")
		return &Result{Action: OutcomeSkippedNoOrderID}, nil
	}
	orderID, err := uuid.Parse(event.OrderID)
	if err != nil {
		s.logg.Warn(ctx, "payment event order id is not a uuid")
		return &Result{Action: OutcomeOrderNotFound}, nil
	}
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup order for payment event")
	}
	if order == nil {
		s.logg.Warn(ctx, "payment event references unknown order")
		return &Result{Action: OutcomeOrderNotFound, OrderID: orderID}, nil
	}

	result := &Result{OrderID: order.ID}
	if order.ExternalOrderID != nil {
		result.OrderNumber = *order.ExternalOrderID
	}
	status := strings.ToLower(strings.TrimSpace(event.Status))
	transactionID := strings.TrimSpace(event.TransactionID)

	switch {
	case provider.IsSuccess(status):
		if order.PaymentStatus == enums.PaymentStatusPaid {
			result.Action = OutcomeAlreadyPaid
			s.logg.Info(ctx, "order already paid")
			return result, nil
		}
		paid := order.TotalAmount
		if event.AmountCents != nil {
			paid = decimal.New(*event.AmountCents, -2)
		}
		now := s.now().UTC()
		fin := s.cogs.Financials(order.TotalAmount, order.CogsAmount, order.ShippingCost, order.CommissionAmount, enums.PaymentStatusPaid)
		order.PaymentStatus = enums.PaymentStatusPaid
		order.AmountPaid = paid
		order.PaymentMethod = optional(provider.Name())
		order.PaymentDate = &now
		order.MerchantFee = fin.MerchantFee
		order.ProfitAmount = fin.Profit
		order.PaymentProviderState = optional(status)
		if transactionID != "" {
			order.PaymentTransactionID = &transactionID
		}
	case provider.IsFailure(status):
		if sameString(order.PaymentProviderState, status) && (transactionID == "" || sameString(order.PaymentTransactionID, transactionID)) {
			result.Action = OutcomeSkipped
			return result, nil
		}
		order.PaymentProviderState = optional(status)
		if transactionID != "" {
			order.PaymentTransactionID = &transactionID
		}
	default:
		if status == "" || sameString(order.PaymentProviderState, status) {
			result.Action = OutcomeSkipped
			return result, nil
		}
		order.PaymentProviderState = optional(status)
	}

	if err := s.repo.Update(ctx, order); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order payment state")
	}
	ctx = s.logg.WithField(ctx, "payment_status", status)
	s.logg.Info(ctx, "payment event applied")

	result.Action = OutcomeUpdated
	return result, nil
}

func buyerFromOrder(order *storefront.Order) contacts.Buyer {
	buyer := contacts.Buyer{
		Name:    order.Billing.FullName(),
		Email:   order.Billing.Email,
		Phone:   order.Billing.Phone,
		Company: order.Billing.Company,
		Address: order.Shipping.Formatted(),
		Source:  enums.OrderSourceWooCommerce.String(),
		Note:    fmt.Sprintf("Auto-created from WooCommerce order #%s", order.DisplayNumber()),
	}
	if !order.CustomerID.IsZero() {
		buyer.ExternalCustomerID = order.CustomerID.String()
	}
	if buyer.Company == "" {
		buyer.Company = order.Shipping.Company
	}
	if buyer.Address == "" {
		buyer.Address = order.Billing.Formatted()
	}
	return buyer
}

func orderNotes(customerNote string, unmatched []string) string {
	var parts []string
	if note := strings.TrimSpace(customerNote); note != "" {
		parts = append(parts, note)
	}
	if len(unmatched) > 0 {
		parts = append(parts, "Unmatched items: "+strings.Join(unmatched, "; "))
	}
	return strings.Join(parts, "\n")
}

// WooCommerce timestamps carry no zone and are in the store's UTC setting.
var storefrontTimeLayouts = []string{"2006-01-02T15:04:05", time.RFC3339}

func parseStorefrontTime(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range storefrontTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

// stringValue reads a column written by optional, where nil stands for "".
func stringValue(stored *string) string {
	if stored == nil {
		return ""
	}
	return *stored
}

func sameString(stored *string, value string) bool {
	return stored != nil && *stored == value
}
