package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/peptidecrm-backend/internal/catalog"
	"github.com/angelmondragon/peptidecrm-backend/internal/cogs"
	"github.com/angelmondragon/peptidecrm-backend/pkg/db/models"
	"github.com/angelmondragon/peptidecrm-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/peptidecrm-backend/pkg/errors"
	"github.com/angelmondragon/peptidecrm-backend/pkg/logger"
	"github.com/angelmondragon/peptidecrm-backend/pkg/metrics"
	"github.com/angelmondragon/peptidecrm-backend/pkg/payments"
)

// ProviderStatusPending is stored on an order while its hosted checkout is open.
const ProviderStatusPending = "pendingPayment"

const operationCreateSession = "create_checkout_session"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type peptideFinder interface {
	FindPeptides(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID) ([]models.Peptide, error)
}

type costSource interface {
	AverageCosts(ctx context.Context, peptideIDs []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error)
	Compute(ctx context.Context, lines []catalog.ResolvedLine) (decimal.Decimal, error)
	Financials(total, cogs, shipping, commission decimal.Decimal, status enums.PaymentStatus) cogs.Financials
}

// Service opens hosted payment sessions for sales orders.
type Service interface {
	// CreateOrderCheckout stores a staff-priced order and opens a session for it.
	CreateOrderCheckout(ctx context.Context, input OrderCheckoutInput) (*Result, error)
	// CreatePricedCheckout prices every line from the catalog and tenant rule
	// before storing the order. Client supplied prices are never used.
	CreatePricedCheckout(ctx context.Context, input PricedCheckoutInput) (*Result, error)
	// CreatePaymentLink opens a new session for an existing unpaid order.
	CreatePaymentLink(ctx context.Context, orgID, orderID uuid.UUID) (*Result, error)
}

// LineInput is one staff-priced order line.
type LineInput struct {
	PeptideID uuid.UUID
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
}

type OrderCheckoutInput struct {
	OrgID           uuid.UUID
	ClientID        *uuid.UUID
	Items           []LineInput
	ShippingCost    decimal.Decimal
	ShippingAddress string
	Notes           string
}

// PricedLineInput carries no price on purpose.
type PricedLineInput struct {
	PeptideID uuid.UUID
	Quantity  int
}

type PricedCheckoutInput struct {
	OrgID           uuid.UUID
	ClientID        *uuid.UUID
	Items           []PricedLineInput
	ShippingAddress string
	Notes           string
}

// Result is what the caller needs to redirect the buyer.
type Result struct {
	OrderID     uuid.UUID
	CheckoutURL string
	SessionID   string
	Total       decimal.Decimal
}

type ServiceParams struct {
	TX       txRunner
	Repo     Repository
	Catalog  peptideFinder
	Costs    costSource
	Provider payments.Provider
	Metrics  *metrics.ReconcileMetrics
	Logger   *logger.Logger
	// SiteURL is the public storefront the processor redirects back to.
	SiteURL string
}

type service struct {
	tx       txRunner
	repo     Repository
	catalog  peptideFinder
	costs    costSource
	provider payments.Provider
	metrics  *metrics.ReconcileMetrics
	logg     *logger.Logger
	siteURL  string
}

// NewService builds the checkout service.
func NewService(p ServiceParams) (Service, error) {
	if p.TX == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if p.Repo == nil {
		return nil, fmt.Errorf("checkout repository required")
	}
	if p.Catalog == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if p.Costs == nil {
		return nil, fmt.Errorf("cost source required")
	}
	if p.Provider == nil {
		return nil, fmt.Errorf("payment provider required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	siteURL := strings.TrimRight(strings.TrimSpace(p.SiteURL), "/")
	if siteURL == "" {
		return nil, fmt.Errorf("public site url required")
	}
	return &service{
		tx:       p.TX,
		repo:     p.Repo,
		catalog:  p.Catalog,
		costs:    p.Costs,
		provider: p.Provider,
		metrics:  p.Metrics,
		logg:     p.Logger,
		siteURL:  siteURL,
	}, nil
}

// ValidateRedirectURL accepts only absolute https URLs.
func ValidateRedirectURL(raw string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeUpstream, err, "payment provider returned an unparsable checkout url")
	}
	if !strings.EqualFold(parsed.Scheme, "https") || parsed.Host == "" {
		return pkgerrors.New(pkgerrors.CodeUpstream, "payment provider returned a non-https checkout url")
	}
	return nil
}

func (s *service) CreateOrderCheckout(ctx context.Context, input OrderCheckoutInput) (*Result, error) {
	if input.OrgID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "organization id is required")
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	if input.ShippingCost.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping cost cannot be negative")
	}

	lines := make([]orderLine, 0, len(input.Items))
	for i, item := range input.Items {
		if item.PeptideID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d: peptide id is required", i))
		}
		if item.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d: quantity must be positive", i))
		}
		if item.UnitPrice.IsNegative() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d: unit price cannot be negative", i))
		}
		lines = append(lines, orderLine{PeptideID: item.PeptideID, Name: item.Name, Quantity: item.Quantity, UnitPrice: item.UnitPrice})
	}

	contact, err := s.loadContact(ctx, input.OrgID, input.ClientID)
	if err != nil {
		return nil, err
	}
	return s.placeAndCheckout(ctx, draftOrder{
		orgID:           input.OrgID,
		contact:         contact,
		lines:           lines,
		shipping:        input.ShippingCost,
		shippingAddress: input.ShippingAddress,
		notes:           input.Notes,
	})
}

func (s *service) CreatePricedCheckout(ctx context.Context, input PricedCheckoutInput) (*Result, error) {
	if input.OrgID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "organization id is required")
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}

	requested := make(map[uuid.UUID]int, len(input.Items))
	ids := make([]uuid.UUID, 0, len(input.Items))
	for i, item := range input.Items {
		if item.PeptideID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d: peptide id is required", i))
		}
		if item.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d: quantity must be positive", i))
		}
		if _, seen := requested[item.PeptideID]; !seen {
			ids = append(ids, item.PeptideID)
		}
		requested[item.PeptideID] += item.Quantity
	}

	peptides, err := s.catalog.FindPeptides(ctx, input.OrgID, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load catalog peptides")
	}
	byID := make(map[uuid.UUID]models.Peptide, len(peptides))
	for _, p := range peptides {
		byID[p.ID] = p
	}
	for _, id := range ids {
		p, ok := byID[id]
		if !ok || !p.Active {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "peptide not found").WithDetails(map[string]any{"peptide_id": id})
		}
	}

	stock, err := s.repo.StockLevels(ctx, input.OrgID, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock levels")
	}
	for _, id := range ids {
		if stock[id] < requested[id] {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "insufficient stock").WithDetails(map[string]any{
				"peptide_id": id,
				"requested":  requested[id],
				"available":  stock[id],
			})
		}
	}

	pricing, err := s.repo.FindPricing(ctx, input.OrgID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load tenant pricing")
	}
	rule := ruleFromModel(pricing)
	avgCosts, err := s.costs.AverageCosts(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load lot costs")
	}

	lines := make([]orderLine, 0, len(input.Items))
	for _, item := range input.Items {
		p := byID[item.PeptideID]
		retail := decimal.Zero
		if p.RetailPrice != nil {
			retail = *p.RetailPrice
		}
		price := rule.UnitPrice(retail, avgCosts[p.ID])
		if !price.IsPositive() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "peptide has no price").WithDetails(map[string]any{"peptide_id": p.ID})
		}
		lines = append(lines, orderLine{PeptideID: p.ID, Name: p.Name, Quantity: item.Quantity, UnitPrice: price})
	}

	contact, err := s.loadContact(ctx, input.OrgID, input.ClientID)
	if err != nil {
		return nil, err
	}
	return s.placeAndCheckout(ctx, draftOrder{
		orgID:           input.OrgID,
		contact:         contact,
		lines:           lines,
		shipping:        decimal.Zero,
		shippingAddress: input.ShippingAddress,
		notes:           input.Notes,
	})
}

func (s *service) CreatePaymentLink(ctx context.Context, orgID, orderID uuid.UUID) (*Result, error) {
	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order == nil || order.OrgID != orgID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if order.PaymentStatus == enums.PaymentStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has already been paid")
	}
	if order.Status == enums.OrderStatusCancelled {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has been cancelled")
	}
	if !order.TotalAmount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order total must be greater than zero")
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	if order.PaymentSessionID != nil {
		if err := s.repo.SaveSession(ctx, order.ID, nil, nil); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear stale checkout session")
		}
	}

	var contact *models.Contact
	if order.ClientID != nil {
		if contact, err = s.repo.FindContact(ctx, order.OrgID, *order.ClientID); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order contact")
		}
	}

	items, err := s.sessionItems(ctx, order)
	if err != nil {
		return nil, err
	}
	session, err := s.openSession(ctx, order, contact, items)
	if err != nil {
		return nil, err
	}
	if err := s.storeSession(ctx, order.ID, session); err != nil {
		return nil, err
	}
	return &Result{OrderID: order.ID, CheckoutURL: session.CheckoutURL, SessionID: session.SessionID, Total: order.TotalAmount}, nil
}

type orderLine struct {
	PeptideID uuid.UUID
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
}

type draftOrder struct {
	orgID           uuid.UUID
	contact         *models.Contact
	lines           []orderLine
	shipping        decimal.Decimal
	shippingAddress string
	notes           string
}

// placeAndCheckout inserts the order, opens a session and deletes the order
// again when no usable session comes back.
func (s *service) placeAndCheckout(ctx context.Context, draft draftOrder) (*Result, error) {
	subtotal := decimal.Zero
	resolved := make([]catalog.ResolvedLine, 0, len(draft.lines))
	items := make([]models.SalesOrderItem, 0, len(draft.lines))
	for _, line := range draft.lines {
		subtotal = subtotal.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
		resolved = append(resolved, catalog.ResolvedLine{PeptideID: line.PeptideID, Quantity: line.Quantity, UnitPrice: line.UnitPrice})
		items = append(items, models.SalesOrderItem{PeptideID: line.PeptideID, Quantity: line.Quantity, UnitPrice: line.UnitPrice})
	}
	total := subtotal.Add(draft.shipping).Round(2)
	if !total.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order total must be greater than zero")
	}

	cogsAmount, err := s.costs.Compute(ctx, resolved)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "compute cogs")
	}
	fin := s.costs.Financials(total, cogsAmount, draft.shipping, decimal.Zero, enums.PaymentStatusUnpaid)

	order := &models.SalesOrder{
		OrgID:            draft.orgID,
		Status:           enums.OrderStatusSubmitted,
		PaymentStatus:    enums.PaymentStatusUnpaid,
		TotalAmount:      fin.Total,
		AmountPaid:       decimal.Zero,
		CommissionAmount: fin.Commission,
		ShippingAddress:  optional(draft.shippingAddress),
		ShippingCost:     fin.Shipping,
		CogsAmount:       fin.Cogs,
		MerchantFee:      fin.MerchantFee,
		ProfitAmount:     fin.Profit,
		Notes:            optional(draft.notes),
		OrderSource:      enums.OrderSourceCheckout,
		Items:            items,
	}
	if draft.contact != nil {
		order.ClientID = &draft.contact.ID
	}

	if err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).CreateOrder(ctx, order)
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create checkout order")
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	sessionItems := make([]payments.CheckoutLineItem, 0, len(draft.lines))
	for _, line := range draft.lines {
		sessionItems = append(sessionItems, payments.CheckoutLineItem{
			Name:            line.Name,
			Quantity:        int64(line.Quantity),
			UnitAmountCents: toCents(line.UnitPrice),
		})
	}

	session, err := s.openSession(ctx, order, draft.contact, sessionItems)
	if err != nil {
		s.compensate(ctx, order.ID)
		return nil, err
	}
	if err := s.storeSession(ctx, order.ID, session); err != nil {
		return nil, err
	}
	s.logg.Info(ctx, "checkout session created")
	return &Result{OrderID: order.ID, CheckoutURL: session.CheckoutURL, SessionID: session.SessionID, Total: order.TotalAmount}, nil
}

// openSession calls the provider and rejects unusable redirect targets.
func (s *service) openSession(ctx context.Context, order *models.SalesOrder, contact *models.Contact, items []payments.CheckoutLineItem) (*payments.CheckoutSession, error) {
	req := payments.CheckoutSessionRequest{
		OrderID:    order.ID.String(),
		TotalCents: toCents(order.TotalAmount),
		SuccessURL: fmt.Sprintf("%s/#/checkout/success?orderId=%s", s.siteURL, order.ID),
		CancelURL:  fmt.Sprintf("%s/#/checkout/cancel?orderId=%s", s.siteURL, order.ID),
		Items:      items,
	}
	if contact != nil {
		req.ClientName = contact.Name
		if contact.Email != nil {
			req.ClientEmail = *contact.Email
		}
	}

	provider := s.provider.Name()
	started := time.Now()
	session, err := s.provider.CreateCheckoutSession(ctx, req)
	s.metrics.ObserveProviderCall(provider, operationCreateSession, time.Since(started))
	if err != nil {
		s.metrics.IncCheckout(provider, "failed")
		s.logg.Error(ctx, "checkout session request failed", err)
		return nil, surfaceProviderError(err)
	}
	if err := ValidateRedirectURL(session.CheckoutURL); err != nil {
		s.metrics.IncCheckout(provider, "invalid_redirect")
		s.logg.Error(ctx, "checkout session returned unusable url", err)
		return nil, err
	}
	s.metrics.IncCheckout(provider, "created")
	return session, nil
}

func (s *service) storeSession(ctx context.Context, orderID uuid.UUID, session *payments.CheckoutSession) error {
	status := ProviderStatusPending
	var sessionID *string
	if session.SessionID != "" {
		sessionID = &session.SessionID
	}
	if err := s.repo.SaveSession(ctx, orderID, sessionID, &status); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store checkout session")
	}
	return nil
}

// compensate removes an order whose checkout could not be opened.
func (s *service) compensate(ctx context.Context, orderID uuid.UUID) {
	s.metrics.IncCompensation(s.provider.Name())
	if err := s.repo.DeleteOrder(ctx, orderID); err != nil {
		s.logg.Error(ctx, "delete order after failed checkout", err)
		return
	}
	s.logg.Warn(ctx, "order deleted after failed checkout")
}

func (s *service) loadContact(ctx context.Context, orgID uuid.UUID, clientID *uuid.UUID) (*models.Contact, error) {
	if clientID == nil || *clientID == uuid.Nil {
		return nil, nil
	}
	contact, err := s.repo.FindContact(ctx, orgID, *clientID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load contact")
	}
	if contact == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "contact not found")
	}
	return contact, nil
}

func (s *service) sessionItems(ctx context.Context, order *models.SalesOrder) ([]payments.CheckoutLineItem, error) {
	if len(order.Items) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, 0, len(order.Items))
	for _, item := range order.Items {
		ids = append(ids, item.PeptideID)
	}
	peptides, err := s.catalog.FindPeptides(ctx, order.OrgID, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order peptides")
	}
	names := make(map[uuid.UUID]string, len(peptides))
	for _, p := range peptides {
		names[p.ID] = p.Name
	}

	items := make([]payments.CheckoutLineItem, 0, len(order.Items))
	for _, item := range order.Items {
		name := names[item.PeptideID]
		if name == "" {
			name = "Item"
		}
		items = append(items, payments.CheckoutLineItem{
			Name:            name,
			Quantity:        int64(item.Quantity),
			UnitAmountCents: toCents(item.UnitPrice),
		})
	}
	return items, nil
}

// surfaceProviderError keeps typed errors and maps processor rejections to
// CodeUpstream.
func surfaceProviderError(err error) error {
	var upstream *payments.UpstreamError
	if errors.As(err, &upstream) {
		return pkgerrors.Wrap(pkgerrors.CodeUpstream, err, "payment processor rejected checkout").
			WithDetails(map[string]any{"provider": upstream.Provider, "status": upstream.StatusCode})
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment processor unavailable")
}

func toCents(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
