package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/webhook"

	pkgerrors "github.com/angelmondragon/peptidecrm-backend/pkg/errors"
)

const (
	ProviderStripe = "stripe"

	stripeDefaultBaseURL   = "https://api.stripe.com"
	headerStripeSignature  = "Stripe-Signature"
	stripeShortOrderIDSize = 8
)

var (
	stripeSuccess = newStatusSet("complete", "paid")
	stripeFailure = newStatusSet("expired", "canceled", "unpaid")

	errStripeAPIKeyRequired = errors.New("stripe api key is required")
	errStripeSecretRequired = errors.New("stripe webhook secret is required")
)

type sessionCreator func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)

// Stripe creates Checkout Sessions through stripe-go and verifies
// Stripe-Signature headers on inbound webhooks.
type Stripe struct {
	webhookSecret string
	opts          options
	newSession    sessionCreator
}

func NewStripe(apiKey, webhookSecret string, opts ...Option) (*Stripe, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errStripeAPIKeyRequired
	}
	webhookSecret = strings.TrimSpace(webhookSecret)
	if webhookSecret == "" {
		return nil, errStripeSecretRequired
	}

	o := buildOptions(stripeDefaultBaseURL, opts)
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(o.baseURL),
		HTTPClient:        o.httpClient,
		MaxNetworkRetries: stripe.Int64(0),
	})
	client := session.Client{B: backend, Key: apiKey}

	return &Stripe{
		webhookSecret: webhookSecret,
		opts:          o,
		newSession:    client.New,
	}, nil
}

func (s *Stripe) Name() string { return ProviderStripe }

func (s *Stripe) IsSuccess(status string) bool { return stripeSuccess.has(status) }

func (s *Stripe) IsFailure(status string) bool { return stripeFailure.has(status) }

// CreateCheckoutSession opens a payment-mode Checkout Session. The order id is
// the client reference and the idempotency key.
func (s *Stripe) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.OrderID),
		LineItems:         s.lineItems(req),
	}
	if req.ClientEmail != "" {
		params.CustomerEmail = stripe.String(req.ClientEmail)
	}
	params.AddMetadata("order_id", req.OrderID)
	params.AddMetadata("client_name", req.ClientName)
	params.SetIdempotencyKey(req.OrderID)
	params.Context = ctx

	created, err := s.newSession(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode != 0 {
			return nil, &UpstreamError{Provider: ProviderStripe, StatusCode: stripeErr.HTTPStatusCode, Body: stripeErr.Msg}
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stripe checkout session")
	}
	if created == nil || strings.TrimSpace(created.URL) == "" {
		return nil, &UpstreamError{Provider: ProviderStripe, StatusCode: http.StatusOK, Body: "checkout session response missing url"}
	}

	return &CheckoutSession{CheckoutURL: created.URL, SessionID: created.ID}, nil
}

// lineItems uses the request items when they add up to the order total and
// falls back to a single line for the full amount otherwise.
func (s *Stripe) lineItems(req CheckoutSessionRequest) []*stripe.CheckoutSessionLineItemParams {
	var sum int64
	for _, item := range req.Items {
		sum += item.UnitAmountCents * item.Quantity
	}

	if len(req.Items) == 0 || sum != req.TotalCents {
		shortID := req.OrderID
		if len(shortID) > stripeShortOrderIDSize {
			shortID = shortID[:stripeShortOrderIDSize]
		}
		return []*stripe.CheckoutSessionLineItemParams{
			s.lineItem(fmt.Sprintf("Order #%s", shortID), req.TotalCents, 1),
		}
	}

	items := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, s.lineItem(item.Name, item.UnitAmountCents, item.Quantity))
	}
	return items
}

func (s *Stripe) lineItem(name string, unitAmount, quantity int64) *stripe.CheckoutSessionLineItemParams {
	return &stripe.CheckoutSessionLineItemParams{
		PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency: stripe.String(s.opts.currency),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(name),
			},
			UnitAmount: stripe.Int64(unitAmount),
		},
		Quantity: stripe.Int64(quantity),
	}
}

type stripeCheckoutObject struct {
	ID                flexString        `json:"id"`
	Status            string            `json:"status"`
	PaymentStatus     string            `json:"payment_status"`
	ClientReferenceID string            `json:"client_reference_id"`
	PaymentIntent     flexString        `json:"payment_intent"`
	AmountTotal       *json.Number      `json:"amount_total"`
	Metadata          map[string]string `json:"metadata"`
}

// VerifyAndParseWebhook checks "t=...,v1=..." over "t.body". The replay window
// is enforced here in both directions; stripe-go only checks the signature.
func (s *Stripe) VerifyAndParseWebhook(rawBody []byte, headers http.Header) *WebhookEvent {
	header := headers.Get(headerStripeSignature)
	if header == "" {
		return nil
	}

	timestamp, hasSignature := parseStripeSignatureHeader(header)
	if timestamp == "" || !hasSignature {
		return nil
	}
	signedAt, ok := parseUnixTimestamp(timestamp)
	if !ok || !withinReplayWindow(s.opts.now(), signedAt) {
		return nil
	}

	if err := webhook.ValidatePayloadIgnoringTolerance(rawBody, header, s.webhookSecret); err != nil {
		return nil
	}

	var event stripe.Event
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return nil
	}

	var obj stripeCheckoutObject
	if event.Data != nil && len(event.Data.Raw) > 0 {
		if err := json.Unmarshal(event.Data.Raw, &obj); err != nil {
			return nil
		}
	}

	externalID := firstNonEmpty(obj.ClientReferenceID, obj.Metadata["order_id"])
	raw := make([]byte, len(rawBody))
	copy(raw, rawBody)

	return &WebhookEvent{
		Provider:      ProviderStripe,
		DeliveryID:    event.ID,
		EventType:     string(event.Type),
		Status:        strings.ToLower(strings.TrimSpace(firstNonEmpty(obj.PaymentStatus, obj.Status))),
		ExternalID:    externalID,
		OrderID:       externalID,
		TransactionID: firstNonEmpty(obj.PaymentIntent.String(), obj.ID.String()),
		AmountCents:   minorUnits(obj.AmountTotal),
		RawPayload:    raw,
	}
}

func parseStripeSignatureHeader(header string) (timestamp string, hasV1 bool) {
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			if value != "" {
				hasV1 = true
			}
		}
	}
	return timestamp, hasV1
}
