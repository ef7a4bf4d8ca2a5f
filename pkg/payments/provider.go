// Package payments abstracts the card processors used for checkout. Each
// processor implements Provider; the concrete implementation is chosen once
// from configuration and injected into checkout and webhook handling.
package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/peptidecrm-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/peptidecrm-backend/pkg/errors"
)

// Provider is the capability every processor integration offers.
type Provider interface {
	Name() string
	// CreateCheckoutSession opens a hosted checkout for one order. Calls are
	// idempotent per OrderID on the processor side.
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error)
	// VerifyAndParseWebhook returns nil for anything that is not an authentic,
	// fresh and parseable delivery. It never returns an error.
	VerifyAndParseWebhook(rawBody []byte, headers http.Header) *WebhookEvent
	IsSuccess(status string) bool
	IsFailure(status string) bool
}

type CheckoutLineItem struct {
	Name            string
	Quantity        int64
	UnitAmountCents int64
}

type CheckoutSessionRequest struct {
	OrderID     string
	TotalCents  int64
	SuccessURL  string
	CancelURL   string
	ClientName  string
	ClientEmail string
	Items       []CheckoutLineItem
}

func (r CheckoutSessionRequest) validate() error {
	if strings.TrimSpace(r.OrderID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if r.TotalCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "order total must be greater than zero")
	}
	if r.SuccessURL == "" || r.CancelURL == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "success and cancel urls are required")
	}
	return nil
}

type CheckoutSession struct {
	CheckoutURL string
	SessionID   string
}

// WebhookEvent is the provider-agnostic view of a verified delivery.
type WebhookEvent struct {
	Provider string
	// DeliveryID identifies the delivery itself (svix-id, Stripe event id) and
	// is stable across sender retries.
	DeliveryID    string
	EventType     string
	Status        string
	ExternalID    string
	OrderID       string
	TransactionID string
	AmountCents   *int64
	RawPayload    json.RawMessage
}

// UpstreamError reports a processor response that could not be used: a non-2xx
// status or a body without a checkout URL.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s upstream error %d: %s", e.Provider, e.StatusCode, e.Body)
}

const (
	defaultTimeout       = 15 * time.Second
	responseBodyReadSize = 64 << 10
)

// Option customizes a provider. Options are shared by all implementations.
type Option func(*options)

type options struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
	currency   string
}

// WithBaseURL overrides the processor API base URL.
func WithBaseURL(baseURL string) Option {
	return func(o *options) {
		o.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

// WithHTTPClient overrides the HTTP client used for outbound calls.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithClock replaces the clock used for the replay window.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithCurrency sets the ISO currency used for line items.
func WithCurrency(currency string) Option {
	return func(o *options) {
		o.currency = strings.ToLower(strings.TrimSpace(currency))
	}
}

func buildOptions(defaultBaseURL string, opts []Option) options {
	o := options{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		now:        time.Now,
		currency:   "usd",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.baseURL == "" {
		o.baseURL = defaultBaseURL
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.currency == "" {
		o.currency = "usd"
	}
	return o
}

// NewProvider builds the provider named by cfg.
func NewProvider(cfg config.PaymentsConfig, opts ...Option) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base := []Option{WithCurrency(cfg.Currency)}
	if cfg.BaseURL != "" {
		base = append(base, WithBaseURL(cfg.BaseURL))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	base = append(base, WithHTTPClient(&http.Client{Timeout: timeout}))
	opts = append(base, opts...)

	switch cfg.ProviderName() {
	case config.ProviderStripe:
		return NewStripe(cfg.APIKey, cfg.WebhookSecret, opts...)
	default:
		return NewPsiFi(cfg.APIKey, cfg.WebhookSecret, opts...)
	}
}

type statusSet map[string]struct{}

func newStatusSet(values ...string) statusSet {
	set := make(statusSet, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func (s statusSet) has(status string) bool {
	_, ok := s[strings.ToLower(strings.TrimSpace(status))]
	return ok
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
