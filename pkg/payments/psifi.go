package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	pkgerrors "github.com/angelmondragon/peptidecrm-backend/pkg/errors"
)

const (
	ProviderPsiFi = "psifi"

	psifiDefaultBaseURL = "https://api.psifi.app/api/v2"
	psifiSecretPrefix   = "whsec_"

	headerSvixID        = "svix-id"
	headerSvixTimestamp = "svix-timestamp"
	headerSvixSignature = "svix-signature"
)

var (
	psifiSuccess = newStatusSet("complete", "completed")
	psifiFailure = newStatusSet("failed", "cancelled", "expired", "refunded")

	errPsiFiAPIKeyRequired = errors.New("psifi api key is required")
	errPsiFiSecretRequired = errors.New("psifi webhook secret is required")
)

// PsiFi talks to the PsiFi checkout API. Its webhooks are delivered through
// Svix and signed with the Svix scheme.
type PsiFi struct {
	apiKey        string
	webhookSecret string
	opts          options
}

func NewPsiFi(apiKey, webhookSecret string, opts ...Option) (*PsiFi, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errPsiFiAPIKeyRequired
	}
	webhookSecret = strings.TrimSpace(webhookSecret)
	if webhookSecret == "" {
		return nil, errPsiFiSecretRequired
	}
	return &PsiFi{
		apiKey:        apiKey,
		webhookSecret: webhookSecret,
		opts:          buildOptions(psifiDefaultBaseURL, opts),
	}, nil
}

func (p *PsiFi) Name() string { return ProviderPsiFi }

func (p *PsiFi) IsSuccess(status string) bool { return psifiSuccess.has(status) }

func (p *PsiFi) IsFailure(status string) bool { return psifiFailure.has(status) }

type psifiSessionItem struct {
	Name     string      `json:"name"`
	Quantity int64       `json:"quantity"`
	Price    json.Number `json:"price"`
}

type psifiSessionMetadata struct {
	OrderID     string             `json:"order_id"`
	ClientName  string             `json:"client_name"`
	ClientEmail string             `json:"client_email"`
	ItemCount   int                `json:"item_count"`
	Items       []psifiSessionItem `json:"items,omitempty"`
}

type psifiSessionRequest struct {
	Mode        string               `json:"mode"`
	TotalAmount json.Number          `json:"total_amount"`
	ExternalID  string               `json:"external_id"`
	SuccessURL  string               `json:"success_url"`
	CancelURL   string               `json:"cancel_url"`
	Metadata    psifiSessionMetadata `json:"metadata"`
}

type psifiSessionResponse struct {
	URL       string     `json:"url"`
	ID        flexString `json:"id"`
	SessionID flexString `json:"session_id"`
}

// CreateCheckoutSession posts a checkout session. PsiFi prices are sent in
// major units; the order id doubles as external id and idempotency key.
func (p *PsiFi) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	items := make([]psifiSessionItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, psifiSessionItem{
			Name:     item.Name,
			Quantity: item.Quantity,
			Price:    majorUnits(item.UnitAmountCents),
		})
	}

	payload, err := json.Marshal(psifiSessionRequest{
		Mode:        "payment",
		TotalAmount: majorUnits(req.TotalCents),
		ExternalID:  req.OrderID,
		SuccessURL:  req.SuccessURL,
		CancelURL:   req.CancelURL,
		Metadata: psifiSessionMetadata{
			OrderID:     req.OrderID,
			ClientName:  req.ClientName,
			ClientEmail: req.ClientEmail,
			ItemCount:   len(items),
			Items:       items,
		},
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal psifi checkout request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.opts.baseURL+"/checkout-sessions", bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build psifi checkout request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("Idempotency-Key", req.OrderID)

	resp, err := p.opts.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute psifi checkout request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadSize))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read psifi checkout response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{Provider: ProviderPsiFi, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var decoded psifiSessionResponse
	if err := json.Unmarshal(body, &decoded); err != nil || strings.TrimSpace(decoded.URL) == "" {
		return nil, &UpstreamError{Provider: ProviderPsiFi, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	return &CheckoutSession{
		CheckoutURL: decoded.URL,
		SessionID:   firstNonEmpty(decoded.ID.String(), decoded.SessionID.String()),
	}, nil
}

type psifiWebhookPayload struct {
	Event         string     `json:"event"`
	Type          string     `json:"type"`
	Status        string     `json:"status"`
	ID            flexString `json:"id"`
	OrderID       flexString `json:"order_id"`
	TransactionID flexString `json:"transaction_id"`
	ExternalID    string     `json:"external_id"`
	Order         *struct {
		Status      string       `json:"status"`
		ExternalID  string       `json:"externalId"`
		TotalAmount *json.Number `json:"totalAmount"`
	} `json:"order"`
	Metadata *struct {
		ExternalID string     `json:"external_id"`
		OrderID    flexString `json:"order_id"`
	} `json:"metadata"`
}

// VerifyAndParseWebhook checks the Svix signature over "id.timestamp.body".
func (p *PsiFi) VerifyAndParseWebhook(rawBody []byte, headers http.Header) *WebhookEvent {
	msgID := headers.Get(headerSvixID)
	timestamp := headers.Get(headerSvixTimestamp)
	signatures := headers.Get(headerSvixSignature)
	if msgID == "" || timestamp == "" || signatures == "" {
		return nil
	}

	signedAt, ok := parseUnixTimestamp(timestamp)
	if !ok || !withinReplayWindow(p.opts.now(), signedAt) {
		return nil
	}

	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(p.webhookSecret, psifiSecretPrefix))
	if err != nil {
		return nil
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msgID + "." + timestamp + "."))
	mac.Write(rawBody)
	expected := mac.Sum(nil)

	if !matchesAnySvixSignature(signatures, expected) {
		return nil
	}

	var payload psifiWebhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil
	}
	return p.normalize(msgID, payload, rawBody)
}

func matchesAnySvixSignature(header string, expected []byte) bool {
	matched := false
	for _, entry := range strings.Fields(header) {
		version, value, ok := strings.Cut(entry, ",")
		if !ok || version != "v1" || value == "" {
			continue
		}
		candidate, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			continue
		}
		if hmac.Equal(candidate, expected) {
			matched = true
		}
	}
	return matched
}

func (p *PsiFi) normalize(deliveryID string, payload psifiWebhookPayload, rawBody []byte) *WebhookEvent {
	var orderStatus, orderExternalID string
	var amount *int64
	if payload.Order != nil {
		orderStatus = payload.Order.Status
		orderExternalID = payload.Order.ExternalID
		amount = minorUnits(payload.Order.TotalAmount)
	}
	var metaExternalID, metaOrderID string
	if payload.Metadata != nil {
		metaExternalID = payload.Metadata.ExternalID
		metaOrderID = payload.Metadata.OrderID.String()
	}

	externalID := firstNonEmpty(orderExternalID, payload.ExternalID, metaExternalID)
	orderID := ""
	if externalID != "" {
		if id, ok := leadingUUID(externalID); ok {
			orderID = id
		} else {
			orderID = externalID
		}
	}
	if orderID == "" {
		orderID = metaOrderID
	}

	raw := make([]byte, len(rawBody))
	copy(raw, rawBody)

	return &WebhookEvent{
		Provider:      ProviderPsiFi,
		DeliveryID:    deliveryID,
		EventType:     firstNonEmpty(payload.Event, payload.Type),
		Status:        strings.ToLower(strings.TrimSpace(firstNonEmpty(payload.Status, orderStatus))),
		ExternalID:    externalID,
		OrderID:       orderID,
		TransactionID: firstNonEmpty(payload.OrderID.String(), payload.TransactionID.String(), payload.ID.String()),
		AmountCents:   amount,
		RawPayload:    raw,
	}
}
