package webhooks

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/peptidecrm-backend/api/responses"
	"github.com/angelmondragon/peptidecrm-backend/internal/orders"
	"github.com/angelmondragon/peptidecrm-backend/internal/storefront"
	"github.com/angelmondragon/peptidecrm-backend/pkg/enums"
	"github.com/angelmondragon/peptidecrm-backend/pkg/logger"
	"github.com/angelmondragon/peptidecrm-backend/pkg/metrics"
)

const storefrontResourceOrder = "order"

// StorefrontSyncer reconciles one storefront order into the ledger.
type StorefrontSyncer interface {
	SyncStorefrontOrder(ctx context.Context, orgID uuid.UUID, order *storefront.Order) (*orders.Result, error)
}

// StorefrontWebhookConfig carries the settings resolved at start-up.
type StorefrontWebhookConfig struct {
	// Secret verifies X-WC-Webhook-Signature. Empty disables the check.
	Secret string
	OrgID  uuid.UUID
}

// StorefrontWebhook handles WooCommerce order.created and order.updated
// deliveries for the default organization.
func StorefrontWebhook(cfg StorefrontWebhookConfig, svc StorefrontSyncer, m *metrics.ReconcileMetrics, logg *logger.Logger) http.HandlerFunc {
	source := enums.OrderSourceWooCommerce.String()
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := logg.WithSource(r.Context(), source)
		resource := strings.TrimSpace(r.Header.Get(storefront.HeaderResource))
		ctx = logg.WithFields(ctx, map[string]any{
			"topic":       r.Header.Get(storefront.HeaderTopic),
			"resource":    resource,
			"delivery_id": r.Header.Get(storefront.HeaderDelivery),
		})

		payload, ok := readPayload(w, r, source, m)
		if !ok {
			return
		}

		if cfg.Secret != "" && !storefront.VerifySignature(cfg.Secret, payload, r.Header.Get(storefront.HeaderSignature)) {
			m.IncWebhookEvent(source, "unverified")
			logg.Warn(ctx, "storefront webhook signature mismatch")
			responses.WriteWebhookRejected(w, http.StatusUnauthorized, "Invalid signature")
			return
		}

		if storefront.IsPing(payload) {
			m.IncWebhookEvent(source, "ping")
			logg.Info(ctx, "storefront webhook ping")
			responses.WriteWebhookAck(w, responses.WebhookAck{Action: "ping"})
			return
		}

		order, err := storefront.ParseOrder(payload)
		if err != nil {
			m.IncWebhookEvent(source, "invalid_json")
			logg.Warn(ctx, "storefront webhook body is not valid json")
			responses.WriteWebhookRejected(w, http.StatusBadRequest, "Invalid JSON")
			return
		}

		if order.ID.IsZero() || (resource != "" && resource != storefrontResourceOrder) {
			m.IncWebhookEvent(source, string(orders.OutcomeSkipped))
			logg.Info(ctx, "storefront webhook ignored")
			responses.WriteWebhookAck(w, responses.WebhookAck{Action: string(orders.OutcomeSkipped)})
			return
		}
		ctx = logg.WithField(ctx, "external_id", order.ID.String())

		result, err := svc.SyncStorefrontOrder(ctx, cfg.OrgID, order)
		if err != nil {
			m.IncWebhookEvent(source, "failed")
			m.IncMaskedFailure(source)
			responses.WriteWebhookMasked(ctx, logg, w, err)
			return
		}

		m.IncWebhookEvent(source, string(result.Action))
		ctx = logg.WithFields(ctx, map[string]any{
			"action":   string(result.Action),
			"order_id": result.OrderID.String(),
		})
		if len(result.Unmatched) > 0 {
			ctx = logg.WithField(ctx, "unmatched_items", result.Unmatched)
		}
		logg.Info(ctx, "storefront webhook processed")
		responses.WriteWebhookAck(w, ackFor(result))
	}
}
