package webhooks

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/peptidecrm-backend/api/responses"
	"github.com/angelmondragon/peptidecrm-backend/api/validators"
	"github.com/angelmondragon/peptidecrm-backend/internal/orders"
	"github.com/angelmondragon/peptidecrm-backend/pkg/logger"
	"github.com/angelmondragon/peptidecrm-backend/pkg/metrics"
	"github.com/angelmondragon/peptidecrm-backend/pkg/payments"
)

// PaymentEventApplier records a verified processor event on its order.
type PaymentEventApplier interface {
	ApplyPaymentEvent(ctx context.Context, provider orders.StatusClassifier, event *payments.WebhookEvent) (*orders.Result, error)
}

type paymentVerifier interface {
	orders.StatusClassifier
	VerifyAndParseWebhook(rawBody []byte, headers http.Header) *payments.WebhookEvent
}

type deliveryGuard interface {
	CheckAndMark(ctx context.Context, provider, deliveryID string) (bool, error)
	Release(ctx context.Context, provider, deliveryID string) error
}

// PaymentWebhook handles checkout events from the configured card processor.
// Anything that fails after verification is acknowledged with 200 so the
// processor does not retry into the same failure; the masked failure is
// logged and counted.
func PaymentWebhook(provider paymentVerifier, svc PaymentEventApplier, guard deliveryGuard, m *metrics.ReconcileMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		source := provider.Name()
		ctx = logg.WithSource(ctx, source)

		payload, ok := readPayload(w, r, source, m)
		if !ok {
			return
		}

		event := provider.VerifyAndParseWebhook(payload, r.Header)
		if event == nil {
			m.IncWebhookEvent(source, "unverified")
			logg.Warn(ctx, "payment webhook rejected")
			responses.WriteWebhookRejected(w, http.StatusUnauthorized, "Invalid signature")
			return
		}
		ctx = logg.WithFields(ctx, map[string]any{
			"delivery_id": event.DeliveryID,
			"external_id": event.ExternalID,
			"event_type":  event.EventType,
		})

		duplicate, err := guard.CheckAndMark(ctx, source, event.DeliveryID)
		if err != nil {
			// Applying an event twice is a no-op, so a guard outage only costs a
			// redundant read.
			logg.Error(ctx, "webhook delivery guard unavailable", err)
		}
		if duplicate {
			m.IncWebhookEvent(source, "duplicate")
			logg.Info(ctx, "payment webhook duplicate delivery")
			responses.WriteWebhookAck(w, responses.WebhookAck{Action: "duplicate"})
			return
		}

		result, err := svc.ApplyPaymentEvent(ctx, provider, event)
		if err != nil {
			if relErr := guard.Release(ctx, source, event.DeliveryID); relErr != nil {
				logg.Error(ctx, "release webhook delivery", relErr)
			}
			m.IncWebhookEvent(source, "failed")
			m.IncMaskedFailure(source)
			responses.WriteWebhookMasked(ctx, logg, w, err)
			return
		}

		m.IncWebhookEvent(source, string(result.Action))
		ctx = logg.WithField(ctx, "action", string(result.Action))
		logg.Info(ctx, "payment webhook processed")
		responses.WriteWebhookAck(w, ackFor(result))
	}
}

func ackFor(result *orders.Result) responses.WebhookAck {
	ack := responses.WebhookAck{Action: string(result.Action), OrderNumber: result.OrderNumber}
	if result.OrderID != uuid.Nil {
		ack.OrderID = result.OrderID.String()
	}
	return ack
}

// readPayload reads the raw delivery body and answers the sender itself when
// the body is oversized or unreadable.
func readPayload(w http.ResponseWriter, r *http.Request, source string, m *metrics.ReconcileMetrics) ([]byte, bool) {
	payload, err := validators.ReadRawBody(w, r)
	switch {
	case err == nil:
		return payload, true
	case validators.IsBodyTooLarge(err):
		m.IncWebhookEvent(source, "too_large")
		responses.WriteWebhookRejected(w, http.StatusRequestEntityTooLarge, "Payload too large")
	default:
		m.IncWebhookEvent(source, "unreadable")
		responses.WriteWebhookRejected(w, http.StatusBadRequest, "Unreadable body")
	}
	return nil, false
}
