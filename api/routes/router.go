package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/peptidecrm-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/peptidecrm-backend/api/controllers/webhooks"
	"github.com/angelmondragon/peptidecrm-backend/api/middleware"
	checkoutsvc "github.com/angelmondragon/peptidecrm-backend/internal/checkout"
	"github.com/angelmondragon/peptidecrm-backend/internal/webhooks"
	"github.com/angelmondragon/peptidecrm-backend/pkg/config"
	"github.com/angelmondragon/peptidecrm-backend/pkg/db"
	"github.com/angelmondragon/peptidecrm-backend/pkg/logger"
	"github.com/angelmondragon/peptidecrm-backend/pkg/metrics"
	"github.com/angelmondragon/peptidecrm-backend/pkg/payments"
	"github.com/angelmondragon/peptidecrm-backend/pkg/redis"
)

// Reconciler is the order synchronizer as the webhook routes see it.
type Reconciler interface {
	webhookcontrollers.PaymentEventApplier
	webhookcontrollers.StorefrontSyncer
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	orgID uuid.UUID,
	provider payments.Provider,
	checkoutService checkoutsvc.Service,
	reconciler Reconciler,
	deliveryGuard *webhooks.DeliveryGuard,
	reconcileMetrics *metrics.ReconcileMetrics,
	gatherer prometheus.Gatherer,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, readinessDeps(dbP, redisClient), logg))
	})

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/payments", webhookcontrollers.PaymentWebhook(provider, reconciler, deliveryGuard, reconcileMetrics, logg))
		r.Post("/woocommerce", webhookcontrollers.StorefrontWebhook(webhookcontrollers.StorefrontWebhookConfig{
			Secret: cfg.Storefront.WebhookSecret,
			OrgID:  orgID,
		}, reconciler, reconcileMetrics, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		if redisClient != nil {
			r.Use(middleware.Idempotency(redisClient, logg))
		}

		r.Post("/checkout/orders", controllers.OrderCheckout(checkoutService, orgID, logg))
		r.Post("/checkout/priced", controllers.PricedCheckout(checkoutService, orgID, logg))
		r.Post("/orders/{orderId}/payment-link", controllers.PaymentLink(checkoutService, orgID, logg))
	})

	return r
}

func readinessDeps(dbP db.Pinger, redisClient *redis.Client) map[string]controllers.Pinger {
	deps := map[string]controllers.Pinger{"db": dbP, "redis": nil}
	if redisClient != nil {
		deps["redis"] = redisClient
	}
	return deps
}
