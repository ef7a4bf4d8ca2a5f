package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReconcileMetrics tracks webhook outcomes and checkout session creation. A nil
// *ReconcileMetrics is valid and records nothing.
type ReconcileMetrics struct {
	webhookEvents   *prometheus.CounterVec
	maskedFailures  *prometheus.CounterVec
	checkouts       *prometheus.CounterVec
	compensations   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
}

// NewReconcileMetrics registers the reconciliation metrics on reg.
func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	if reg == nil {
		return &ReconcileMetrics{}
	}
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Inbound webhook deliveries by source and outcome.",
	}, []string{"source", "outcome"})
	maskedFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_masked_failures_total",
		Help: "Verified webhook deliveries that failed internally and were acknowledged with 200.",
	}, []string{"source"})
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_sessions_total",
		Help: "Checkout session attempts by provider and outcome.",
	}, []string{"provider", "outcome"})
	compensations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_compensations_total",
		Help: "Orders deleted after the payment provider rejected checkout.",
	}, []string{"provider"})
	providerLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "provider_request_duration_seconds",
		Help:    "Duration of outbound payment provider calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "operation"})
	reg.MustRegister(webhookEvents, maskedFailures, checkouts, compensations, providerLatency)
	return &ReconcileMetrics{
		webhookEvents:   webhookEvents,
		maskedFailures:  maskedFailures,
		checkouts:       checkouts,
		compensations:   compensations,
		providerLatency: providerLatency,
	}
}

// IncWebhookEvent counts one delivery with its outcome (created, skipped, ...).
func (m *ReconcileMetrics) IncWebhookEvent(source, outcome string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(source), normalizeLabel(outcome)).Inc()
}

// IncMaskedFailure counts a processing failure hidden behind a 200 response.
// Alerting hangs off this counter.
func (m *ReconcileMetrics) IncMaskedFailure(source string) {
	if m == nil || m.maskedFailures == nil {
		return
	}
	m.maskedFailures.WithLabelValues(normalizeLabel(source)).Inc()
}

func (m *ReconcileMetrics) IncCheckout(provider, outcome string) {
	if m == nil || m.checkouts == nil {
		return
	}
	m.checkouts.WithLabelValues(normalizeLabel(provider), normalizeLabel(outcome)).Inc()
}

func (m *ReconcileMetrics) IncCompensation(provider string) {
	if m == nil || m.compensations == nil {
		return
	}
	m.compensations.WithLabelValues(normalizeLabel(provider)).Inc()
}

// ObserveProviderCall records the duration of one outbound provider call.
func (m *ReconcileMetrics) ObserveProviderCall(provider, operation string, duration time.Duration) {
	if m == nil || m.providerLatency == nil {
		return
	}
	m.providerLatency.WithLabelValues(normalizeLabel(provider), normalizeLabel(operation)).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
