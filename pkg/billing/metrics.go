package billing

import "time"

// Metrics tracks reconciler and checkout activity. A Prometheus
// implementation lives in pkg/billing/metrics/prometheus.
type Metrics interface {
	// RecordWebhookEvent counts a delivered provider event by type and
	// outcome ("success", "duplicate", "ignored" or "error").
	RecordWebhookEvent(provider, eventType, status string)

	// RecordWebhookProcessingDuration observes end-to-end webhook
	// handling time for one event.
	RecordWebhookProcessingDuration(provider, eventType string, duration time.Duration)

	// RecordWebhookError counts a rejected delivery by error class,
	// for example "auth_failed" or "invalid_payload".
	RecordWebhookError(provider, errorType string)

	// RecordCheckoutSession counts a checkout-session creation attempt
	// per plan with outcome "success" or "error".
	RecordCheckoutSession(provider, planID, status string)

	// RecordAPICallDuration observes the latency of an outbound call to
	// the billing provider.
	RecordAPICallDuration(provider, endpoint string, duration time.Duration)
}

// NoopMetrics records nothing. It is the default when no Metrics is
// configured.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_, _ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookError(_, _ string)                               {}
func (n *NoopMetrics) RecordCheckoutSession(_, _, _ string)                         {}
func (n *NoopMetrics) RecordAPICallDuration(_, _ string, _ time.Duration)           {}
