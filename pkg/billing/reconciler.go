package billing

import (
	"context"
	"net/http"
)

// Reconciler is the generic interface any billing backend must implement.
// It applies provider-pushed billing events to the local subscription and
// wallet state; all operations are idempotent under at-least-once
// delivery.
type Reconciler interface {
	// Name returns the provider name (e.g. "stripe").
	Name() string

	// Handle verifies and applies one raw webhook delivery.
	// Returns ErrInvalidWebhookSignature / ErrInvalidWebhookPayload for
	// deliveries that must be rejected with a 4xx (the provider will not
	// usefully retry them), and any other error for transient failures
	// that should surface as non-2xx so the provider redelivers.
	// Duplicate deliveries return nil.
	Handle(ctx context.Context, payload []byte, signatureHeader string) error

	// WebhookHandler returns the HTTP handler wrapping Handle with the
	// transport concerns (method check, body limits, response codes).
	WebhookHandler() http.Handler
}
