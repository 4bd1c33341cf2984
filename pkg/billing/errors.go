package billing

import "errors"

var (
	// ErrReconcilerNotConfigured is returned when a reconciler is missing
	// required configuration
	ErrReconcilerNotConfigured = errors.New("billing reconciler not configured")

	// ErrInvalidWebhookSignature is returned when webhook signature
	// validation fails. No state is mutated.
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

	// ErrInvalidWebhookPayload is returned when webhook payload cannot be parsed
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")

	// ErrMissingMetadata is returned when a provider event lacks the
	// user_id/plan_id metadata written at checkout-initiation time
	ErrMissingMetadata = errors.New("required metadata missing from provider event")

	// ErrProviderAPIError is returned when the provider's API returns an error
	ErrProviderAPIError = errors.New("billing provider API error")
)
