// Package stripe implements the billing reconciler for Stripe.
//
// Inbound webhooks are the source of truth for subscription lifecycle
// state; the reconciler applies them to the local store exactly once per
// event ID. The only outbound call is checkout-session creation, which
// never happens inside a webhook transaction.
package stripe

import (
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"

	"github.com/mihaimyh/gocredits/pkg/billing"
	"github.com/mihaimyh/gocredits/pkg/credits"
)

const providerName = "stripe"

// Default tolerance for webhook signature timestamps. Deliveries whose
// signed timestamp is further than this from the current time are
// rejected to bound replay windows.
const defaultSignatureTolerance = 5 * time.Minute

const maxWebhookBodyBytes = 1 << 20 // 1 MiB, larger than any Stripe event

// Config holds the Stripe reconciler configuration.
type Config struct {
	// Store is the durable subscription and wallet state (required).
	Store credits.Store

	// Catalog maps Stripe price IDs to plans (required).
	Catalog *credits.Catalog

	// WebhookSecret is the endpoint signing secret (whsec_...). Required.
	WebhookSecret string

	// APIKey is the secret API key (sk_...). Only required when the
	// checkout-session API is used; a webhook-only deployment may omit it.
	APIKey string

	// SignatureTolerance bounds the accepted clock skew on webhook
	// signatures (default: 5 minutes).
	SignatureTolerance time.Duration

	// Logger is used for structured logging (default: NoopLogger).
	Logger credits.Logger

	// Metrics is used for tracking webhook operations (default: NoopMetrics).
	Metrics billing.Metrics

	// Now overrides the time source, for tests (default: time.Now).
	Now func() time.Time
}

// Reconciler applies Stripe webhook events to the local credit state.
// It implements billing.Reconciler.
type Reconciler struct {
	store     credits.Store
	catalog   *credits.Catalog
	secret    string
	tolerance time.Duration
	client    *stripe.Client
	logger    credits.Logger
	metrics   billing.Metrics
	now       func() time.Time
}

// NewReconciler creates a Stripe reconciler with the given configuration.
func NewReconciler(cfg Config) (*Reconciler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: store is required", billing.ErrReconcilerNotConfigured)
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("%w: catalog is required", billing.ErrReconcilerNotConfigured)
	}
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("%w: webhook secret is required", billing.ErrReconcilerNotConfigured)
	}
	if cfg.SignatureTolerance <= 0 {
		cfg.SignatureTolerance = defaultSignatureTolerance
	}
	if cfg.Logger == nil {
		cfg.Logger = &credits.NoopLogger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &billing.NoopMetrics{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	r := &Reconciler{
		store:     cfg.Store,
		catalog:   cfg.Catalog,
		secret:    cfg.WebhookSecret,
		tolerance: cfg.SignatureTolerance,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		now:       cfg.Now,
	}
	if cfg.APIKey != "" {
		// New client API in stripe-go v82+.
		r.client = stripe.NewClient(cfg.APIKey)
	}
	return r, nil
}

// Name returns the provider name.
func (r *Reconciler) Name() string {
	return providerName
}
