package credits

import (
	"context"
	"time"
)

// AppliedEvent identifies the external event driving a mutation. Key is
// the idempotency ledger key (a provider event ID, or a synthesized reset
// key). Audit, when non-nil, is the raw-event audit record persisted in
// the same transaction as the mutation.
type AppliedEvent struct {
	Key   string
	Audit *WebhookRecord
}

// Store defines the durable state interface for the reconciliation engine.
// All methods use concrete types from this package to avoid import cycles.
//
// Every mutating method that takes an AppliedEvent MUST insert ev.Key into
// the idempotency ledger in the same transaction as the state change, and
// return ErrEventAlreadyApplied without mutating anything when the key is
// already present. Partial application (state changed but key not
// recorded, or vice versa) must be structurally impossible.
type Store interface {
	// GetSubscription retrieves a subscription by internal ID.
	// Returns ErrSubscriptionNotFound if no row matches.
	GetSubscription(ctx context.Context, id string) (*Subscription, error)

	// GetSubscriptionByUser retrieves the user's most recent non-canceled
	// subscription (at most one active subscription exists per user).
	GetSubscriptionByUser(ctx context.Context, userID string) (*Subscription, error)

	// GetSubscriptionByProviderID retrieves a subscription by the payment
	// provider's subscription ID.
	GetSubscriptionByProviderID(ctx context.Context, providerSubID string) (*Subscription, error)

	// ListActiveSubscriptions returns all subscriptions with status active.
	ListActiveSubscriptions(ctx context.Context) ([]*Subscription, error)

	// GetWallet retrieves a user's credit balance.
	// Returns ErrWalletNotFound if the user has no wallet yet.
	GetWallet(ctx context.Context, userID string) (*Wallet, error)

	// CreateSubscription inserts the subscription and, when grant is
	// non-nil, sets the wallet balance and LastCreditReset, atomically
	// with the ev.Key ledger insert. Used for checkout completion.
	// A user's existing canceled subscription does not block creation;
	// an existing active one does.
	CreateSubscription(ctx context.Context, sub *Subscription, grant *Grant, ev AppliedEvent) error

	// UpdateSubscription updates billing metadata (plan, period bounds,
	// status) keyed by ev. It never touches the wallet.
	UpdateSubscription(ctx context.Context, sub *Subscription, ev AppliedEvent) error

	// SetSubscriptionStatus transitions the subscription status keyed by
	// ev. The caller is responsible for state-machine validation.
	SetSubscriptionStatus(ctx context.Context, id string, status SubscriptionStatus, ev AppliedEvent) error

	// GrantCredits sets the wallet balance to g.Amount and advances the
	// subscription's LastCreditReset to g.ResetAt, atomically with the
	// ev.Key ledger insert. This is the ONLY wallet mutation the engine
	// exposes; there is deliberately no increment.
	GrantCredits(ctx context.Context, g *Grant, ev AppliedEvent) error

	// LogWebhookEvent appends a write-once audit record outside any
	// mutation transaction. Used for events rejected or ignored before a
	// state change (bad signature, unknown type, duplicates).
	LogWebhookEvent(ctx context.Context, rec *WebhookRecord) error
}

// Locker serializes sweep runs across processes. The in-process guard in
// the sweeper already prevents overlapping runs within one process; a
// Locker extends that to deployments with multiple replicas.
type Locker interface {
	// Acquire takes the named lock for at most ttl. Returns
	// ErrLockNotAcquired when another holder owns it.
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, err error)
}
