package credits

import (
	"fmt"
	"time"
)

// BillingInterval is the cadence at which a plan is charged. Credit grants
// are always monthly regardless of the billing interval.
type BillingInterval string

const (
	// IntervalMonth bills and grants credit monthly.
	IntervalMonth BillingInterval = "month"
	// IntervalYear bills yearly but still grants credit monthly.
	IntervalYear BillingInterval = "year"
)

// SubscriptionStatus is the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	// StatusTrialing is the initial state for subscriptions with a trial period.
	StatusTrialing SubscriptionStatus = "trialing"
	// StatusActive is a paying subscription in good standing.
	StatusActive SubscriptionStatus = "active"
	// StatusPastDue is set when an invoice payment fails.
	StatusPastDue SubscriptionStatus = "past_due"
	// StatusCanceled is terminal. Rows are never hard-deleted.
	StatusCanceled SubscriptionStatus = "canceled"
)

// Plan is an immutable catalog entry.
type Plan struct {
	// ID is the internal plan identifier (e.g. "starter-monthly").
	ID string

	// Interval is the billing cadence: month or year.
	Interval BillingInterval

	// CreditsPerMonth is the amount granted every month regardless of
	// the billing interval. Must be > 0.
	CreditsPerMonth int64

	// PriceCents is the charge per billing interval, in cents.
	PriceCents int64

	// PriceID is the payment provider's price identifier, used to map
	// provider events back to a plan.
	PriceID string
}

// Validate checks catalog invariants for a single plan.
func (p Plan) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: missing plan id", ErrInvalidPlan)
	}
	if p.Interval != IntervalMonth && p.Interval != IntervalYear {
		return fmt.Errorf("%w: plan %s has interval %q", ErrInvalidPlan, p.ID, p.Interval)
	}
	if p.CreditsPerMonth <= 0 {
		return fmt.Errorf("%w: plan %s has non-positive credit amount", ErrInvalidPlan, p.ID)
	}
	return nil
}

// Subscription is the durable billing state for one user. At most one
// active subscription exists per user.
type Subscription struct {
	ID     string
	UserID string
	PlanID string
	Status SubscriptionStatus

	// CurrentPeriodStart and CurrentPeriodEnd are the provider's billing
	// period bounds. CurrentPeriodEnd > CurrentPeriodStart.
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time

	// LastCreditReset is when the wallet was last set to the plan amount.
	// Nil until the first grant. Once set it is monotonically
	// non-decreasing.
	LastCreditReset *time.Time

	// ProviderSubscriptionID is the payment provider's subscription ID.
	ProviderSubscriptionID string

	// Metadata carries pass-through context captured at checkout time
	// (marketing attribution, click identifiers). Never interpreted here.
	Metadata map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsActive reports whether the subscription is eligible for credit grants.
func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive
}

// Wallet is the user-facing credit balance. It is mutated exclusively by
// absolute balance-set operations (Grant); no increment primitive exists
// in this subsystem, which is what keeps replays safe.
type Wallet struct {
	UserID    string
	Balance   int64
	UpdatedAt time.Time
}

// Grant is a request to set a wallet balance to the plan amount for a
// period. Applying the same Grant twice is a no-op after the first
// application: the AppliedEvent key passed alongside it is recorded in
// the same transaction as the balance set.
type Grant struct {
	SubscriptionID string
	UserID         string

	// Amount is the absolute balance the wallet is set to.
	Amount int64

	// ResetAt becomes the subscription's LastCreditReset.
	ResetAt time.Time
}

// WebhookRecord is a write-once audit entry for an inbound provider event.
// It is never read by business logic; it exists for forensic replay.
type WebhookRecord struct {
	ID          string
	EventID     string
	EventType   string
	Payload     []byte
	SignatureOK bool

	// Outcome is "applied", "duplicate", "ignored" or "failed".
	Outcome string

	ReceivedAt time.Time
}

// Webhook audit outcomes.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeFailed    = "failed"
)

// SweepError describes a failure reconciling a single subscription during
// a sweep. One failing unit never aborts the sweep for the others.
type SweepError struct {
	SubscriptionID string    `json:"subscription_id"`
	UserID         string    `json:"user_id"`
	Err            string    `json:"error"`
	At             time.Time `json:"at"`
}

// SweepReport summarizes one execution of the credit reset sweeper.
type SweepReport struct {
	// Checked is the number of active subscriptions examined.
	Checked int `json:"checked"`

	// ResetYearly counts grants applied to yearly-billed subscriptions.
	// This is the only path that gives yearly subscribers their monthly
	// credit.
	ResetYearly int `json:"reset_yearly"`

	// ResetMonthlyFallback counts grants applied to monthly-billed
	// subscriptions whose invoice webhook never arrived.
	ResetMonthlyFallback int `json:"reset_monthly_fallback"`

	Errors []SweepError `json:"errors,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
