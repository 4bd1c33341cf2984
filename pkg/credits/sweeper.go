package credits

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultSweepWorkers = 4
	defaultLockTTL      = 10 * time.Minute
	sweepLockName       = "credit-reset-sweep"
)

// SweeperConfig holds configuration for the credit reset sweeper.
type SweeperConfig struct {
	// Store is the durable state backend (required).
	Store Store

	// Catalog is the plan reference data (required).
	Catalog *Catalog

	// Locker optionally serializes sweeps across processes. Within one
	// process overlapping runs are already rejected.
	Locker Locker

	// Workers bounds per-subscription parallelism (default: 4).
	Workers int

	// LockTTL is the distributed lock lifetime (default: 10 minutes).
	LockTTL time.Duration

	// Logger is used for structured logging (default: NoopLogger).
	Logger Logger

	// Metrics is used for tracking sweep operations (default: NoopMetrics).
	Metrics Metrics

	// Now overrides the time source, for tests (default: time.Now).
	Now func() time.Time
}

// Sweeper grants the monthly credit amount to every active subscription
// whose last grant is due, independent of whether a webhook has arrived.
// It is the only path that delivers the monthly credit cadence to
// yearly-billed plans; for monthly plans it is a fallback safety net
// behind the invoice webhook.
//
// Running the sweeper is idempotent: grants are absolute balance sets
// keyed by a per-period idempotency key, so a second run in the same
// period is a no-op.
type Sweeper struct {
	store   Store
	catalog *Catalog
	locker  Locker
	workers int
	lockTTL time.Duration
	logger  Logger
	metrics Metrics
	now     func() time.Time

	running atomic.Bool
}

// NewSweeper creates a sweeper with the given configuration.
func NewSweeper(cfg SweeperConfig) (*Sweeper, error) {
	if cfg.Store == nil {
		return nil, ErrStoreUnavailable
	}
	if cfg.Catalog == nil {
		return nil, errors.New("catalog is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultSweepWorkers
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = &NoopLogger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &NoopMetrics{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Sweeper{
		store:   cfg.Store,
		catalog: cfg.Catalog,
		locker:  cfg.Locker,
		workers: cfg.Workers,
		lockTTL: cfg.LockTTL,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		now:     cfg.Now,
	}, nil
}

// Run executes one sweep across all active subscriptions and returns the
// report. It refuses to overlap a run already in flight
// (ErrSweepInProgress) and, when a Locker is configured, a run held by
// another process (ErrLockNotAcquired).
//
// Context cancellation lets in-flight subscription units finish and
// abandons the remainder; they are picked up by the next run, which is
// safe by idempotency.
func (s *Sweeper) Run(ctx context.Context) (*SweepReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.metrics.RecordSweepSkipped("in_progress")
		return nil, ErrSweepInProgress
	}
	defer s.running.Store(false)

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, sweepLockName, s.lockTTL)
		if err != nil {
			if errors.Is(err, ErrLockNotAcquired) {
				s.metrics.RecordSweepSkipped("lock_held")
			}
			return nil, err
		}
		defer func() {
			if relErr := release(context.WithoutCancel(ctx)); relErr != nil {
				s.logger.Warn("failed to release sweep lock", Field{Key: "error", Value: relErr})
			}
		}()
	}

	now := s.now().UTC()
	report := &SweepReport{StartedAt: now}

	subs, err := s.store.ListActiveSubscriptions(ctx)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.workers)

	for _, sub := range subs {
		if ctx.Err() != nil {
			// Shutdown requested: abandon the remainder.
			break
		}

		sub := sub
		mu.Lock()
		report.Checked++
		mu.Unlock()

		g.Go(func() error {
			kind, err := s.reconcile(ctx, sub, now)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Errors = append(report.Errors, SweepError{
					SubscriptionID: sub.ID,
					UserID:         sub.UserID,
					Err:            err.Error(),
					At:             s.now().UTC(),
				})
			case kind == grantYearly:
				report.ResetYearly++
			case kind == grantMonthlyFallback:
				report.ResetMonthlyFallback++
			}
			return nil
		})
	}

	// Unit errors are collected in the report, never returned from Go.
	_ = g.Wait()

	report.FinishedAt = s.now().UTC()
	s.metrics.RecordSweep(report.Checked, report.ResetYearly, report.ResetMonthlyFallback,
		len(report.Errors), report.FinishedAt.Sub(report.StartedAt))
	s.logger.Info("sweep finished",
		Field{Key: "checked", Value: report.Checked},
		Field{Key: "reset_yearly", Value: report.ResetYearly},
		Field{Key: "reset_monthly_fallback", Value: report.ResetMonthlyFallback},
		Field{Key: "errors", Value: len(report.Errors)},
	)

	return report, nil
}

type grantKind int

const (
	grantNone grantKind = iota
	grantYearly
	grantMonthlyFallback
)

// reconcile handles one subscription as an independent unit of work.
func (s *Sweeper) reconcile(ctx context.Context, sub *Subscription, now time.Time) (grantKind, error) {
	plan, err := s.catalog.Plan(sub.PlanID)
	if err != nil {
		// Invariant violation: an active subscription must reference a
		// cataloged plan. Surfaced in the report, never silently skipped.
		s.logger.Error("active subscription references unknown plan",
			Field{Key: "subscription_id", Value: sub.ID},
			Field{Key: "plan_id", Value: sub.PlanID},
		)
		return grantNone, err
	}

	// Subscriptions created via checkout always have LastCreditReset set.
	// For rows that predate a grant, the billing period start is the
	// baseline.
	baseline := sub.CurrentPeriodStart
	if sub.LastCreditReset != nil {
		baseline = *sub.LastCreditReset
	}

	if MonthsElapsed(baseline, now) < 1 {
		return grantNone, nil
	}

	kind := grantYearly
	if plan.Interval == IntervalMonth {
		// Fallback path only: require the billing period to have actually
		// rolled, so a merely delayed invoice webhook doesn't cause an
		// early grant.
		if !sub.CurrentPeriodStart.After(baseline) {
			return grantNone, nil
		}
		kind = grantMonthlyFallback
	}

	grant := &Grant{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Amount:         plan.CreditsPerMonth,
		ResetAt:        now,
	}

	if err := s.store.GrantCredits(ctx, grant, AppliedEvent{Key: ResetCycleKey(sub.ID, now)}); err != nil {
		if errors.Is(err, ErrEventAlreadyApplied) {
			// A webhook (or concurrent sweep) already granted this cycle.
			s.metrics.RecordGrant("sweep", plan.ID, plan.CreditsPerMonth, true)
			return grantNone, nil
		}
		return grantNone, err
	}

	s.metrics.RecordGrant("sweep", plan.ID, plan.CreditsPerMonth, false)
	s.logger.Debug("credit reset applied",
		Field{Key: "subscription_id", Value: sub.ID},
		Field{Key: "plan_id", Value: plan.ID},
		Field{Key: "amount", Value: plan.CreditsPerMonth},
	)

	return kind, nil
}
