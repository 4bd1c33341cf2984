package credits

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeStore is a minimal in-package Store for sweeper tests.
type fakeStore struct {
	mu      sync.Mutex
	subs    []*Subscription
	applied map[string]struct{}
	grants  []Grant
	listErr error

	// failFor makes GrantCredits fail for the given subscription IDs.
	failFor map[string]bool
}

func newFakeStore(subs ...*Subscription) *fakeStore {
	return &fakeStore{
		subs:    subs,
		applied: make(map[string]struct{}),
		failFor: make(map[string]bool),
	}
}

func (f *fakeStore) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	for _, s := range f.subs {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (f *fakeStore) GetSubscriptionByUser(ctx context.Context, userID string) (*Subscription, error) {
	return nil, ErrSubscriptionNotFound
}

func (f *fakeStore) GetSubscriptionByProviderID(ctx context.Context, id string) (*Subscription, error) {
	return nil, ErrSubscriptionNotFound
}

func (f *fakeStore) ListActiveSubscriptions(ctx context.Context) ([]*Subscription, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*Subscription
	for _, s := range f.subs {
		if s.Status == StatusActive {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) GetWallet(ctx context.Context, userID string) (*Wallet, error) {
	return nil, ErrWalletNotFound
}

func (f *fakeStore) CreateSubscription(ctx context.Context, sub *Subscription, grant *Grant, ev AppliedEvent) error {
	return errors.New("not implemented")
}

func (f *fakeStore) UpdateSubscription(ctx context.Context, sub *Subscription, ev AppliedEvent) error {
	return errors.New("not implemented")
}

func (f *fakeStore) SetSubscriptionStatus(ctx context.Context, id string, status SubscriptionStatus, ev AppliedEvent) error {
	return errors.New("not implemented")
}

func (f *fakeStore) GrantCredits(ctx context.Context, g *Grant, ev AppliedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failFor[g.SubscriptionID] {
		return fmt.Errorf("%w: injected failure", ErrStoreUnavailable)
	}
	if _, dup := f.applied[ev.Key]; dup {
		return ErrEventAlreadyApplied
	}
	f.applied[ev.Key] = struct{}{}
	f.grants = append(f.grants, *g)

	for _, s := range f.subs {
		if s.ID == g.SubscriptionID {
			reset := g.ResetAt
			s.LastCreditReset = &reset
		}
	}
	return nil
}

func (f *fakeStore) LogWebhookEvent(ctx context.Context, rec *WebhookRecord) error {
	return nil
}

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewCatalog([]Plan{
		{ID: "monthly", Interval: IntervalMonth, CreditsPerMonth: 100, PriceID: "price_m"},
		{ID: "yearly", Interval: IntervalYear, CreditsPerMonth: 100, PriceID: "price_y"},
	})
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}
	return c
}

func newTestSweeper(t *testing.T, store Store, now time.Time) *Sweeper {
	t.Helper()
	s, err := NewSweeper(SweeperConfig{
		Store:   store,
		Catalog: testCatalog(t),
		Now:     func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewSweeper failed: %v", err)
	}
	return s
}

func yearlySub(id string, lastReset time.Time) *Subscription {
	reset := lastReset
	return &Subscription{
		ID:                 id,
		UserID:             "user-" + id,
		PlanID:             "yearly",
		Status:             StatusActive,
		CurrentPeriodStart: lastReset.AddDate(0, -2, 0),
		CurrentPeriodEnd:   lastReset.AddDate(1, 0, 0),
		LastCreditReset:    &reset,
	}
}

func TestSweeper_YearlyResetDue(t *testing.T) {
	lastReset := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	now := lastReset.AddDate(0, 0, 31) // Feb 10, one anniversary crossed

	store := newFakeStore(yearlySub("s1", lastReset))
	sweeper := newTestSweeper(t, store, now)

	report, err := sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Checked != 1 || report.ResetYearly != 1 || report.ResetMonthlyFallback != 0 {
		t.Errorf("report = %+v, want checked=1 reset_yearly=1", report)
	}
	if len(report.Errors) != 0 {
		t.Errorf("unexpected errors: %+v", report.Errors)
	}
	if len(store.grants) != 1 {
		t.Fatalf("grants = %d, want 1", len(store.grants))
	}
	if g := store.grants[0]; g.Amount != 100 || g.UserID != "user-s1" {
		t.Errorf("unexpected grant: %+v", g)
	}
}

func TestSweeper_NotDueYet(t *testing.T) {
	lastReset := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	now := lastReset.AddDate(0, 0, 20) // under a month

	store := newFakeStore(yearlySub("s1", lastReset))
	sweeper := newTestSweeper(t, store, now)

	report, err := sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Checked != 1 || report.ResetYearly != 0 {
		t.Errorf("report = %+v, want checked=1 and no resets", report)
	}
	if len(store.grants) != 0 {
		t.Errorf("grant applied early: %+v", store.grants)
	}
}

func TestSweeper_SecondRunIsNoOp(t *testing.T) {
	lastReset := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	now := lastReset.AddDate(0, 0, 35)

	store := newFakeStore(yearlySub("s1", lastReset))
	sweeper := newTestSweeper(t, store, now)

	if _, err := sweeper.Run(context.Background()); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}

	// The grant advanced LastCreditReset, so the subscription is no
	// longer due. Force the stale baseline back to prove the ledger
	// alone also blocks a replay within the same month.
	stale := lastReset
	store.subs[0].LastCreditReset = &stale

	report, err := sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if report.ResetYearly != 0 || report.ResetMonthlyFallback != 0 {
		t.Errorf("second run granted again: %+v", report)
	}
	if len(store.grants) != 1 {
		t.Errorf("grants = %d, want 1", len(store.grants))
	}
	if len(report.Errors) != 0 {
		t.Errorf("duplicate replay surfaced as error: %+v", report.Errors)
	}
}

func TestSweeper_MonthlyFallback(t *testing.T) {
	lastReset := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)

	rolled := lastReset
	monthly := &Subscription{
		ID:     "m1",
		UserID: "user-m1",
		PlanID: "monthly",
		Status: StatusActive,
		// The provider rolled the billing period but the invoice webhook
		// never arrived.
		CurrentPeriodStart: time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC),
		CurrentPeriodEnd:   time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		LastCreditReset:    &rolled,
	}

	store := newFakeStore(monthly)
	sweeper := newTestSweeper(t, store, now)

	report, err := sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.ResetMonthlyFallback != 1 || report.ResetYearly != 0 {
		t.Errorf("report = %+v, want reset_monthly_fallback=1", report)
	}
}

func TestSweeper_MonthlyNoFallbackWithoutRolledPeriod(t *testing.T) {
	// A month has passed since the last reset but the billing period has
	// NOT rolled: the invoice webhook is merely late, not lost. The
	// sweeper must not jump the gun.
	lastReset := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)

	reset := lastReset
	monthly := &Subscription{
		ID:                 "m1",
		UserID:             "user-m1",
		PlanID:             "monthly",
		Status:             StatusActive,
		CurrentPeriodStart: lastReset,
		CurrentPeriodEnd:   time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC),
		LastCreditReset:    &reset,
	}

	store := newFakeStore(monthly)
	sweeper := newTestSweeper(t, store, now)

	report, err := sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.ResetMonthlyFallback != 0 || report.ResetYearly != 0 {
		t.Errorf("report = %+v, want no resets", report)
	}
	if len(store.grants) != 0 {
		t.Errorf("grant applied without a rolled period: %+v", store.grants)
	}
}

func TestSweeper_BaselineFallsBackToPeriodStart(t *testing.T) {
	// Rows that predate any grant have a nil LastCreditReset; the billing
	// period start is the baseline.
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)

	sub := &Subscription{
		ID:                 "s1",
		UserID:             "user-s1",
		PlanID:             "yearly",
		Status:             StatusActive,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   start.AddDate(1, 0, 0),
	}

	store := newFakeStore(sub)
	sweeper := newTestSweeper(t, store, now)

	report, err := sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.ResetYearly != 1 {
		t.Errorf("report = %+v, want reset_yearly=1", report)
	}
}

func TestSweeper_PartialFailureIsolation(t *testing.T) {
	lastReset := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	now := lastReset.AddDate(0, 0, 35)

	store := newFakeStore(
		yearlySub("ok-1", lastReset),
		yearlySub("bad", lastReset),
		yearlySub("ok-2", lastReset),
	)
	store.failFor["bad"] = true

	sweeper := newTestSweeper(t, store, now)

	report, err := sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Checked != 3 {
		t.Errorf("checked = %d, want 3", report.Checked)
	}
	if report.ResetYearly != 2 {
		t.Errorf("reset_yearly = %d, want 2", report.ResetYearly)
	}
	if len(report.Errors) != 1 {
		t.Fatalf("errors = %+v, want exactly one", report.Errors)
	}
	if report.Errors[0].SubscriptionID != "bad" {
		t.Errorf("error attributed to %s, want bad", report.Errors[0].SubscriptionID)
	}
}

func TestSweeper_UnknownPlanSurfacesError(t *testing.T) {
	reset := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	sub := yearlySub("s1", reset)
	sub.PlanID = "deleted-plan"

	store := newFakeStore(sub)
	sweeper := newTestSweeper(t, store, reset.AddDate(0, 0, 35))

	report, err := sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(report.Errors) != 1 {
		t.Fatalf("errors = %+v, want exactly one", report.Errors)
	}
	if report.Errors[0].SubscriptionID != "s1" {
		t.Errorf("error attributed to %s, want s1", report.Errors[0].SubscriptionID)
	}
}

func TestSweeper_SingleFlight(t *testing.T) {
	lastReset := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	store := newFakeStore(yearlySub("s1", lastReset))

	release := make(chan struct{})
	blocking := &blockingLocker{acquired: make(chan struct{}), release: release}

	sweeper, err := NewSweeper(SweeperConfig{
		Store:   store,
		Catalog: testCatalog(t),
		Locker:  blocking,
		Now:     func() time.Time { return lastReset.AddDate(0, 0, 35) },
	})
	if err != nil {
		t.Fatalf("NewSweeper failed: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := sweeper.Run(context.Background())
		errCh <- err
	}()

	<-blocking.acquired

	// Second run while the first is parked inside the locker.
	if _, err := sweeper.Run(context.Background()); !errors.Is(err, ErrSweepInProgress) {
		t.Errorf("overlapping Run error = %v, want ErrSweepInProgress", err)
	}

	close(release)
	if err := <-errCh; err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
}

// blockingLocker parks Acquire until released, to hold a run in flight.
type blockingLocker struct {
	acquired chan struct{}
	release  chan struct{}
}

func (b *blockingLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	close(b.acquired)
	<-b.release
	return func(context.Context) error { return nil }, nil
}

func TestSweeper_LockHeldElsewhere(t *testing.T) {
	store := newFakeStore()
	sweeper, err := NewSweeper(SweeperConfig{
		Store:   store,
		Catalog: testCatalog(t),
		Locker:  deniedLocker{},
	})
	if err != nil {
		t.Fatalf("NewSweeper failed: %v", err)
	}

	if _, err := sweeper.Run(context.Background()); !errors.Is(err, ErrLockNotAcquired) {
		t.Errorf("Run error = %v, want ErrLockNotAcquired", err)
	}
}

type deniedLocker struct{}

func (deniedLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	return nil, ErrLockNotAcquired
}

func TestSweeper_CanceledSubscriptionsNotSwept(t *testing.T) {
	lastReset := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	sub := yearlySub("s1", lastReset)
	sub.Status = StatusCanceled

	store := newFakeStore(sub)
	sweeper := newTestSweeper(t, store, lastReset.AddDate(0, 2, 0))

	report, err := sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Checked != 0 {
		t.Errorf("checked = %d, want 0", report.Checked)
	}
	if len(store.grants) != 0 {
		t.Errorf("canceled subscription received a grant: %+v", store.grants)
	}
}
