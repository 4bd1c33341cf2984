package credits

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_RunsOnInterval(t *testing.T) {
	var runs atomic.Int32
	store := &countingStore{runs: &runs}

	sweeper, err := NewSweeper(SweeperConfig{Store: store, Catalog: testCatalog(t)})
	if err != nil {
		t.Fatalf("NewSweeper failed: %v", err)
	}

	sched := NewScheduler(sweeper, 10*time.Millisecond, nil)
	sched.Start()
	defer sched.Stop()

	deadline := time.After(2 * time.Second)
	for runs.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("sweeper ran %d times, want at least 2", runs.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestScheduler_StopWaitsAndIsIdempotent(t *testing.T) {
	var runs atomic.Int32
	store := &countingStore{runs: &runs}

	sweeper, err := NewSweeper(SweeperConfig{Store: store, Catalog: testCatalog(t)})
	if err != nil {
		t.Fatalf("NewSweeper failed: %v", err)
	}

	sched := NewScheduler(sweeper, time.Hour, nil)
	sched.Start()
	sched.Start() // no-op on a running scheduler
	sched.Stop()
	sched.Stop() // safe on a stopped scheduler

	// Restartable after Stop.
	sched.Start()
	sched.Stop()
}

// countingStore counts ListActiveSubscriptions calls as a proxy for
// sweep executions.
type countingStore struct {
	fakeStore
	runs *atomic.Int32
}

func (c *countingStore) ListActiveSubscriptions(ctx context.Context) ([]*Subscription, error) {
	c.runs.Add(1)
	return nil, nil
}
