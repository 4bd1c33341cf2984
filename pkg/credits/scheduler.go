package credits

import (
	"context"
	"errors"
	"sync"
	"time"
)

const defaultSweepInterval = 24 * time.Hour

// Scheduler owns the recurring sweep trigger as an explicit, restartable
// background task with its own cancellation, started and stopped alongside
// the process lifecycle.
type Scheduler struct {
	sweeper  *Sweeper
	interval time.Duration
	logger   Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler that runs the sweeper on the given
// interval (default: daily).
func NewScheduler(sweeper *Sweeper, interval time.Duration, logger Logger) *Scheduler {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if logger == nil {
		logger = &NoopLogger{}
	}
	return &Scheduler{
		sweeper:  sweeper,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the timer goroutine. Calling Start on a running
// scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx, s.done)
}

// Stop cancels the timer and waits for an in-flight sweep to wind down.
// Safe to call on a stopped scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := s.sweeper.Run(ctx)
			switch {
			case errors.Is(err, ErrSweepInProgress), errors.Is(err, ErrLockNotAcquired):
				s.logger.Info("scheduled sweep skipped", Field{Key: "reason", Value: err.Error()})
			case err != nil:
				s.logger.Error("scheduled sweep failed", Field{Key: "error", Value: err})
			default:
				s.logger.Info("scheduled sweep completed",
					Field{Key: "checked", Value: report.Checked},
					Field{Key: "errors", Value: len(report.Errors)},
				)
			}
		}
	}
}
