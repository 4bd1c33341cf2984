package credits

import "time"

// Metrics defines the interface for tracking reconciliation operations.
type Metrics interface {
	// RecordGrant records a credit grant attempt.
	// source: "webhook" or "sweep". duplicate: true when the grant was a
	// no-op replay.
	RecordGrant(source, planID string, amount int64, duplicate bool)

	// RecordSweep records a completed sweep run.
	RecordSweep(checked, resetYearly, resetMonthlyFallback, errors int, duration time.Duration)

	// RecordSweepSkipped records a sweep that did not run (already in
	// progress, or the distributed lock was held elsewhere).
	RecordSweepSkipped(reason string)

	// RecordStoreOperation records the duration and status of a store operation.
	RecordStoreOperation(operation string, duration time.Duration, err error)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordGrant(source, planID string, amount int64, duplicate bool)       {}
func (n *NoopMetrics) RecordSweep(checked, resetYearly, resetMonthly, errors int, d time.Duration) {}
func (n *NoopMetrics) RecordSweepSkipped(reason string)                                      {}
func (n *NoopMetrics) RecordStoreOperation(operation string, duration time.Duration, err error) {}
