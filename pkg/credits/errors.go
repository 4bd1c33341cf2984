package credits

import "errors"

var (
	// ErrInvalidPlan is returned for catalog entries that violate plan invariants
	ErrInvalidPlan = errors.New("invalid plan")

	// ErrPlanNotFound is returned when a plan ID or price ID has no catalog entry
	ErrPlanNotFound = errors.New("plan not found")

	// ErrSubscriptionNotFound is returned when no subscription row matches
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrWalletNotFound is returned when a user has no wallet row
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrEventAlreadyApplied is returned when an idempotency key is already
	// recorded. Callers treat it as success: duplicate delivery is normal.
	ErrEventAlreadyApplied = errors.New("event already applied")

	// ErrInvalidTransition is returned for a disallowed status change
	ErrInvalidTransition = errors.New("invalid subscription status transition")

	// ErrSweepInProgress is returned when a sweep is requested while a
	// previous run is still executing
	ErrSweepInProgress = errors.New("sweep already in progress")

	// ErrStoreUnavailable is returned when the store cannot be reached
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrLockNotAcquired is returned when the distributed sweep lock is held
	// by another process
	ErrLockNotAcquired = errors.New("sweep lock not acquired")
)
