package credits

import "fmt"

// validTransitions encodes the subscription lifecycle:
//
//	trialing -> active | canceled
//	active   -> past_due | canceled
//	past_due -> active | canceled
//	canceled -> (terminal)
//
// Transitions are driven exclusively by the webhook reconciler; the
// sweeper only touches LastCreditReset and the wallet.
var validTransitions = map[SubscriptionStatus]map[SubscriptionStatus]bool{
	StatusTrialing: {
		StatusActive:   true,
		StatusCanceled: true,
	},
	StatusActive: {
		StatusPastDue:  true,
		StatusCanceled: true,
	},
	StatusPastDue: {
		StatusActive:   true,
		StatusCanceled: true,
	},
	StatusCanceled: {},
}

// CanTransition reports whether from -> to is a legal status change.
// A self-transition is always allowed (provider events often restate the
// current status).
func CanTransition(from, to SubscriptionStatus) bool {
	if from == to {
		return true
	}
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// Transition validates and applies a status change on the subscription.
func (s *Subscription) Transition(to SubscriptionStatus) error {
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
	}
	s.Status = to
	return nil
}
