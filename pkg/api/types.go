package api

import "time"

// UsageResponse represents a user's credit standing.
type UsageResponse struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`

	// Subscription is nil for users without a live subscription.
	Subscription *SubscriptionInfo `json:"subscription,omitempty"`
}

// SubscriptionInfo is the subscription slice of a usage response.
type SubscriptionInfo struct {
	PlanID             string     `json:"plan_id"`
	Status             string     `json:"status"`
	CurrentPeriodStart time.Time  `json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `json:"current_period_end"`
	LastCreditReset    *time.Time `json:"last_credit_reset,omitempty"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
