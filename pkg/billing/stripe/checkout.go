package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"

	"github.com/mihaimyh/gocredits/pkg/billing"
	"github.com/mihaimyh/gocredits/pkg/credits"
)

// CheckoutRequest describes a checkout-session to create for a user.
type CheckoutRequest struct {
	UserID string
	PlanID string

	SuccessURL string
	CancelURL  string

	// Attribution is carried opaquely into the session metadata and back
	// out through webhook events onto the subscription record. Keys that
	// collide with the reconciliation keys (user_id, plan_id) are
	// rejected.
	Attribution map[string]string
}

// CheckoutURL creates a Stripe Checkout Session for the plan and returns
// the hosted payment page URL. The session metadata carries everything
// the webhook reconciler needs, so completion requires no provider API
// call.
func (r *Reconciler) CheckoutURL(ctx context.Context, req CheckoutRequest) (string, error) {
	if r.client == nil {
		return "", fmt.Errorf("%w: no API key configured", billing.ErrReconcilerNotConfigured)
	}
	if req.UserID == "" {
		return "", fmt.Errorf("%w: user id is required", billing.ErrMissingMetadata)
	}

	plan, err := r.catalog.Plan(req.PlanID)
	if err != nil {
		r.metrics.RecordCheckoutSession(providerName, req.PlanID, "error")
		return "", err
	}
	if plan.PriceID == "" {
		r.metrics.RecordCheckoutSession(providerName, plan.ID, "error")
		return "", fmt.Errorf("%w: plan %s has no price mapping", credits.ErrInvalidPlan, plan.ID)
	}

	metadata := map[string]string{
		metaUserID: req.UserID,
		metaPlanID: plan.ID,
	}
	for k, v := range req.Attribution {
		if k == metaUserID || k == metaPlanID {
			return "", fmt.Errorf("attribution key %q is reserved", k)
		}
		metadata[k] = v
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(plan.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.UserID),
		Metadata:          metadata,
	}
	// The same metadata rides on the subscription object so lifecycle
	// events can be reconciled without expanding the session.
	params.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{}
	for k, v := range metadata {
		params.SubscriptionData.AddMetadata(k, v)
	}

	start := r.now()
	session, err := r.client.V1CheckoutSessions.Create(ctx, params)
	r.metrics.RecordAPICallDuration(providerName, "/checkout/sessions", time.Since(start))
	if err != nil {
		r.metrics.RecordCheckoutSession(providerName, plan.ID, "error")
		return "", fmt.Errorf("%w: create checkout session: %v", billing.ErrProviderAPIError, err)
	}

	r.metrics.RecordCheckoutSession(providerName, plan.ID, "success")
	r.logger.Info("checkout session created",
		credits.Field{Key: "user_id", Value: req.UserID},
		credits.Field{Key: "plan_id", Value: plan.ID},
	)
	return session.URL, nil
}
