package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/mihaimyh/gocredits/pkg/billing"
	"github.com/mihaimyh/gocredits/pkg/billing/internal"
	"github.com/mihaimyh/gocredits/pkg/credits"
)

// errBadEventData marks events whose data object cannot be decoded.
// Retrying such a delivery can never succeed, so it is rejected.
var errBadEventData = fmt.Errorf("%w: undecodable event data", billing.ErrInvalidWebhookPayload)

// errIgnoredEvent marks events the reconciler deliberately does not act
// on. They are acknowledged so the provider stops redelivering.
var errIgnoredEvent = errors.New("event ignored")

// WebhookHandler returns the HTTP handler for the Stripe webhook
// endpoint. Responses follow the provider retry contract: 2xx
// acknowledges (including duplicates and ignored event types), 4xx
// rejects permanently (bad signature, undecodable payload), anything
// else triggers redelivery.
func (r *Reconciler) WebhookHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			_ = internal.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}

		payload, err := internal.ReadBodyStrict(w, req, maxWebhookBodyBytes)
		if err != nil {
			code := http.StatusBadRequest
			if errors.Is(err, internal.ErrPayloadTooLarge) {
				code = http.StatusRequestEntityTooLarge
			}
			_ = internal.WriteJSON(w, code, map[string]string{"error": err.Error()})
			return
		}

		err = r.Handle(req.Context(), payload, req.Header.Get("Stripe-Signature"))
		switch {
		case err == nil:
			_ = internal.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		case errors.Is(err, billing.ErrInvalidWebhookSignature),
			errors.Is(err, billing.ErrInvalidWebhookPayload),
			errors.Is(err, billing.ErrMissingMetadata),
			errors.Is(err, credits.ErrPlanNotFound),
			errors.Is(err, credits.ErrInvalidTransition):
			// Permanently broken for this delivery; redelivery cannot help.
			_ = internal.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		default:
			// Transient (store down, race with a not-yet-processed
			// checkout). Non-2xx so Stripe redelivers.
			_ = internal.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "event processing failed"})
		}
	})
}

// Handle verifies the signature and applies one webhook delivery.
func (r *Reconciler) Handle(ctx context.Context, payload []byte, signatureHeader string) error {
	start := r.now()

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, r.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
		Tolerance:                r.tolerance,
	})
	if err != nil {
		r.metrics.RecordWebhookError(providerName, "auth_failed")
		r.logger.Warn("webhook signature verification failed", credits.Field{Key: "error", Value: err})
		r.audit(ctx, &credits.WebhookRecord{
			ID:          uuid.NewString(),
			Payload:     payload,
			SignatureOK: false,
			Outcome:     credits.OutcomeFailed,
			ReceivedAt:  start.UTC(),
		})
		return fmt.Errorf("%w: %v", billing.ErrInvalidWebhookSignature, err)
	}

	rec := &credits.WebhookRecord{
		ID:          uuid.NewString(),
		EventID:     event.ID,
		EventType:   string(event.Type),
		Payload:     payload,
		SignatureOK: true,
		Outcome:     credits.OutcomeApplied,
		ReceivedAt:  start.UTC(),
	}
	ev := credits.AppliedEvent{Key: event.ID, Audit: rec}

	err = r.process(ctx, &event, ev)
	duration := r.now().Sub(start)
	r.metrics.RecordWebhookProcessingDuration(providerName, string(event.Type), duration)

	switch {
	case err == nil:
		r.metrics.RecordWebhookEvent(providerName, string(event.Type), "success")
		return nil

	case errors.Is(err, credits.ErrEventAlreadyApplied):
		// At-least-once delivery replay. Acknowledged as success.
		r.metrics.RecordWebhookEvent(providerName, string(event.Type), "duplicate")
		r.logger.Debug("duplicate webhook event", credits.Field{Key: "event_id", Value: event.ID})
		rec.Outcome = credits.OutcomeDuplicate
		r.audit(ctx, rec)
		return nil

	case errors.Is(err, errIgnoredEvent):
		r.metrics.RecordWebhookEvent(providerName, string(event.Type), "ignored")
		rec.Outcome = credits.OutcomeIgnored
		r.audit(ctx, rec)
		return nil

	default:
		r.metrics.RecordWebhookEvent(providerName, string(event.Type), "error")
		r.logger.Error("webhook event processing failed",
			credits.Field{Key: "event_id", Value: event.ID},
			credits.Field{Key: "event_type", Value: string(event.Type)},
			credits.Field{Key: "error", Value: err},
		)
		rec.Outcome = credits.OutcomeFailed
		r.audit(ctx, rec)
		return err
	}
}

// process dispatches an event to its handler. Event types the engine has
// no interest in are acknowledged with errIgnoredEvent.
func (r *Reconciler) process(ctx context.Context, event *stripe.Event, ev credits.AppliedEvent) error {
	switch event.Type {
	case "checkout.session.completed":
		return r.handleCheckoutCompleted(ctx, event, ev)
	case "customer.subscription.created", "customer.subscription.updated":
		return r.handleSubscriptionUpdated(ctx, event, ev)
	case "customer.subscription.deleted":
		return r.handleSubscriptionDeleted(ctx, event, ev)
	case "invoice.payment_succeeded":
		return r.handleInvoicePaymentSucceeded(ctx, event, ev)
	case "invoice.payment_failed":
		return r.handleInvoicePaymentFailed(ctx, event, ev)
	default:
		r.logger.Debug("ignoring webhook event type", credits.Field{Key: "event_type", Value: string(event.Type)})
		return errIgnoredEvent
	}
}

// handleCheckoutCompleted creates the subscription row and applies the
// initial credit grant in one transaction keyed by the event ID.
func (r *Reconciler) handleCheckoutCompleted(ctx context.Context, event *stripe.Event, ev credits.AppliedEvent) error {
	var session sessionPayload
	if err := decodePayload(event.Data.Raw, &session); err != nil {
		return err
	}
	if session.Mode != "" && session.Mode != "subscription" {
		// One-time payment sessions are out of scope for this engine.
		return errIgnoredEvent
	}

	userID := session.Metadata[metaUserID]
	planID := session.Metadata[metaPlanID]
	if userID == "" || planID == "" {
		return fmt.Errorf("%w: checkout session %s", billing.ErrMissingMetadata, session.ID)
	}

	plan, err := r.catalog.Plan(planID)
	if err != nil {
		return fmt.Errorf("checkout session %s: %w", session.ID, err)
	}

	now := r.now().UTC()
	periodEnd := now.AddDate(0, 1, 0)
	if plan.Interval == credits.IntervalYear {
		periodEnd = now.AddDate(1, 0, 0)
	}

	sub := &credits.Subscription{
		ID:                     uuid.NewString(),
		UserID:                 userID,
		PlanID:                 plan.ID,
		Status:                 credits.StatusActive,
		CurrentPeriodStart:     now,
		CurrentPeriodEnd:       periodEnd,
		ProviderSubscriptionID: string(session.Subscription),
		Metadata:               session.Metadata,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	grant := &credits.Grant{
		SubscriptionID: sub.ID,
		UserID:         userID,
		Amount:         plan.CreditsPerMonth,
		ResetAt:        now,
	}

	if err := r.store.CreateSubscription(ctx, sub, grant, ev); err != nil {
		return err
	}

	r.metrics.RecordCheckoutSession(providerName, plan.ID, "success")
	r.logger.Info("subscription created from checkout",
		credits.Field{Key: "user_id", Value: userID},
		credits.Field{Key: "plan_id", Value: plan.ID},
		credits.Field{Key: "amount", Value: plan.CreditsPerMonth},
	)
	return nil
}

// handleSubscriptionUpdated syncs plan, period bounds and status from the
// provider. It never grants credit: plan changes take effect at the next
// reset.
func (r *Reconciler) handleSubscriptionUpdated(ctx context.Context, event *stripe.Event, ev credits.AppliedEvent) error {
	var payload subscriptionPayload
	if err := decodePayload(event.Data.Raw, &payload); err != nil {
		return err
	}

	sub, err := r.store.GetSubscriptionByProviderID(ctx, payload.ID)
	if err != nil {
		if errors.Is(err, credits.ErrSubscriptionNotFound) {
			// Out-of-order delivery: the update arrived before checkout
			// completion was processed. The checkout metadata travels on
			// the subscription object, so the row can be created here.
			return r.createFromSubscription(ctx, &payload, ev)
		}
		return err
	}

	if priceID := payload.priceID(); priceID != "" {
		plan, perr := r.catalog.PlanByPriceID(priceID)
		if perr == nil {
			sub.PlanID = plan.ID
		} else {
			r.logger.Warn("subscription references unmapped price",
				credits.Field{Key: "subscription_id", Value: sub.ID},
				credits.Field{Key: "price_id", Value: priceID},
			)
		}
	}

	if start, end := payload.periodBounds(); start > 0 {
		sub.CurrentPeriodStart = time.Unix(start, 0).UTC()
		sub.CurrentPeriodEnd = time.Unix(end, 0).UTC()
	}

	if status, ok := mapStatus(payload.Status); ok && status != sub.Status {
		if err := sub.Transition(status); err != nil {
			return fmt.Errorf("subscription %s: %w", sub.ID, err)
		}
	}

	sub.UpdatedAt = r.now().UTC()
	return r.store.UpdateSubscription(ctx, sub, ev)
}

// createFromSubscription handles a subscription event that arrived before
// the checkout completion it belongs to. No credit is granted here; the
// checkout event still carries the initial grant when it lands.
func (r *Reconciler) createFromSubscription(ctx context.Context, payload *subscriptionPayload, ev credits.AppliedEvent) error {
	userID := payload.Metadata[metaUserID]
	planID := payload.Metadata[metaPlanID]
	if planID == "" {
		if plan, err := r.catalog.PlanByPriceID(payload.priceID()); err == nil {
			planID = plan.ID
		}
	}
	if userID == "" || planID == "" {
		return fmt.Errorf("%w: subscription %s", billing.ErrMissingMetadata, payload.ID)
	}

	status, ok := mapStatus(payload.Status)
	if !ok {
		status = credits.StatusTrialing
	}

	now := r.now().UTC()
	sub := &credits.Subscription{
		ID:                     uuid.NewString(),
		UserID:                 userID,
		PlanID:                 planID,
		Status:                 status,
		ProviderSubscriptionID: payload.ID,
		Metadata:               payload.Metadata,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if start, end := payload.periodBounds(); start > 0 {
		sub.CurrentPeriodStart = time.Unix(start, 0).UTC()
		sub.CurrentPeriodEnd = time.Unix(end, 0).UTC()
	} else {
		sub.CurrentPeriodStart = now
		sub.CurrentPeriodEnd = now.AddDate(0, 1, 0)
	}

	return r.store.CreateSubscription(ctx, sub, nil, ev)
}

// handleSubscriptionDeleted marks the subscription canceled. The wallet
// is left untouched; remaining credit stays spendable until period end
// enforcement elsewhere decides otherwise.
func (r *Reconciler) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event, ev credits.AppliedEvent) error {
	var payload subscriptionPayload
	if err := decodePayload(event.Data.Raw, &payload); err != nil {
		return err
	}

	sub, err := r.store.GetSubscriptionByProviderID(ctx, payload.ID)
	if err != nil {
		if errors.Is(err, credits.ErrSubscriptionNotFound) {
			// Nothing local to cancel. Acknowledge so Stripe stops retrying.
			r.logger.Warn("deletion event for unknown subscription",
				credits.Field{Key: "provider_subscription_id", Value: payload.ID})
			return errIgnoredEvent
		}
		return err
	}

	if err := r.store.SetSubscriptionStatus(ctx, sub.ID, credits.StatusCanceled, ev); err != nil {
		return err
	}
	r.logger.Info("subscription canceled",
		credits.Field{Key: "subscription_id", Value: sub.ID},
		credits.Field{Key: "user_id", Value: sub.UserID},
	)
	return nil
}

// handleInvoicePaymentSucceeded applies the monthly credit reset for
// monthly-billed plans. For yearly plans the renewal invoice arrives once
// a year; the grant still fires then, and the sweeper covers the eleven
// months in between with per-period keys.
func (r *Reconciler) handleInvoicePaymentSucceeded(ctx context.Context, event *stripe.Event, ev credits.AppliedEvent) error {
	var payload invoicePayload
	if err := decodePayload(event.Data.Raw, &payload); err != nil {
		return err
	}

	providerSubID := payload.subscriptionID()
	if providerSubID == "" {
		// Invoice not tied to a subscription (one-off charge).
		return errIgnoredEvent
	}

	sub, err := r.store.GetSubscriptionByProviderID(ctx, providerSubID)
	if err != nil {
		// Includes the checkout race: the invoice can arrive before the
		// checkout event was processed. Surfacing the error gets the
		// delivery retried, by which time the row exists.
		return fmt.Errorf("invoice %s: %w", payload.ID, err)
	}

	plan, err := r.catalog.Plan(sub.PlanID)
	if err != nil {
		return fmt.Errorf("invoice %s: %w", payload.ID, err)
	}

	grant := &credits.Grant{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Amount:         plan.CreditsPerMonth,
		ResetAt:        r.now().UTC(),
	}
	if err := r.store.GrantCredits(ctx, grant, ev); err != nil {
		return err
	}

	r.logger.Info("credit reset from invoice",
		credits.Field{Key: "subscription_id", Value: sub.ID},
		credits.Field{Key: "plan_id", Value: plan.ID},
		credits.Field{Key: "amount", Value: plan.CreditsPerMonth},
	)
	return nil
}

// handleInvoicePaymentFailed transitions the subscription to past_due.
// Credits already granted this period are not clawed back.
func (r *Reconciler) handleInvoicePaymentFailed(ctx context.Context, event *stripe.Event, ev credits.AppliedEvent) error {
	var payload invoicePayload
	if err := decodePayload(event.Data.Raw, &payload); err != nil {
		return err
	}

	providerSubID := payload.subscriptionID()
	if providerSubID == "" {
		return errIgnoredEvent
	}

	sub, err := r.store.GetSubscriptionByProviderID(ctx, providerSubID)
	if err != nil {
		if errors.Is(err, credits.ErrSubscriptionNotFound) {
			r.logger.Warn("payment failure for unknown subscription",
				credits.Field{Key: "provider_subscription_id", Value: providerSubID})
			return errIgnoredEvent
		}
		return err
	}

	if !credits.CanTransition(sub.Status, credits.StatusPastDue) {
		// Already canceled, or still trialing. The state machine has no
		// edge here and a retry cannot create one.
		return fmt.Errorf("subscription %s: %s to past_due: %w",
			sub.ID, sub.Status, credits.ErrInvalidTransition)
	}

	if err := r.store.SetSubscriptionStatus(ctx, sub.ID, credits.StatusPastDue, ev); err != nil {
		return err
	}
	r.logger.Warn("subscription past due",
		credits.Field{Key: "subscription_id", Value: sub.ID},
		credits.Field{Key: "user_id", Value: sub.UserID},
	)
	return nil
}

// audit records a webhook outcome outside any mutation transaction. Audit
// failures are logged, never surfaced: the audit trail must not affect
// the provider retry contract.
func (r *Reconciler) audit(ctx context.Context, rec *credits.WebhookRecord) {
	if err := r.store.LogWebhookEvent(ctx, rec); err != nil {
		r.logger.Error("failed to record webhook audit entry",
			credits.Field{Key: "event_id", Value: rec.EventID},
			credits.Field{Key: "error", Value: err},
		)
	}
}
