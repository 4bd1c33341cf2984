// Package memory provides an in-memory Store implementation.
//
// It is safe for concurrent use and intended for tests, examples and
// single-process development setups. State does not survive restarts.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mihaimyh/gocredits/pkg/credits"
)

// Store is an in-memory implementation of credits.Store. The zero value
// is not usable; use New.
type Store struct {
	mu sync.RWMutex

	subs        map[string]*credits.Subscription // by internal ID
	byProvider  map[string]string                // provider sub ID -> internal ID
	wallets     map[string]*credits.Wallet       // by user ID
	applied     map[string]struct{}              // idempotency ledger
	webhookLog  []*credits.WebhookRecord
	webhookByID map[string]struct{}
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		subs:        make(map[string]*credits.Subscription),
		byProvider:  make(map[string]string),
		wallets:     make(map[string]*credits.Wallet),
		applied:     make(map[string]struct{}),
		webhookByID: make(map[string]struct{}),
	}
}

func (s *Store) GetSubscription(ctx context.Context, id string) (*credits.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subs[id]
	if !ok {
		return nil, fmt.Errorf("subscription %s: %w", id, credits.ErrSubscriptionNotFound)
	}
	return copySub(sub), nil
}

func (s *Store) GetSubscriptionByUser(ctx context.Context, userID string) (*credits.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *credits.Subscription
	for _, sub := range s.subs {
		if sub.UserID != userID || sub.Status == credits.StatusCanceled {
			continue
		}
		if latest == nil || sub.CreatedAt.After(latest.CreatedAt) {
			latest = sub
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("user %s: %w", userID, credits.ErrSubscriptionNotFound)
	}
	return copySub(latest), nil
}

func (s *Store) GetSubscriptionByProviderID(ctx context.Context, providerSubID string) (*credits.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byProvider[providerSubID]
	if !ok {
		return nil, fmt.Errorf("provider subscription %s: %w", providerSubID, credits.ErrSubscriptionNotFound)
	}
	return copySub(s.subs[id]), nil
}

func (s *Store) ListActiveSubscriptions(ctx context.Context) ([]*credits.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*credits.Subscription
	for _, sub := range s.subs {
		if sub.Status == credits.StatusActive {
			out = append(out, copySub(sub))
		}
	}
	return out, nil
}

func (s *Store) GetWallet(ctx context.Context, userID string) (*credits.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wallets[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, credits.ErrWalletNotFound)
	}
	cp := *w
	return &cp, nil
}

func (s *Store) CreateSubscription(ctx context.Context, sub *credits.Subscription, grant *credits.Grant, ev credits.AppliedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.claimEvent(ev); err != nil {
		return err
	}

	for _, existing := range s.subs {
		if existing.UserID == sub.UserID && existing.Status != credits.StatusCanceled {
			s.releaseEvent(ev)
			return fmt.Errorf("user %s already has subscription %s", sub.UserID, existing.ID)
		}
	}

	cp := copySub(sub)
	if cp.ID == "" {
		cp.ID = uuid.NewString()
		sub.ID = cp.ID
	}
	s.subs[cp.ID] = cp
	if cp.ProviderSubscriptionID != "" {
		s.byProvider[cp.ProviderSubscriptionID] = cp.ID
	}

	if grant != nil {
		s.applyGrant(cp, grant)
	}
	s.recordAudit(ev)
	return nil
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *credits.Subscription, ev credits.AppliedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.claimEvent(ev); err != nil {
		return err
	}

	existing, ok := s.subs[sub.ID]
	if !ok {
		s.releaseEvent(ev)
		return fmt.Errorf("subscription %s: %w", sub.ID, credits.ErrSubscriptionNotFound)
	}

	cp := copySub(sub)
	// The wallet baseline is owned by grants, never by updates.
	cp.LastCreditReset = existing.LastCreditReset
	cp.CreatedAt = existing.CreatedAt
	s.subs[cp.ID] = cp
	if cp.ProviderSubscriptionID != "" {
		s.byProvider[cp.ProviderSubscriptionID] = cp.ID
	}
	s.recordAudit(ev)
	return nil
}

func (s *Store) SetSubscriptionStatus(ctx context.Context, id string, status credits.SubscriptionStatus, ev credits.AppliedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.claimEvent(ev); err != nil {
		return err
	}

	sub, ok := s.subs[id]
	if !ok {
		s.releaseEvent(ev)
		return fmt.Errorf("subscription %s: %w", id, credits.ErrSubscriptionNotFound)
	}
	sub.Status = status
	sub.UpdatedAt = time.Now().UTC()
	s.recordAudit(ev)
	return nil
}

func (s *Store) GrantCredits(ctx context.Context, g *credits.Grant, ev credits.AppliedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.claimEvent(ev); err != nil {
		return err
	}

	sub, ok := s.subs[g.SubscriptionID]
	if !ok {
		s.releaseEvent(ev)
		return fmt.Errorf("subscription %s: %w", g.SubscriptionID, credits.ErrSubscriptionNotFound)
	}

	s.applyGrant(sub, g)
	s.recordAudit(ev)
	return nil
}

func (s *Store) LogWebhookEvent(ctx context.Context, rec *credits.WebhookRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.appendAudit(rec)
	return nil
}

// WebhookLog returns a copy of the audit log, oldest first. Test helper.
func (s *Store) WebhookLog() []*credits.WebhookRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*credits.WebhookRecord, len(s.webhookLog))
	for i, rec := range s.webhookLog {
		cp := *rec
		out[i] = &cp
	}
	return out
}

// claimEvent inserts the idempotency key, failing when already present.
// A zero-key event carries no idempotency contract and always proceeds.
func (s *Store) claimEvent(ev credits.AppliedEvent) error {
	if ev.Key == "" {
		return nil
	}
	if _, dup := s.applied[ev.Key]; dup {
		return fmt.Errorf("event %s: %w", ev.Key, credits.ErrEventAlreadyApplied)
	}
	s.applied[ev.Key] = struct{}{}
	return nil
}

// releaseEvent undoes a claim when the mutation it guarded failed,
// standing in for transaction rollback.
func (s *Store) releaseEvent(ev credits.AppliedEvent) {
	if ev.Key != "" {
		delete(s.applied, ev.Key)
	}
}

func (s *Store) recordAudit(ev credits.AppliedEvent) {
	if ev.Audit != nil {
		s.appendAudit(ev.Audit)
	}
}

func (s *Store) appendAudit(rec *credits.WebhookRecord) {
	cp := *rec
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if _, seen := s.webhookByID[cp.ID]; seen {
		// Write-once: an existing record is never overwritten.
		return
	}
	s.webhookByID[cp.ID] = struct{}{}
	cp.Payload = append([]byte(nil), rec.Payload...)
	s.webhookLog = append(s.webhookLog, &cp)
}

func (s *Store) applyGrant(sub *credits.Subscription, g *credits.Grant) {
	w, ok := s.wallets[g.UserID]
	if !ok {
		w = &credits.Wallet{UserID: g.UserID}
		s.wallets[g.UserID] = w
	}
	w.Balance = g.Amount
	w.UpdatedAt = g.ResetAt

	// LastCreditReset only moves forward.
	if sub.LastCreditReset == nil || g.ResetAt.After(*sub.LastCreditReset) {
		reset := g.ResetAt
		sub.LastCreditReset = &reset
	}
	sub.UpdatedAt = g.ResetAt
}

func copySub(sub *credits.Subscription) *credits.Subscription {
	cp := *sub
	if sub.LastCreditReset != nil {
		t := *sub.LastCreditReset
		cp.LastCreditReset = &t
	}
	if sub.Metadata != nil {
		cp.Metadata = make(map[string]string, len(sub.Metadata))
		for k, v := range sub.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
