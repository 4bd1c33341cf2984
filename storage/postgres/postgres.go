// Package postgres provides a PostgreSQL implementation of the
// credits.Store interface.
//
// Every mutation runs in a transaction that first claims the idempotency
// key with INSERT ... ON CONFLICT DO NOTHING RETURNING; a duplicate key
// rolls the whole transaction back, so replayed events can never
// partially apply. See schema.sql for the expected tables.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/gocredits/pkg/credits"
)

// Config holds PostgreSQL store configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string (required).
	ConnectionString string

	// Pool configuration.
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// Logger is used for structured logging (default: NoopLogger).
	Logger credits.Logger

	// Metrics is used for tracking store operations (default: NoopMetrics).
	Metrics credits.Metrics
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// Store implements credits.Store using PostgreSQL.
type Store struct {
	pool    *pgxpool.Pool
	logger  credits.Logger
	metrics credits.Metrics
}

// New creates a PostgreSQL store and verifies connectivity.
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}
	if config.Logger == nil {
		config.Logger = &credits.NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &credits.NoopMetrics{}
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", credits.ErrStoreUnavailable, err)
	}

	return &Store{
		pool:    pool,
		logger:  config.Logger,
		metrics: config.Metrics,
	}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

const subscriptionColumns = `id, user_id, plan_id, status,
	current_period_start, current_period_end, last_credit_reset,
	provider_subscription_id, metadata, created_at, updated_at`

func (s *Store) GetSubscription(ctx context.Context, id string) (*credits.Subscription, error) {
	return s.getSubscription(ctx, "get_subscription",
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
}

func (s *Store) GetSubscriptionByUser(ctx context.Context, userID string) (*credits.Subscription, error) {
	return s.getSubscription(ctx, "get_subscription_by_user",
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE user_id = $1 AND status <> 'canceled'
		 ORDER BY created_at DESC LIMIT 1`, userID)
}

func (s *Store) GetSubscriptionByProviderID(ctx context.Context, providerSubID string) (*credits.Subscription, error) {
	return s.getSubscription(ctx, "get_subscription_by_provider",
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE provider_subscription_id = $1`, providerSubID)
}

func (s *Store) getSubscription(ctx context.Context, op, query string, arg any) (*credits.Subscription, error) {
	start := time.Now()
	sub, err := scanSubscription(s.pool.QueryRow(ctx, query, arg))
	s.metrics.RecordStoreOperation(op, time.Since(start), err)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%v: %w", arg, credits.ErrSubscriptionNotFound)
		}
		return nil, fmt.Errorf("%w: %v", credits.ErrStoreUnavailable, err)
	}
	return sub, nil
}

func (s *Store) ListActiveSubscriptions(ctx context.Context) ([]*credits.Subscription, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE status = 'active'`)
	if err != nil {
		s.metrics.RecordStoreOperation("list_active", time.Since(start), err)
		return nil, fmt.Errorf("%w: %v", credits.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []*credits.Subscription
	for rows.Next() {
		sub, scanErr := scanSubscription(rows)
		if scanErr != nil {
			s.metrics.RecordStoreOperation("list_active", time.Since(start), scanErr)
			return nil, fmt.Errorf("%w: %v", credits.ErrStoreUnavailable, scanErr)
		}
		out = append(out, sub)
	}
	err = rows.Err()
	s.metrics.RecordStoreOperation("list_active", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", credits.ErrStoreUnavailable, err)
	}
	return out, nil
}

func (s *Store) GetWallet(ctx context.Context, userID string) (*credits.Wallet, error) {
	start := time.Now()
	w := &credits.Wallet{UserID: userID}
	err := s.pool.QueryRow(ctx,
		`SELECT balance, updated_at FROM wallets WHERE user_id = $1`, userID).
		Scan(&w.Balance, &w.UpdatedAt)
	s.metrics.RecordStoreOperation("get_wallet", time.Since(start), err)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", userID, credits.ErrWalletNotFound)
		}
		return nil, fmt.Errorf("%w: %v", credits.ErrStoreUnavailable, err)
	}
	return w, nil
}

func (s *Store) CreateSubscription(ctx context.Context, sub *credits.Subscription, grant *credits.Grant, ev credits.AppliedEvent) error {
	return s.withEventTx(ctx, "create_subscription", ev, func(tx pgx.Tx) error {
		metadata, err := json.Marshal(sub.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO subscriptions (id, user_id, plan_id, status,
				current_period_start, current_period_end,
				provider_subscription_id, metadata, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10)`,
			sub.ID, sub.UserID, sub.PlanID, string(sub.Status),
			sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
			sub.ProviderSubscriptionID, metadata, sub.CreatedAt, sub.UpdatedAt)
		if err != nil {
			return err
		}
		if grant != nil {
			return applyGrantTx(ctx, tx, grant)
		}
		return nil
	})
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *credits.Subscription, ev credits.AppliedEvent) error {
	return s.withEventTx(ctx, "update_subscription", ev, func(tx pgx.Tx) error {
		metadata, err := json.Marshal(sub.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		tag, err := tx.Exec(ctx,
			`UPDATE subscriptions SET
				plan_id = $2,
				status = $3,
				current_period_start = $4,
				current_period_end = $5,
				provider_subscription_id = COALESCE(NULLIF($6, ''), provider_subscription_id),
				metadata = $7,
				updated_at = $8
			 WHERE id = $1`,
			sub.ID, sub.PlanID, string(sub.Status),
			sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
			sub.ProviderSubscriptionID, metadata, sub.UpdatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("subscription %s: %w", sub.ID, credits.ErrSubscriptionNotFound)
		}
		return nil
	})
}

func (s *Store) SetSubscriptionStatus(ctx context.Context, id string, status credits.SubscriptionStatus, ev credits.AppliedEvent) error {
	return s.withEventTx(ctx, "set_subscription_status", ev, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE subscriptions SET status = $2, updated_at = now() WHERE id = $1`,
			id, string(status))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("subscription %s: %w", id, credits.ErrSubscriptionNotFound)
		}
		return nil
	})
}

func (s *Store) GrantCredits(ctx context.Context, g *credits.Grant, ev credits.AppliedEvent) error {
	return s.withEventTx(ctx, "grant_credits", ev, func(tx pgx.Tx) error {
		return applyGrantTx(ctx, tx, g)
	})
}

func (s *Store) LogWebhookEvent(ctx context.Context, rec *credits.WebhookRecord) error {
	start := time.Now()
	// ON CONFLICT DO NOTHING keeps the log write-once.
	_, err := s.pool.Exec(ctx,
		`INSERT INTO webhook_events (id, event_id, event_type, payload, signature_ok, outcome, received_at)
		 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.EventID, rec.EventType, rec.Payload, rec.SignatureOK, rec.Outcome, rec.ReceivedAt)
	s.metrics.RecordStoreOperation("log_webhook_event", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("%w: %v", credits.ErrStoreUnavailable, err)
	}
	return nil
}

// withEventTx runs fn inside a transaction that has already claimed the
// event's idempotency key. The claim uses ON CONFLICT DO NOTHING
// RETURNING, so a replay scans no row and the transaction rolls back
// before fn runs.
func (s *Store) withEventTx(ctx context.Context, op string, ev credits.AppliedEvent, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	err := s.runEventTx(ctx, ev, fn)
	s.metrics.RecordStoreOperation(op, time.Since(start), err)
	if err != nil {
		if errors.Is(err, credits.ErrEventAlreadyApplied) ||
			errors.Is(err, credits.ErrSubscriptionNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", credits.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) runEventTx(ctx context.Context, ev credits.AppliedEvent, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		//nolint:errcheck // Rollback error is safe to ignore if transaction was committed
		_ = tx.Rollback(ctx)
	}()

	if ev.Key != "" {
		var claimed string
		err = tx.QueryRow(ctx,
			`INSERT INTO applied_events (event_key) VALUES ($1)
			 ON CONFLICT (event_key) DO NOTHING
			 RETURNING event_key`, ev.Key).Scan(&claimed)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("event %s: %w", ev.Key, credits.ErrEventAlreadyApplied)
			}
			return err
		}
	}

	if err := fn(tx); err != nil {
		return err
	}

	if ev.Audit != nil {
		rec := ev.Audit
		if _, err := tx.Exec(ctx,
			`INSERT INTO webhook_events (id, event_id, event_type, payload, signature_ok, outcome, received_at)
			 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7)
			 ON CONFLICT (id) DO NOTHING`,
			rec.ID, rec.EventID, rec.EventType, rec.Payload, rec.SignatureOK, rec.Outcome, rec.ReceivedAt); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// applyGrantTx sets the wallet balance and advances the reset marker.
// GREATEST keeps last_credit_reset monotonic under event reordering.
func applyGrantTx(ctx context.Context, tx pgx.Tx, g *credits.Grant) error {
	tag, err := tx.Exec(ctx,
		`UPDATE subscriptions SET
			last_credit_reset = GREATEST(COALESCE(last_credit_reset, $2), $2),
			updated_at = now()
		 WHERE id = $1`,
		g.SubscriptionID, g.ResetAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subscription %s: %w", g.SubscriptionID, credits.ErrSubscriptionNotFound)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO wallets (user_id, balance, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET
			balance = EXCLUDED.balance,
			updated_at = EXCLUDED.updated_at`,
		g.UserID, g.Amount, g.ResetAt)
	return err
}

func scanSubscription(row pgx.Row) (*credits.Subscription, error) {
	var (
		sub        credits.Subscription
		reset      *time.Time
		providerID *string
		metadata   []byte
	)
	err := row.Scan(&sub.ID, &sub.UserID, &sub.PlanID, &sub.Status,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &reset,
		&providerID, &metadata, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sub.LastCreditReset = reset
	if providerID != nil {
		sub.ProviderSubscriptionID = *providerID
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &sub.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &sub, nil
}
