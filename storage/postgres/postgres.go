// Package postgres provides a PostgreSQL implementation of the community.Storage interface.
// Subscription upserts and invite acceptance run in transactions so concurrent
// webhook deliveries and invite redemptions stay consistent.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/inkwell/pkg/community"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

// Storage implements community.Storage using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config

	// stopCleanup cancels the background cleanup goroutine
	stopCleanup func()
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// Migrate applies the embedded schema on startup
	Migrate bool

	// Cleanup configuration
	CleanupEnabled  bool
	CleanupInterval time.Duration // How often expired processed-event ids are purged
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		Migrate:         true,
		CleanupEnabled:  true,
		CleanupInterval: time.Hour,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
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
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Hour
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	cleanupCtx, cancel := context.WithCancel(context.Background())
	s := &Storage{
		pool:        pool,
		config:      config,
		stopCleanup: cancel,
	}

	if config.Migrate {
		if err := s.Migrate(ctx); err != nil {
			cancel()
			pool.Close()
			return nil, err
		}
	}

	if config.CleanupEnabled {
		go s.startCleanup(cleanupCtx)
	}

	return s, nil
}

// Migrate applies the embedded schema; every statement is idempotent
func (s *Storage) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the PostgreSQL connection pool and stops background cleanup
func (s *Storage) Close() {
	if s.stopCleanup != nil {
		s.stopCleanup()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks the PostgreSQL connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const subscriptionColumns = `id, user_id, customer_id, price_id, tier, status, cancel_at_period_end,
	current_period_start, current_period_end, canceled_at, last_event_id, last_event_at, created_at, updated_at`

func scanSubscription(row pgx.Row) (*community.Subscription, error) {
	var sub community.Subscription
	var status string
	err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.CustomerID,
		&sub.PriceID,
		&sub.Tier,
		&status,
		&sub.CancelAtPeriodEnd,
		&sub.CurrentPeriodStart,
		&sub.CurrentPeriodEnd,
		&sub.CanceledAt,
		&sub.LastEventID,
		&sub.LastEventAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.Status = community.SubscriptionStatus(status)
	return &sub, nil
}

// GetSubscription implements community.SubscriptionStore
func (s *Storage) GetSubscription(ctx context.Context, subscriptionID string) (*community.Subscription, error) {
	sub, err := scanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, subscriptionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, community.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// ListSubscriptionsByUser implements community.SubscriptionStore
func (s *Storage) ListSubscriptionsByUser(ctx context.Context, userID string) ([]*community.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1 ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*community.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// ApplySubscription implements community.SubscriptionStore.
// A transaction-scoped advisory lock on the subscription id serializes concurrent
// deliveries, including the first insert where no row exists yet to lock.
func (s *Storage) ApplySubscription(ctx context.Context, sub *community.Subscription) (community.ApplyResult, error) {
	if sub == nil || sub.ID == "" {
		return community.ApplyResult{}, fmt.Errorf("invalid subscription")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return community.ApplyResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // Rollback error is safe to ignore if transaction was committed
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, sub.ID); err != nil {
		return community.ApplyResult{}, fmt.Errorf("failed to lock subscription: %w", err)
	}

	existing, err := scanSubscription(tx.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1 FOR UPDATE`, sub.ID))
	if errors.Is(err, pgx.ErrNoRows) {
		existing = nil
	} else if err != nil {
		return community.ApplyResult{}, fmt.Errorf("failed to load subscription: %w", err)
	}

	result := community.ApplyLocked(existing, sub)
	if !result.Applied {
		return result, nil
	}

	m := result.Subscription
	_, err = tx.Exec(ctx,
		`INSERT INTO subscriptions (`+subscriptionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (id) DO UPDATE SET
				user_id = EXCLUDED.user_id,
				customer_id = EXCLUDED.customer_id,
				price_id = EXCLUDED.price_id,
				tier = EXCLUDED.tier,
				status = EXCLUDED.status,
				cancel_at_period_end = EXCLUDED.cancel_at_period_end,
				current_period_start = EXCLUDED.current_period_start,
				current_period_end = EXCLUDED.current_period_end,
				canceled_at = EXCLUDED.canceled_at,
				last_event_id = EXCLUDED.last_event_id,
				last_event_at = EXCLUDED.last_event_at,
				updated_at = EXCLUDED.updated_at`,
		m.ID, m.UserID, m.CustomerID, m.PriceID, m.Tier, string(m.Status), m.CancelAtPeriodEnd,
		m.CurrentPeriodStart, m.CurrentPeriodEnd, m.CanceledAt, m.LastEventID, m.LastEventAt,
		m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return community.ApplyResult{}, fmt.Errorf("failed to upsert subscription: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return community.ApplyResult{}, fmt.Errorf("failed to commit: %w", err)
	}
	return result, nil
}

// LinkCustomer implements community.SubscriptionStore
func (s *Storage) LinkCustomer(ctx context.Context, customerID, userID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO billing_customers (customer_id, user_id, linked_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (customer_id) DO UPDATE SET user_id = EXCLUDED.user_id, linked_at = EXCLUDED.linked_at`,
		customerID, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to link customer: %w", err)
	}
	return nil
}

// ResolveCustomer implements community.SubscriptionStore
func (s *Storage) ResolveCustomer(ctx context.Context, customerID string) (string, error) {
	var userID string
	err := s.pool.QueryRow(ctx,
		`SELECT user_id FROM billing_customers WHERE customer_id = $1`, customerID).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", community.ErrUserNotResolved
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve customer: %w", err)
	}
	return userID, nil
}

// CustomerForUser implements community.SubscriptionStore; the most recent link wins
func (s *Storage) CustomerForUser(ctx context.Context, userID string) (string, error) {
	var customerID string
	err := s.pool.QueryRow(ctx,
		`SELECT customer_id FROM billing_customers WHERE user_id = $1 ORDER BY linked_at DESC LIMIT 1`,
		userID).Scan(&customerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", community.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get customer: %w", err)
	}
	return customerID, nil
}

// EventProcessed implements community.SubscriptionStore
func (s *Storage) EventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1 AND expires_at > $2)`,
		eventID, time.Now().UTC()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return exists, nil
}

// MarkEventProcessed implements community.SubscriptionStore
func (s *Storage) MarkEventProcessed(ctx context.Context, eventID string, at time.Time, ttl time.Duration) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO processed_events (event_id, processed_at, expires_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (event_id) DO UPDATE SET processed_at = EXCLUDED.processed_at, expires_at = EXCLUDED.expires_at`,
		eventID, at, at.Add(ttl))
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

// startCleanup runs periodic cleanup of expired records until Close is called
func (s *Storage) startCleanup(ctx context.Context) {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			//nolint:errcheck // Cleanup is retried on the next tick
			_ = s.Cleanup(ctx)
		}
	}
}

// Cleanup deletes expired processed-event ids
func (s *Storage) Cleanup(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM processed_events WHERE expires_at < $1`, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to cleanup processed events: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
