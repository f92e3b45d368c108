// Package redis provides a Redis implementation of the community.SubscriptionStore interface.
// Reconciliation uses optimistic WATCH/MULTI transactions so concurrent webhook
// deliveries for the same subscription are serialized.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/inkwell/pkg/community"
)

// ErrTxConflict is returned when a subscription kept changing during every retry
var ErrTxConflict = errors.New("redis transaction conflict")

// Storage implements community.SubscriptionStore using Redis
type Storage struct {
	client redis.UniversalClient
	config Config
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "inkwell:").
	// On Redis Cluster use a hash tag such as "{inkwell}:" so transactional keys share a slot.
	KeyPrefix string

	// SubscriptionTTL is the TTL for subscription keys (0 = no expiration)
	SubscriptionTTL time.Duration

	// MaxRetries is the maximum number of optimistic transaction attempts (default: 3)
	MaxRetries int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix:       "inkwell:",
		SubscriptionTTL: 0,
		MaxRetries:      3,
	}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "inkwell:"
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}

	return &Storage{client: client, config: config}, nil
}

// GetSubscription implements community.SubscriptionStore
func (s *Storage) GetSubscription(ctx context.Context, subscriptionID string) (*community.Subscription, error) {
	return s.getSubscription(ctx, s.client, subscriptionID)
}

func (s *Storage) getSubscription(
	ctx context.Context, c redis.Cmdable, subscriptionID string,
) (*community.Subscription, error) {
	data, err := c.Get(ctx, s.subscriptionKey(subscriptionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, community.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	var sub community.Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("failed to unmarshal subscription: %w", err)
	}
	return &sub, nil
}

// ListSubscriptionsByUser implements community.SubscriptionStore
func (s *Storage) ListSubscriptionsByUser(ctx context.Context, userID string) ([]*community.Subscription, error) {
	ids, err := s.client.SMembers(ctx, s.userSubscriptionsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	var out []*community.Subscription
	for _, id := range ids {
		sub, err := s.getSubscription(ctx, s.client, id)
		if errors.Is(err, community.ErrSubscriptionNotFound) {
			// Expired or moved to another user; drop the stale index entry
			s.client.SRem(ctx, s.userSubscriptionsKey(userID), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if sub.UserID != userID {
			continue
		}
		out = append(out, sub)
	}
	return out, nil
}

// ApplySubscription implements community.SubscriptionStore
func (s *Storage) ApplySubscription(ctx context.Context, sub *community.Subscription) (community.ApplyResult, error) {
	if sub == nil || sub.ID == "" {
		return community.ApplyResult{}, fmt.Errorf("invalid subscription")
	}

	key := s.subscriptionKey(sub.ID)
	var result community.ApplyResult

	txf := func(tx *redis.Tx) error {
		existing, err := s.getSubscription(ctx, tx, sub.ID)
		if errors.Is(err, community.ErrSubscriptionNotFound) {
			existing = nil
		} else if err != nil {
			return err
		}

		result = community.ApplyLocked(existing, sub)
		if !result.Applied {
			return nil
		}

		data, err := json.Marshal(result.Subscription)
		if err != nil {
			return fmt.Errorf("failed to marshal subscription: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.config.SubscriptionTTL)
			if existing != nil && existing.UserID != "" && existing.UserID != result.Subscription.UserID {
				pipe.SRem(ctx, s.userSubscriptionsKey(existing.UserID), sub.ID)
			}
			if result.Subscription.UserID != "" {
				pipe.SAdd(ctx, s.userSubscriptionsKey(result.Subscription.UserID), sub.ID)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < s.config.MaxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return community.ApplyResult{}, fmt.Errorf("failed to apply subscription: %w", err)
	}
	return community.ApplyResult{}, ErrTxConflict
}

// LinkCustomer implements community.SubscriptionStore
func (s *Storage) LinkCustomer(ctx context.Context, customerID, userID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.customerKey(customerID), userID, 0)
		pipe.Set(ctx, s.userCustomerKey(userID), customerID, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to link customer: %w", err)
	}
	return nil
}

// ResolveCustomer implements community.SubscriptionStore
func (s *Storage) ResolveCustomer(ctx context.Context, customerID string) (string, error) {
	userID, err := s.client.Get(ctx, s.customerKey(customerID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", community.ErrUserNotResolved
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve customer: %w", err)
	}
	return userID, nil
}

// CustomerForUser implements community.SubscriptionStore
func (s *Storage) CustomerForUser(ctx context.Context, userID string) (string, error) {
	customerID, err := s.client.Get(ctx, s.userCustomerKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", community.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get customer: %w", err)
	}
	return customerID, nil
}

// EventProcessed implements community.SubscriptionStore
func (s *Storage) EventProcessed(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.eventKey(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return n > 0, nil
}

// MarkEventProcessed implements community.SubscriptionStore; Redis expires the key after ttl
func (s *Storage) MarkEventProcessed(ctx context.Context, eventID string, at time.Time, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.eventKey(eventID), at.Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

func (s *Storage) subscriptionKey(subscriptionID string) string {
	return fmt.Sprintf("%ssub:%s", s.config.KeyPrefix, subscriptionID)
}

func (s *Storage) userSubscriptionsKey(userID string) string {
	return fmt.Sprintf("%suser_subs:%s", s.config.KeyPrefix, userID)
}

func (s *Storage) customerKey(customerID string) string {
	return fmt.Sprintf("%scustomer:%s", s.config.KeyPrefix, customerID)
}

func (s *Storage) userCustomerKey(userID string) string {
	return fmt.Sprintf("%suser_customer:%s", s.config.KeyPrefix, userID)
}

func (s *Storage) eventKey(eventID string) string {
	return fmt.Sprintf("%sevent:%s", s.config.KeyPrefix, eventID)
}

// Close closes the Redis client
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
