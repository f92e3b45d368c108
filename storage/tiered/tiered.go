// Package tiered provides a Hot/Cold tiered community.SubscriptionStore that
// fronts a durable store (Cold) with a fast one (Hot).
//
// Strategies per operation:
//   - Write-Through: ApplySubscription, LinkCustomer, MarkEventProcessed (Cold → Hot)
//   - Read-Through: GetSubscription, ResolveCustomer, CustomerForUser (Hot → Cold → fill Hot)
//   - Cold-Authoritative: ListSubscriptionsByUser, since Hot may hold only part of a user's records
//
// Concurrent misses for the same key are collapsed with singleflight.
package tiered

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mihaimyh/inkwell/pkg/community"
)

// Config configures the tiered storage behavior
type Config struct {
	// Hot is the L1 cache storage (e.g., Redis, Memory)
	Hot community.SubscriptionStore

	// Cold is the L2 persistence storage (e.g., Postgres, Firestore) and the source of truth
	Cold community.SubscriptionStore

	// ErrorHandler is called when a Hot write fails after Cold succeeded.
	// Essential for monitoring cache drift.
	ErrorHandler func(error)
}

// Storage implements community.SubscriptionStore over two backends
type Storage struct {
	hot   community.SubscriptionStore
	cold  community.SubscriptionStore
	conf  Config
	group singleflight.Group
}

// New creates a new tiered storage adapter.
func New(config Config) (*Storage, error) {
	if config.Hot == nil || config.Cold == nil {
		return nil, errors.New("tiered storage: both hot and cold storage are required")
	}
	return &Storage{hot: config.Hot, cold: config.Cold, conf: config}, nil
}

func (s *Storage) hotFailed(op string, err error) {
	if err != nil && s.conf.ErrorHandler != nil {
		s.conf.ErrorHandler(fmt.Errorf("tiered %s: hot write failed: %w", op, err))
	}
}

// fill copies an authoritative record into Hot. Reconciliation makes this safe:
// Hot skips it as duplicate or stale if it already holds the same or newer state.
func (s *Storage) fill(ctx context.Context, sub *community.Subscription) {
	if sub == nil {
		return
	}
	_, err := s.hot.ApplySubscription(ctx, sub)
	s.hotFailed("fill", err)
}

// --- Strategy: Read-Through (Hot → Cold → Populate Hot) ---

// GetSubscription implements community.SubscriptionStore
func (s *Storage) GetSubscription(ctx context.Context, subscriptionID string) (*community.Subscription, error) {
	if sub, err := s.hot.GetSubscription(ctx, subscriptionID); err == nil {
		return sub, nil
	}

	v, err, _ := s.group.Do("sub:"+subscriptionID, func() (interface{}, error) {
		sub, err := s.cold.GetSubscription(ctx, subscriptionID)
		if err != nil {
			return nil, err
		}
		s.fill(ctx, sub)
		return sub, nil
	})
	if err != nil {
		return nil, err
	}
	return copySubscription(v.(*community.Subscription)), nil
}

// ResolveCustomer implements community.SubscriptionStore
func (s *Storage) ResolveCustomer(ctx context.Context, customerID string) (string, error) {
	if userID, err := s.hot.ResolveCustomer(ctx, customerID); err == nil {
		return userID, nil
	}

	v, err, _ := s.group.Do("customer:"+customerID, func() (interface{}, error) {
		userID, err := s.cold.ResolveCustomer(ctx, customerID)
		if err != nil {
			return "", err
		}
		s.hotFailed("link", s.hot.LinkCustomer(ctx, customerID, userID))
		return userID, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// CustomerForUser implements community.SubscriptionStore
func (s *Storage) CustomerForUser(ctx context.Context, userID string) (string, error) {
	if customerID, err := s.hot.CustomerForUser(ctx, userID); err == nil {
		return customerID, nil
	}

	v, err, _ := s.group.Do("user_customer:"+userID, func() (interface{}, error) {
		customerID, err := s.cold.CustomerForUser(ctx, userID)
		if err != nil {
			return "", err
		}
		s.hotFailed("link", s.hot.LinkCustomer(ctx, customerID, userID))
		return customerID, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// EventProcessed implements community.SubscriptionStore; a Hot hit short-circuits
func (s *Storage) EventProcessed(ctx context.Context, eventID string) (bool, error) {
	if done, err := s.hot.EventProcessed(ctx, eventID); err == nil && done {
		return true, nil
	}
	return s.cold.EventProcessed(ctx, eventID)
}

// --- Strategy: Cold-Authoritative ---

// ListSubscriptionsByUser implements community.SubscriptionStore
func (s *Storage) ListSubscriptionsByUser(ctx context.Context, userID string) ([]*community.Subscription, error) {
	v, err, _ := s.group.Do("user:"+userID, func() (interface{}, error) {
		subs, err := s.cold.ListSubscriptionsByUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		for _, sub := range subs {
			s.fill(ctx, sub)
		}
		return subs, nil
	})
	if err != nil {
		return nil, err
	}

	shared := v.([]*community.Subscription)
	out := make([]*community.Subscription, len(shared))
	for i, sub := range shared {
		out[i] = copySubscription(sub)
	}
	return out, nil
}

// --- Strategy: Write-Through (Cold → Hot) ---

// ApplySubscription implements community.SubscriptionStore.
// Cold decides; Hot receives the authoritative record afterwards.
func (s *Storage) ApplySubscription(ctx context.Context, sub *community.Subscription) (community.ApplyResult, error) {
	result, err := s.cold.ApplySubscription(ctx, sub)
	if err != nil {
		return result, err
	}
	s.fill(ctx, result.Subscription)
	return result, nil
}

// LinkCustomer implements community.SubscriptionStore
func (s *Storage) LinkCustomer(ctx context.Context, customerID, userID string) error {
	if err := s.cold.LinkCustomer(ctx, customerID, userID); err != nil {
		return err
	}
	s.hotFailed("link", s.hot.LinkCustomer(ctx, customerID, userID))
	return nil
}

// MarkEventProcessed implements community.SubscriptionStore
func (s *Storage) MarkEventProcessed(ctx context.Context, eventID string, at time.Time, ttl time.Duration) error {
	if err := s.cold.MarkEventProcessed(ctx, eventID, at, ttl); err != nil {
		return err
	}
	s.hotFailed("mark event", s.hot.MarkEventProcessed(ctx, eventID, at, ttl))
	return nil
}

func copySubscription(sub *community.Subscription) *community.Subscription {
	c := *sub
	return &c
}
