// Package memory provides an in-memory implementation of the community.Storage interface.
// This implementation is primarily intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/mihaimyh/inkwell/pkg/community"
)

// Storage implements community.Storage using in-memory maps
type Storage struct {
	mu sync.RWMutex

	subscriptions map[string]*community.Subscription
	customers     map[string]string // customer id -> user id
	userCustomers map[string]string // user id -> customer id
	events        map[string]time.Time

	profiles    map[string]*community.Profile
	writings    map[string]*community.Writing
	submissions map[string]*community.Submission
	circles     map[string]*community.Circle
	members     map[string]map[string]*community.Member // circle id -> user id -> member
	invites     map[string]*community.Invite
	wall        map[string]*community.WallPost
	tips        map[string]*community.Tip

	now func() time.Time
}

// Option configures a Storage
type Option func(*Storage)

// WithClock sets the clock used to expire processed webhook events
func WithClock(now func() time.Time) Option {
	return func(s *Storage) {
		s.now = now
	}
}

// New creates a new in-memory storage adapter
func New(opts ...Option) *Storage {
	s := &Storage{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.Clear()
	return s
}

// Clear removes every record
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscriptions = make(map[string]*community.Subscription)
	s.customers = make(map[string]string)
	s.userCustomers = make(map[string]string)
	s.events = make(map[string]time.Time)
	s.profiles = make(map[string]*community.Profile)
	s.writings = make(map[string]*community.Writing)
	s.submissions = make(map[string]*community.Submission)
	s.circles = make(map[string]*community.Circle)
	s.members = make(map[string]map[string]*community.Member)
	s.invites = make(map[string]*community.Invite)
	s.wall = make(map[string]*community.WallPost)
	s.tips = make(map[string]*community.Tip)
}

// GetSubscription implements community.SubscriptionStore
func (s *Storage) GetSubscription(_ context.Context, subscriptionID string) (*community.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[subscriptionID]
	if !ok {
		return nil, community.ErrSubscriptionNotFound
	}
	return copySubscription(sub), nil
}

// ListSubscriptionsByUser implements community.SubscriptionStore
func (s *Storage) ListSubscriptionsByUser(_ context.Context, userID string) ([]*community.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*community.Subscription
	for _, sub := range s.subscriptions {
		if sub.UserID == userID {
			out = append(out, copySubscription(sub))
		}
	}
	slices.SortFunc(out, func(a, b *community.Subscription) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return out, nil
}

// ApplySubscription implements community.SubscriptionStore.
// The whole read-decide-write runs under the write lock.
func (s *Storage) ApplySubscription(_ context.Context, sub *community.Subscription) (community.ApplyResult, error) {
	if sub == nil || sub.ID == "" {
		return community.ApplyResult{}, fmt.Errorf("invalid subscription")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var existing *community.Subscription
	if stored, ok := s.subscriptions[sub.ID]; ok {
		existing = copySubscription(stored)
	}
	result := community.ApplyLocked(existing, sub)
	if result.Applied {
		s.subscriptions[sub.ID] = copySubscription(result.Subscription)
		result.Subscription = copySubscription(result.Subscription)
	}
	return result, nil
}

// LinkCustomer implements community.SubscriptionStore
func (s *Storage) LinkCustomer(_ context.Context, customerID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.customers[customerID] = userID
	s.userCustomers[userID] = customerID
	return nil
}

// ResolveCustomer implements community.SubscriptionStore
func (s *Storage) ResolveCustomer(_ context.Context, customerID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, ok := s.customers[customerID]
	if !ok {
		return "", community.ErrUserNotResolved
	}
	return userID, nil
}

// CustomerForUser implements community.SubscriptionStore
func (s *Storage) CustomerForUser(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customerID, ok := s.userCustomers[userID]
	if !ok {
		return "", community.ErrNotFound
	}
	return customerID, nil
}

// EventProcessed implements community.SubscriptionStore
func (s *Storage) EventProcessed(_ context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expiresAt, ok := s.events[eventID]
	if !ok {
		return false, nil
	}
	return s.now().Before(expiresAt), nil
}

// MarkEventProcessed implements community.SubscriptionStore
func (s *Storage) MarkEventProcessed(_ context.Context, eventID string, at time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[eventID] = at.Add(ttl)
	// Opportunistic cleanup keeps the map bounded
	now := s.now()
	for id, expiresAt := range s.events {
		if !now.Before(expiresAt) {
			delete(s.events, id)
		}
	}
	return nil
}

func copySubscription(sub *community.Subscription) *community.Subscription {
	c := *sub
	c.CurrentPeriodStart = copyTime(sub.CurrentPeriodStart)
	c.CurrentPeriodEnd = copyTime(sub.CurrentPeriodEnd)
	c.CanceledAt = copyTime(sub.CanceledAt)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
