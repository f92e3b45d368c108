// Package firestore provides a Firestore implementation of the community.SubscriptionStore interface.
// Reconciliation runs inside Firestore transactions, which retry on contention.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/inkwell/pkg/community"
)

// Storage implements community.SubscriptionStore using Google Cloud Firestore
type Storage struct {
	client                  *firestore.Client
	subscriptionsCollection string
	customersCollection     string
	eventsCollection        string
	now                     func() time.Time
}

// Config holds Firestore storage configuration
type Config struct {
	// SubscriptionsCollection holds one document per processor subscription
	// Default: "billing_subscriptions"
	SubscriptionsCollection string

	// CustomersCollection maps processor customers to users
	// Default: "billing_customers"
	CustomersCollection string

	// EventsCollection remembers processed webhook event ids.
	// A TTL policy on its expiresAt field lets Firestore purge old ids.
	// Default: "billing_events"
	EventsCollection string
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	if config.SubscriptionsCollection == "" {
		config.SubscriptionsCollection = "billing_subscriptions"
	}
	if config.CustomersCollection == "" {
		config.CustomersCollection = "billing_customers"
	}
	if config.EventsCollection == "" {
		config.EventsCollection = "billing_events"
	}

	return &Storage{
		client:                  client,
		subscriptionsCollection: config.SubscriptionsCollection,
		customersCollection:     config.CustomersCollection,
		eventsCollection:        config.EventsCollection,
		now:                     time.Now,
	}, nil
}

// GetSubscription implements community.SubscriptionStore
func (s *Storage) GetSubscription(ctx context.Context, subscriptionID string) (*community.Subscription, error) {
	snap, err := s.client.Collection(s.subscriptionsCollection).Doc(subscriptionID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, community.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	if !snap.Exists() {
		return nil, community.ErrSubscriptionNotFound
	}
	return decodeSubscription(snap.Ref.ID, snap.Data()), nil
}

// ListSubscriptionsByUser implements community.SubscriptionStore
func (s *Storage) ListSubscriptionsByUser(ctx context.Context, userID string) ([]*community.Subscription, error) {
	snaps, err := s.client.Collection(s.subscriptionsCollection).
		Where("userId", "==", userID).
		Documents(ctx).
		GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	out := make([]*community.Subscription, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, decodeSubscription(snap.Ref.ID, snap.Data()))
	}
	return out, nil
}

// ApplySubscription implements community.SubscriptionStore
func (s *Storage) ApplySubscription(ctx context.Context, sub *community.Subscription) (community.ApplyResult, error) {
	if sub == nil || sub.ID == "" {
		return community.ApplyResult{}, fmt.Errorf("invalid subscription")
	}

	doc := s.client.Collection(s.subscriptionsCollection).Doc(sub.ID)
	var result community.ApplyResult

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		var existing *community.Subscription
		snap, err := tx.Get(doc)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil && snap.Exists() {
			existing = decodeSubscription(sub.ID, snap.Data())
		}

		result = community.ApplyLocked(existing, sub)
		if !result.Applied {
			return nil
		}
		return tx.Set(doc, encodeSubscription(result.Subscription))
	})
	if err != nil {
		return community.ApplyResult{}, fmt.Errorf("failed to apply subscription: %w", err)
	}
	return result, nil
}

// LinkCustomer implements community.SubscriptionStore
func (s *Storage) LinkCustomer(ctx context.Context, customerID, userID string) error {
	_, err := s.client.Collection(s.customersCollection).Doc(customerID).Set(ctx, map[string]interface{}{
		"userId":   userID,
		"linkedAt": s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to link customer: %w", err)
	}
	return nil
}

// ResolveCustomer implements community.SubscriptionStore
func (s *Storage) ResolveCustomer(ctx context.Context, customerID string) (string, error) {
	snap, err := s.client.Collection(s.customersCollection).Doc(customerID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", community.ErrUserNotResolved
		}
		return "", fmt.Errorf("failed to resolve customer: %w", err)
	}
	userID := getString(snap.Data(), "userId")
	if userID == "" {
		return "", community.ErrUserNotResolved
	}
	return userID, nil
}

// CustomerForUser implements community.SubscriptionStore; the most recent link wins
func (s *Storage) CustomerForUser(ctx context.Context, userID string) (string, error) {
	snaps, err := s.client.Collection(s.customersCollection).
		Where("userId", "==", userID).
		Documents(ctx).
		GetAll()
	if err != nil {
		return "", fmt.Errorf("failed to get customer: %w", err)
	}

	var customerID string
	var latest time.Time
	for _, snap := range snaps {
		if linkedAt := getTime(snap.Data(), "linkedAt"); customerID == "" || linkedAt.After(latest) {
			customerID, latest = snap.Ref.ID, linkedAt
		}
	}
	if customerID == "" {
		return "", community.ErrNotFound
	}
	return customerID, nil
}

// EventProcessed implements community.SubscriptionStore
func (s *Storage) EventProcessed(ctx context.Context, eventID string) (bool, error) {
	snap, err := s.client.Collection(s.eventsCollection).Doc(eventID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return snap.Exists() && s.now().Before(getTime(snap.Data(), "expiresAt")), nil
}

// MarkEventProcessed implements community.SubscriptionStore
func (s *Storage) MarkEventProcessed(ctx context.Context, eventID string, at time.Time, ttl time.Duration) error {
	_, err := s.client.Collection(s.eventsCollection).Doc(eventID).Set(ctx, map[string]interface{}{
		"processedAt": at.UTC(),
		"expiresAt":   at.Add(ttl).UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

func encodeSubscription(sub *community.Subscription) map[string]interface{} {
	data := map[string]interface{}{
		"userId":            sub.UserID,
		"customerId":        sub.CustomerID,
		"priceId":           sub.PriceID,
		"tier":              sub.Tier,
		"status":            string(sub.Status),
		"cancelAtPeriodEnd": sub.CancelAtPeriodEnd,
		"lastEventId":       sub.LastEventID,
		"lastEventAt":       sub.LastEventAt.UTC(),
		"createdAt":         sub.CreatedAt.UTC(),
		"updatedAt":         sub.UpdatedAt.UTC(),
	}
	putTime(data, "currentPeriodStart", sub.CurrentPeriodStart)
	putTime(data, "currentPeriodEnd", sub.CurrentPeriodEnd)
	putTime(data, "canceledAt", sub.CanceledAt)
	return data
}

func decodeSubscription(id string, data map[string]interface{}) *community.Subscription {
	sub := &community.Subscription{
		ID:                id,
		UserID:            getString(data, "userId"),
		CustomerID:        getString(data, "customerId"),
		PriceID:           getString(data, "priceId"),
		Tier:              getString(data, "tier"),
		Status:            community.SubscriptionStatus(getString(data, "status")),
		CancelAtPeriodEnd: getBool(data, "cancelAtPeriodEnd"),
		LastEventID:       getString(data, "lastEventId"),
		LastEventAt:       getTime(data, "lastEventAt"),
		CreatedAt:         getTime(data, "createdAt"),
		UpdatedAt:         getTime(data, "updatedAt"),
	}
	sub.CurrentPeriodStart = getTimePtr(data, "currentPeriodStart")
	sub.CurrentPeriodEnd = getTimePtr(data, "currentPeriodEnd")
	sub.CanceledAt = getTimePtr(data, "canceledAt")
	return sub
}

// Helper functions for type conversion from Firestore data

func putTime(data map[string]interface{}, key string, t *time.Time) {
	if t != nil && !t.IsZero() {
		data[key] = t.UTC()
	}
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getBool(data map[string]interface{}, key string) bool {
	if v, ok := data[key].(bool); ok {
		return v
	}
	return false
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}

func getTimePtr(data map[string]interface{}, key string) *time.Time {
	if v, ok := data[key].(time.Time); ok && !v.IsZero() {
		return &v
	}
	return nil
}
