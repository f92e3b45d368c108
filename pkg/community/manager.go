package community

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	defaultMembershipTier    = "wall"
	defaultTier              = "reader"
	defaultMaxCircleMembers  = 8
	defaultMaxOwnedCircles   = 5
	defaultInviteTTL         = 7 * 24 * time.Hour
	defaultProcessedEventTTL = 72 * time.Hour
)

var (
	defaultWallPostLimit = RateLimit{Limit: 10, Window: 10 * time.Minute}
	defaultInviteLimit   = RateLimit{Limit: 20, Window: time.Hour}
)

// Manager applies the community's rules on top of its storage backends
type Manager struct {
	subs    SubscriptionStore
	content ContentStore
	config  Config
	metrics Metrics
	logger  Logger
}

// NewManager creates a new manager with the given stores and configuration
func NewManager(subs SubscriptionStore, content ContentStore, config *Config) (*Manager, error) {
	if subs == nil || content == nil {
		return nil, ErrStorageUnavailable
	}

	cfg := Config{}
	if config != nil {
		cfg = *config
	}

	// Set defaults
	if cfg.MembershipTier == "" {
		cfg.MembershipTier = defaultMembershipTier
	}
	if cfg.DefaultTier == "" {
		cfg.DefaultTier = defaultTier
	}
	if cfg.MaxCircleMembers <= 0 {
		cfg.MaxCircleMembers = defaultMaxCircleMembers
	}
	if cfg.MaxOwnedCircles <= 0 {
		cfg.MaxOwnedCircles = defaultMaxOwnedCircles
	}
	if cfg.InviteTTL <= 0 {
		cfg.InviteTTL = defaultInviteTTL
	}
	if cfg.ProcessedEventTTL <= 0 {
		cfg.ProcessedEventTTL = defaultProcessedEventTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.WallPostLimit == (RateLimit{}) {
		cfg.WallPostLimit = defaultWallPostLimit
	}
	if cfg.InviteLimit == (RateLimit{}) {
		cfg.InviteLimit = defaultInviteLimit
	}
	if cfg.RateLimiter == nil {
		cfg.RateLimiter = NewMemoryRateLimiter(cfg.Now)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &NoopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = &NoopLogger{}
	}

	return &Manager{
		subs:    subs,
		content: content,
		config:  cfg,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}, nil
}

// Config returns the effective configuration
func (m *Manager) Config() Config {
	return m.config
}

// Logger returns the manager's logger
func (m *Manager) Logger() Logger {
	return m.logger
}

func (m *Manager) now() time.Time {
	return m.config.Now().UTC()
}

// ApplySubscription reconciles an incoming subscription state with the stored record
func (m *Manager) ApplySubscription(ctx context.Context, sub *Subscription) (ApplyResult, error) {
	if sub == nil || sub.ID == "" {
		return ApplyResult{}, invalid("subscription", "id is required")
	}
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = m.now()
	}

	start := time.Now()
	result, err := m.subs.ApplySubscription(ctx, sub)
	m.metrics.RecordStorageOperation("apply_subscription", time.Since(start), err)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("failed to apply subscription %s: %w", sub.ID, err)
	}
	m.metrics.RecordReconcile(string(result.Decision))

	if !result.Applied {
		m.logger.Debug("subscription event skipped",
			Field{"subscription_id", sub.ID},
			Field{"event_id", sub.LastEventID},
			Field{"decision", string(result.Decision)},
		)
		return result, nil
	}

	m.logger.Info("subscription applied",
		Field{"subscription_id", sub.ID},
		Field{"user_id", result.Subscription.UserID},
		Field{"status", string(result.Subscription.Status)},
		Field{"event_id", sub.LastEventID},
	)

	if m.config.OnSubscriptionChange != nil {
		if err := m.config.OnSubscriptionChange(ctx, result); err != nil {
			return result, fmt.Errorf("subscription callback failed: %w", err)
		}
	}
	return result, nil
}

// GetSubscription retrieves a subscription record by processor id
func (m *Manager) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	return m.subs.GetSubscription(ctx, subscriptionID)
}

// Subscriptions returns a user's subscription records
func (m *Manager) Subscriptions(ctx context.Context, userID string) ([]*Subscription, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	return m.subs.ListSubscriptionsByUser(ctx, userID)
}

// Membership summarizes a user's Community Wall standing.
// The entitled subscription ending last wins; without one the most recently updated record is reported.
func (m *Manager) Membership(ctx context.Context, userID string) (*Membership, error) {
	start := time.Now()
	subs, err := m.Subscriptions(ctx, userID)
	if err != nil {
		return nil, err
	}

	ms := &Membership{UserID: userID, Tier: m.config.DefaultTier}
	var best *Subscription
	for _, sub := range subs {
		if sub.Status.Entitled() {
			if best == nil || !best.Status.Entitled() || periodEndsAfter(sub, best) {
				best = sub
			}
			continue
		}
		if best == nil || (!best.Status.Entitled() && sub.UpdatedAt.After(best.UpdatedAt)) {
			best = sub
		}
	}

	if best != nil {
		ms.Status = best.Status
		ms.SubscriptionID = best.ID
		ms.CancelAtPeriodEnd = best.CancelAtPeriodEnd
		if best.Status.Entitled() {
			ms.Active = true
			ms.Tier = best.Tier
			if ms.Tier == "" {
				ms.Tier = m.config.MembershipTier
			}
			ms.RenewsAt = best.CurrentPeriodEnd
		}
	}

	m.metrics.RecordMembershipCheck(ms.Active, time.Since(start))
	return ms, nil
}

// IsMember reports whether the user currently holds Community Wall access
func (m *Manager) IsMember(ctx context.Context, userID string) (bool, error) {
	ms, err := m.Membership(ctx, userID)
	if err != nil {
		return false, err
	}
	return ms.Active, nil
}

// RequireMember returns ErrNotMember unless the caller is a member or an admin
func (m *Manager) RequireMember(ctx context.Context, viewer *Identity) error {
	if viewer == nil || viewer.UserID == "" {
		return ErrUnauthenticated
	}
	if viewer.Role == RoleAdmin {
		return nil
	}
	ok, err := m.IsMember(ctx, viewer.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMember
	}
	return nil
}

// LinkCustomer records which local user owns a processor customer
func (m *Manager) LinkCustomer(ctx context.Context, customerID, userID string) error {
	if customerID == "" || userID == "" {
		return invalid("customer", "customer and user ids are required")
	}
	return m.subs.LinkCustomer(ctx, customerID, userID)
}

// ResolveCustomer returns the local user linked to a processor customer
func (m *Manager) ResolveCustomer(ctx context.Context, customerID string) (string, error) {
	if customerID == "" {
		return "", ErrUserNotResolved
	}
	return m.subs.ResolveCustomer(ctx, customerID)
}

// CustomerForUser returns the processor customer linked to a user
func (m *Manager) CustomerForUser(ctx context.Context, userID string) (string, error) {
	return m.subs.CustomerForUser(ctx, userID)
}

// EventProcessed reports whether a webhook event was handled already
func (m *Manager) EventProcessed(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, nil
	}
	return m.subs.EventProcessed(ctx, eventID)
}

// MarkEventProcessed remembers a handled webhook event
func (m *Manager) MarkEventProcessed(ctx context.Context, eventID string) error {
	if eventID == "" {
		return nil
	}
	return m.subs.MarkEventProcessed(ctx, eventID, m.now(), m.config.ProcessedEventTTL)
}

func periodEndsAfter(a, b *Subscription) bool {
	if a.CurrentPeriodEnd == nil {
		return false
	}
	if b.CurrentPeriodEnd == nil {
		return true
	}
	return a.CurrentPeriodEnd.After(*b.CurrentPeriodEnd)
}

func requireUser(viewer *Identity) error {
	if viewer == nil || viewer.UserID == "" {
		return ErrUnauthenticated
	}
	return nil
}

func requireAdmin(viewer *Identity) error {
	if err := requireUser(viewer); err != nil {
		return err
	}
	if viewer.Role != RoleAdmin {
		return ErrForbidden
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
