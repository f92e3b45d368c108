package stripe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mihaimyh/inkwell/pkg/billing"
	"github.com/mihaimyh/inkwell/pkg/community"
)

// SyncUser pulls every subscription of the user's Stripe customer and applies
// it as of the fetch, then returns the resulting membership.
// Users without a Stripe customer keep whatever is stored locally.
func (p *Provider) SyncUser(ctx context.Context, userID string) (*community.Membership, error) {
	startTime := time.Now()
	ms, err := p.syncUser(ctx, userID)
	if err != nil {
		p.metrics.RecordUserSync(providerName, "error")
	} else {
		p.metrics.RecordUserSync(providerName, "success")
	}
	p.metrics.RecordUserSyncDuration(providerName, time.Since(startTime))
	return ms, err
}

func (p *Provider) syncUser(ctx context.Context, userID string) (*community.Membership, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", billing.ErrUserNotFound)
	}

	customerID, err := p.resolveCustomerID(ctx, userID)
	if errors.Is(err, billing.ErrCustomerNotFound) {
		p.logger.Debug("no stripe customer for user", community.Field{Key: "user_id", Value: userID})
		return p.manager.Membership(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve customer: %w", err)
	}

	// Stripe event timestamps have one-second resolution; any event created
	// at or after the fetch must win over the fetched state.
	syncedAt := p.now().Truncate(time.Second).Add(-time.Second)
	subs, err := p.listSubscriptions(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	before, err := p.manager.Membership(ctx, userID)
	if err != nil {
		return nil, err
	}

	for _, sub := range subs {
		record := p.toSubscription(sub, userID, "", syncedAt)
		if record.CustomerID == "" {
			record.CustomerID = customerID
		}
		if _, err := p.manager.ApplySubscription(ctx, record); err != nil {
			return nil, err
		}
	}

	after, err := p.manager.Membership(ctx, userID)
	if err != nil {
		return nil, err
	}
	if before.Tier != after.Tier {
		p.metrics.RecordTierChange(providerName, before.Tier, after.Tier)
	}
	p.logger.Info("stripe subscriptions synced",
		community.Field{Key: "user_id", Value: userID},
		community.Field{Key: "customer_id", Value: customerID},
		community.Field{Key: "subscriptions", Value: len(subs)},
		community.Field{Key: "active", Value: after.Active},
	)
	return after, nil
}
