package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/inkwell/pkg/billing"
	"github.com/mihaimyh/inkwell/pkg/community"
)

// Identity resolution sources, in lookup order
const (
	sourceMetadata         = "metadata"
	sourceCustomerLink     = "customer_link"
	sourceCustomerMetadata = "customer_metadata"
	sourceEmail            = "email"
	sourceUnresolved       = "unresolved"
)

// resolveUser maps a subscription to a local user and links its customer for later events.
// It returns community.ErrUserNotResolved when no source knows the user, so the
// event is redelivered once checkout completion has written the customer link.
func (p *Provider) resolveUser(ctx context.Context, sub *stripe.Subscription) (string, error) {
	customerID := ""
	if sub.Customer != nil {
		customerID = sub.Customer.ID
	}

	userID, source, err := p.lookupUser(ctx, sub.Metadata, customerID)
	if err != nil {
		p.metrics.RecordIdentityResolution(providerName, sourceUnresolved)
		p.logger.Warn("subscription user not resolved",
			community.Field{Key: "subscription_id", Value: sub.ID},
			community.Field{Key: "customer_id", Value: customerID},
			community.Field{Key: "error", Value: err.Error()},
		)
		return "", err
	}
	p.metrics.RecordIdentityResolution(providerName, source)

	if customerID != "" && source != sourceCustomerLink {
		if err := p.manager.LinkCustomer(ctx, customerID, userID); err != nil {
			return "", fmt.Errorf("failed to link customer %s: %w", customerID, err)
		}
	}
	return userID, nil
}

func (p *Provider) lookupUser(ctx context.Context, metadata map[string]string, customerID string) (string, string, error) {
	if userID := strings.TrimSpace(metadata[metadataUserID]); userID != "" {
		return userID, sourceMetadata, nil
	}
	if customerID == "" {
		return "", "", fmt.Errorf("%w: no user_id metadata and no customer", community.ErrUserNotResolved)
	}

	userID, err := p.manager.ResolveCustomer(ctx, customerID)
	switch {
	case err == nil && userID != "":
		return userID, sourceCustomerLink, nil
	case err != nil && !errors.Is(err, community.ErrUserNotResolved) && !errors.Is(err, community.ErrNotFound):
		return "", "", err
	}

	cust, err := p.getCustomer(ctx, customerID)
	if err != nil {
		return "", "", fmt.Errorf("failed to fetch customer %s: %w", customerID, err)
	}
	if cust == nil || cust.Deleted {
		return "", "", fmt.Errorf("%w: customer %s deleted", community.ErrUserNotResolved, customerID)
	}
	if userID := strings.TrimSpace(cust.Metadata[metadataUserID]); userID != "" {
		return userID, sourceCustomerMetadata, nil
	}
	if cust.Email != "" {
		profile, err := p.manager.ProfileByEmail(ctx, cust.Email)
		if err == nil {
			return profile.ID, sourceEmail, nil
		}
		if !errors.Is(err, community.ErrNotFound) {
			return "", "", err
		}
	}
	return "", "", fmt.Errorf("%w: customer %s", community.ErrUserNotResolved, customerID)
}

// resolveCustomerID finds the Stripe customer of a local user: the stored link
// first, the Search API second. A customer found by search is linked.
func (p *Provider) resolveCustomerID(ctx context.Context, userID string) (string, error) {
	customerID, err := p.manager.CustomerForUser(ctx, userID)
	if err == nil && customerID != "" {
		return customerID, nil
	}
	if err != nil && !errors.Is(err, community.ErrNotFound) {
		return "", err
	}

	cust, err := p.searchCustomer(ctx, userID)
	if err != nil {
		return "", err
	}
	if cust == nil || cust.ID == "" {
		return "", billing.ErrCustomerNotFound
	}
	if err := p.manager.LinkCustomer(ctx, cust.ID, userID); err != nil {
		p.logger.Warn("failed to link customer found by search",
			community.Field{Key: "customer_id", Value: cust.ID},
			community.Field{Key: "user_id", Value: userID},
			community.Field{Key: "error", Value: err.Error()},
		)
	}
	return cust.ID, nil
}
