package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/inkwell/pkg/billing"
	"github.com/mihaimyh/inkwell/pkg/billing/internal"
)

// API is the subset of the Stripe API the provider uses.
type API interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)

	// SetSubscriptionUserID writes metadata.user_id on the subscription and returns the updated object
	SetSubscriptionUserID(ctx context.Context, subscriptionID, userID string) (*stripe.Subscription, error)

	// ListSubscriptions returns every subscription of the customer regardless of status
	ListSubscriptions(ctx context.Context, customerID string) ([]*stripe.Subscription, error)

	GetCustomer(ctx context.Context, customerID string) (*stripe.Customer, error)

	// SearchCustomerByUserID finds the customer whose metadata.user_id equals userID.
	// Returns billing.ErrCustomerNotFound when there is none.
	SearchCustomerByUserID(ctx context.Context, userID string) (*stripe.Customer, error)

	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error)
	CreatePortalSession(
		ctx context.Context, params *stripe.BillingPortalSessionCreateParams,
	) (*stripe.BillingPortalSession, error)
}

// clientAPI implements API with the stripe-go client
type clientAPI struct {
	client *stripe.Client
}

func newClientAPI(apiKey string, httpClient *http.Client) *clientAPI {
	backends := stripe.NewBackendsWithConfig(&stripe.BackendConfig{HTTPClient: httpClient})
	return &clientAPI{client: stripe.NewClient(apiKey, stripe.WithBackends(backends))}
}

func (c *clientAPI) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	return c.client.V1Subscriptions.Retrieve(ctx, subscriptionID, nil)
}

func (c *clientAPI) SetSubscriptionUserID(ctx context.Context, subscriptionID, userID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionUpdateParams{}
	params.AddMetadata(metadataUserID, userID)
	return c.client.V1Subscriptions.Update(ctx, subscriptionID, params)
}

func (c *clientAPI) ListSubscriptions(ctx context.Context, customerID string) ([]*stripe.Subscription, error) {
	params := &stripe.SubscriptionListParams{}
	params.Customer = stripe.String(customerID)
	params.Status = stripe.String("all")

	var subs []*stripe.Subscription
	for sub, err := range c.client.V1Subscriptions.List(ctx, params) {
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (c *clientAPI) GetCustomer(ctx context.Context, customerID string) (*stripe.Customer, error) {
	return c.client.V1Customers.Retrieve(ctx, customerID, nil)
}

func (c *clientAPI) SearchCustomerByUserID(ctx context.Context, userID string) (*stripe.Customer, error) {
	params := &stripe.CustomerSearchParams{}
	params.Query = fmt.Sprintf("metadata['%s']:'%s'", metadataUserID, userID)

	for cust, err := range c.client.V1Customers.Search(ctx, params) {
		if err != nil {
			return nil, err
		}
		// Search can return partial matches
		if cust.Metadata != nil && cust.Metadata[metadataUserID] == userID {
			return cust, nil
		}
	}
	return nil, billing.ErrCustomerNotFound
}

func (c *clientAPI) CreateCheckoutSession(
	ctx context.Context, params *stripe.CheckoutSessionCreateParams,
) (*stripe.CheckoutSession, error) {
	return c.client.V1CheckoutSessions.Create(ctx, params)
}

func (c *clientAPI) CreatePortalSession(
	ctx context.Context, params *stripe.BillingPortalSessionCreateParams,
) (*stripe.BillingPortalSession, error) {
	return c.client.V1BillingPortalSessions.Create(ctx, params)
}

// isBreakerFailure keeps client errors from opening the circuit.
func isBreakerFailure(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, billing.ErrCustomerNotFound) {
		return false
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		code := stripeErr.HTTPStatusCode
		return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError || code == 0
	}
	return true
}

// call runs fn through the circuit breaker and records API metrics for endpoint.
func (p *Provider) call(ctx context.Context, endpoint string, fn func() error) error {
	start := time.Now()
	err := p.breaker.Execute(ctx, fn)
	p.metrics.RecordAPICallDuration(providerName, endpoint, time.Since(start))

	switch {
	case err == nil:
		p.metrics.RecordAPICall(providerName, endpoint, "success")
		return nil
	case errors.Is(err, billing.ErrCustomerNotFound):
		p.metrics.RecordAPICall(providerName, endpoint, "not_found")
		return err
	case errors.Is(err, internal.ErrCircuitOpen):
		p.metrics.RecordAPICall(providerName, endpoint, "circuit_open")
	default:
		p.metrics.RecordAPICall(providerName, endpoint, "error")
	}
	return fmt.Errorf("%w: %s: %w", billing.ErrProviderAPIError, endpoint, err)
}

func (p *Provider) getSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	var sub *stripe.Subscription
	err := p.call(ctx, "/subscriptions/retrieve", func() error {
		var err error
		sub, err = p.api.GetSubscription(ctx, subscriptionID)
		return err
	})
	return sub, err
}

func (p *Provider) setSubscriptionUserID(ctx context.Context, subscriptionID, userID string) (*stripe.Subscription, error) {
	var sub *stripe.Subscription
	err := p.call(ctx, "/subscriptions/update", func() error {
		var err error
		sub, err = p.api.SetSubscriptionUserID(ctx, subscriptionID, userID)
		return err
	})
	return sub, err
}

func (p *Provider) listSubscriptions(ctx context.Context, customerID string) ([]*stripe.Subscription, error) {
	var subs []*stripe.Subscription
	err := p.call(ctx, "/subscriptions/list", func() error {
		var err error
		subs, err = p.api.ListSubscriptions(ctx, customerID)
		return err
	})
	return subs, err
}

func (p *Provider) getCustomer(ctx context.Context, customerID string) (*stripe.Customer, error) {
	var cust *stripe.Customer
	err := p.call(ctx, "/customers/retrieve", func() error {
		var err error
		cust, err = p.api.GetCustomer(ctx, customerID)
		return err
	})
	return cust, err
}

func (p *Provider) searchCustomer(ctx context.Context, userID string) (*stripe.Customer, error) {
	var cust *stripe.Customer
	err := p.call(ctx, "/customers/search", func() error {
		var err error
		cust, err = p.api.SearchCustomerByUserID(ctx, userID)
		return err
	})
	return cust, err
}

func (p *Provider) createCheckoutSession(
	ctx context.Context, params *stripe.CheckoutSessionCreateParams,
) (*stripe.CheckoutSession, error) {
	var session *stripe.CheckoutSession
	err := p.call(ctx, "/checkout/sessions", func() error {
		var err error
		session, err = p.api.CreateCheckoutSession(ctx, params)
		return err
	})
	return session, err
}

func (p *Provider) createPortalSession(
	ctx context.Context, params *stripe.BillingPortalSessionCreateParams,
) (*stripe.BillingPortalSession, error) {
	var session *stripe.BillingPortalSession
	err := p.call(ctx, "/billing_portal/sessions", func() error {
		var err error
		session, err = p.api.CreatePortalSession(ctx, params)
		return err
	})
	return session, err
}
