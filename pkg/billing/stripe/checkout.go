package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/inkwell/pkg/billing"
)

// CheckoutURL creates a Stripe Checkout Session for the Community Wall membership and returns its URL.
func (p *Provider) CheckoutURL(ctx context.Context, userID, email, successURL, cancelURL string) (string, error) {
	priceID := strings.TrimSpace(p.config.WallPriceID)
	if priceID == "" {
		return "", fmt.Errorf("%w: wall price id", billing.ErrTierNotConfigured)
	}
	if userID == "" {
		return "", fmt.Errorf("%w: empty user id", billing.ErrUserNotFound)
	}

	// Only a missing customer is tolerated; on real errors fail rather than
	// let Stripe create a duplicate customer.
	customerID, err := p.resolveCustomerID(ctx, userID)
	if err != nil && !errors.Is(err, billing.ErrCustomerNotFound) {
		return "", fmt.Errorf("failed to resolve customer: %w", err)
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(userID),
	}
	params.AddMetadata(metadataUserID, userID)
	params.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{}
	params.SubscriptionData.AddMetadata(metadataUserID, userID)

	if customerID != "" {
		params.Customer = stripe.String(customerID)
	} else if email != "" {
		params.CustomerEmail = stripe.String(email)
	}

	session, err := p.createCheckoutSession(ctx, params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	return session.URL, nil
}

// PortalURL creates a Stripe Customer Portal Session where a member manages or cancels the subscription.
func (p *Provider) PortalURL(ctx context.Context, userID, returnURL string) (string, error) {
	customerID, err := p.resolveCustomerID(ctx, userID)
	if errors.Is(err, billing.ErrCustomerNotFound) {
		return "", fmt.Errorf("%w: %s", billing.ErrCustomerNotFound, userID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve customer: %w", err)
	}

	params := &stripe.BillingPortalSessionCreateParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	session, err := p.createPortalSession(ctx, params)
	if err != nil {
		return "", fmt.Errorf("failed to create portal session: %w", err)
	}
	return session.URL, nil
}

// TipCheckoutURL creates a one-time payment session for a tip. The writer is
// validated by the caller; the amount must lie within the configured bounds.
func (p *Provider) TipCheckoutURL(ctx context.Context, req billing.TipRequest) (string, error) {
	if req.AmountCents < p.tipMin || req.AmountCents > p.tipMax {
		return "", fmt.Errorf("%w: %d not in [%d, %d]", billing.ErrInvalidAmount, req.AmountCents, p.tipMin, p.tipMax)
	}
	if req.TipperID == "" || req.WriterID == "" {
		return "", fmt.Errorf("%w: tipper and writer are required", billing.ErrUserNotFound)
	}

	name := req.WriterName
	if name == "" {
		name = req.WriterID
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
					Currency: stripe.String(p.tipCurrency),
					ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
						Name: stripe.String("Tip for " + name),
					},
					UnitAmount: stripe.Int64(req.AmountCents),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.TipperID),
	}
	params.Metadata = map[string]string{
		metadataKind:     kindTip,
		metadataTipperID: req.TipperID,
		metadataWriterID: req.WriterID,
	}
	if req.WritingID != "" {
		params.Metadata[metadataWritingID] = req.WritingID
	}

	session, err := p.createCheckoutSession(ctx, params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	return session.URL, nil
}
