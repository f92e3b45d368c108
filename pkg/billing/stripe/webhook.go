package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/mihaimyh/inkwell/pkg/billing"
	"github.com/mihaimyh/inkwell/pkg/billing/internal"
	"github.com/mihaimyh/inkwell/pkg/community"
)

// Webhook outcomes reported in metrics and in the response body
const (
	statusSuccess   = "success"
	statusSkipped   = "skipped"
	statusDuplicate = "duplicate"
	statusIgnored   = "ignored"
	statusWarning   = "warning"
	statusError     = "error"
)

// handleWebhook processes incoming Stripe webhook events
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	internal.SetSecurityHeaders(w)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if p.webhookSecret == "" {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	select {
	case <-r.Context().Done():
		http.Error(w, "request timeout", http.StatusRequestTimeout)
		return
	default:
	}

	// Read and validate body (with size limit protection)
	body, err := internal.ReadBodyStrict(w, r, maxWebhookBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	event, err := p.verifyEvent(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		p.logger.Warn("stripe webhook signature rejected",
			community.Field{Key: "remote_ip", Value: internal.GetClientIP(r)},
			community.Field{Key: "error", Value: err.Error()},
		)
		return
	}

	eventType := string(event.Type)
	if eventType == "" {
		eventType = "UNKNOWN"
	}

	status, err := p.processWebhookEvent(r.Context(), &event)
	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
	if err != nil {
		errorType := "processing_error"
		switch {
		case errors.Is(err, community.ErrUserNotResolved):
			errorType = "user_not_resolved"
		case errors.Is(err, billing.ErrInvalidWebhookPayload):
			errorType = "invalid_payload"
		case errors.Is(err, billing.ErrProviderAPIError):
			errorType = "api_error"
		}
		p.metrics.RecordWebhookEvent(providerName, eventType, statusError)
		p.metrics.RecordWebhookError(providerName, errorType)
		p.logger.Error("stripe webhook processing failed",
			community.Field{Key: "event_id", Value: event.ID},
			community.Field{Key: "event_type", Value: eventType},
			community.Field{Key: "error", Value: err.Error()},
		)
		http.Error(w, "failed to process webhook", http.StatusInternalServerError)
		return
	}

	p.metrics.RecordWebhookEvent(providerName, eventType, status)
	_ = internal.WriteJSON(w, http.StatusOK, map[string]string{"status": status})
}

// verifyEvent checks the Stripe-Signature header and decodes the event
func (p *Provider) verifyEvent(body []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(body, signature, p.webhookSecret,
		webhook.ConstructEventOptions{
			Tolerance:                p.tolerance,
			IgnoreAPIVersionMismatch: true,
		})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", billing.ErrInvalidWebhookSignature, err)
	}
	return event, nil
}

// processWebhookEvent dispatches one verified event. The event id is remembered
// only after the handler succeeded, so failed deliveries are retried by Stripe.
func (p *Provider) processWebhookEvent(ctx context.Context, event *stripe.Event) (string, error) {
	processed, err := p.manager.EventProcessed(ctx, event.ID)
	if err != nil {
		return "", fmt.Errorf("failed to check processed events: %w", err)
	}
	if processed {
		p.logger.Debug("stripe event already processed", community.Field{Key: "event_id", Value: event.ID})
		return statusDuplicate, nil
	}
	if event.Data == nil {
		return "", fmt.Errorf("%w: event %s has no data", billing.ErrInvalidWebhookPayload, event.ID)
	}

	eventTimestamp := time.Unix(event.Created, 0).UTC()

	var status string
	switch event.Type {
	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted",
		"customer.subscription.paused",
		"customer.subscription.resumed",
		"customer.subscription.trial_will_end":
		status, err = p.handleSubscriptionEvent(ctx, event, eventTimestamp)
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		status, err = p.handleCheckoutSessionCompleted(ctx, event, eventTimestamp)
	case "invoice.payment_succeeded", "invoice.payment_failed":
		status, err = p.handleInvoiceEvent(ctx, event, eventTimestamp)
	default:
		return statusIgnored, nil
	}
	if err != nil {
		return "", err
	}

	if err := p.manager.MarkEventProcessed(ctx, event.ID); err != nil {
		// The state is stored already; a redelivery is absorbed by reconciliation.
		p.logger.Warn("failed to mark stripe event processed",
			community.Field{Key: "event_id", Value: event.ID},
			community.Field{Key: "error", Value: err.Error()},
		)
	}
	return status, nil
}

// handleSubscriptionEvent applies the subscription object carried by a customer.subscription.* event
func (p *Provider) handleSubscriptionEvent(ctx context.Context, event *stripe.Event, eventTimestamp time.Time) (string, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return "", fmt.Errorf("%w: subscription: %v", billing.ErrInvalidWebhookPayload, err)
	}
	if sub.ID == "" {
		return "", fmt.Errorf("%w: subscription id missing", billing.ErrInvalidWebhookPayload)
	}

	userID, err := p.resolveUser(ctx, &sub)
	if err != nil {
		return "", err
	}
	return p.applySubscription(ctx, event, &sub, userID, eventTimestamp)
}

// handleInvoiceEvent re-fetches the invoice's subscription and applies it with the invoice event's timestamp
func (p *Provider) handleInvoiceEvent(ctx context.Context, event *stripe.Event, eventTimestamp time.Time) (string, error) {
	subscriptionID, err := invoiceSubscriptionID(event.Data.Raw)
	if err != nil {
		return "", err
	}
	if subscriptionID == "" {
		// Not a subscription invoice
		return statusIgnored, nil
	}

	sub, err := p.getSubscription(ctx, subscriptionID)
	if err != nil {
		return "", fmt.Errorf("failed to fetch subscription: %w", err)
	}
	userID, err := p.resolveUser(ctx, sub)
	if err != nil {
		return "", err
	}

	status, err := p.applySubscription(ctx, event, sub, userID, eventTimestamp)
	if err != nil {
		return "", err
	}
	if event.Type == "invoice.payment_failed" {
		p.logger.Warn("stripe invoice payment failed",
			community.Field{Key: "subscription_id", Value: subscriptionID},
			community.Field{Key: "user_id", Value: userID},
			community.Field{Key: "status", Value: string(sub.Status)},
		)
		return statusWarning, nil
	}
	return status, nil
}

// handleCheckoutSessionCompleted links the buyer and applies the new subscription
// immediately, or records a completed tip payment.
func (p *Provider) handleCheckoutSessionCompleted(
	ctx context.Context, event *stripe.Event, eventTimestamp time.Time,
) (string, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return "", fmt.Errorf("%w: checkout session: %v", billing.ErrInvalidWebhookPayload, err)
	}

	switch session.Mode {
	case stripe.CheckoutSessionModeSubscription:
		return p.completeSubscriptionCheckout(ctx, event, &session, eventTimestamp)
	case stripe.CheckoutSessionModePayment:
		if session.Metadata[metadataKind] == kindTip {
			return p.completeTipCheckout(ctx, &session, eventTimestamp)
		}
	}
	return statusIgnored, nil
}

func (p *Provider) completeSubscriptionCheckout(
	ctx context.Context, event *stripe.Event, session *stripe.CheckoutSession, eventTimestamp time.Time,
) (string, error) {
	userID := session.ClientReferenceID
	if userID == "" {
		userID = session.Metadata[metadataUserID]
	}
	if userID == "" {
		return "", fmt.Errorf("%w: checkout session %s has no user reference", community.ErrUserNotResolved, session.ID)
	}

	if session.Customer != nil && session.Customer.ID != "" {
		if err := p.manager.LinkCustomer(ctx, session.Customer.ID, userID); err != nil {
			return "", fmt.Errorf("failed to link customer %s: %w", session.Customer.ID, err)
		}
	}

	if session.Subscription == nil || session.Subscription.ID == "" {
		return statusIgnored, nil
	}
	subscriptionID := session.Subscription.ID

	sub, err := p.getSubscription(ctx, subscriptionID)
	if err != nil {
		return "", fmt.Errorf("failed to fetch subscription: %w", err)
	}
	if sub.Metadata[metadataUserID] == "" {
		// Later subscription events then resolve without the customer link
		sub, err = p.setSubscriptionUserID(ctx, subscriptionID, userID)
		if err != nil {
			return "", fmt.Errorf("failed to patch subscription metadata: %w", err)
		}
	}
	return p.applySubscription(ctx, event, sub, userID, eventTimestamp)
}

func (p *Provider) completeTipCheckout(ctx context.Context, session *stripe.CheckoutSession, eventTimestamp time.Time) (string, error) {
	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		// Delayed payment methods complete later with async_payment_succeeded
		p.logger.Debug("tip checkout not paid yet",
			community.Field{Key: "session_id", Value: session.ID},
			community.Field{Key: "payment_status", Value: string(session.PaymentStatus)},
		)
		return statusIgnored, nil
	}

	tipperID := session.Metadata[metadataTipperID]
	if tipperID == "" {
		tipperID = session.ClientReferenceID
	}
	tip := &community.Tip{
		ID:          session.ID,
		TipperID:    tipperID,
		WriterID:    session.Metadata[metadataWriterID],
		WritingID:   session.Metadata[metadataWritingID],
		AmountCents: session.AmountTotal,
		Currency:    string(session.Currency),
		CreatedAt:   eventTimestamp,
	}

	recorded, err := p.manager.RecordTip(ctx, tip)
	if err != nil {
		if errors.Is(err, community.ErrInvalidInput) {
			// Redelivery cannot fix a malformed session
			p.logger.Warn("tip checkout rejected",
				community.Field{Key: "session_id", Value: session.ID},
				community.Field{Key: "error", Value: err.Error()},
			)
			return statusWarning, nil
		}
		return "", err
	}
	if !recorded {
		return statusDuplicate, nil
	}
	return statusSuccess, nil
}

// applySubscription reconciles a Stripe subscription for userID and notifies the WebhookCallback
func (p *Provider) applySubscription(
	ctx context.Context, event *stripe.Event, sub *stripe.Subscription, userID string, eventTimestamp time.Time,
) (string, error) {
	before, err := p.manager.Membership(ctx, userID)
	if err != nil {
		return "", err
	}

	record := p.toSubscription(sub, userID, event.ID, eventTimestamp)
	result, err := p.manager.ApplySubscription(ctx, record)
	if err != nil {
		return "", err
	}
	if !result.Applied {
		p.logger.Debug("stripe subscription event skipped",
			community.Field{Key: "event_id", Value: event.ID},
			community.Field{Key: "subscription_id", Value: sub.ID},
			community.Field{Key: "decision", Value: string(result.Decision)},
		)
		return statusSkipped, nil
	}

	after, err := p.manager.Membership(ctx, userID)
	if err != nil {
		return "", err
	}
	if before.Tier != after.Tier {
		p.metrics.RecordTierChange(providerName, before.Tier, after.Tier)
	}

	if p.config.WebhookCallback != nil {
		var previousStatus string
		if result.Previous != nil {
			previousStatus = string(result.Previous.Status)
		}
		cbEvent := billing.WebhookEvent{
			UserID:         userID,
			SubscriptionID: sub.ID,
			PreviousStatus: previousStatus,
			NewStatus:      string(result.Subscription.Status),
			PreviousTier:   before.Tier,
			NewTier:        after.Tier,
			Provider:       providerName,
			EventType:      string(event.Type),
			EventTimestamp: eventTimestamp,
			ExpiresAt:      result.Subscription.CurrentPeriodEnd,
			Metadata: map[string]interface{}{
				"subscription_metadata": sub.Metadata,
			},
		}
		if err := p.config.WebhookCallback(ctx, cbEvent); err != nil {
			return "", fmt.Errorf("webhook callback failed: %w", err)
		}
	}
	return statusSuccess, nil
}

// invoiceSubscriptionID reads the subscription id from an invoice payload.
// Newer API versions nest it under parent.subscription_details.
func invoiceSubscriptionID(raw json.RawMessage) (string, error) {
	var invoice struct {
		Subscription json.RawMessage `json:"subscription"`
		Parent       *struct {
			SubscriptionDetails *struct {
				Subscription json.RawMessage `json:"subscription"`
			} `json:"subscription_details"`
		} `json:"parent"`
	}
	if err := json.Unmarshal(raw, &invoice); err != nil {
		return "", fmt.Errorf("%w: invoice: %v", billing.ErrInvalidWebhookPayload, err)
	}
	if id := expandableID(invoice.Subscription); id != "" {
		return id, nil
	}
	if invoice.Parent != nil && invoice.Parent.SubscriptionDetails != nil {
		return expandableID(invoice.Parent.SubscriptionDetails.Subscription), nil
	}
	return "", nil
}

// expandableID returns the id of a field that is either an id string or an expanded object.
func expandableID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}
