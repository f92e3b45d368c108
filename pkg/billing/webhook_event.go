package billing

import "time"

// WebhookEvent contains information about a successful webhook processing event.
// This event is passed to the WebhookCallback after the subscription has been
// successfully updated in storage.
type WebhookEvent struct {
	// UserID is the internal user identifier
	UserID string

	// SubscriptionID is the provider subscription id
	SubscriptionID string

	// PreviousStatus is the stored status before the update (empty for a new subscription)
	PreviousStatus string

	// NewStatus is the stored status after the update
	NewStatus string

	// PreviousTier is the effective tier before the webhook update (default tier if not entitled)
	PreviousTier string

	// NewTier is the effective tier after the webhook update
	NewTier string

	// Provider is the billing provider name ("stripe")
	Provider string

	// EventType is the provider-specific event type
	// Stripe: "customer.subscription.created", "invoice.payment_succeeded", etc.
	EventType string

	// EventTimestamp is when the event occurred (from provider)
	EventTimestamp time.Time

	// ExpiresAt is the end of the current billing period (nil when unknown)
	ExpiresAt *time.Time

	// Metadata contains provider-specific additional data
	// Stripe: "subscription_metadata" holds the subscription's metadata map
	Metadata map[string]interface{}
}
