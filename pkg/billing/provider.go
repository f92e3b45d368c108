package billing

import (
	"context"
	"net/http"

	"github.com/mihaimyh/inkwell/pkg/community"
)

// Provider is the generic interface that any billing backend must implement.
type Provider interface {
	// Name returns the provider name (e.g., "stripe")
	Name() string

	// WebhookHandler returns the HTTP handler that processes real-time events.
	// The implementation handles validation, parsing, and Manager updates internally.
	WebhookHandler() http.Handler

	// SyncUser forces a synchronization of the user's subscriptions from the provider
	// to the community Manager. Used by the admin console and reconciliation jobs.
	// Returns the user's resulting membership.
	SyncUser(ctx context.Context, userID string) (*community.Membership, error)
}

// CheckoutProvider creates hosted payment pages
type CheckoutProvider interface {
	// CheckoutURL starts a Community Wall subscription checkout
	CheckoutURL(ctx context.Context, userID, email, successURL, cancelURL string) (string, error)

	// PortalURL opens the self-service page where members manage their subscription
	PortalURL(ctx context.Context, userID, returnURL string) (string, error)

	// TipCheckoutURL starts a one-time tip payment to a writer
	TipCheckoutURL(ctx context.Context, req TipRequest) (string, error)
}

// TipRequest describes a tip checkout
type TipRequest struct {
	TipperID    string
	WriterID    string
	WriterName  string
	WritingID   string
	AmountCents int64
	SuccessURL  string
	CancelURL   string
}
