package billing

import (
	"context"
	"net/http"

	"github.com/mihaimyh/inkwell/pkg/community"
)

// WebhookCallback is invoked after a webhook changed a stored subscription.
// A returned error fails the delivery so the processor retries it; the retry is
// recognized as a duplicate and the callback is not invoked again.
type WebhookCallback func(ctx context.Context, event WebhookEvent) error

// Config defines the standard configuration all providers should accept
type Config struct {
	// Manager is the community Manager that receives subscription state
	Manager *community.Manager

	// TierMapping maps provider price/product IDs to membership tiers.
	// For example: map[string]string{"price_wall_monthly": "wall", "price_wall_yearly": "wall"}
	// Reserved keys:
	//   - "*" or "default": Maps unknown prices to the default tier
	TierMapping map[string]string

	// WebhookSecret is used to verify incoming webhook signatures.
	WebhookSecret string

	// APIKey is used for outbound API calls to the billing provider (e.g. SyncUser).
	APIKey string

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout will be used.
	HTTPClient *http.Client

	// Metrics is an optional metrics collector for tracking billing provider operations.
	// If nil, metrics will be silently ignored (no-op).
	// Use billing/metrics/prometheus.NewMetrics(reg, namespace) for Prometheus metrics.
	Metrics Metrics

	// Logger is used for structured logging (default: the Manager's logger)
	Logger community.Logger

	// WebhookCallback is called after a subscription record changed (optional)
	WebhookCallback WebhookCallback
}
