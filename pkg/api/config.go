package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/mihaimyh/inkwell/pkg/auth"
	"github.com/mihaimyh/inkwell/pkg/billing"
	"github.com/mihaimyh/inkwell/pkg/community"
)

// Config holds configuration for the API handler
type Config struct {
	// Manager is the community manager instance (required)
	Manager *community.Manager

	// Authenticate establishes the caller's identity from the request (required).
	// Typically (*auth.Verifier).Middleware.
	Authenticate func(http.Handler) http.Handler

	// GetIdentity reads the identity Authenticate stored.
	// If nil, uses auth.FromContext.
	GetIdentity func(*http.Request) *community.Identity

	// Billing serves the Stripe webhook and admin resyncs (optional).
	// Without it billing routes answer 503.
	Billing billing.Provider

	// Checkout creates hosted payment pages (optional)
	Checkout billing.CheckoutProvider

	// PublicURL is the web app origin payment pages return to
	PublicURL string

	// Logger is the base logger for access logs and handler errors.
	// If nil, logging is disabled.
	Logger *zerolog.Logger

	// MetricsHandler is served on GET /metrics when set
	MetricsHandler http.Handler

	// Ready reports backend health for GET /readyz (optional)
	Ready func(ctx context.Context) error

	// OnError handles errors (auth, internal, etc.)
	// If nil, writes the JSON error envelope
	OnError func(http.ResponseWriter, *http.Request, error)
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Manager == nil {
		return fmt.Errorf("manager is required")
	}
	if c.Authenticate == nil {
		return fmt.Errorf("authenticate is required")
	}
	return nil
}

// NewHandler creates a new API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.GetIdentity == nil {
		config.GetIdentity = func(r *http.Request) *community.Identity {
			return auth.FromContext(r.Context())
		}
	}
	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = *config.Logger
	}
	h := &Handler{
		config:  config,
		manager: config.Manager,
		logger:  logger,
	}
	h.router = h.routes()
	return h, nil
}
