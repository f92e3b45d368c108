package stripe

import (
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/inkwell/pkg/billing"
	"github.com/mihaimyh/inkwell/pkg/billing/internal"
	"github.com/mihaimyh/inkwell/pkg/community"
)

const (
	providerName             = "stripe"
	defaultHTTPTimeout       = 10 * time.Second
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
	defaultWebhookTolerance  = 5 * time.Minute
	defaultTierKeyWildcard   = "*"
	defaultTierKeyDefault    = "default"
	defaultTipMinCents       = 100
	defaultTipMaxCents       = 50000
	defaultTipCurrency       = "usd"
	maxWebhookBodyBytes      = 256 * 1024

	metadataUserID    = "user_id"
	metadataKind      = "kind"
	metadataTipperID  = "tipper_id"
	metadataWriterID  = "writer_id"
	metadataWritingID = "writing_id"
	kindTip           = "tip"
)

// Config extends billing.Config with Stripe-specific options
type Config struct {
	billing.Config // Base config (Manager, TierMapping, etc.)

	// Stripe-specific
	StripeAPIKey        string
	StripeWebhookSecret string

	// WallPriceID is the recurring price of the Community Wall membership.
	// It is added to TierMapping under the manager's MembershipTier when missing.
	WallPriceID string

	// Tier Weights (Optional)
	// Maps tier name -> priority weight (higher = better).
	// If nil, every mapped tier weighs 100 and the default tier 0.
	TierWeights map[string]int

	// Tip bounds in the smallest currency unit (defaults: 100 and 50000)
	TipMinCents int64
	TipMaxCents int64

	// TipCurrency is the ISO currency of tip checkouts (default: "usd")
	TipCurrency string

	// WebhookTolerance is the maximum accepted signature age (default: 5 minutes)
	WebhookTolerance time.Duration

	// Webhook rate limit per client IP (defaults: 100 per minute)
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Circuit breaker around Stripe API calls (defaults: 5 failures, 30s)
	BreakerThreshold    int
	BreakerResetTimeout time.Duration

	// API replaces the Stripe client (optional, used by tests)
	API API
}

// Provider implements billing.Provider and billing.CheckoutProvider for Stripe
type Provider struct {
	manager       *community.Manager
	config        Config
	api           API
	breaker       *internal.CircuitBreaker
	rateLimiter   *internal.RateLimiter
	tierMapping   map[string]string // Price ID -> Tier
	tierWeights   map[string]int    // Tier -> Weight (for priority)
	defaultTier   string
	webhookSecret string
	tolerance     time.Duration
	tipMin        int64
	tipMax        int64
	tipCurrency   string
	metrics       billing.Metrics
	logger        community.Logger
}

var (
	_ billing.Provider         = (*Provider)(nil)
	_ billing.CheckoutProvider = (*Provider)(nil)
)

// NewProvider creates a new Stripe billing provider
func NewProvider(config Config) (*Provider, error) {
	if config.Manager == nil {
		return nil, billing.ErrProviderNotConfigured
	}
	managerConfig := config.Manager.Config()

	apiKey := strings.TrimSpace(config.StripeAPIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(config.APIKey)
	}
	api := config.API
	if api == nil {
		if apiKey == "" {
			return nil, billing.ErrProviderNotConfigured
		}
		httpClient := config.HTTPClient
		if httpClient == nil {
			httpClient = &http.Client{Timeout: defaultHTTPTimeout}
		}
		api = newClientAPI(apiKey, httpClient)
	}

	webhookSecret := strings.TrimSpace(config.StripeWebhookSecret)
	if webhookSecret == "" {
		webhookSecret = strings.TrimSpace(config.WebhookSecret)
	}

	// Setup tier mapping
	tierMapping := make(map[string]string)
	for k, v := range config.TierMapping {
		tierMapping[strings.ToLower(strings.TrimSpace(k))] = v
	}
	if price := strings.ToLower(strings.TrimSpace(config.WallPriceID)); price != "" {
		if _, ok := tierMapping[price]; !ok {
			tierMapping[price] = managerConfig.MembershipTier
		}
	}

	defaultTier := managerConfig.DefaultTier
	if tier, ok := tierMapping[defaultTierKeyWildcard]; ok {
		defaultTier = tier
	} else if tier, ok := tierMapping[defaultTierKeyDefault]; ok {
		defaultTier = tier
	}

	tierWeights := make(map[string]int)
	if config.TierWeights != nil {
		for tier, weight := range config.TierWeights {
			tierWeights[tier] = weight
		}
	} else {
		for _, tier := range tierMapping {
			tierWeights[tier] = 100
		}
	}
	// Default tier always has weight 0
	tierWeights[defaultTier] = 0

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}
	logger := config.Logger
	if logger == nil {
		logger = config.Manager.Logger()
	}

	tolerance := config.WebhookTolerance
	if tolerance <= 0 {
		tolerance = defaultWebhookTolerance
	}
	tipMin := config.TipMinCents
	if tipMin <= 0 {
		tipMin = defaultTipMinCents
	}
	tipMax := config.TipMaxCents
	if tipMax <= 0 {
		tipMax = defaultTipMaxCents
	}
	if tipMax < tipMin {
		return nil, billing.ErrInvalidAmount
	}
	tipCurrency := strings.ToLower(strings.TrimSpace(config.TipCurrency))
	if tipCurrency == "" {
		tipCurrency = defaultTipCurrency
	}

	limitRequests := config.RateLimitRequests
	if limitRequests <= 0 {
		limitRequests = defaultRateLimitRequests
	}
	limitWindow := config.RateLimitWindow
	if limitWindow <= 0 {
		limitWindow = defaultRateLimitWindow
	}
	limiter := internal.NewRateLimiter(limitRequests, limitWindow)
	limiter.OnReject = func(string) {
		metrics.RecordWebhookError(providerName, "rate_limited")
	}

	breaker := internal.NewCircuitBreaker(internal.BreakerConfig{
		FailureThreshold: config.BreakerThreshold,
		ResetTimeout:     config.BreakerResetTimeout,
		IsFailure:        isBreakerFailure,
		OnStateChange: func(state internal.BreakerState) {
			metrics.RecordCircuitBreakerState(providerName, string(state))
			logger.Warn("stripe circuit breaker state changed", community.Field{Key: "state", Value: string(state)})
		},
	})

	return &Provider{
		manager:       config.Manager,
		config:        config,
		api:           api,
		breaker:       breaker,
		rateLimiter:   limiter,
		tierMapping:   tierMapping,
		tierWeights:   tierWeights,
		defaultTier:   defaultTier,
		webhookSecret: webhookSecret,
		tolerance:     tolerance,
		tipMin:        tipMin,
		tipMax:        tipMax,
		tipCurrency:   tipCurrency,
		metrics:       metrics,
		logger:        logger,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks
func (p *Provider) WebhookHandler() http.Handler {
	return p.rateLimiter.Middleware(http.HandlerFunc(p.handleWebhook))
}

// GetDefaultTier returns the tier reported for prices missing from the mapping
func (p *Provider) GetDefaultTier() string {
	return p.defaultTier
}

// MapPriceToTier maps a Stripe Price ID to a membership tier
func (p *Provider) MapPriceToTier(priceID string) string {
	if priceID == "" {
		return p.defaultTier
	}
	if tier, ok := p.tierMapping[strings.ToLower(strings.TrimSpace(priceID))]; ok {
		return tier
	}
	return p.defaultTier
}

// GetTierWeight returns the weight for a given tier
func (p *Provider) GetTierWeight(tier string) int {
	return p.tierWeights[tier]
}

func (p *Provider) now() time.Time {
	return p.manager.Config().Now().UTC()
}

// toSubscription converts a Stripe subscription into the local record.
// The highest weighted item decides price, tier and billing period.
func (p *Provider) toSubscription(sub *stripe.Subscription, userID, eventID string, at time.Time) *community.Subscription {
	record := &community.Subscription{
		ID:                sub.ID,
		UserID:            userID,
		Status:            community.SubscriptionStatus(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CanceledAt:        unixTime(sub.CanceledAt),
		LastEventID:       eventID,
		LastEventAt:       at.UTC(),
		UpdatedAt:         p.now(),
	}
	if sub.Customer != nil {
		record.CustomerID = sub.Customer.ID
	}
	if sub.Created > 0 {
		record.CreatedAt = time.Unix(sub.Created, 0).UTC()
	}

	item := p.primaryItem(sub)
	if item == nil {
		return record
	}
	if item.Price != nil {
		record.PriceID = item.Price.ID
	}
	record.Tier = p.MapPriceToTier(record.PriceID)
	record.CurrentPeriodStart = unixTime(item.CurrentPeriodStart)
	record.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
	return record
}

func (p *Provider) primaryItem(sub *stripe.Subscription) *stripe.SubscriptionItem {
	if sub.Items == nil {
		return nil
	}
	var best *stripe.SubscriptionItem
	bestWeight := 0
	for _, item := range sub.Items.Data {
		if item == nil {
			continue
		}
		priceID := ""
		if item.Price != nil {
			priceID = item.Price.ID
		}
		weight := p.GetTierWeight(p.MapPriceToTier(priceID))
		if best == nil || weight > bestWeight || (weight == bestWeight && item.CurrentPeriodEnd > best.CurrentPeriodEnd) {
			best = item
			bestWeight = weight
		}
	}
	return best
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
