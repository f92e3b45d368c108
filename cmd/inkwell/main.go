// Command inkwell serves the community API: profiles, writings, the gallery,
// circles, the Community Wall and Stripe billing.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mihaimyh/inkwell/pkg/api"
	"github.com/mihaimyh/inkwell/pkg/auth"
	"github.com/mihaimyh/inkwell/pkg/billing"
	billingprom "github.com/mihaimyh/inkwell/pkg/billing/metrics/prometheus"
	"github.com/mihaimyh/inkwell/pkg/billing/stripe"
	"github.com/mihaimyh/inkwell/pkg/community"
	zerologadapter "github.com/mihaimyh/inkwell/pkg/community/logger/zerolog"
	communityprom "github.com/mihaimyh/inkwell/pkg/community/metrics/prometheus"
	"github.com/mihaimyh/inkwell/pkg/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "inkwell: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	stores, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	managerConfig := &community.Config{
		MembershipTier:    cfg.Community.MembershipTier,
		DefaultTier:       cfg.Community.DefaultTier,
		MaxCircleMembers:  cfg.Community.MaxCircleMembers,
		MaxOwnedCircles:   cfg.Community.MaxOwnedCircles,
		InviteTTL:         cfg.Community.InviteTTL,
		ProcessedEventTTL: cfg.Community.ProcessedEventTTL,
		WallPostLimit:     community.RateLimit{Limit: cfg.Community.WallPostLimit, Window: cfg.Community.WallPostWindow},
		InviteLimit:       community.RateLimit{Limit: cfg.Community.InviteLimit, Window: cfg.Community.InviteWindow},
		RateLimiter:       stores.limiter,
		Logger:            zerologadapter.NewLogger(logger.With().Str("component", "community").Logger()),
	}
	if cfg.Metrics.Enabled {
		managerConfig.Metrics = communityprom.NewMetrics(reg, cfg.Metrics.Namespace)
	}
	manager, err := community.NewManager(stores.subs, stores.content, managerConfig)
	if err != nil {
		return fmt.Errorf("create manager: %w", err)
	}

	verifier, err := auth.NewVerifier(auth.Config{
		Secret: []byte(cfg.Auth.Secret),
		Issuer: cfg.Auth.Issuer,
		Leeway: cfg.Auth.Leeway,
	})
	if err != nil {
		return err
	}

	apiConfig := api.Config{
		Manager:      manager,
		Authenticate: verifier.Middleware,
		PublicURL:    cfg.HTTP.PublicURL,
		Logger:       &logger,
		Ready:        stores.Ping,
	}
	if cfg.Metrics.Enabled {
		apiConfig.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	}

	if cfg.Stripe.Enabled() {
		provider, err := newStripeProvider(cfg, manager, reg, logger)
		if err != nil {
			return err
		}
		apiConfig.Billing = provider
		apiConfig.Checkout = provider
	} else {
		logger.Warn().Msg("stripe is not configured, billing routes are disabled")
	}

	handler, err := api.NewHandler(apiConfig)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.HTTP.Addr).
			Str("content", cfg.Storage.Content).
			Str("subscriptions", cfg.Storage.Subscriptions).
			Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Str("service", "inkwell").Logger()
}

func newStripeProvider(
	cfg *config.Config, manager *community.Manager, reg prometheus.Registerer, logger zerolog.Logger,
) (*stripe.Provider, error) {
	base := billing.Config{
		Manager:     manager,
		TierMapping: cfg.Stripe.TierMapping,
		Logger:      zerologadapter.NewLogger(logger.With().Str("component", "billing").Logger()),
	}
	if cfg.Metrics.Enabled {
		base.Metrics = billingprom.NewMetrics(reg, cfg.Metrics.Namespace)
	}
	provider, err := stripe.NewProvider(stripe.Config{
		Config:              base,
		StripeAPIKey:        cfg.Stripe.APIKey,
		StripeWebhookSecret: cfg.Stripe.WebhookSecret,
		WallPriceID:         cfg.Stripe.WallPriceID,
		TierWeights:         cfg.Stripe.TierWeights,
		TipMinCents:         cfg.Stripe.TipMinCents,
		TipMaxCents:         cfg.Stripe.TipMaxCents,
		TipCurrency:         cfg.Stripe.TipCurrency,
		WebhookTolerance:    cfg.Stripe.WebhookTolerance,
		BreakerThreshold:    cfg.Stripe.BreakerThreshold,
		BreakerResetTimeout: cfg.Stripe.BreakerResetTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create stripe provider: %w", err)
	}
	return provider, nil
}
