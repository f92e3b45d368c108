package main

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mihaimyh/inkwell/pkg/community"
	"github.com/mihaimyh/inkwell/pkg/config"
	firestorestorage "github.com/mihaimyh/inkwell/storage/firestore"
	"github.com/mihaimyh/inkwell/storage/memory"
	"github.com/mihaimyh/inkwell/storage/postgres"
	redisstorage "github.com/mihaimyh/inkwell/storage/redis"
	"github.com/mihaimyh/inkwell/storage/tiered"
)

// stores holds the opened backends and what must be pinged and closed
type stores struct {
	subs    community.SubscriptionStore
	content community.ContentStore
	// limiter is shared across instances when redis is configured; nil keeps
	// the manager's in-process limiter
	limiter community.RateLimiter

	pings  []func(context.Context) error
	closes []func()
}

// Ping reports the first backend that does not answer
func (s *stores) Ping(ctx context.Context) error {
	for _, ping := range s.pings {
		if err := ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close releases backends in reverse opening order
func (s *stores) Close() {
	for i := len(s.closes) - 1; i >= 0; i-- {
		s.closes[i]()
	}
}

func openStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (st *stores, err error) {
	st = &stores{}
	defer func() {
		if err != nil {
			st.Close()
		}
	}()

	var mem *memory.Storage
	memoryStore := func() *memory.Storage {
		if mem == nil {
			mem = memory.New()
		}
		return mem
	}

	var pg *postgres.Storage
	if cfg.UsesPostgres() {
		pg, err = postgres.New(ctx, postgres.Config{
			ConnectionString: cfg.Postgres.DSN,
			MaxConns:         cfg.Postgres.MaxConns,
			MinConns:         cfg.Postgres.MinConns,
			MaxConnLifetime:  cfg.Postgres.MaxConnLifetime,
			MaxConnIdleTime:  cfg.Postgres.MaxConnIdleTime,
			Migrate:          cfg.Postgres.Migrate,
			CleanupEnabled:   cfg.Postgres.CleanupInterval > 0,
			CleanupInterval:  cfg.Postgres.CleanupInterval,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		st.pings = append(st.pings, pg.Ping)
		st.closes = append(st.closes, pg.Close)
	}

	switch cfg.Storage.Content {
	case config.BackendPostgres:
		st.content = pg
	default:
		st.content = memoryStore()
	}

	switch cfg.Storage.Subscriptions {
	case config.BackendPostgres:
		st.subs = pg
	case config.BackendRedis, config.BackendTiered:
		rs, err := openRedis(ctx, cfg, st)
		if err != nil {
			return nil, err
		}
		if cfg.Storage.Subscriptions == config.BackendRedis {
			st.subs = rs
			break
		}
		st.subs, err = tiered.New(tiered.Config{
			Hot:  rs,
			Cold: pg,
			ErrorHandler: func(err error) {
				logger.Warn().Err(err).Msg("subscription cache drift")
			},
		})
		if err != nil {
			return nil, err
		}
	case config.BackendFirestore:
		client, err := firestore.NewClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("open firestore: %w", err)
		}
		st.closes = append(st.closes, func() { _ = client.Close() })
		st.subs, err = firestorestorage.New(client, firestorestorage.Config{
			SubscriptionsCollection: cfg.Firestore.SubscriptionsCollection,
			CustomersCollection:     cfg.Firestore.CustomersCollection,
			EventsCollection:        cfg.Firestore.EventsCollection,
		})
		if err != nil {
			return nil, err
		}
	default:
		st.subs = memoryStore()
	}

	if st.subs == nil || st.content == nil {
		return nil, errors.New("storage backends are not configured")
	}
	return st, nil
}

func openRedis(ctx context.Context, cfg *config.Config, st *stores) (*redisstorage.Storage, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Redis.Addrs,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	rs, err := redisstorage.New(client, redisstorage.Config{
		KeyPrefix:       cfg.Redis.Prefix,
		SubscriptionTTL: cfg.Redis.TTL,
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	limiter, err := redisstorage.NewRateLimiter(client, redisstorage.RateLimiterConfig{KeyPrefix: cfg.Redis.Prefix})
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	st.limiter = limiter
	st.pings = append(st.pings, rs.Ping)
	st.closes = append(st.closes, func() { _ = rs.Close() })
	return rs, nil
}
