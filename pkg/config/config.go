// Package config loads process configuration from INKWELL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

// Prefix is prepended to every variable name
const Prefix = "INKWELL_"

// Storage backend names
const (
	BackendMemory    = "memory"
	BackendPostgres  = "postgres"
	BackendRedis     = "redis"
	BackendTiered    = "tiered"
	BackendFirestore = "firestore"
)

// Config is the complete process configuration
type Config struct {
	HTTP      HTTPConfig      `envPrefix:"HTTP_"`
	Auth      AuthConfig      `envPrefix:"JWT_"`
	Storage   StorageConfig   `envPrefix:"STORAGE_"`
	Postgres  PostgresConfig  `envPrefix:"POSTGRES_"`
	Redis     RedisConfig     `envPrefix:"REDIS_"`
	Firestore FirestoreConfig `envPrefix:"FIRESTORE_"`
	Stripe    StripeConfig    `envPrefix:"STRIPE_"`
	Community CommunityConfig
	Metrics   MetricsConfig `envPrefix:"METRICS_"`
	Log       LogConfig     `envPrefix:"LOG_"`
}

// HTTPConfig configures the API server
type HTTPConfig struct {
	Addr            string        `env:"ADDR"             envDefault:":8080"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT"     envDefault:"15s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT"    envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"20s"`

	// PublicURL is the web app origin checkout and portal pages return to
	PublicURL string `env:"PUBLIC_URL" envDefault:"http://localhost:3000"`
}

// AuthConfig configures bearer token verification
type AuthConfig struct {
	Secret string        `env:"SECRET,unset"`
	Issuer string        `env:"ISSUER"`
	Leeway time.Duration `env:"LEEWAY" envDefault:"30s"`
}

// StorageConfig selects storage backends
type StorageConfig struct {
	// Content holds profiles, writings, circles, wall posts and tips: memory or postgres
	Content string `env:"CONTENT" envDefault:"memory"`

	// Subscriptions holds billing state: memory, postgres, redis, tiered or firestore
	Subscriptions string `env:"SUBSCRIPTIONS" envDefault:"memory"`
}

// PostgresConfig configures the pgx pool
type PostgresConfig struct {
	DSN             string        `env:"DSN,unset"`
	MaxConns        int32         `env:"MAX_CONNS"          envDefault:"10"`
	MinConns        int32         `env:"MIN_CONNS"          envDefault:"1"`
	MaxConnLifetime time.Duration `env:"MAX_CONN_LIFETIME"  envDefault:"1h"`
	MaxConnIdleTime time.Duration `env:"MAX_CONN_IDLE_TIME" envDefault:"30m"`
	Migrate         bool          `env:"MIGRATE"            envDefault:"true"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL"   envDefault:"1h"`
}

// RedisConfig configures the redis subscription store and the tiered hot layer
type RedisConfig struct {
	Addrs    []string      `env:"ADDRS" envDefault:"localhost:6379"`
	Password string        `env:"PASSWORD,unset"`
	DB       int           `env:"DB"`
	Prefix   string        `env:"PREFIX" envDefault:"inkwell:"`
	TTL      time.Duration `env:"TTL"`
}

// FirestoreConfig configures the firestore subscription store
type FirestoreConfig struct {
	ProjectID               string `env:"PROJECT_ID"`
	SubscriptionsCollection string `env:"SUBSCRIPTIONS_COLLECTION" envDefault:"billing_subscriptions"`
	CustomersCollection     string `env:"CUSTOMERS_COLLECTION"     envDefault:"billing_customers"`
	EventsCollection        string `env:"EVENTS_COLLECTION"        envDefault:"billing_events"`
}

// StripeConfig configures billing. Billing is disabled when APIKey is empty.
type StripeConfig struct {
	APIKey        string `env:"API_KEY,unset"`
	WebhookSecret string `env:"WEBHOOK_SECRET,unset"`
	WallPriceID   string `env:"WALL_PRICE_ID"`

	// TierMapping maps additional price ids to tiers, e.g. "price_patron:patron"
	TierMapping map[string]string `env:"TIER_MAPPING"`

	// TierWeights ranks tiers when a subscription has several items, e.g. "wall:50,patron:100"
	TierWeights map[string]int `env:"TIER_WEIGHTS"`

	TipMinCents int64  `env:"TIP_MIN_CENTS" envDefault:"100"`
	TipMaxCents int64  `env:"TIP_MAX_CENTS" envDefault:"50000"`
	TipCurrency string `env:"TIP_CURRENCY"  envDefault:"usd"`

	WebhookTolerance    time.Duration `env:"WEBHOOK_TOLERANCE"     envDefault:"5m"`
	BreakerThreshold    int           `env:"BREAKER_THRESHOLD"     envDefault:"5"`
	BreakerResetTimeout time.Duration `env:"BREAKER_RESET_TIMEOUT" envDefault:"30s"`
}

// Enabled reports whether billing is configured
func (c StripeConfig) Enabled() bool {
	return c.APIKey != ""
}

// CommunityConfig holds domain limits
type CommunityConfig struct {
	MembershipTier    string        `env:"MEMBERSHIP_TIER"     envDefault:"wall"`
	DefaultTier       string        `env:"DEFAULT_TIER"        envDefault:"reader"`
	MaxCircleMembers  int           `env:"MAX_CIRCLE_MEMBERS"  envDefault:"8"`
	MaxOwnedCircles   int           `env:"MAX_OWNED_CIRCLES"   envDefault:"5"`
	InviteTTL         time.Duration `env:"INVITE_TTL"          envDefault:"168h"`
	ProcessedEventTTL time.Duration `env:"PROCESSED_EVENT_TTL" envDefault:"72h"`

	// Per-user rate limits; a negative limit disables the check
	WallPostLimit  int           `env:"WALL_POST_LIMIT"  envDefault:"10"`
	WallPostWindow time.Duration `env:"WALL_POST_WINDOW" envDefault:"10m"`
	InviteLimit    int           `env:"INVITE_LIMIT"     envDefault:"20"`
	InviteWindow   time.Duration `env:"INVITE_WINDOW"    envDefault:"1h"`
}

// MetricsConfig configures Prometheus
type MetricsConfig struct {
	Enabled   bool   `env:"ENABLED"   envDefault:"true"`
	Namespace string `env:"NAMESPACE" envDefault:"inkwell"`
}

// LogConfig configures zerolog
type LogConfig struct {
	Level  string `env:"LEVEL"  envDefault:"info"`
	Pretty bool   `env:"PRETTY"`
}

// Load parses the process environment.
func Load() (*Config, error) {
	return parse(env.Options{Prefix: Prefix})
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(environ map[string]string) (*Config, error) {
	return parse(env.Options{Prefix: Prefix, Environment: environ})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints the tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Auth.Secret) == "" {
		errs = append(errs, errors.New(Prefix+"JWT_SECRET is required"))
	}

	switch c.Storage.Content {
	case BackendMemory, BackendPostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown content backend %q", c.Storage.Content))
	}
	switch c.Storage.Subscriptions {
	case BackendMemory, BackendPostgres, BackendRedis, BackendTiered, BackendFirestore:
	default:
		errs = append(errs, fmt.Errorf("unknown subscriptions backend %q", c.Storage.Subscriptions))
	}

	if c.UsesPostgres() && c.Postgres.DSN == "" {
		errs = append(errs, errors.New(Prefix+"POSTGRES_DSN is required for the postgres backend"))
	}
	if (c.Storage.Subscriptions == BackendRedis || c.Storage.Subscriptions == BackendTiered) && len(c.Redis.Addrs) == 0 {
		errs = append(errs, errors.New(Prefix+"REDIS_ADDRS is required for the redis backend"))
	}
	if c.Storage.Subscriptions == BackendFirestore && c.Firestore.ProjectID == "" {
		errs = append(errs, errors.New(Prefix+"FIRESTORE_PROJECT_ID is required for the firestore backend"))
	}

	if c.Stripe.Enabled() {
		if c.Stripe.WallPriceID == "" {
			errs = append(errs, errors.New(Prefix+"STRIPE_WALL_PRICE_ID is required when billing is enabled"))
		}
		if c.Stripe.TipMinCents <= 0 || c.Stripe.TipMaxCents < c.Stripe.TipMinCents {
			errs = append(errs, fmt.Errorf("invalid tip bounds %d-%d", c.Stripe.TipMinCents, c.Stripe.TipMaxCents))
		}
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("invalid log level: %w", err))
	}
	return errors.Join(errs...)
}

// UsesPostgres reports whether any store needs the pgx pool.
// The tiered store keeps its cold layer in postgres.
func (c *Config) UsesPostgres() bool {
	return c.Storage.Content == BackendPostgres ||
		c.Storage.Subscriptions == BackendPostgres ||
		c.Storage.Subscriptions == BackendTiered
}
