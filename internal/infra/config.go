package infra

import (
	"fmt"
	"strings"
	"time"

	"github.com/attaboy/settlement/internal/guard"
	"github.com/caarlos0/env/v11"
)

const (
	insecureProviderSecret = "change-me-in-production"
	insecureJWTSecret      = "change-me-in-production"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	// Database
	DatabaseURL    string `env:"DATABASE_URL"`
	PGHost         string `env:"PGHOST" envDefault:"localhost"`
	PGPort         int    `env:"PGPORT" envDefault:"5435"`
	PGUser         string `env:"PGUSER" envDefault:"settlement"`
	PGPassword     string `env:"PGPASSWORD" envDefault:"settlement"`
	PGDatabase     string `env:"PGDATABASE" envDefault:"settlement"`
	PGMaxConns     int32  `env:"PG_MAX_CONNS" envDefault:"20"`
	MigrateOnStart bool   `env:"MIGRATE_ON_START" envDefault:"true"`
	MigrationsDir  string `env:"MIGRATIONS_DIR"`

	// Redis; empty keeps sessions and projections in process memory.
	RedisURL    string `env:"REDIS_URL"`
	RedisPrefix string `env:"REDIS_PREFIX" envDefault:"settlement:"`

	// Provider protocol
	ProviderSecret      string        `env:"PROVIDER_SECRET" envDefault:"change-me-in-production"`
	HashAlgorithm       string        `env:"HASH_ALGORITHM" envDefault:"sha256"`
	UnifiedWallet       bool          `env:"UNIFIED_WALLET" envDefault:"true"`
	DefaultGameCategory string        `env:"DEFAULT_GAME_CATEGORY" envDefault:"slots"`
	SessionTTL          time.Duration `env:"SESSION_TTL" envDefault:"24h"`

	// Duplicate-burst detection
	DuplicateBurstMode   string        `env:"DUPLICATE_BURST_MODE" envDefault:"off"`
	DuplicateBurstWindow time.Duration `env:"DUPLICATE_BURST_WINDOW" envDefault:"2s"`

	// Cache circuit breaker
	CacheFailThreshold int           `env:"CACHE_FAIL_THRESHOLD" envDefault:"5"`
	CacheResetTimeout  time.Duration `env:"CACHE_RESET_TIMEOUT" envDefault:"30s"`

	// Reconciliation
	ReconcileInterval  time.Duration `env:"RECONCILE_INTERVAL" envDefault:"0s"`
	ReconcileBatchSize int           `env:"RECONCILE_BATCH_SIZE" envDefault:"200"`
	ReconcileApply     bool          `env:"RECONCILE_APPLY" envDefault:"true"`

	// JWT (admin API)
	JWTSecret        string        `env:"JWT_SECRET" envDefault:"change-me-in-production"`
	JWTAdminExpiry   time.Duration `env:"JWT_ADMIN_EXPIRY" envDefault:"8h"`
	JWTServiceExpiry time.Duration `env:"JWT_SERVICE_EXPIRY" envDefault:"720h"`

	// Server ports
	SettlementPort int `env:"SETTLEMENT_PORT" envDefault:"4001"`
	AdminPort      int `env:"ADMIN_PORT" envDefault:"4002"`
	RelayPort      int `env:"RELAY_PORT" envDefault:"4003"`

	// Kafka
	KafkaBrokers       string        `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaEnabled       bool          `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaTopicPrefix   string        `env:"KAFKA_TOPIC_PREFIX" envDefault:"settlement"`
	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"500ms"`
	OutboxBatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`

	// CORS for the admin API
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS"`

	// Dev
	AllowInsecureDefaults bool   `env:"ALLOW_INSECURE_DEFAULTS" envDefault:"false"`
	LogLevel              string `env:"LOG_LEVEL" envDefault:"info"`
}

// LoadConfig parses environment variables into a Config struct.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks for insecure or inconsistent configuration. Set
// ALLOW_INSECURE_DEFAULTS=true to bypass the secret checks (local dev only).
func (c *Config) Validate() error {
	switch strings.ToLower(c.HashAlgorithm) {
	case "", "sha256", "sha1", "md5":
	default:
		return fmt.Errorf("HASH_ALGORITHM %q is not one of sha256, sha1, md5", c.HashAlgorithm)
	}
	if _, err := guard.ParseBurstMode(c.DuplicateBurstMode); err != nil {
		return fmt.Errorf("DUPLICATE_BURST_MODE: %w", err)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if c.ReconcileInterval < 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must not be negative")
	}

	if c.AllowInsecureDefaults {
		return nil
	}
	if c.ProviderSecret == "" || c.ProviderSecret == insecureProviderSecret {
		return fmt.Errorf("PROVIDER_SECRET is empty or the insecure default; set the secret shared with the provider or set ALLOW_INSECURE_DEFAULTS=true for local dev")
	}
	if c.JWTSecret == insecureJWTSecret {
		return fmt.Errorf("JWT_SECRET is set to the insecure default; set a strong secret or set ALLOW_INSECURE_DEFAULTS=true for local dev")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET is too short (%d chars); minimum 32 characters required", len(c.JWTSecret))
	}
	return nil
}

// DSN returns the PostgreSQL connection string, preferring DATABASE_URL if set.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.PGUser, c.PGPassword, c.PGHost, c.PGPort, c.PGDatabase)
}
