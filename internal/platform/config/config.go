// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Backend selects where central state lives.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendPostgres Backend = "postgres"
)

type Config struct {
	Server    Server
	Database  Database
	Redis     RedisConfig
	Kafka     Kafka
	S3        S3
	Audit     Audit
	Scheduler Scheduler
	Auth      Auth
	Consent   Consent
	RateLimit RateLimit
	Log       Log
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `env:"KEEPSAKE_ADDR" env-default:":8080"`
	Backend         Backend       `env:"KEEPSAKE_BACKEND" env-default:"memory"`
	Region          string        `env:"KEEPSAKE_REGION" env-default:"eu"`
	ReadTimeout     time.Duration `env:"KEEPSAKE_READ_TIMEOUT" env-default:"10s"`
	WriteTimeout    time.Duration `env:"KEEPSAKE_WRITE_TIMEOUT" env-default:"30s"`
	RequestTimeout  time.Duration `env:"KEEPSAKE_REQUEST_TIMEOUT" env-default:"20s"`
	ShutdownTimeout time.Duration `env:"KEEPSAKE_SHUTDOWN_TIMEOUT" env-default:"15s"`
	MaxBodyBytes    int64         `env:"KEEPSAKE_MAX_BODY_BYTES" env-default:"4194304"`
}

type Database struct {
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS" env-default:"25"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS" env-default:"5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" env-default:"5m"`
}

// RedisConfig configures the client shared by scheduler locks and rate limits.
// An empty URL falls back to in-process locks and buckets.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" env-default:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" env-default:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" env-default:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" env-default:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" env-default:"3s"`
}

// Kafka configures the outbox producer. Empty Brokers selects the no-op producer.
type Kafka struct {
	Brokers         string        `env:"KAFKA_BROKERS"`
	Acks            string        `env:"KAFKA_ACKS" env-default:"all"`
	Retries         int           `env:"KAFKA_RETRIES" env-default:"5"`
	DeliveryTimeout time.Duration `env:"KAFKA_DELIVERY_TIMEOUT" env-default:"30s"`
	AuditTopic      string        `env:"KAFKA_AUDIT_TOPIC" env-default:"keepsake.audit.events"`
	RenewalTopic    string        `env:"KAFKA_RENEWAL_TOPIC" env-default:"keepsake.consent.renewal-due"`
	PollInterval    time.Duration `env:"OUTBOX_POLL_INTERVAL" env-default:"250ms"`
}

// S3 configures the blob backend used to delete purged content. Empty Bucket keeps blobs in memory.
type S3 struct {
	Endpoint        string `env:"AWS_S3_ENDPOINT"`
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	Bucket          string `env:"AWS_S3_BUCKET"`
	Region          string `env:"AWS_S3_REGION" env-default:"eu-west-1"`
	UsePathStyle    bool   `env:"AWS_S3_PATH_STYLE" env-default:"false"`
}

type Audit struct {
	HashAlgorithm string        `env:"AUDIT_HASH_ALGORITHM" env-default:"sha256"`
	Retention     time.Duration `env:"AUDIT_RETENTION" env-default:"61320h"`
}

type Scheduler struct {
	Enabled   bool          `env:"SCHEDULER_ENABLED" env-default:"true"`
	LockTTL   time.Duration `env:"SCHEDULER_LOCK_TTL" env-default:"30s"`
	BatchSize int           `env:"SCHEDULER_BATCH_SIZE" env-default:"500"`
}

type Auth struct {
	JWTSigningKey string        `env:"JWT_SIGNING_KEY" env-default:"dev-secret-key-change-in-production"`
	Issuer        string        `env:"JWT_ISSUER" env-default:"keepsake"`
	Audience      string        `env:"JWT_AUDIENCE" env-default:"keepsake-api"`
	TokenTTL      time.Duration `env:"TOKEN_TTL" env-default:"15m"`
}

// Consent carries per-type policy overrides as JSON, e.g.
// {"memory_retention":{"default_expiry":"2160h","grace":"168h"}}.
type Consent struct {
	Policies string `env:"KEEPSAKE_CONSENT_POLICIES"`
}

// RateLimit sets per-actor sliding-window budgets. Zero requests disables a class.
type RateLimit struct {
	APIRequests  int           `env:"RATELIMIT_API_REQUESTS" env-default:"300"`
	APIWindow    time.Duration `env:"RATELIMIT_API_WINDOW" env-default:"1m"`
	SyncRequests int           `env:"RATELIMIT_SYNC_REQUESTS" env-default:"60"`
	SyncWindow   time.Duration `env:"RATELIMIT_SYNC_WINDOW" env-default:"1m"`
}

type Log struct {
	Level string `env:"LOG_LEVEL" env-default:"info"`
}

// Load reads the environment and validates cross-field constraints.
func Load() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	c.Server.Region = strings.ToLower(strings.TrimSpace(c.Server.Region))
	if c.Server.Region == "" {
		return fmt.Errorf("KEEPSAKE_REGION is required")
	}
	switch c.Server.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown KEEPSAKE_BACKEND %q", c.Server.Backend)
	}
	switch c.Audit.HashAlgorithm {
	case "sha256", "blake2b":
	default:
		return fmt.Errorf("unknown AUDIT_HASH_ALGORITHM %q", c.Audit.HashAlgorithm)
	}
	if c.Audit.Retention < 365*24*time.Hour {
		return fmt.Errorf("AUDIT_RETENTION must be at least one year, got %s", c.Audit.Retention)
	}
	if c.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("SCHEDULER_BATCH_SIZE must be positive")
	}
	if c.RateLimit.APIRequests < 0 || c.RateLimit.SyncRequests < 0 {
		return fmt.Errorf("RATELIMIT_*_REQUESTS must not be negative")
	}
	return nil
}
