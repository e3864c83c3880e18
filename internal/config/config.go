package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Persistence drivers
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds application configuration
type Config struct {
	Port               int      `env:"PORT" envDefault:"8080"`
	PersistenceDriver  string   `env:"PERSISTENCE_DRIVER" envDefault:"memory"`
	DatabaseURL        string   `env:"DATABASE_URL"`
	SQLitePath         string   `env:"SQLITE_PATH" envDefault:"mariscope.db"`
	RedisURL           string   `env:"REDIS_URL"`
	NatsURL            string   `env:"NATS_URL"`
	MinioEndpoint      string   `env:"MINIO_ENDPOINT"`
	MinioAccessKey     string   `env:"MINIO_ACCESS_KEY"`
	MinioSecretKey     string   `env:"MINIO_SECRET_KEY"`
	MinioBucket        string   `env:"MINIO_BUCKET" envDefault:"mariscope-pools"`
	MinioSecure        bool     `env:"MINIO_SECURE" envDefault:"false"`
	MinioRegion        string   `env:"MINIO_REGION" envDefault:"us-east-1"`
	JWTSecret          string   `env:"JWT_SECRET"`
	RateLimitRPS       int      `env:"RATE_LIMIT_RPS" envDefault:"100"`
	AllowedOrigins     []string `env:"CORS_ORIGIN" envSeparator:","`
	LogLevel           string   `env:"LOG_LEVEL" envDefault:"info"`
	LedgerScope        string   `env:"LEDGER_SCOPE" envDefault:"period"`
	PoolIncludeApplied bool     `env:"POOL_INCLUDE_APPLIED" envDefault:"true"`
	Seed               bool     `env:"SEED" envDefault:"true"`
	Debug              bool     `env:"DEBUG" envDefault:"false"`
}

// Load reads configuration from the process environment.
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads configuration from vars instead of the process
// environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.PersistenceDriver = strings.ToLower(strings.TrimSpace(cfg.PersistenceDriver))
	cfg.LedgerScope = strings.ToLower(strings.TrimSpace(cfg.LedgerScope))
	if cfg.Debug && len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be positive")
	}

	switch c.PersistenceDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown PERSISTENCE_DRIVER %q", c.PersistenceDriver)
	}

	switch c.LedgerScope {
	case "period", "ship":
	default:
		return fmt.Errorf("unknown LEDGER_SCOPE %q", c.LedgerScope)
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown LOG_LEVEL %q", c.LogLevel)
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// ArchiveEnabled reports whether pool archiving is configured.
func (c *Config) ArchiveEnabled() bool {
	return c.MinioEndpoint != ""
}

// AuthEnabled reports whether mutating routes require a bearer token.
func (c *Config) AuthEnabled() bool {
	return c.JWTSecret != ""
}
