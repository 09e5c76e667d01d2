package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration. Values come from an optional
// YAML file, then DOSETRACK_* environment variables override whatever
// the file set.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Reminders RemindersConfig `yaml:"reminders"`
	Logging   LoggingConfig   `yaml:"logging"`
	Auth      AuthConfig      `yaml:"auth"`
	Audit     AuditConfig     `yaml:"audit"`
	CORS      CORSConfig      `yaml:"cors"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"DOSETRACK_SERVER_ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"DOSETRACK_SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"DOSETRACK_SERVER_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"DOSETRACK_SERVER_SHUTDOWN_TIMEOUT"`
}

type DatabaseConfig struct {
	// DSN is a lib/pq connection string. Empty means run on the
	// in-memory stores.
	DSN          string        `yaml:"dsn" env:"DOSETRACK_DATABASE_DSN"`
	MaxOpenConns int           `yaml:"max_open_conns" env:"DOSETRACK_DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns int           `yaml:"max_idle_conns" env:"DOSETRACK_DATABASE_MAX_IDLE_CONNS"`
	ConnLifetime time.Duration `yaml:"conn_lifetime" env:"DOSETRACK_DATABASE_CONN_LIFETIME"`
	Migrate      bool          `yaml:"migrate" env:"DOSETRACK_DATABASE_MIGRATE"`
}

type RedisConfig struct {
	// Addr empty means rate limiting falls back to the in-process limiter.
	Addr     string `yaml:"addr" env:"DOSETRACK_REDIS_ADDR"`
	Password string `yaml:"password" env:"DOSETRACK_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"DOSETRACK_REDIS_DB"`
}

type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled" env:"DOSETRACK_RATELIMIT_ENABLED"`
	Limit   int           `yaml:"limit" env:"DOSETRACK_RATELIMIT_LIMIT"`
	Window  time.Duration `yaml:"window" env:"DOSETRACK_RATELIMIT_WINDOW"`
}

type RemindersConfig struct {
	// Schedule is a cron expression or descriptor such as "@every 15m".
	// "off" disables the scanner.
	Schedule string `yaml:"schedule" env:"DOSETRACK_REMINDERS_SCHEDULE"`
	// WebhookURL, when set, receives a JSON POST for every missed slot.
	WebhookURL string `yaml:"webhook_url" env:"DOSETRACK_REMINDERS_WEBHOOK_URL"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"DOSETRACK_LOG_LEVEL"`
	Format string `yaml:"format" env:"DOSETRACK_LOG_FORMAT"`
	Output string `yaml:"output" env:"DOSETRACK_LOG_OUTPUT"`
}

type AuthConfig struct {
	// Tokens is the set of accepted bearer tokens. Empty disables auth.
	Tokens []string `yaml:"tokens" env:"DOSETRACK_AUTH_TOKENS"`
}

type CORSConfig struct {
	// AllowedOrigins lists the origins granted cross-origin access.
	// "*" allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins" env:"DOSETRACK_CORS_ALLOWED_ORIGINS"`
}

type AuditConfig struct {
	MaxEntries int    `yaml:"max_entries" env:"DOSETRACK_AUDIT_MAX_ENTRIES"`
	File       string `yaml:"file" env:"DOSETRACK_AUDIT_FILE"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns: 10,
			MaxIdleConns: 5,
			ConnLifetime: 30 * time.Minute,
			Migrate:      true,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Limit:   60,
			Window:  time.Minute,
		},
		Reminders: RemindersConfig{
			Schedule: "@every 15m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Audit: AuditConfig{
			MaxEntries: 500,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
	}
}

// Load reads the YAML config at path (if path is non-empty and the file
// exists) on top of the defaults, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
			// Missing file is fine, defaults plus env apply.
		default:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Limit <= 0 {
			return fmt.Errorf("ratelimit.limit must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("ratelimit.window must be positive")
		}
	}
	if c.Database.MaxOpenConns < 0 || c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database connection limits must not be negative")
	}
	return nil
}
