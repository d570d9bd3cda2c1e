// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/ashureev/shsh-chat/internal/codec"
	"github.com/ashureev/shsh-chat/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	Port        string `env:"PORT,default=8080"`
	GRPCPort    string `env:"GRPC_PORT,default=9090"`
	FrontendURL string `env:"FRONTEND_URL"`
	DBPath      string `env:"DB_PATH,default=./data/chat.db"`
	RedisURL    string `env:"REDIS_URL"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`

	EncryptionKey string `env:"ENCRYPTION_KEY,required=true"`
	JWTSecret     string `env:"JWT_SECRET,required=true"`

	PushTimeout           time.Duration `env:"PUSH_TIMEOUT,default=2s"`
	SendQueueSize         int           `env:"SEND_QUEUE_SIZE,default=64"`
	EventsPerSecond       float64       `env:"EVENTS_PER_SECOND,default=20"`
	EventBurst            int           `env:"EVENT_BURST,default=40"`
	PresenceSweepInterval time.Duration `env:"PRESENCE_SWEEP_INTERVAL,default=1m"`

	// Key is the decoded ENCRYPTION_KEY, set by Validate.
	Key []byte
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	es, err := env.EnvironToEnvSet(os.Environ())
	if err != nil {
		return nil, fmt.Errorf("%w: read environment: %w", domain.ErrStartupConfig, err)
	}
	return Parse(es)
}

// Parse decodes and validates configuration from es.
func Parse(es env.EnvSet) (*Config, error) {
	var cfg Config
	if err := env.Unmarshal(es, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStartupConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks that all required configuration fields are set and
// decodes the encryption key.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("%w: PORT cannot be empty", domain.ErrStartupConfig)
	}
	if c.DBPath == "" {
		return fmt.Errorf("%w: DB_PATH cannot be empty", domain.ErrStartupConfig)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("%w: JWT_SECRET cannot be empty", domain.ErrStartupConfig)
	}
	if c.PushTimeout <= 0 {
		return fmt.Errorf("%w: PUSH_TIMEOUT must be > 0", domain.ErrStartupConfig)
	}
	if c.SendQueueSize <= 0 {
		return fmt.Errorf("%w: SEND_QUEUE_SIZE must be > 0", domain.ErrStartupConfig)
	}
	if c.EventsPerSecond <= 0 || c.EventBurst <= 0 {
		return fmt.Errorf("%w: EVENTS_PER_SECOND and EVENT_BURST must be > 0", domain.ErrStartupConfig)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}

	key, err := codec.ParseKey(c.EncryptionKey)
	if err != nil {
		return err
	}
	c.Key = key
	return nil
}

// SlogLevel parses LOG_LEVEL.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("%w: LOG_LEVEL: %w", domain.ErrStartupConfig, err)
	}
	return level, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for FrontendURL.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}
