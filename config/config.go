// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-monolith/mono"

	"github.com/example/helpdesk-realtime/domain/presence"
)

// Config is the full process configuration.
type Config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	DBPath          string        `env:"HELPDESK_DB_PATH" envDefault:"helpdesk.db"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`

	JWT      JWTConfig
	Cache    CacheConfig
	Presence PresenceConfig
	Socket   SocketConfig
}

// JWTConfig configures bearer token verification.
type JWTConfig struct {
	Secret string `env:"JWT_SECRET,required"`
	Issuer string `env:"JWT_ISSUER" envDefault:"helpdesk"`
}

// CacheConfig configures the optional redis user cache.
type CacheConfig struct {
	RedisAddr string        `env:"REDIS_ADDR"`
	TTL       time.Duration `env:"USER_CACHE_TTL" envDefault:"30s"`
}

// PresenceConfig configures presence bands and the sweep.
type PresenceConfig struct {
	AwayAfter     time.Duration `env:"PRESENCE_AWAY_AFTER" envDefault:"2m"`
	BusyAfter     time.Duration `env:"PRESENCE_BUSY_AFTER" envDefault:"4m"`
	OfflineAfter  time.Duration `env:"PRESENCE_OFFLINE_AFTER" envDefault:"5m"`
	GraceWindow   time.Duration `env:"PRESENCE_GRACE_WINDOW" envDefault:"10s"`
	SweepInterval time.Duration `env:"PRESENCE_SWEEP_INTERVAL" envDefault:"60s"`
	EvictStale    bool          `env:"PRESENCE_EVICT_STALE" envDefault:"true"`
}

// Thresholds returns the presence age bands.
func (p PresenceConfig) Thresholds() presence.Thresholds {
	return presence.Thresholds{
		AwayAfter:    p.AwayAfter,
		BusyAfter:    p.BusyAfter,
		OfflineAfter: p.OfflineAfter,
	}
}

// SocketConfig configures websocket connections.
type SocketConfig struct {
	SendBuffer   int           `env:"WS_SEND_BUFFER" envDefault:"64"`
	RateLimit    float64       `env:"WS_RATE_LIMIT" envDefault:"20"`
	RateBurst    int           `env:"WS_RATE_BURST" envDefault:"40"`
	PingInterval time.Duration `env:"WS_PING_INTERVAL" envDefault:"30s"`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if err := c.Presence.Thresholds().Validate(); err != nil {
		return err
	}
	if c.Presence.GraceWindow < 0 {
		return errors.New("presence grace window cannot be negative")
	}
	if c.Presence.SweepInterval <= 0 {
		return errors.New("presence sweep interval must be positive")
	}
	if c.Socket.SendBuffer <= 0 {
		return errors.New("websocket send buffer must be positive")
	}
	if c.JWT.Secret == "" {
		return errors.New("jwt secret is required")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLogLevel maps a LOG_LEVEL value to the framework's log level.
func ParseLogLevel(level string) (mono.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return mono.LogLevelDebug, nil
	case "", "info":
		return mono.LogLevelInfo, nil
	case "warn", "warning":
		return mono.LogLevelWarn, nil
	case "error":
		return mono.LogLevelError, nil
	}
	return mono.LogLevelInfo, fmt.Errorf("unknown log level %q", level)
}
