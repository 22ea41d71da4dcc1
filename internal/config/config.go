// Package config loads gateway configuration from the environment, with an
// optional .env file for development.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all gateway configuration.
//
// Priority: environment variables > .env file > defaults.
type Config struct {
	// Server basics
	Addr    string `env:"TELIQ_ADDR" envDefault:":5000"`
	DataDir string `env:"TELIQ_DATA_DIR" envDefault:"./data"`

	// Auth
	JWTSecret string        `env:"TELIQ_JWT_SECRET,required"`
	TokenTTL  time.Duration `env:"TELIQ_TOKEN_TTL" envDefault:"168h"` // 7d, dev token endpoint only

	// Capacity
	MaxConnections int `env:"TELIQ_MAX_CONNECTIONS" envDefault:"5000"`
	SendBufferSize int `env:"TELIQ_SEND_BUFFER" envDefault:"256"`

	// Per-session inbound rate limiting (token bucket)
	MessageRate  float64 `env:"TELIQ_MESSAGE_RATE" envDefault:"10"`
	MessageBurst int     `env:"TELIQ_MESSAGE_BURST" envDefault:"40"`

	// NATS event mirror (optional; empty disables it)
	NATSURL string `env:"TELIQ_NATS_URL"`

	// Shutdown
	DrainTimeout time.Duration `env:"TELIQ_DRAIN_TIMEOUT" envDefault:"15s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Environment
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from the .env file and environment variables.
func Load() (*Config, error) {
	// .env is a development convenience; in production the environment is
	// the only source.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("TELIQ_ADDR is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("TELIQ_JWT_SECRET is required")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("TELIQ_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.SendBufferSize < 1 {
		return fmt.Errorf("TELIQ_SEND_BUFFER must be > 0, got %d", c.SendBufferSize)
	}
	if c.MessageRate <= 0 {
		return fmt.Errorf("TELIQ_MESSAGE_RATE must be > 0, got %f", c.MessageRate)
	}
	if c.MessageBurst < 1 {
		return fmt.Errorf("TELIQ_MESSAGE_BURST must be > 0, got %d", c.MessageBurst)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validFormats := map[string]bool{"json": true, "pretty": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}
	return nil
}

// LogConfig dumps the effective configuration at startup. The JWT secret is
// deliberately omitted.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("addr", c.Addr).
		Str("data_dir", c.DataDir).
		Int("max_connections", c.MaxConnections).
		Int("send_buffer", c.SendBufferSize).
		Float64("message_rate", c.MessageRate).
		Int("message_burst", c.MessageBurst).
		Str("nats_url", c.NATSURL).
		Dur("drain_timeout", c.DrainTimeout).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("Configuration loaded")
}
