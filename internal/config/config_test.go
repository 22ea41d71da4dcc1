package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Addr:           ":5000",
		DataDir:        "./data",
		JWTSecret:      "secret",
		TokenTTL:       time.Hour,
		MaxConnections: 100,
		SendBufferSize: 64,
		MessageRate:    10,
		MessageBurst:   40,
		DrainTimeout:   time.Second,
		LogLevel:       "info",
		LogFormat:      "json",
		Environment:    "development",
	}
}

func TestLoad_DefaultsAndOverrides(t *testing.T) {
	req := require.New(t)
	t.Setenv("TELIQ_JWT_SECRET", "from-env")
	t.Setenv("TELIQ_ADDR", ":9000")
	t.Setenv("TELIQ_MESSAGE_RATE", "25")

	cfg, err := Load()
	req.NoError(err)
	req.Equal("from-env", cfg.JWTSecret)
	req.Equal(":9000", cfg.Addr)
	req.Equal(25.0, cfg.MessageRate)

	// Untouched fields keep their defaults.
	req.Equal(5000, cfg.MaxConnections)
	req.Equal(256, cfg.SendBufferSize)
	req.Equal("info", cfg.LogLevel)
	req.Equal(15*time.Second, cfg.DrainTimeout)
}

func TestValidate(t *testing.T) {
	req := require.New(t)
	req.NoError(validConfig().Validate())

	cfg := validConfig()
	cfg.JWTSecret = ""
	req.Error(cfg.Validate())

	cfg = validConfig()
	cfg.MaxConnections = 0
	req.Error(cfg.Validate())

	cfg = validConfig()
	cfg.MessageRate = -1
	req.Error(cfg.Validate())

	cfg = validConfig()
	cfg.LogLevel = "verbose"
	req.Error(cfg.Validate())

	cfg = validConfig()
	cfg.LogFormat = "xml"
	req.Error(cfg.Validate())
}
