// Package config loads the client's configuration from the environment,
// with optional .env support for local development. The backend base URL
// is mandatory; everything else has a sensible default.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

var (
	ErrMissingAPIBaseURL  = errors.New("PAWGEN_API_BASE_URL is required")
	ErrOAuthNotConfigured = errors.New("provider login is not configured (set PAWGEN_OAUTH_AUTH_URL, PAWGEN_OAUTH_TOKEN_URL and PAWGEN_OAUTH_CLIENT_ID)")
)

// Config holds all configuration for the client.
type Config struct {
	// Backend REST API.
	APIBaseURL string        `env:"PAWGEN_API_BASE_URL"`
	APITimeout time.Duration `env:"PAWGEN_API_TIMEOUT" envDefault:"60s"`

	// Identity provider, used only for federated login.
	OAuthAuthURL     string        `env:"PAWGEN_OAUTH_AUTH_URL"`
	OAuthTokenURL    string        `env:"PAWGEN_OAUTH_TOKEN_URL"`
	OAuthClientID    string        `env:"PAWGEN_OAUTH_CLIENT_ID"`
	OAuthListenAddr  string        `env:"PAWGEN_OAUTH_LISTEN_ADDR" envDefault:"127.0.0.1:8910"`
	OAuthCallbackTTL time.Duration `env:"PAWGEN_OAUTH_CALLBACK_WAIT" envDefault:"3m"`

	// Job polling.
	PollInterval time.Duration `env:"PAWGEN_POLL_INTERVAL" envDefault:"3s"`

	// Local state. Empty means the platform default under the user's
	// home directory.
	DataDir string `env:"PAWGEN_DATA_DIR"`

	LogLevel string `env:"PAWGEN_LOG_LEVEL" envDefault:"info"`
}

// Load reads configuration from the environment. A .env file in the
// working directory is merged in first when present; a missing file is
// not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the settings without which the client cannot start.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return ErrMissingAPIBaseURL
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	return nil
}

// ValidateOAuth checks the settings required by provider-federated
// login. They are optional for every other command.
func (c *Config) ValidateOAuth() error {
	if c.OAuthAuthURL == "" || c.OAuthTokenURL == "" || c.OAuthClientID == "" {
		return ErrOAuthNotConfigured
	}
	return nil
}
