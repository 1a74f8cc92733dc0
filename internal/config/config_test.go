package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PAWGEN_API_BASE_URL", "https://api.petsphoto.test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.APIBaseURL != "https://api.petsphoto.test" {
		t.Errorf("APIBaseURL = %q", cfg.APIBaseURL)
	}
	if cfg.PollInterval != 3*time.Second {
		t.Errorf("PollInterval = %v, want 3s", cfg.PollInterval)
	}
	if cfg.APITimeout != 60*time.Second {
		t.Errorf("APITimeout = %v, want 60s", cfg.APITimeout)
	}
	if cfg.OAuthListenAddr != "127.0.0.1:8910" {
		t.Errorf("OAuthListenAddr = %q", cfg.OAuthListenAddr)
	}
}

func TestLoad_MissingBaseURL(t *testing.T) {
	t.Setenv("PAWGEN_API_BASE_URL", "")

	_, err := Load()
	if !errors.Is(err, ErrMissingAPIBaseURL) {
		t.Errorf("Load() error = %v, want ErrMissingAPIBaseURL", err)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PAWGEN_API_BASE_URL", "https://api.petsphoto.test")
	t.Setenv("PAWGEN_POLL_INTERVAL", "500ms")
	t.Setenv("PAWGEN_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PollInterval != 500*time.Millisecond {
		t.Errorf("PollInterval = %v, want 500ms", cfg.PollInterval)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestConfig_ValidateOAuth(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "fully configured",
			cfg: Config{
				OAuthAuthURL:  "https://id.petsphoto.test/authorize",
				OAuthTokenURL: "https://id.petsphoto.test/token",
				OAuthClientID: "pawgen-cli",
			},
			wantErr: false,
		},
		{
			name:    "unconfigured",
			cfg:     Config{},
			wantErr: true,
		},
		{
			name: "missing client id",
			cfg: Config{
				OAuthAuthURL:  "https://id.petsphoto.test/authorize",
				OAuthTokenURL: "https://id.petsphoto.test/token",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.ValidateOAuth()
			if tt.wantErr && !errors.Is(err, ErrOAuthNotConfigured) {
				t.Errorf("ValidateOAuth() error = %v, want ErrOAuthNotConfigured", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ValidateOAuth() error = %v, want nil", err)
			}
		})
	}
}
