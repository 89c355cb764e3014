package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// validConfig returns a configuration that passes Validate.
func validConfig() *Config {
	return &Config{
		BaseURL:           "http://localhost:8080",
		WSURL:             "ws://localhost:8080",
		APIToken:          "test-token",
		Model:             "gemini-2.5-flash",
		UploadConcurrency: 4,
		ProcessingTimeout: 10 * time.Minute,
		RequestTimeout:    30 * time.Second,
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config should pass validation: %v", err)
	}
}

func TestValidate_NilConfig(t *testing.T) {
	var c *Config
	if err := c.Validate(); !errors.Is(err, ErrConfigNil) {
		t.Errorf("expected ErrConfigNil, got %v", err)
	}
}

func TestValidate_SentinelErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"empty base url", func(c *Config) { c.BaseURL = "" }, ErrInvalidBaseURL},
		{"bad scheme", func(c *Config) { c.BaseURL = "ftp://host" }, ErrInvalidBaseURL},
		{"no host", func(c *Config) { c.BaseURL = "http://" }, ErrInvalidBaseURL},
		{"bad ws scheme", func(c *Config) { c.WSURL = "http://host" }, ErrInvalidBaseURL},
		{"missing token", func(c *Config) { c.APIToken = "" }, ErrMissingToken},
		{"empty model", func(c *Config) { c.Model = "" }, ErrInvalidModelName},
		{"zero concurrency", func(c *Config) { c.UploadConcurrency = 0 }, ErrInvalidUploadConcurrency},
		{"excess concurrency", func(c *Config) { c.UploadConcurrency = MaxUploadConcurrency + 1 }, ErrInvalidUploadConcurrency},
		{"zero processing timeout", func(c *Config) { c.ProcessingTimeout = 0 }, ErrInvalidProcessingTimeout},
		{"negative request timeout", func(c *Config) { c.RequestTimeout = -time.Second }, ErrInvalidRequestTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestApplyDerived_WSURLFromBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wsURL   string
		want    string
	}{
		{"http to ws", "http://api.example.com", "", "ws://api.example.com"},
		{"https to wss", "https://api.example.com", "", "wss://api.example.com"},
		{"explicit ws url wins", "https://api.example.com", "wss://push.example.com", "wss://push.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{BaseURL: tt.baseURL, WSURL: tt.wsURL}
			cfg.applyDerived()
			if cfg.WSURL != tt.want {
				t.Errorf("WSURL = %q, want %q", cfg.WSURL, tt.want)
			}
		})
	}
}

func TestString_MasksToken(t *testing.T) {
	cfg := validConfig()
	out := cfg.String()
	if strings.Contains(out, "test-token") {
		t.Errorf("String() must not leak the API token: %s", out)
	}
	if !strings.Contains(out, "***") {
		t.Errorf("String() should mark the token as set: %s", out)
	}

	cfg.APIToken = ""
	if !strings.Contains(cfg.String(), "(unset)") {
		t.Errorf("String() should mark an unset token")
	}
}
