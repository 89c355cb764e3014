// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override, ALCOVE_ prefix for secrets)
//  2. Config file (~/.alcove/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Backend: base URL, websocket URL, API token, request timeout
//   - Chat: model selection
//   - Upload: fan-out bound and processing-wait policy
//   - Logging and tracing
//
// Security: the API token is never logged; the config directory uses 0750
// permissions. Validation returns sentinel errors checkable with errors.Is().
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingToken indicates the backend API token is not set.
	ErrMissingToken = errors.New("missing API token")

	// ErrInvalidBaseURL indicates the backend base URL is malformed.
	ErrInvalidBaseURL = errors.New("invalid base URL")

	// ErrInvalidModelName indicates the model name is empty.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidUploadConcurrency indicates the upload fan-out bound is out of range.
	ErrInvalidUploadConcurrency = errors.New("invalid upload concurrency")

	// ErrInvalidProcessingTimeout indicates the processing wait bound is out of range.
	ErrInvalidProcessingTimeout = errors.New("invalid processing timeout")

	// ErrInvalidRequestTimeout indicates the per-request timeout is out of range.
	ErrInvalidRequestTimeout = errors.New("invalid request timeout")
)

// Defaults for upload coordination.
const (
	// DefaultUploadConcurrency bounds the upload fan-out. Batches are small
	// (typically < 10 files) so a modest bound is enough to avoid saturating
	// the uplink without queueing machinery.
	DefaultUploadConcurrency = 4

	// MaxUploadConcurrency is the absolute upper bound for the fan-out.
	MaxUploadConcurrency = 32

	// DefaultProcessingTimeout bounds the wait for background document
	// processing. On expiry the batch settles with remaining documents
	// marked indeterminate and the user is told to check back later.
	DefaultProcessingTimeout = 10 * time.Minute

	// DefaultRequestTimeout applies to plain request/response calls.
	// Streaming calls manage their own lifetime.
	DefaultRequestTimeout = 30 * time.Second
)

// TracingConfig configures the OpenTelemetry export pipeline.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"` // OTLP HTTP endpoint, host:port
	Environment string `mapstructure:"environment" json:"environment"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}

// Config stores application configuration.
// SECURITY: the APIToken field is masked in String(); update it when adding
// new sensitive fields.
type Config struct {
	// Backend connectivity
	BaseURL  string `mapstructure:"base_url" json:"base_url"`
	WSURL    string `mapstructure:"ws_url" json:"ws_url"` // derived from base_url when empty
	APIToken string `mapstructure:"api_token" json:"api_token"` // SENSITIVE: masked in String

	// Chat configuration
	Model string `mapstructure:"model" json:"model"`

	// Upload coordination
	UploadConcurrency int           `mapstructure:"upload_concurrency" json:"upload_concurrency"`
	ProcessingTimeout time.Duration `mapstructure:"processing_timeout" json:"processing_timeout"`

	// Request/response timeout for non-streaming calls
	RequestTimeout time.Duration `mapstructure:"request_timeout" json:"request_timeout"`

	// Logging
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`

	// Tracing
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`
}

// Dir returns the alcove configuration/state directory (~/.alcove),
// creating it if necessary.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting user home directory: %w", err)
	}

	dir := filepath.Join(home, ".alcove")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	return dir, nil
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	configDir, err := Dir()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".") // also support current directory

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error, defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("base_url", "http://localhost:8080")
	v.SetDefault("model", "gemini-2.5-flash")

	v.SetDefault("upload_concurrency", DefaultUploadConcurrency)
	v.SetDefault("processing_timeout", DefaultProcessingTimeout)
	v.SetDefault("request_timeout", DefaultRequestTimeout)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.environment", "dev")
	v.SetDefault("tracing.service_name", "alcove")
}

// bindEnvVariables binds environment variables explicitly.
// Secrets only come from the environment, never from the config file search
// path in the current directory.
func bindEnvVariables(v *viper.Viper) {
	_ = v.BindEnv("api_token", "ALCOVE_API_TOKEN")
	_ = v.BindEnv("base_url", "ALCOVE_BASE_URL")
	_ = v.BindEnv("ws_url", "ALCOVE_WS_URL")
	_ = v.BindEnv("model", "ALCOVE_MODEL")
	_ = v.BindEnv("log_level", "ALCOVE_LOG_LEVEL")
}

// applyDerived fills fields computed from other fields.
// The websocket URL defaults to the base URL with the scheme swapped.
func (c *Config) applyDerived() {
	if c.WSURL != "" {
		return
	}

	switch {
	case strings.HasPrefix(c.BaseURL, "https://"):
		c.WSURL = "wss://" + strings.TrimPrefix(c.BaseURL, "https://")
	case strings.HasPrefix(c.BaseURL, "http://"):
		c.WSURL = "ws://" + strings.TrimPrefix(c.BaseURL, "http://")
	}
}

// String implements fmt.Stringer with sensitive fields masked.
func (c *Config) String() string {
	token := "(unset)"
	if c.APIToken != "" {
		token = "***"
	}
	return fmt.Sprintf("Config{BaseURL:%s WSURL:%s APIToken:%s Model:%s UploadConcurrency:%d ProcessingTimeout:%s}",
		c.BaseURL, c.WSURL, token, c.Model, c.UploadConcurrency, c.ProcessingTimeout)
}
