package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if err := validateHTTPURL(c.BaseURL); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBaseURL, err)
	}

	if err := validateWSURL(c.WSURL); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBaseURL, err)
	}

	if c.APIToken == "" {
		return fmt.Errorf("%w: set ALCOVE_API_TOKEN or api_token in config.yaml",
			ErrMissingToken)
	}

	if c.Model == "" {
		return fmt.Errorf("%w: model cannot be empty", ErrInvalidModelName)
	}

	if c.UploadConcurrency < 1 || c.UploadConcurrency > MaxUploadConcurrency {
		return fmt.Errorf("%w: must be between 1 and %d, got %d",
			ErrInvalidUploadConcurrency, MaxUploadConcurrency, c.UploadConcurrency)
	}

	if c.ProcessingTimeout <= 0 {
		return fmt.Errorf("%w: must be positive, got %s",
			ErrInvalidProcessingTimeout, c.ProcessingTimeout)
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%w: must be positive, got %s",
			ErrInvalidRequestTimeout, c.RequestTimeout)
	}

	return nil
}

func validateHTTPURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("base_url cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}

func validateWSURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("ws_url cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("scheme must be ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	// Trailing slashes break naive path joins later.
	if strings.HasSuffix(u.Path, "//") {
		return fmt.Errorf("malformed path in %q", raw)
	}
	return nil
}
