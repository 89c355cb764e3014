// Package api provides the typed client for the alcove backend.
//
// All durable state (workspaces, documents, conversations) lives on the
// backend; this package only shapes requests and responses. Plain calls are
// request/response with a bounded timeout; the conversational send is an
// incremental NDJSON stream exposed as a cancellable iterator (see
// conversation.go).
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alcovehq/alcove/internal/log"
)

// Sentinel errors mapped from HTTP status codes.
// Check with errors.Is(); the full response detail is in *Error.
var (
	// ErrUnauthorized indicates the API token was rejected.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrBackend indicates any other non-2xx backend response.
	ErrBackend = errors.New("backend error")
)

// Error is a backend error response with its HTTP status.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.Status)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Message)
}

// Unwrap maps the status code to a sentinel error for errors.Is checks.
func (e *Error) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return ErrBackend
	}
}

// Client is the alcove backend client.
// Safe for concurrent use by multiple goroutines.
type Client struct {
	baseURL string
	token   string
	logger  log.Logger

	// httpc serves request/response calls with an overall timeout.
	// streamc serves streaming calls; its lifetime is bounded only by the
	// request context, since http.Client.Timeout covers the full body read
	// and would cut long streams short.
	httpc   *http.Client
	streamc *http.Client
}

// New creates a backend client.
// baseURL must include the scheme; token is sent as a bearer credential.
func New(baseURL, token string, timeout time.Duration, logger log.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("api.New: baseURL is required")
	}
	if token == "" {
		return nil, errors.New("api.New: token is required")
	}
	if logger == nil {
		return nil, errors.New("api.New: logger is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		logger:  logger,
		httpc:   &http.Client{Timeout: timeout},
		streamc: &http.Client{},
	}, nil
}

// url joins the base URL with an API path.
func (c *Client) url(path string) string {
	return c.baseURL + "/api/v1" + path
}

// newRequest builds a request with auth headers applied.
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do issues a JSON request/response call.
// in may be nil (no body); out may be nil (response body discarded).
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.decodeError(resp)
	}

	if out == nil {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// decodeError turns a non-2xx response into an *Error.
// The backend sends {"error": "..."} bodies; anything else is kept raw.
func (c *Client) decodeError(resp *http.Response) error {
	const maxErrorBody = 4 << 10

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var payload struct {
		Error string `json:"error"`
	}
	message := strings.TrimSpace(string(data))
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		message = payload.Error
	}

	c.logger.Debug("backend request failed",
		"status", resp.StatusCode,
		"url", resp.Request.URL.Path,
	)

	return &Error{Status: resp.StatusCode, Message: message}
}
