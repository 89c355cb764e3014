// Package notify provides the push-notification channel for document
// processing status.
//
// A Channel wraps one websocket connection. It is a pure observation
// mechanism: opening it has no effect on uploaded documents. Events are
// delivered for any document, so callers filter by document id themselves.
// One channel serves one logical batch and is never shared.
//
// Failure contract: a transport error is recorded exactly once, the events
// channel closes, and the channel is presumed dead. Callers must Close() it
// and treat still-pending work as indeterminate rather than failed.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alcovehq/alcove/internal/log"
)

// Status is the processing status reported for a document.
type Status string

// Document processing statuses carried by notification events.
const (
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusError      Status = "ERROR"
)

// Event is one push notification. Transient: consumed once, never persisted.
type Event struct {
	DocumentID string `json:"document_id"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
}

// Terminal reports whether the status ends a document's processing.
func (e Event) Terminal() bool {
	return e.Status == StatusCompleted || e.Status == StatusError
}

// Connection tuning. Write deadlines keep a stuck peer from blocking the
// ping loop; the read deadline is refreshed by pongs.
const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxMessageSize   = 4096

	// eventBuffer absorbs bursts of back-to-back notifications while the
	// consumer is between reads.
	eventBuffer = 64
)

// ErrChannelClosed indicates the channel was closed locally.
var ErrChannelClosed = errors.New("notification channel closed")

// Channel is one open notification connection.
type Channel struct {
	conn   *websocket.Conn
	logger log.Logger

	events chan Event
	done   chan struct{}

	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// Dial opens a notification channel against the backend websocket endpoint.
// wsURL is the backend base URL with a ws/wss scheme.
func Dial(ctx context.Context, wsURL, token string, logger log.Logger) (*Channel, error) {
	if logger == nil {
		return nil, errors.New("notify.Dial: logger is required")
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := dialer.DialContext(ctx, wsURL+"/api/v1/ws/documents", header)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("opening notification channel (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("opening notification channel: %w", err)
	}

	c := &Channel{
		conn:   conn,
		logger: logger,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}

	go c.readPump()
	go c.writePump()

	return c, nil
}

// Events returns the inbound event stream. The channel closes when the
// connection dies or Close is called; check Err afterwards to tell the two
// apart.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// Err returns the transport error that killed the channel, or nil if the
// channel is healthy or was closed locally.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close tears the connection down. Idempotent; safe on a dead channel.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		// Best-effort close frame so the peer can clean up promptly.
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = c.conn.Close()
	})
	return nil
}

// recordErr stores the first transport error. Later errors are expected
// noise from tearing the connection down.
func (c *Channel) recordErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// closedLocally reports whether Close has been called.
func (c *Channel) closedLocally() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// readPump reads notification frames until the connection dies.
// It owns the events channel and closes it on exit.
func (c *Channel) readPump() {
	defer close(c.events)
	defer func() { _ = c.conn.Close() }()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closedLocally() {
				c.logger.Warn("notification channel transport error", "error", err)
				c.recordErr(err)
			}
			return
		}

		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			// A malformed frame is logged and skipped, not fatal.
			c.logger.Warn("dropping malformed notification frame", "error", err)
			continue
		}
		if event.DocumentID == "" {
			continue
		}

		select {
		case c.events <- event:
		case <-c.done:
			return
		}
	}
}

// writePump sends periodic pings. Outbound traffic is pings only; the
// channel is an observation mechanism, not a command surface.
func (c *Channel) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				// The read pump observes the dead connection and reports.
				_ = c.conn.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
