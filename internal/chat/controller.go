// Package chat owns conversational state: the visible transcript, the live
// streaming session, and the lazy conversation lifecycle.
//
// The controller is driven from a single-threaded update loop. Send spawns
// one goroutine that consumes the response stream and republishes it as
// session-tagged events; the loop feeds those events back through Apply,
// which is the only place transcript state mutates. Events carrying a stale
// session id are dropped there, so a superseded or abandoned stream can
// never corrupt the transcript no matter when its stragglers arrive.
package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/google/uuid"

	"github.com/alcovehq/alcove/internal/api"
	"github.com/alcovehq/alcove/internal/log"
)

// Backend is the slice of the API client the controller consumes.
// *api.Client satisfies this.
type Backend interface {
	StreamMessage(ctx context.Context, req api.SendMessageRequest) iter.Seq2[api.Frame, error]
	GetMessages(ctx context.Context, conversationID string) ([]api.ConversationMessage, error)
	GenerateTitle(ctx context.Context, conversationID string) (string, error)
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one transcript entry. An assistant message is Pending from the
// moment its send is issued until its stream reaches a terminal outcome;
// partial Content accumulated before cancellation or an error stays visible.
type Message struct {
	Role    string
	Content string
	Sources []api.SourceRef

	Pending bool

	// Note annotates an abnormal end: cancellation or a stream error.
	Note string
}

// EventKind classifies stream events.
type EventKind int

// Stream event kinds.
const (
	// EventSources carries citations and, for a fresh conversation, the
	// backend-assigned conversation id.
	EventSources EventKind = iota
	// EventText carries one incremental fragment.
	EventText
	// EventDone marks normal completion of the response.
	EventDone
	// EventFailed marks an abnormal end; Err holds the cause. Cancellation
	// surfaces here as context.Canceled.
	EventFailed
)

// Event is one session-tagged stream event, produced by the consumer
// goroutine and folded into state by Apply.
type Event struct {
	Session uuid.UUID
	Kind    EventKind

	ConversationID string
	Sources        []api.SourceRef
	Text           string
	Err            error
}

// eventBuffer absorbs token bursts between update-loop reads.
const eventBuffer = 64

// Controller owns one workspace's conversational state. Not safe for
// concurrent use: Send, Apply, Cancel, and the accessors all belong to the
// update loop.
type Controller struct {
	backend Backend
	logger  log.Logger

	workspaceID string
	model       string

	conversationID string
	transcript     []Message
	exchanges      int // completed request/response pairs in this conversation
	titled         bool

	// live identifies the current streaming session. Events tagged with any
	// other id are stale and dropped by Apply.
	live   uuid.UUID
	cancel context.CancelFunc

	// onTitle is invoked (from a background goroutine) when a title has been
	// synthesized for the conversation.
	onTitle func(conversationID, title string)
}

// Options configures a Controller.
type Options struct {
	WorkspaceID string
	Model       string

	// OnTitle, if set, receives the synthesized conversation title. Called
	// from a background goroutine; implementations must be safe for that.
	OnTitle func(conversationID, title string)
}

// New creates a controller for one workspace.
func New(backend Backend, opts Options, logger log.Logger) (*Controller, error) {
	if backend == nil {
		return nil, errors.New("chat.New: backend is required")
	}
	if opts.WorkspaceID == "" {
		return nil, errors.New("chat.New: workspace id is required")
	}
	if logger == nil {
		return nil, errors.New("chat.New: logger is required")
	}
	return &Controller{
		backend:     backend,
		logger:      logger,
		workspaceID: opts.WorkspaceID,
		model:       opts.Model,
		onTitle:     opts.OnTitle,
	}, nil
}

// Messages returns the transcript, including any pending assistant message.
func (c *Controller) Messages() []Message { return c.transcript }

// ConversationID returns the backend conversation id, or "" before the
// first response has established one.
func (c *Controller) ConversationID() string { return c.conversationID }

// Streaming reports whether a response is currently in flight.
func (c *Controller) Streaming() bool { return c.live != uuid.Nil }

// Send issues a query. The user message and a pending assistant placeholder
// enter the transcript immediately; the returned channel delivers the
// session's stream events and closes after the terminal one.
//
// A new send always supersedes a live session: the previous session is
// invalidated on the spot, so its in-flight frames are dropped by Apply no
// matter when they arrive, and its placeholder is closed out as abandoned.
func (c *Controller) Send(ctx context.Context, query string) (<-chan Event, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("empty query")
	}
	if c.live != uuid.Nil {
		c.Invalidate()
	}

	session := uuid.New()
	streamCtx, cancel := context.WithCancel(ctx)
	c.live = session
	c.cancel = cancel

	c.transcript = append(c.transcript,
		Message{Role: RoleUser, Content: query},
		Message{Role: RoleAssistant, Pending: true},
	)

	req := api.SendMessageRequest{
		WorkspaceID:    c.workspaceID,
		ConversationID: c.conversationID,
		Message:        query,
		Model:          c.model,
	}

	events := make(chan Event, eventBuffer)
	go c.consume(streamCtx, session, req, events)

	return events, nil
}

// consume drains the response stream into session-tagged events. It owns the
// events channel and closes it after the terminal event.
func (c *Controller) consume(ctx context.Context, session uuid.UUID, req api.SendMessageRequest, events chan<- Event) {
	defer close(events)
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("stream consumer panic recovered", "panic", r)
			events <- Event{Session: session, Kind: EventFailed, Err: fmt.Errorf("stream panic: %v", r)}
		}
	}()

	for frame, err := range c.backend.StreamMessage(ctx, req) {
		if err != nil {
			events <- Event{Session: session, Kind: EventFailed, Err: err}
			return
		}

		switch frame.Type {
		case api.FrameSources:
			events <- Event{
				Session:        session,
				Kind:           EventSources,
				ConversationID: frame.ConversationID,
				Sources:        frame.Sources,
			}
		case api.FrameContent:
			events <- Event{Session: session, Kind: EventText, Text: frame.Text}
		case api.FrameError:
			events <- Event{Session: session, Kind: EventFailed, Err: errors.New(frame.Message)}
			return
		default:
			c.logger.Warn("dropping unknown stream frame", "type", frame.Type)
		}
	}

	events <- Event{Session: session, Kind: EventDone}
}

// Apply folds one stream event into the transcript. It reports whether the
// event belonged to the live session; stale events are dropped unseen.
func (c *Controller) Apply(ev Event) bool {
	if ev.Session != c.live || c.live == uuid.Nil {
		return false
	}

	msg := c.pendingMessage()
	if msg == nil {
		// Liveness said yes but no placeholder exists; treat as stale.
		c.logger.Warn("stream event with no pending message", "session", ev.Session)
		return false
	}

	switch ev.Kind {
	case EventSources:
		msg.Sources = ev.Sources
		if c.conversationID == "" && ev.ConversationID != "" {
			c.conversationID = ev.ConversationID
		}

	case EventText:
		msg.Content += ev.Text

	case EventDone:
		msg.Pending = false
		c.endSession()
		c.exchanges++
		c.maybeSynthesizeTitle()

	case EventFailed:
		msg.Pending = false
		if errors.Is(ev.Err, context.Canceled) {
			msg.Note = "response cancelled"
		} else {
			msg.Note = "response failed: " + ev.Err.Error()
			c.logger.Warn("stream failed", "conversation_id", c.conversationID, "error", ev.Err)
		}
		c.endSession()
	}

	return true
}

// Cancel aborts the in-flight response. Content already applied stays in
// the transcript; the terminal EventFailed annotates the message. No-op when
// nothing is streaming.
func (c *Controller) Cancel() {
	if c.cancel != nil {
		c.cancel()
	}
}

// Invalidate marks the live session dead, so events already in flight are
// dropped by Apply. Used when a new send supersedes the live session and
// when the view navigates away mid-stream.
func (c *Controller) Invalidate() {
	c.endSession()
	if n := len(c.transcript); n > 0 && c.transcript[n-1].Pending {
		c.transcript[n-1].Pending = false
		c.transcript[n-1].Note = "response abandoned"
	}
}

// Open replaces the controller's state with a persisted conversation. Any
// in-flight stream is invalidated first.
func (c *Controller) Open(ctx context.Context, conversationID string) error {
	history, err := c.backend.GetMessages(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("opening conversation: %w", err)
	}

	c.Invalidate()
	c.conversationID = conversationID
	c.transcript = c.transcript[:0]
	for _, m := range history {
		c.transcript = append(c.transcript, Message{
			Role:    m.Role,
			Content: m.Content,
			Sources: m.Sources,
		})
	}
	c.exchanges = len(history) / 2
	c.titled = true // persisted conversations already have a title
	return nil
}

// Reset clears the controller back to a fresh, conversation-less state.
func (c *Controller) Reset() {
	c.Invalidate()
	c.conversationID = ""
	c.transcript = nil
	c.exchanges = 0
	c.titled = false
}

func (c *Controller) endSession() {
	c.live = uuid.Nil
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// pendingMessage returns the trailing pending assistant message, if any.
func (c *Controller) pendingMessage() *Message {
	if n := len(c.transcript); n > 0 && c.transcript[n-1].Pending {
		return &c.transcript[n-1]
	}
	return nil
}

// maybeSynthesizeTitle kicks off title generation after the first completed
// exchange. Runs at most once per conversation; failures are logged, never
// surfaced.
func (c *Controller) maybeSynthesizeTitle() {
	if c.titled || c.exchanges != 1 || c.conversationID == "" {
		return
	}
	c.titled = true

	convID := c.conversationID
	go func() {
		title, err := c.backend.GenerateTitle(context.Background(), convID)
		if err != nil {
			c.logger.Warn("title synthesis failed", "conversation_id", convID, "error", err)
			return
		}
		if c.onTitle != nil {
			c.onTitle(convID, title)
		}
	}()
}
