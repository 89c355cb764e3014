package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"time"
)

// FrameType classifies frames of a streamed conversational response.
type FrameType string

// Frame types delivered on the conversational stream.
const (
	// FrameSources carries citation metadata. It arrives at most once,
	// before any content frame, and carries the conversation id when the
	// conversation was created by this send.
	FrameSources FrameType = "sources"

	// FrameContent carries one incremental text fragment.
	FrameContent FrameType = "content"

	// FrameError is terminal for the stream. Partial content already
	// delivered remains valid.
	FrameError FrameType = "error"
)

// SourceRef is one citation record attached to an assistant response.
type SourceRef struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	Page       int    `json:"page,omitempty"`
	Snippet    string `json:"snippet,omitempty"`
}

// Frame is one element of the conversational response stream.
// Exactly the fields for its Type are set.
type Frame struct {
	Type           FrameType   `json:"type"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Sources        []SourceRef `json:"sources,omitempty"`
	Text           string      `json:"text,omitempty"`
	Message        string      `json:"message,omitempty"`
}

// Conversation is a backend-owned conversation within a workspace.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationMessage is one persisted message of a conversation transcript.
type ConversationMessage struct {
	Role    string      `json:"role"`
	Content string      `json:"content"`
	Sources []SourceRef `json:"sources,omitempty"`
	Model   string      `json:"model,omitempty"`
}

// SendMessageRequest is the payload for a conversational send.
// ConversationID is empty for the first message; the backend then creates a
// conversation lazily and reports its id in the sources frame.
type SendMessageRequest struct {
	WorkspaceID    string `json:"workspace_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
	Model          string `json:"model"`
}

// maxFrameSize bounds a single NDJSON frame line.
const maxFrameSize = 1 << 20

// StreamMessage issues a conversational send and returns the response as an
// iterator over frames. Frames are yielded in strict arrival order; the
// iterator stops after a terminal error frame, on transport error, or when
// ctx is cancelled. Breaking out of the range closes the response body.
//
// The request is issued on first pull, so an abandoned iterator costs
// nothing.
func (c *Client) StreamMessage(ctx context.Context, req SendMessageRequest) iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		payload, err := json.Marshal(req)
		if err != nil {
			yield(Frame{}, fmt.Errorf("encoding send request: %w", err))
			return
		}

		httpReq, err := c.newRequest(ctx, http.MethodPost, "/conversations", bytes.NewReader(payload))
		if err != nil {
			yield(Frame{}, err)
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "application/x-ndjson")

		resp, err := c.streamc.Do(httpReq)
		if err != nil {
			yield(Frame{}, fmt.Errorf("sending message: %w", err))
			return
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			yield(Frame{}, fmt.Errorf("sending message: %w", c.decodeError(resp)))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			var frame Frame
			if err := json.Unmarshal(line, &frame); err != nil {
				yield(Frame{}, fmt.Errorf("decoding stream frame: %w", err))
				return
			}

			if !yield(frame, nil) {
				return
			}

			// An error frame ends the stream; whatever content arrived
			// before it stays valid.
			if frame.Type == FrameError {
				return
			}

			if ctx.Err() != nil {
				yield(Frame{}, ctx.Err())
				return
			}
		}

		if err := scanner.Err(); err != nil {
			// Prefer the context error so callers see cancellation as such.
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			yield(Frame{}, fmt.Errorf("reading stream: %w", err))
		}
	}
}

// ListConversations returns the conversations of a workspace, most recently
// updated first.
func (c *Client) ListConversations(ctx context.Context, workspaceID string) ([]Conversation, error) {
	var out struct {
		Conversations []Conversation `json:"conversations"`
	}
	endpoint := "/workspaces/" + url.PathEscape(workspaceID) + "/conversations"
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	return out.Conversations, nil
}

// GetMessages returns the persisted transcript of a conversation.
func (c *Client) GetMessages(ctx context.Context, conversationID string) ([]ConversationMessage, error) {
	var out struct {
		Messages []ConversationMessage `json:"messages"`
	}
	endpoint := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, fmt.Errorf("getting messages: %w", err)
	}
	return out.Messages, nil
}

// GenerateTitle asks the backend to synthesize a title for a conversation.
// Best-effort from the caller's perspective; failures should be logged, not
// surfaced.
func (c *Client) GenerateTitle(ctx context.Context, conversationID string) (string, error) {
	var out struct {
		Title string `json:"title"`
	}
	endpoint := "/conversations/" + url.PathEscape(conversationID) + "/generate-title"
	if err := c.do(ctx, http.MethodPost, endpoint, nil, &out); err != nil {
		return "", fmt.Errorf("generating title: %w", err)
	}
	return out.Title, nil
}

// decodeJSON decodes a JSON body into out.
func decodeJSON(r io.Reader, out any) error {
	return json.NewDecoder(r).Decode(out)
}
