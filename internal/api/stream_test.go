package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// streamHandler writes the given NDJSON lines with per-line flushes.
func streamHandler(t *testing.T, lines []string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("test server does not support flushing")
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, line := range lines {
			if _, err := w.Write([]byte(line + "\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func collectFrames(t *testing.T, c *Client, req SendMessageRequest) ([]Frame, error) {
	t.Helper()
	var frames []Frame
	for frame, err := range c.StreamMessage(context.Background(), req) {
		if err != nil {
			return frames, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

func TestStreamMessage_ContentOrderPreserved(t *testing.T) {
	srv := httptest.NewServer(streamHandler(t, []string{
		`{"type":"sources","conversation_id":"conv-1","sources":[{"document_id":"d1","title":"Notes"}]}`,
		`{"type":"content","text":"Hel"}`,
		`{"type":"content","text":"lo"}`,
		`{"type":"content","text":" world"}`,
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	frames, err := collectFrames(t, c, SendMessageRequest{WorkspaceID: "ws-1", Message: "hi", Model: "m"})
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}

	if len(frames) != 4 {
		t.Fatalf("got %d frames, want 4", len(frames))
	}
	if frames[0].Type != FrameSources || frames[0].ConversationID != "conv-1" {
		t.Errorf("first frame should be sources with conversation id, got %+v", frames[0])
	}

	// Concatenation is not commutative; arrival order must be preserved.
	var buf strings.Builder
	for _, f := range frames[1:] {
		if f.Type != FrameContent {
			t.Fatalf("unexpected frame type %q", f.Type)
		}
		buf.WriteString(f.Text)
	}
	if got := buf.String(); got != "Hello world" {
		t.Errorf("assembled text = %q, want %q", got, "Hello world")
	}
}

func TestStreamMessage_ErrorFrameIsTerminal(t *testing.T) {
	srv := httptest.NewServer(streamHandler(t, []string{
		`{"type":"content","text":"partial"}`,
		`{"type":"error","message":"model overloaded"}`,
		`{"type":"content","text":"must not arrive"}`,
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	frames, err := collectFrames(t, c, SendMessageRequest{WorkspaceID: "ws-1", Message: "hi", Model: "m"})
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}

	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2 (error frame is terminal)", len(frames))
	}
	if frames[1].Type != FrameError || frames[1].Message != "model overloaded" {
		t.Errorf("expected terminal error frame, got %+v", frames[1])
	}
}

func TestStreamMessage_BreakClosesEarly(t *testing.T) {
	srv := httptest.NewServer(streamHandler(t, []string{
		`{"type":"content","text":"one"}`,
		`{"type":"content","text":"two"}`,
		`{"type":"content","text":"three"}`,
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	var count int
	for _, err := range c.StreamMessage(context.Background(), SendMessageRequest{WorkspaceID: "ws", Message: "q", Model: "m"}) {
		if err != nil {
			t.Fatalf("stream error: %v", err)
		}
		count++
		break
	}
	if count != 1 {
		t.Errorf("consumed %d frames after break, want 1", count)
	}
}

func TestStreamMessage_RequestFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"maintenance"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	frames, err := collectFrames(t, c, SendMessageRequest{WorkspaceID: "ws", Message: "q", Model: "m"})
	if err == nil {
		t.Fatal("expected request failure")
	}
	if len(frames) != 0 {
		t.Errorf("no frames expected on request failure, got %d", len(frames))
	}
}

func TestStreamMessage_MalformedFrame(t *testing.T) {
	srv := httptest.NewServer(streamHandler(t, []string{
		`{"type":"content","text":"ok"}`,
		`{not json`,
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	frames, err := collectFrames(t, c, SendMessageRequest{WorkspaceID: "ws", Message: "q", Model: "m"})
	if err == nil {
		t.Fatal("expected decode error")
	}
	if len(frames) != 1 {
		t.Errorf("frames before the malformed line should be delivered, got %d", len(frames))
	}
}

func TestStreamMessage_SendsRequestPayload(t *testing.T) {
	var got SendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding payload: %v", err)
		}
		w.Write([]byte(`{"type":"content","text":"ok"}` + "\n"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	req := SendMessageRequest{
		WorkspaceID:    "ws-9",
		ConversationID: "conv-3",
		Message:        "what does the contract say?",
		Model:          "gemini-2.5-flash",
	}
	if _, err := collectFrames(t, c, req); err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if got != req {
		t.Errorf("payload = %+v, want %+v", got, req)
	}
}
