package tui

import (
	"context"
	"errors"
	"iter"
	"strings"
	"testing"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/google/uuid"
	"go.uber.org/goleak"

	"github.com/alcovehq/alcove/internal/api"
	"github.com/alcovehq/alcove/internal/chat"
	"github.com/alcovehq/alcove/internal/log"
	"github.com/alcovehq/alcove/internal/provision"
	"github.com/alcovehq/alcove/internal/state"
	"github.com/alcovehq/alcove/internal/upload"
)

// goleakOptions filters goroutines parked in the runtime poller, which
// shared HTTP transports keep alive past individual tests.
func goleakOptions() []goleak.Option {
	return []goleak.Option{
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	}
}

type stubUploader struct{}

func (stubUploader) UploadDocument(context.Context, string, string) (string, error) {
	return "doc-1", nil
}

type stubOpener struct{}

func (stubOpener) OpenChannel(context.Context) (upload.Channel, error) {
	return nil, errors.New("no channel in tests")
}

type stubBackend struct{}

func (stubBackend) StreamMessage(context.Context, api.SendMessageRequest) iter.Seq2[api.Frame, error] {
	return func(func(api.Frame, error) bool) {}
}

func (stubBackend) GetMessages(context.Context, string) ([]api.ConversationMessage, error) {
	return nil, nil
}

func (stubBackend) GenerateTitle(context.Context, string) (string, error) {
	return "", nil
}

func newTestModel(t *testing.T) *Model {
	t.Helper()

	client, err := api.New("http://127.0.0.1:1", "tok", time.Second, log.NewNop())
	if err != nil {
		t.Fatalf("api.New: %v", err)
	}
	coord, err := upload.NewCoordinator(stubUploader{}, stubOpener{}, upload.Options{ProcessingWait: time.Second}, log.NewNop())
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	prov, err := provision.New(client, coord, log.NewNop())
	if err != nil {
		t.Fatalf("provision.New: %v", err)
	}
	store, err := state.NewStore(t.TempDir(), log.NewNop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	m, err := New(context.Background(), Deps{
		Client:      client,
		Uploads:     coord,
		Provisioner: prov,
		Store:       store,
		ModelName:   "default",
		Logger:      log.NewNop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		if m.ctxCancel != nil {
			m.ctxCancel()
		}
	})
	return m
}

// withChat attaches a chat controller backed by a stub.
func withChat(t *testing.T, m *Model) *chat.Controller {
	t.Helper()
	ctl, err := chat.New(stubBackend{}, chat.Options{WorkspaceID: "ws-1", Model: "default"}, log.NewNop())
	if err != nil {
		t.Fatalf("chat.New: %v", err)
	}
	m.chat = ctl
	m.workspace = &api.Workspace{ID: "ws-1", Name: "test"}
	return ctl
}

func TestNew_ErrorOnMissingDeps(t *testing.T) {
	if _, err := New(context.Background(), Deps{}); err == nil {
		t.Error("expected error for empty deps")
	}
}

func TestHandleSlashCommands(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	tests := []struct {
		name     string
		cmd      string
		wantExit bool
		wantLogs int // entries added beyond the pre-seeded one
	}{
		{"help", "/help", false, 1},
		{"clear", "/clear", false, 0},
		{"exit", "/exit", true, 0},
		{"quit", "/quit", true, 0},
		{"unknown", "/frobnicate", false, 1},
		{"use without args", "/use", false, 1},
		{"new without args", "/new", false, 1},
		{"open without workspace", "/open 1", false, 1},
		{"attach without workspace", "/attach a.pdf", false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestModel(t)
			m.log = []Message{{Role: roleUser, Text: "hello"}}

			model, cmd := m.handleSlashCommand(tt.cmd)
			result := model.(*Model)

			if tt.wantExit {
				if cmd == nil {
					t.Error("expected quit command")
				}
				return
			}
			if tt.cmd == "/clear" {
				if len(result.log) != 0 {
					t.Error("/clear should clear the log")
				}
				return
			}
			if len(result.log) != 1+tt.wantLogs {
				t.Errorf("log entries = %d, want %d", len(result.log), 1+tt.wantLogs)
			}
		})
	}
}

func TestHistoryNavigation(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	m := newTestModel(t)
	m.history = []string{"first", "second", "third"}
	m.historyIdx = 3

	tests := []struct {
		delta    int
		expected string
	}{
		{-1, "third"},
		{-1, "second"},
		{-1, "first"},
		{-1, "first"},
		{1, "second"},
		{1, "third"},
		{1, ""},
		{1, ""},
	}

	for i, tt := range tests {
		model, _ := m.navigateHistory(tt.delta)
		m = model.(*Model)
		if m.input.Value() != tt.expected {
			t.Errorf("step %d: got %q, want %q", i, m.input.Value(), tt.expected)
		}
	}
}

func TestSubmitWithoutWorkspace(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	m := newTestModel(t)
	m.input.SetValue("what is in my documents?")

	model, _ := m.handleSubmit()
	result := model.(*Model)

	if result.state != StateInput {
		t.Errorf("state = %v, want StateInput", result.state)
	}
	if len(result.log) != 1 || result.log[0].Role != roleError {
		t.Fatalf("log = %+v, want one error entry", result.log)
	}
	if !strings.Contains(result.log[0].Text, "no workspace selected") {
		t.Errorf("error text = %q", result.log[0].Text)
	}
}

func TestEscape_GuardedDuringProcessing(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	m := newTestModel(t)
	m.state = StateProvisioning
	m.provisionPhase = provision.PhaseProcessing
	cancelled := false
	m.provisionCancel = func() { cancelled = true }

	model, _ := m.handleEscape()
	result := model.(*Model)

	if cancelled {
		t.Error("Esc cancelled a run in the processing phase")
	}
	if result.state != StateProvisioning {
		t.Errorf("state = %v, want still provisioning", result.state)
	}
	if len(result.log) == 0 || !strings.Contains(result.log[0].Text, "cannot be cancelled") {
		t.Errorf("log = %+v, want the guard notice", result.log)
	}
}

func TestQuit_GuardedDuringProcessing(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	m := newTestModel(t)
	m.state = StateProvisioning
	m.provisionPhase = provision.PhaseProcessing

	model, cmd := m.handleQuit()
	result := model.(*Model)

	if cmd != nil {
		t.Error("Ctrl+D quit a run in the processing phase")
	}
	if result.state != StateProvisioning {
		t.Errorf("state = %v, want still provisioning", result.state)
	}
	if len(result.log) == 0 || !strings.Contains(result.log[0].Text, "cannot be cancelled") {
		t.Errorf("log = %+v, want the guard notice", result.log)
	}

	// Outside the processing phase the quit goes through.
	result.provisionPhase = provision.PhaseUploading
	if _, cmd := result.handleQuit(); cmd == nil {
		t.Error("Ctrl+D must quit outside the processing phase")
	}
}

func TestEscape_CancelsDuringUpload(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	m := newTestModel(t)
	m.state = StateProvisioning
	m.provisionPhase = provision.PhaseUploading
	cancelled := false
	m.provisionCancel = func() { cancelled = true }

	m.handleEscape()

	if !cancelled {
		t.Error("Esc did not cancel the upload phase")
	}
}

func TestChatEvent_StaleSessionDropped(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	m := newTestModel(t)
	withChat(t, m)
	m.state = StateStreaming

	stale := chat.Event{Session: uuid.New(), Kind: chat.EventText, Text: "zombie tokens"}
	model, cmd := m.handleChatEvent(chatEventMsg{ev: stale})
	result := model.(*Model)

	if len(result.log) != 0 {
		t.Errorf("stale event reached the display log: %+v", result.log)
	}
	if result.state != StateStreaming {
		t.Errorf("state = %v, stale event must not settle the stream", result.state)
	}
	if cmd == nil {
		t.Error("handler must keep listening after a stale event")
	}
}

func TestChatClosed_SettlesStreamState(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	m := newTestModel(t)
	withChat(t, m)
	m.state = StateStreaming

	model, _ := m.handleChatClosed(chatClosedMsg{})
	result := model.(*Model)

	if result.state != StateInput {
		t.Errorf("state = %v, want StateInput after stream closed", result.state)
	}
	if result.chatEvents != nil {
		t.Error("chatEvents not cleared")
	}
}

func TestChatClosed_IgnoresSupersededStream(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	m := newTestModel(t)
	withChat(t, m)
	m.state = StateStreaming
	live := make(chan chat.Event)
	m.chatEvents = live

	// The closure of an older, superseded channel must not settle the live
	// stream.
	superseded := make(chan chat.Event)
	model, _ := m.handleChatClosed(chatClosedMsg{ch: superseded})
	result := model.(*Model)

	if result.state != StateStreaming {
		t.Errorf("state = %v, superseded closure must not settle the stream", result.state)
	}
	if result.chatEvents == nil {
		t.Error("live channel was dropped")
	}
}

func TestSubmit_SupersedesStreamingResponse(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	m := newTestModel(t)
	ctl := withChat(t, m)

	if _, err := ctl.Send(m.ctx, "first question"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	m.state = StateStreaming

	m.input.SetValue("second question")
	model, cmd := m.handleSubmit()
	result := model.(*Model)

	if result.state != StateStreaming {
		t.Errorf("state = %v, want streaming the new response", result.state)
	}
	if cmd == nil {
		t.Error("submit must start listening on the new stream")
	}
	for _, entry := range result.log {
		if entry.Role == roleError {
			t.Errorf("supersede surfaced an error: %q", entry.Text)
		}
	}

	msgs := ctl.Messages()
	if len(msgs) != 4 {
		t.Fatalf("transcript has %d messages, want 4: %+v", len(msgs), msgs)
	}
	if msgs[1].Pending || msgs[1].Note != "response abandoned" {
		t.Errorf("superseded placeholder = %+v", msgs[1])
	}

	joined := ""
	for _, entry := range result.log {
		joined += entry.Text + "\n"
	}
	if !strings.Contains(joined, "response abandoned") {
		t.Errorf("abandoned partial missing from the log:\n%s", joined)
	}
	if !strings.Contains(joined, "second question") {
		t.Errorf("new query missing from the log:\n%s", joined)
	}
}

func TestReportBatchResult(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	m := newTestModel(t)
	m.reportBatchResult(&upload.Result{
		Succeeded: []string{"doc-1", "doc-2"},
		Failed: []upload.DocumentError{
			{DocumentID: "doc-3", Path: "scan.pdf", Err: errors.New("unreadable")},
			{DocumentID: "doc-4", Path: "slow.pdf", Err: upload.ErrProcessingTimeout, Indeterminate: true},
		},
		Rejected: []upload.FileError{
			{Path: "huge.bin", Err: errors.New("too large")},
		},
	})

	joined := ""
	for _, entry := range m.log {
		joined += entry.Role + ": " + entry.Text + "\n"
	}

	for _, want := range []string{
		"2 documents processed",
		"huge.bin",
		"scan.pdf",
		"check back later",
		"slow.pdf",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("batch report missing %q in:\n%s", want, joined)
		}
	}
}

func TestResolveWorkspace(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	m := newTestModel(t)
	m.workspaces = []api.Workspace{
		{ID: "ws-a", Name: "alpha"},
		{ID: "ws-b", Name: "beta"},
	}

	ws, err := m.resolveWorkspace("2")
	if err != nil || ws.ID != "ws-b" {
		t.Errorf("resolve by index = %+v, %v", ws, err)
	}
	ws, err = m.resolveWorkspace("ws-a")
	if err != nil || ws.ID != "ws-a" {
		t.Errorf("resolve by id = %+v, %v", ws, err)
	}
	if _, err := m.resolveWorkspace("9"); err == nil {
		t.Error("out-of-range index must fail")
	}
	if _, err := m.resolveWorkspace("ws-missing"); err == nil {
		t.Error("unknown id must fail")
	}
}

func TestView_RendersWithoutPanic(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	m := newTestModel(t)
	m.addSystem("welcome")
	m.rebuildViewport()

	v := m.View()
	if !v.AltScreen {
		t.Error("View must use the alt screen")
	}
}

func TestUpdate_WindowSize(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	m := newTestModel(t)
	model, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	result := model.(*Model)

	if result.width != 100 || result.height != 40 {
		t.Errorf("dimensions = %dx%d, want 100x40", result.width, result.height)
	}
}
