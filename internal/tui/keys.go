package tui

import (
	"strings"
	"time"

	"charm.land/bubbles/v2/key"
	tea "charm.land/bubbletea/v2"

	"github.com/alcovehq/alcove/internal/provision"
)

// keyMap holds key bindings for help bar display.
type keyMap struct {
	Submit     key.Binding
	NewLine    key.Binding
	History    key.Binding
	Cancel     key.Binding
	Quit       key.Binding
	ScrollUp   key.Binding
	ScrollDown key.Binding
	EscCancel  key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		Submit:     key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
		NewLine:    key.NewBinding(key.WithKeys("shift+enter"), key.WithHelp("s+enter", "newline")),
		History:    key.NewBinding(key.WithKeys("up", "down"), key.WithHelp("↑/↓", "history")),
		Cancel:     key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "cancel")),
		Quit:       key.NewBinding(key.WithKeys("ctrl+d"), key.WithHelp("ctrl+d", "exit")),
		ScrollUp:   key.NewBinding(key.WithKeys("pgup"), key.WithHelp("pgup", "scroll up")),
		ScrollDown: key.NewBinding(key.WithKeys("pgdown"), key.WithHelp("pgdn", "scroll down")),
		EscCancel:  key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
	}
}

//nolint:gocyclo // Keyboard handler requires branching for all key combinations
func (m *Model) handleKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	k := msg.Key()

	if k.Mod&tea.ModCtrl != 0 {
		switch k.Code {
		case 'c':
			return m.handleCtrlC()
		case 'd':
			return m.handleQuit()
		}
	}

	switch k.Code {
	case tea.KeyEnter:
		if (m.state == StateInput || m.state == StateStreaming) && k.Mod&tea.ModShift == 0 {
			// Enter submits; Shift+Enter falls through as a newline. A
			// submit while a response streams supersedes it.
			return m.handleSubmit()
		}

	case tea.KeyUp:
		if m.state == StateInput && m.input.Line() == 0 {
			return m.navigateHistory(-1)
		}

	case tea.KeyDown:
		if m.state == StateInput && m.input.Line() == m.input.LineCount()-1 {
			return m.navigateHistory(1)
		}

	case tea.KeyEscape:
		return m.handleEscape()

	case tea.KeyPgUp:
		m.viewport.PageUp()
		return m, nil

	case tea.KeyPgDown:
		m.viewport.PageDown()
		return m, nil
	}

	// Always pass keys to the textarea so the next message can be typed
	// while a response streams.
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleEscape cancels what can be cancelled. Document processing cannot:
// the uploads already happened, so the run is left to settle on its own.
func (m *Model) handleEscape() (tea.Model, tea.Cmd) {
	switch m.state {
	case StateStreaming:
		if m.chat != nil {
			m.chat.Cancel()
		}
		// The terminal EventFailed arrives through the listen loop and
		// settles the display; nothing else to do here.
		return m, nil

	case StateProvisioning:
		if m.provisionPhase == provision.PhaseProcessing {
			m.addSystem("Documents are processing; this stage cannot be cancelled.")
			m.rebuildViewport()
			return m, nil
		}
		if m.provisionCancel != nil {
			m.provisionCancel()
			m.provisionCancel = nil
		}
		return m, nil
	}
	return m, nil
}

// handleQuit exits, unless a batch is processing: the uploads already
// happened and the run must be left to settle, so destructive keys are
// refused until then.
func (m *Model) handleQuit() (tea.Model, tea.Cmd) {
	if m.state == StateProvisioning && m.provisionPhase == provision.PhaseProcessing {
		m.addSystem("Documents are processing; this stage cannot be cancelled.")
		m.rebuildViewport()
		return m, nil
	}
	return m, m.cleanup()
}

func (m *Model) handleCtrlC() (tea.Model, tea.Cmd) {
	now := time.Now()

	// Double Ctrl+C within 1 second quits.
	if now.Sub(m.lastCtrlC) < time.Second {
		return m.handleQuit()
	}
	m.lastCtrlC = now

	switch m.state {
	case StateInput:
		m.input.Reset()
		return m, nil
	case StateStreaming, StateProvisioning:
		return m.handleEscape()
	}
	return m, nil
}

func (m *Model) handleSubmit() (tea.Model, tea.Cmd) {
	query := strings.TrimSpace(m.input.Value())
	if query == "" {
		return m, nil
	}

	if strings.HasPrefix(query, "/") {
		return m.handleSlashCommand(query)
	}

	if m.chat == nil {
		m.addError("no workspace selected; use /workspaces then /use, or /new <name>")
		m.input.Reset()
		m.rebuildViewport()
		m.viewport.GotoBottom()
		return m, nil
	}

	// A send during streaming supersedes the live session: its late frames
	// are dropped by Apply, and its abandoned partial goes to the log now so
	// the new exchange renders below it.
	superseding := m.state == StateStreaming

	events, err := m.chat.Send(m.ctx, query)
	if err != nil {
		m.addError(err.Error())
		m.rebuildViewport()
		return m, nil
	}

	if superseding {
		if msgs := m.chat.Messages(); len(msgs) >= 4 {
			m.logSettled(msgs[len(msgs)-3])
		}
	}

	m.history = append(m.history, query)
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-maxHistory:]
	}
	m.historyIdx = len(m.history)

	m.addLog(Message{Role: roleUser, Text: query})
	m.input.Reset()

	m.state = StateStreaming
	m.chatEvents = events
	m.rebuildViewport()
	m.viewport.GotoBottom()

	return m, tea.Batch(m.spinner.Tick, listenForChat(events))
}

func (m *Model) navigateHistory(delta int) (tea.Model, tea.Cmd) {
	if len(m.history) == 0 {
		return m, nil
	}

	m.historyIdx += delta
	if m.historyIdx < 0 {
		m.historyIdx = 0
	}
	if m.historyIdx > len(m.history) {
		m.historyIdx = len(m.history)
	}

	if m.historyIdx == len(m.history) {
		m.input.SetValue("")
	} else {
		m.input.SetValue(m.history[m.historyIdx])
		m.input.CursorEnd()
	}
	return m, nil
}

// cleanup invalidates any in-flight stream and returns the quit command.
func (m *Model) cleanup() tea.Cmd {
	if m.chat != nil {
		m.chat.Invalidate()
		m.saveSelection()
	}
	if m.provisionCancel != nil {
		m.provisionCancel()
		m.provisionCancel = nil
	}
	if m.ctxCancel != nil {
		m.ctxCancel()
		m.ctxCancel = nil
	}
	m.chatEvents = nil
	return tea.Quit
}
