package tui

import (
	tea "charm.land/bubbletea/v2"

	"github.com/alcovehq/alcove/internal/chat"
	"github.com/alcovehq/alcove/internal/provision"
	"github.com/alcovehq/alcove/internal/upload"
)

// Bubble Tea messages bridging background channels into the update loop.
// Each listen command delivers one event and is re-issued by the handler, so
// at most one read per channel is outstanding at any time. Chat messages
// carry their channel: when a send supersedes a live session, the old
// listener keeps draining its own channel until it closes instead of
// re-arming the new one.
type (
	chatEventMsg struct {
		ch <-chan chat.Event
		ev chat.Event
	}
	chatClosedMsg struct{ ch <-chan chat.Event }

	provisionEventMsg struct{ ev provision.Event }
	provisionClosedMsg struct{}
)

// listenForChat waits for the next stream event.
func listenForChat(ch <-chan chat.Event) tea.Cmd {
	return func() tea.Msg {
		if ch == nil {
			return nil
		}
		ev, ok := <-ch
		if !ok {
			return chatClosedMsg{ch: ch}
		}
		return chatEventMsg{ch: ch, ev: ev}
	}
}

// listenForProvision waits for the next provisioning phase event.
func listenForProvision(ch <-chan provision.Event) tea.Cmd {
	return func() tea.Msg {
		if ch == nil {
			return nil
		}
		ev, ok := <-ch
		if !ok {
			return provisionClosedMsg{}
		}
		return provisionEventMsg{ev: ev}
	}
}

// handleChatEvent folds one stream event into the controller. Stale events
// (superseded session) are dropped without touching the view.
func (m *Model) handleChatEvent(msg chatEventMsg) (tea.Model, tea.Cmd) {
	applied := m.chat != nil && m.chat.Apply(msg.ev)
	if applied {
		switch msg.ev.Kind {
		case chat.EventDone, chat.EventFailed:
			m.finishStream()
		default:
			m.rebuildViewport()
			m.viewport.GotoBottom()
		}
	}
	return m, listenForChat(msg.ch)
}

// handleChatClosed runs after a stream goroutine exits. The terminal
// event normally arrives first; this is the backstop for a stream that died
// without one, and for streams invalidated by navigation. A superseded
// stream's closure is ignored: the live one is still going.
func (m *Model) handleChatClosed(msg chatClosedMsg) (tea.Model, tea.Cmd) {
	if m.chatEvents != nil && msg.ch != m.chatEvents {
		return m, nil
	}
	m.chatEvents = nil
	if m.state == StateStreaming {
		m.finishStream()
	}
	return m, m.input.Focus()
}

// finishStream moves the settled assistant message from the controller's
// transcript into the display log.
func (m *Model) finishStream() {
	m.state = StateInput
	m.chatEvents = nil

	if m.chat != nil {
		msgs := m.chat.Messages()
		if n := len(msgs); n > 0 && msgs[n-1].Role == chat.RoleAssistant && !msgs[n-1].Pending {
			m.logSettled(msgs[n-1])
		}
		m.saveSelection()
	}

	m.rebuildViewport()
	m.viewport.GotoBottom()
}

// logSettled writes a settled assistant message to the display log, with its
// note and sources if any.
func (m *Model) logSettled(final chat.Message) {
	text := final.Content
	if text == "" && final.Note != "" {
		text = "(" + final.Note + ")"
	} else if final.Note != "" {
		text += "\n\n(" + final.Note + ")"
	}
	m.addLog(Message{Role: roleAssistant, Text: text})
	if src := renderSources(final.Sources); src != "" {
		m.addSystem(src)
	}
}

// handleProvisionEvent advances the provisioning display.
func (m *Model) handleProvisionEvent(msg provisionEventMsg) (tea.Model, tea.Cmd) {
	ev := msg.ev
	m.provisionPhase = ev.Phase

	switch ev.Phase {
	case provision.PhaseDone:
		m.provisionCancel = nil
		m.state = StateInput
		m.adoptWorkspace(ev.Workspace)
		m.addSystem("Workspace " + ev.Workspace.Name + " is ready.")
		m.reportBatchResult(ev.Result)

	case provision.PhaseError:
		m.provisionCancel = nil
		m.state = StateInput
		m.addError("provisioning failed: " + ev.Err.Error())
	}

	m.rebuildViewport()
	m.viewport.GotoBottom()
	return m, listenForProvision(m.provisionEvents)
}

func (m *Model) handleProvisionClosed() (tea.Model, tea.Cmd) {
	m.provisionEvents = nil
	if m.state == StateProvisioning {
		// Terminal event should have arrived first; recover regardless.
		m.state = StateInput
		m.provisionCancel = nil
		m.rebuildViewport()
	}
	return m, m.input.Focus()
}

// reportBatchResult writes the per-file outcome of an upload batch to the
// display log.
func (m *Model) reportBatchResult(result *upload.Result) {
	if result == nil {
		return
	}
	if len(result.Succeeded) > 0 {
		m.addSystem(plural(len(result.Succeeded), "document") + " processed.")
	}
	for _, rej := range result.Rejected {
		m.addError("upload failed: " + rej.Path + ": " + rej.Err.Error())
	}
	for _, fail := range result.Failed {
		if fail.Indeterminate {
			m.addSystem("still processing (check back later): " + fail.Path)
		} else {
			m.addError("processing failed: " + fail.Path + ": " + fail.Err.Error())
		}
	}
}
