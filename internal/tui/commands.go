package tui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tea "charm.land/bubbletea/v2"

	"github.com/alcovehq/alcove/internal/api"
	"github.com/alcovehq/alcove/internal/chat"
	"github.com/alcovehq/alcove/internal/provision"
	"github.com/alcovehq/alcove/internal/state"
	"github.com/alcovehq/alcove/internal/upload"
)

// Messages produced by async backend commands.
type (
	errMsg struct{ err error }

	workspacesLoadedMsg    struct{ list []api.Workspace }
	conversationsLoadedMsg struct{ list []api.Conversation }
	workspaceSelectedMsg   struct{ ws *api.Workspace }
	conversationOpenedMsg  struct{ id string }
	restoredMsg            struct {
		ws             *api.Workspace
		conversationID string
	}
	attachDoneMsg struct {
		result *upload.Result
		err    error
	}
)

// handleSlashCommand dispatches a "/" command line.
func (m *Model) handleSlashCommand(line string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	m.input.Reset()

	switch cmd {
	case "/help":
		m.showHelp()

	case "/clear":
		m.log = nil
		m.rebuildViewport()

	case "/exit", "/quit":
		return m, m.cleanup()

	case "/workspaces":
		return m.startBusy("Loading workspaces...", m.loadWorkspaces())

	case "/use":
		if len(args) != 1 {
			m.addError("usage: /use <number|id>")
			break
		}
		ws, err := m.resolveWorkspace(args[0])
		if err != nil {
			m.addError(err.Error())
			break
		}
		return m, func() tea.Msg { return workspaceSelectedMsg{ws: ws} }

	case "/new":
		if len(args) < 1 {
			m.addError("usage: /new <name> [file ...]")
			break
		}
		return m.startProvisioning(args[0], args[1:])

	case "/attach":
		if m.workspace == nil {
			m.addError("no workspace selected; use /workspaces then /use")
			break
		}
		if len(args) < 1 {
			m.addError("usage: /attach <file ...>")
			break
		}
		return m.startAttach(args)

	case "/conversations":
		if m.workspace == nil {
			m.addError("no workspace selected; use /workspaces then /use")
			break
		}
		return m.startBusy("Loading conversations...", m.loadConversations(m.workspace.ID))

	case "/open":
		if m.chat == nil {
			m.addError("no workspace selected; use /workspaces then /use")
			break
		}
		if len(args) != 1 {
			m.addError("usage: /open <number|id>")
			break
		}
		id, err := m.resolveConversation(args[0])
		if err != nil {
			m.addError(err.Error())
			break
		}
		return m.startBusy("Loading conversation...", m.openConversation(id))

	default:
		m.addError("unknown command: " + cmd + " (try /help)")
	}

	m.rebuildViewport()
	m.viewport.GotoBottom()
	return m, nil
}

func (m *Model) showHelp() {
	m.addSystem(strings.Join([]string{
		"Commands:",
		"  /workspaces          list workspaces",
		"  /use <n|id>          switch to a workspace",
		"  /new <name> [files]  create a workspace, optionally uploading files",
		"  /attach <files>      upload files to the current workspace",
		"  /conversations       list conversations in the workspace",
		"  /open <n|id>         resume a conversation",
		"  /clear               clear the screen",
		"  /help                this help",
		"  /exit                quit",
		"Shortcuts: Enter send · Shift+Enter newline · Esc cancel response · Ctrl+D exit",
	}, "\n"))
}

// startBusy enters the busy state and runs cmd with the spinner going.
func (m *Model) startBusy(text string, cmd tea.Cmd) (tea.Model, tea.Cmd) {
	m.state = StateBusy
	m.busyText = text
	m.rebuildViewport()
	m.viewport.GotoBottom()
	return m, tea.Batch(m.spinner.Tick, cmd)
}

func (m *Model) loadWorkspaces() tea.Cmd {
	return func() tea.Msg {
		list, err := m.client.ListWorkspaces(m.ctx)
		if err != nil {
			return errMsg{err: err}
		}
		return workspacesLoadedMsg{list: list}
	}
}

func (m *Model) loadConversations(workspaceID string) tea.Cmd {
	return func() tea.Msg {
		list, err := m.client.ListConversations(m.ctx, workspaceID)
		if err != nil {
			return errMsg{err: err}
		}
		return conversationsLoadedMsg{list: list}
	}
}

func (m *Model) openConversation(id string) tea.Cmd {
	return func() tea.Msg {
		if err := m.chat.Open(m.ctx, id); err != nil {
			return errMsg{err: err}
		}
		return conversationOpenedMsg{id: id}
	}
}

// restoreSelection reloads the persisted workspace and conversation on
// startup. Failures degrade to a fresh start, never block it.
func (m *Model) restoreSelection() tea.Cmd {
	return func() tea.Msg {
		st, err := m.store.Load()
		if err != nil || st.WorkspaceID == "" {
			return nil
		}
		ws, err := m.client.GetWorkspace(m.ctx, st.WorkspaceID)
		if err != nil {
			m.logger.Warn("persisted workspace unavailable", "workspace_id", st.WorkspaceID, "error", err)
			return nil
		}
		return restoredMsg{ws: ws, conversationID: st.ConversationID}
	}
}

func (m *Model) handleRestored(msg restoredMsg) (tea.Model, tea.Cmd) {
	m.adoptWorkspace(msg.ws)
	m.addSystem("Workspace: " + msg.ws.Name)
	if msg.conversationID != "" && m.chat != nil {
		return m.startBusy("Resuming conversation...", m.openConversation(msg.conversationID))
	}
	m.rebuildViewport()
	return m, nil
}

// adoptWorkspace makes ws the current selection and rebuilds the chat
// controller for it.
func (m *Model) adoptWorkspace(ws *api.Workspace) {
	if ws == nil {
		return
	}
	if m.chat != nil {
		m.chat.Invalidate()
	}
	m.workspace = ws
	m.conversations = nil
	m.chatEvents = nil

	ctl, err := chat.New(m.client, chat.Options{
		WorkspaceID: ws.ID,
		Model:       m.modelName,
	}, m.logger)
	if err != nil {
		// Construction only fails on bad arguments; surface and stay usable.
		m.addError("switching workspace: " + err.Error())
		return
	}
	m.chat = ctl
	m.saveSelection()
}

// saveSelection persists the current workspace and conversation.
func (m *Model) saveSelection() {
	st := state.State{}
	if m.workspace != nil {
		st.WorkspaceID = m.workspace.ID
	}
	if m.chat != nil {
		st.ConversationID = m.chat.ConversationID()
	}
	if err := m.store.Save(st); err != nil {
		m.logger.Warn("saving selection failed", "error", err)
	}
}

func (m *Model) handleWorkspaceSelected(ws *api.Workspace) (tea.Model, tea.Cmd) {
	m.adoptWorkspace(ws)
	m.addSystem("Switched to workspace " + ws.Name + ". Start typing, or /conversations to resume one.")
	m.rebuildViewport()
	m.viewport.GotoBottom()
	return m, m.input.Focus()
}

func (m *Model) handleConversationOpened(id string) (tea.Model, tea.Cmd) {
	m.state = StateInput
	m.rebuildTranscript()
	m.saveSelection()
	m.logger.Debug("conversation opened", "conversation_id", id)
	m.rebuildViewport()
	m.viewport.GotoBottom()
	return m, m.input.Focus()
}

// rebuildTranscript replaces the display log with the controller's
// transcript, used after opening a persisted conversation.
func (m *Model) rebuildTranscript() {
	m.log = nil
	if m.chat == nil {
		return
	}
	for _, msg := range m.chat.Messages() {
		switch msg.Role {
		case chat.RoleUser:
			m.addLog(Message{Role: roleUser, Text: msg.Content})
		case chat.RoleAssistant:
			m.addLog(Message{Role: roleAssistant, Text: msg.Content})
			if src := renderSources(msg.Sources); src != "" {
				m.addSystem(src)
			}
		}
	}
}

// startProvisioning kicks off a workspace provisioning run.
func (m *Model) startProvisioning(name string, files []string) (tea.Model, tea.Cmd) {
	runCtx, cancel := context.WithCancel(m.ctx)
	m.provisionCancel = cancel
	m.provisionPhase = provision.PhaseIdle
	m.provisionEvents = m.provisioner.Run(runCtx, provision.Request{
		Name:  name,
		Files: files,
	})
	m.state = StateProvisioning

	m.addSystem("Creating workspace " + name + "...")
	m.rebuildViewport()
	m.viewport.GotoBottom()
	return m, tea.Batch(m.spinner.Tick, listenForProvision(m.provisionEvents))
}

// startAttach uploads files to the current workspace and waits for their
// processing, reusing the batch pipeline without creating anything.
func (m *Model) startAttach(files []string) (tea.Model, tea.Cmd) {
	workspaceID := m.workspace.ID
	cmd := func() tea.Msg {
		// Detached for the same reason provisioning detaches its processing
		// phase: the uploads have server-side effects either way.
		result, err := m.uploads.Run(context.WithoutCancel(m.ctx), workspaceID, files)
		return attachDoneMsg{result: result, err: err}
	}
	return m.startBusy(fmt.Sprintf("Uploading %s...", plural(len(files), "file")), cmd)
}

func (m *Model) handleAttachDone(msg attachDoneMsg) (tea.Model, tea.Cmd) {
	m.state = StateInput
	if msg.err != nil {
		m.addError("attach failed: " + msg.err.Error())
	} else {
		m.reportBatchResult(msg.result)
	}
	m.rebuildViewport()
	m.viewport.GotoBottom()
	return m, m.input.Focus()
}

func (m *Model) showWorkspaceList() {
	if len(m.workspaces) == 0 {
		m.addSystem("No workspaces yet. Create one with /new <name> [files].")
		return
	}
	var b strings.Builder
	b.WriteString("Workspaces:\n")
	for i, ws := range m.workspaces {
		marker := "  "
		if m.workspace != nil && ws.ID == m.workspace.ID {
			marker = "* "
		}
		fmt.Fprintf(&b, "%s%d. %s\n", marker, i+1, ws.Name)
	}
	b.WriteString("Use /use <number> to switch.")
	m.addSystem(b.String())
}

func (m *Model) showConversationList() {
	if len(m.conversations) == 0 {
		m.addSystem("No conversations in this workspace yet. Just start typing.")
		return
	}
	var b strings.Builder
	b.WriteString("Conversations:\n")
	for i, conv := range m.conversations {
		title := conv.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(&b, "  %d. %s\n", i+1, title)
	}
	b.WriteString("Use /open <number> to resume.")
	m.addSystem(b.String())
}

// resolveWorkspace accepts a 1-based index into the last listed workspaces
// or a raw workspace id.
func (m *Model) resolveWorkspace(arg string) (*api.Workspace, error) {
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(m.workspaces) {
			return nil, fmt.Errorf("no workspace %d; run /workspaces first", n)
		}
		ws := m.workspaces[n-1]
		return &ws, nil
	}
	for _, ws := range m.workspaces {
		if ws.ID == arg {
			return &ws, nil
		}
	}
	return nil, errors.New("unknown workspace " + arg + "; run /workspaces first")
}

// resolveConversation accepts a 1-based index into the last listed
// conversations or a raw conversation id.
func (m *Model) resolveConversation(arg string) (string, error) {
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(m.conversations) {
			return "", fmt.Errorf("no conversation %d; run /conversations first", n)
		}
		return m.conversations[n-1].ID, nil
	}
	return arg, nil
}

// renderSources formats citation metadata for display.
func renderSources(sources []api.SourceRef) string {
	if len(sources) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Sources: ")
	for i, src := range sources {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(src.Title)
		if src.Page > 0 {
			fmt.Fprintf(&b, " (p.%d)", src.Page)
		}
	}
	return b.String()
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
