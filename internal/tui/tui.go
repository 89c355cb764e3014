// Package tui provides the Bubble Tea terminal interface for Alcove.
//
// All state mutation happens on the Bubble Tea update loop. Background work
// (streams, uploads, provisioning) runs in goroutines that communicate
// exclusively through messages, so no locks are needed anywhere in this
// package.
package tui

import (
	"context"
	"errors"
	"strings"
	"time"

	"charm.land/bubbles/v2/help"
	"charm.land/bubbles/v2/key"
	"charm.land/bubbles/v2/spinner"
	"charm.land/bubbles/v2/textarea"
	"charm.land/bubbles/v2/viewport"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/alcovehq/alcove/internal/api"
	"github.com/alcovehq/alcove/internal/chat"
	"github.com/alcovehq/alcove/internal/log"
	"github.com/alcovehq/alcove/internal/provision"
	"github.com/alcovehq/alcove/internal/state"
	"github.com/alcovehq/alcove/internal/upload"
)

// State is the top-level input state machine.
type State int

// Input states.
const (
	StateInput        State = iota // awaiting user input
	StateStreaming                 // assistant response streaming in
	StateProvisioning              // workspace provisioning run in flight
	StateBusy                      // short-lived backend call in flight
)

// Memory bounds to prevent unbounded growth.
const (
	maxLogEntries = 200
	maxHistory    = 100
)

// Display roles for log entries.
const (
	roleUser      = "user"
	roleAssistant = "assistant"
	roleSystem    = "system"
	roleError     = "error"
)

// Layout constants for viewport height calculation.
const (
	separatorLines = 2
	helpLines      = 1
	promptLines    = 1
	minViewport    = 3
)

// Message is one display log entry.
type Message struct {
	Role string
	Text string
}

// Deps are the Model's collaborators. All fields are required except
// ModelName.
type Deps struct {
	Client      *api.Client
	Uploads     *upload.Coordinator
	Provisioner *provision.Orchestrator
	Store       *state.Store
	ModelName   string
	Logger      log.Logger
}

// Model is the Bubble Tea model for the Alcove terminal interface.
type Model struct {
	// Input (textarea for multi-line support, Shift+Enter for newline)
	input      textarea.Model
	history    []string
	historyIdx int

	state     State
	lastCtrlC time.Time

	spinner  spinner.Model
	viewBuf  strings.Builder
	log      []Message
	viewport viewport.Model
	help     help.Model
	keys     keyMap
	styles   Styles
	markdown *markdownRenderer

	width  int
	height int

	// Dependencies (direct, no interface)
	client      *api.Client
	uploads     *upload.Coordinator
	provisioner *provision.Orchestrator
	store       *state.Store
	modelName   string
	logger      log.Logger

	ctx       context.Context
	ctxCancel context.CancelFunc

	// Selection and conversation state
	workspace     *api.Workspace
	workspaces    []api.Workspace
	conversations []api.Conversation
	chat          *chat.Controller
	chatEvents    <-chan chat.Event

	// Provisioning run state
	provisionEvents <-chan provision.Event
	provisionCancel context.CancelFunc
	provisionPhase  provision.Phase
	busyText        string
}

// New creates the TUI model.
//
// ctx MUST be the same context passed to tea.WithContext() so cancellation
// behaves consistently.
func New(ctx context.Context, deps Deps) (*Model, error) {
	if ctx == nil {
		return nil, errors.New("tui.New: ctx is required")
	}
	if deps.Client == nil {
		return nil, errors.New("tui.New: api client is required")
	}
	if deps.Uploads == nil {
		return nil, errors.New("tui.New: upload coordinator is required")
	}
	if deps.Provisioner == nil {
		return nil, errors.New("tui.New: provisioner is required")
	}
	if deps.Store == nil {
		return nil, errors.New("tui.New: state store is required")
	}
	if deps.Logger == nil {
		return nil, errors.New("tui.New: logger is required")
	}

	ctx, cancel := context.WithCancel(ctx)

	ta := textarea.New()
	ta.Placeholder = "Ask your workspace anything..."
	ta.SetHeight(1)
	ta.SetWidth(120)
	ta.MaxWidth = 0
	ta.ShowLineNumbers = false

	cleanStyle := textarea.StyleState{
		Base:        lipgloss.NewStyle(),
		Text:        lipgloss.NewStyle(),
		Placeholder: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		Prompt:      lipgloss.NewStyle(),
	}
	ta.SetStyles(textarea.Styles{Focused: cleanStyle, Blurred: cleanStyle})
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	// Keyboard handling is routed explicitly in handleKey; the viewport's
	// own bindings would conflict with textarea and history navigation.
	vp := viewport.New(viewport.WithWidth(80), viewport.WithHeight(20))
	vp.MouseWheelEnabled = true
	vp.SoftWrap = true
	vp.KeyMap = viewport.KeyMap{}

	return &Model{
		client:      deps.Client,
		uploads:     deps.Uploads,
		provisioner: deps.Provisioner,
		store:       deps.Store,
		modelName:   deps.ModelName,
		logger:      deps.Logger,
		ctx:         ctx,
		ctxCancel:   cancel,
		input:       ta,
		spinner:     sp,
		viewport:    vp,
		help:        help.New(),
		keys:        newKeyMap(),
		styles:      DefaultStyles(),
		history:     make([]string, 0, maxHistory),
		markdown:    newMarkdownRenderer(80),
		width:       80,
	}, nil
}

// addLog appends a display entry and enforces the log bound.
func (m *Model) addLog(msg Message) {
	m.log = append(m.log, msg)
	if len(m.log) > maxLogEntries {
		m.log = m.log[len(m.log)-maxLogEntries:]
	}
}

func (m *Model) addSystem(text string) { m.addLog(Message{Role: roleSystem, Text: text}) }
func (m *Model) addError(text string)  { m.addLog(Message{Role: roleError, Text: text}) }

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.spinner.Tick,
		m.input.Focus(),
		m.restoreSelection(),
	)
}

// Update implements tea.Model.
//
//nolint:gocognit,gocyclo // Bubble Tea Update requires type switch on all message types
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		inputHeight := m.input.Height() + promptLines
		fixedHeight := separatorLines + inputHeight + helpLines
		vpHeight := max(msg.Height-fixedHeight, minViewport)

		m.viewport.SetWidth(msg.Width)
		m.viewport.SetHeight(vpHeight)
		m.input.SetWidth(msg.Width - 4)
		m.help.SetWidth(msg.Width)
		m.markdown.UpdateWidth(msg.Width)

		m.rebuildViewport()
		return m, nil

	case tea.MouseWheelMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.state == StateStreaming || m.state == StateProvisioning || m.state == StateBusy {
			m.rebuildViewport()
		}
		return m, cmd

	case chatEventMsg:
		return m.handleChatEvent(msg)

	case chatClosedMsg:
		return m.handleChatClosed(msg)

	case provisionEventMsg:
		return m.handleProvisionEvent(msg)

	case provisionClosedMsg:
		return m.handleProvisionClosed()

	case restoredMsg:
		return m.handleRestored(msg)

	case workspacesLoadedMsg:
		m.state = StateInput
		m.workspaces = msg.list
		m.showWorkspaceList()
		return m, m.input.Focus()

	case conversationsLoadedMsg:
		m.state = StateInput
		m.conversations = msg.list
		m.showConversationList()
		return m, m.input.Focus()

	case workspaceSelectedMsg:
		return m.handleWorkspaceSelected(msg.ws)

	case conversationOpenedMsg:
		return m.handleConversationOpened(msg.id)

	case attachDoneMsg:
		return m.handleAttachDone(msg)

	case errMsg:
		m.state = StateInput
		m.addError(msg.err.Error())
		m.rebuildViewport()
		m.viewport.GotoBottom()
		return m, m.input.Focus()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View implements tea.Model.
// Uses AltScreen with a viewport for scrollable history.
func (m *Model) View() tea.View {
	m.viewBuf.Reset()

	_, _ = m.viewBuf.WriteString(m.viewport.View())
	_, _ = m.viewBuf.WriteString("\n")

	_, _ = m.viewBuf.WriteString(m.renderSeparator())
	_, _ = m.viewBuf.WriteString("\n")

	_, _ = m.viewBuf.WriteString(m.styles.Prompt.Render("> "))
	_, _ = m.viewBuf.WriteString(m.input.View())
	_, _ = m.viewBuf.WriteString("\n")

	_, _ = m.viewBuf.WriteString(m.renderSeparator())
	_, _ = m.viewBuf.WriteString("\n")

	_, _ = m.viewBuf.WriteString(m.renderStatusBar())

	v := tea.NewView(m.viewBuf.String())
	v.AltScreen = true
	return v
}

// rebuildViewport reconstructs the scrollback from the display log plus any
// in-flight activity.
func (m *Model) rebuildViewport() {
	var b strings.Builder

	_, _ = b.WriteString(m.styles.RenderBanner())
	_, _ = b.WriteString("\n")
	_, _ = b.WriteString(m.styles.RenderWelcomeTips())
	_, _ = b.WriteString("\n")

	for _, msg := range m.log {
		switch msg.Role {
		case roleUser:
			_, _ = b.WriteString(m.styles.User.Render("You> "))
			_, _ = b.WriteString(msg.Text)
		case roleAssistant:
			_, _ = b.WriteString(m.styles.Assistant.Render("Alcove> "))
			_, _ = b.WriteString(m.markdown.Render(msg.Text))
		case roleSystem:
			_, _ = b.WriteString(m.styles.System.Render(msg.Text))
		case roleError:
			_, _ = b.WriteString(m.styles.Error.Render("Error: " + msg.Text))
		}
		_, _ = b.WriteString("\n\n")
	}

	if m.state == StateStreaming {
		_, _ = b.WriteString(m.styles.Assistant.Render("Alcove> "))
		if partial := m.partialResponse(); partial != "" {
			_, _ = b.WriteString(partial)
		} else {
			_, _ = b.WriteString(m.spinner.View())
		}
		_, _ = b.WriteString("\n\n")
	}

	if m.state == StateProvisioning {
		_, _ = b.WriteString(m.spinner.View())
		_, _ = b.WriteString(" ")
		_, _ = b.WriteString(m.provisionStatusLine())
		_, _ = b.WriteString("\n\n")
	}

	if m.state == StateBusy {
		_, _ = b.WriteString(m.spinner.View())
		_, _ = b.WriteString(" ")
		_, _ = b.WriteString(m.busyText)
		_, _ = b.WriteString("\n\n")
	}

	m.viewport.SetContent(b.String())
}

// partialResponse returns the streaming assistant content accumulated so far.
func (m *Model) partialResponse() string {
	if m.chat == nil {
		return ""
	}
	msgs := m.chat.Messages()
	if n := len(msgs); n > 0 && msgs[n-1].Pending {
		return msgs[n-1].Content
	}
	return ""
}

func (m *Model) provisionStatusLine() string {
	switch m.provisionPhase {
	case provision.PhaseCreating:
		return "Creating workspace..."
	case provision.PhaseUploading:
		return "Uploading files..."
	case provision.PhaseProcessing:
		return "Processing documents... (cannot be cancelled)"
	default:
		return "Provisioning..."
	}
}

func (m *Model) renderSeparator() string {
	width := m.width
	if width <= 0 {
		width = 80
	}
	return m.styles.Separator.Render(strings.Repeat("─", width))
}

// renderStatusBar returns state-appropriate keyboard shortcut help.
func (m *Model) renderStatusBar() string {
	var bindings []key.Binding
	switch m.state {
	case StateInput:
		bindings = []key.Binding{
			m.keys.Submit, m.keys.NewLine, m.keys.History,
			m.keys.Cancel, m.keys.Quit, m.keys.ScrollUp,
		}
	case StateStreaming:
		bindings = []key.Binding{
			m.keys.EscCancel, m.keys.Cancel,
			m.keys.ScrollUp, m.keys.ScrollDown,
		}
	case StateProvisioning:
		// While documents process nothing may be cancelled, so no
		// destructive shortcut is advertised.
		bindings = []key.Binding{m.keys.ScrollUp, m.keys.ScrollDown}
		if m.provisionPhase != provision.PhaseProcessing {
			bindings = append(bindings, m.keys.EscCancel)
		}
	case StateBusy:
		bindings = []key.Binding{
			m.keys.ScrollUp, m.keys.ScrollDown, m.keys.Quit,
		}
	}
	return m.help.ShortHelpView(bindings)
}
