package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"hitl/internal/agent"
	"hitl/internal/llm/core"
	"hitl/internal/session"
)

const (
	defaultAppWidth         = 100
	defaultInspectorWidth   = 36
	minimumChatPanelWidth   = 40
	minimumInspectorVisible = 22
)

// Driver is the session surface the TUI drives. *session.Manager implements it.
type Driver interface {
	Submit(ctx context.Context, id, text string) (agent.Event, error)
	Decide(ctx context.Context, id string, decision agent.Decision) (agent.Event, error)
	Get(id string) (session.Info, error)
	Discard(ctx context.Context, id string) error
	IDs() []string
}

// AppConfig configures the root BubbleTea model.
type AppConfig struct {
	Version       string
	ModelName     string
	Protocol      string
	SessionID     string
	ThemeName     string
	ShowInspector bool
	Driver        Driver
}

// EngineEventMsg carries the outcome of one Submit or Decide.
type EngineEventMsg struct {
	Event agent.Event
	Err   error
	// Submitted marks the outcome of user input rather than a decision.
	Submitted bool
}

type selectorKind string

const selectorKindSession selectorKind = "session"

type selectorItem struct {
	Value string
	Label string
}

type selectorState struct {
	Kind   selectorKind
	Title  string
	Items  []selectorItem
	Cursor int
}

// App is the root TUI model.
type App struct {
	theme         Theme
	showInspector bool
	driver        Driver

	width  int
	height int

	status    StatusModel
	chat      ChatModel
	input     InputModel
	inspector InspectorModel

	sessionID string
	pending   []core.ToolCall
	busy      bool
	synced    int
	selector  *selectorState
}

// NewApp constructs the root TUI model with defaults.
func NewApp(cfg AppConfig) *App {
	sessionID := strings.TrimSpace(cfg.SessionID)
	if sessionID == "" {
		sessionID = session.NewID()
	}

	return &App{
		theme:         ResolveTheme(cfg.ThemeName),
		showInspector: cfg.ShowInspector,
		driver:        cfg.Driver,
		width:         defaultAppWidth,
		status:        NewStatusModel(cfg.Version, cfg.ModelName, cfg.Protocol, sessionID),
		chat:          NewChatModel(0),
		input:         NewInputModel(">", idlePlaceholder),
		inspector:     NewInspectorModel(),
		sessionID:     sessionID,
	}
}

const (
	idlePlaceholder     = "Type a message and press Enter"
	decisionPlaceholder = "y approve / n reject"
	busyPlaceholder     = "Working..."
)

// Init starts background commands if needed.
func (m *App) Init() tea.Cmd {
	return nil
}

// Update applies state changes from user input and engine events.
func (m *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.chat.SetViewportHeight(m.chatViewportHeight())
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.selector != nil {
			if msg.String() == "q" {
				return m, m.cancelSelector()
			}
			return m, m.handleSelectorKey(msg)
		}
		if m.handleChatScrollKey(msg) {
			return m, nil
		}
		if m.awaitingDecision() && strings.TrimSpace(m.input.Value()) == "" {
			switch strings.ToLower(msg.String()) {
			case "y":
				return m, m.decideCommand(agent.Approve)
			case "n":
				return m, m.decideCommand(agent.Reject)
			}
		}
		if msg.String() == "q" && strings.TrimSpace(m.input.Value()) == "" && !m.busy {
			return m, tea.Quit
		}

		if submitted := m.input.HandleKey(msg); submitted {
			content := strings.TrimSpace(m.input.Value())
			m.input.Clear()
			return m, m.handleInputSubmit(content)
		}
		return m, nil

	case EngineEventMsg:
		m.busy = false
		m.applyEvent(msg)
		return m, nil
	}

	return m, nil
}

// View renders status bar, chat, optional inspector, and input line.
func (m *App) View() string {
	width := m.width
	if width <= 0 {
		width = defaultAppWidth
	}

	statusLine := m.status.Render(width, m.theme)
	body := m.renderBody(width)
	switch {
	case m.busy:
		m.input.SetPlaceholder(busyPlaceholder)
	case m.awaitingDecision():
		m.input.SetPlaceholder(decisionPlaceholder)
	default:
		m.input.SetPlaceholder(idlePlaceholder)
	}
	inputLine := m.input.Render(width, m.theme)
	return strings.Join([]string{statusLine, body, inputLine}, "\n")
}

func (m *App) awaitingDecision() bool {
	return len(m.pending) > 0 && !m.busy
}

func (m *App) handleInputSubmit(content string) tea.Cmd {
	if content == "" {
		return nil
	}
	if m.driver == nil {
		m.appendErrorMessage("session driver is not configured")
		return nil
	}
	if strings.HasPrefix(content, "/") {
		return m.handleSlashCommand(content)
	}
	if m.busy {
		m.appendErrorMessage("agent is busy")
		return nil
	}
	if len(m.pending) > 0 {
		m.appendErrorMessage("answer the pending approval first: y to approve, n to reject")
		return nil
	}

	m.chat.Append(RoleUser, content)
	m.inspector.IncrementTurn()
	m.setState("running")
	m.busy = true

	driver, id := m.driver, m.sessionID
	return func() tea.Msg {
		ev, err := driver.Submit(context.Background(), id, content)
		return EngineEventMsg{Event: ev, Err: err, Submitted: true}
	}
}

func (m *App) decideCommand(decision agent.Decision) tea.Cmd {
	if len(m.pending) == 0 {
		m.appendErrorMessage("nothing is waiting for approval")
		return nil
	}
	if m.busy {
		m.appendErrorMessage("agent is busy")
		return nil
	}

	label := "Approved"
	if decision == agent.Reject {
		label = "Rejected"
	}
	m.chat.Append(RoleUser, fmt.Sprintf("%s %d tool call(s).", label, len(m.pending)))
	m.inspector.RecordDecision(decision, m.pending)
	m.pending = nil
	m.setPending(nil)
	m.setState("running")
	m.busy = true

	driver, id := m.driver, m.sessionID
	return func() tea.Msg {
		ev, err := driver.Decide(context.Background(), id, decision)
		return EngineEventMsg{Event: ev, Err: err}
	}
}

func (m *App) applyEvent(msg EngineEventMsg) {
	if msg.Err != nil {
		m.appendErrorMessage(msg.Err.Error())
		m.restorePending()
		return
	}

	m.syncHistory(msg.Submitted)

	ev := msg.Event
	switch ev.Kind {
	case agent.EventAwaitingApproval:
		m.pending = core.CloneToolCalls(ev.Pending)
		m.setPending(m.pending)
		m.chat.Append(RoleApproval, approvalPrompt(m.pending))
		m.setState("awaiting_approval")
	case agent.EventCompleted:
		m.pending = nil
		m.setPending(nil)
		m.setState("idle")
	case agent.EventAborted:
		m.pending = nil
		m.setPending(nil)
		m.appendErrorMessage(ev.Reason)
		m.status.SetState("aborted")
		m.inspector.SetState("aborted")
	}
}

// restorePending re-reads a suspended session after a failed call so the
// approval prompt is not lost.
func (m *App) restorePending() {
	info, err := m.driver.Get(m.sessionID)
	if err != nil || info.State.Status != agent.StatusAwaitingApproval {
		return
	}
	m.pending = info.State.Pending
	m.setPending(m.pending)
	m.setState("awaiting_approval")
}

// syncHistory appends the session messages not yet shown. After a submit the
// new messages start after the last user message; after a decision they
// start where the previous sync stopped.
func (m *App) syncHistory(afterSubmit bool) {
	info, err := m.driver.Get(m.sessionID)
	if err != nil {
		m.appendErrorMessage(err.Error())
		return
	}
	history := info.History

	start := m.synced
	if afterSubmit {
		start = lastUserIndex(history) + 1
	}
	start = min(max(start, 0), len(history))
	for _, message := range history[start:] {
		m.appendHistoryMessage(message)
	}
	m.synced = len(history)
}

func (m *App) rebuildChatFromSession() {
	m.chat.Clear()
	m.synced = 0
	m.pending = nil
	m.setPending(nil)

	info, err := m.driver.Get(m.sessionID)
	if err != nil {
		m.setState("idle")
		return
	}
	for _, message := range info.History {
		m.appendHistoryMessage(message)
	}
	m.synced = len(info.History)
	if info.State.Status == agent.StatusAwaitingApproval {
		m.pending = info.State.Pending
		m.setPending(m.pending)
		m.chat.Append(RoleApproval, approvalPrompt(m.pending))
		m.setState("awaiting_approval")
		return
	}
	m.setState(string(info.State.Status))
}

func (m *App) appendHistoryMessage(message core.Message) {
	switch message.Role {
	case core.RoleUser:
		m.chat.Append(RoleUser, message.Content)
	case core.RoleAssistant:
		m.chat.Append(RoleAssistant, message.Content)
		for _, call := range message.ToolCalls {
			m.chat.Append(RoleTool, "→ "+FormatCall(call))
		}
	case core.RoleTool:
		if message.ToolResult == nil {
			return
		}
		content := strings.TrimSpace(message.ToolResult.Content)
		if content == "" {
			content = "(empty)"
		}
		name := message.ToolResult.ToolName
		if message.ToolResult.Kind == core.ObservationParseError {
			name = "parse error"
		}
		role := RoleTool
		if message.ToolResult.IsError {
			role = RoleToolError
		}
		m.chat.Append(role, fmt.Sprintf("%s: %s", name, content))
	}
}

func (m *App) setPending(calls []core.ToolCall) {
	m.inspector.SetPending(calls)
	m.status.Pending = len(calls)
}

func (m *App) setState(state string) {
	m.status.SetState(state)
	m.inspector.SetState(state)
}

func (m *App) appendErrorMessage(errText string) {
	m.chat.Append(RoleError, strings.TrimSpace(errText))
	m.setState("error")
}

func (m *App) switchSession(id string) {
	m.sessionID = id
	m.status.SessionID = id
	m.rebuildChatFromSession()
}

func approvalPrompt(pending []core.ToolCall) string {
	lines := make([]string, 0, len(pending)+2)
	lines = append(lines, fmt.Sprintf("Approval required for %d tool call(s):", len(pending)))
	for i, call := range pending {
		lines = append(lines, fmt.Sprintf("  %d. %s", i+1, FormatCall(call)))
	}
	lines = append(lines, "Press y to approve or n to reject.")
	return strings.Join(lines, "\n")
}

// FormatCall renders a call as name(key="value", ...).
func FormatCall(call core.ToolCall) string {
	return call.Name + "(" + core.FormatArguments(call.Arguments) + ")"
}

func lastUserIndex(history []core.Message) int {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == core.RoleUser {
			return i
		}
	}
	return -1
}

func (m *App) openSessionSelector() tea.Cmd {
	ids := m.driver.IDs()
	if len(ids) == 0 {
		m.chat.Append(RoleAssistant, "No sessions yet.")
		return nil
	}

	items := make([]selectorItem, 0, len(ids))
	cursor := 0
	for index, id := range ids {
		label := id
		if info, err := m.driver.Get(id); err == nil {
			label = fmt.Sprintf("%s  (%s, %d messages)", id, info.State.Status, len(info.History))
		}
		if id == m.sessionID {
			label += "  [current]"
			cursor = index
		}
		items = append(items, selectorItem{Value: id, Label: label})
	}

	m.selector = &selectorState{
		Kind:   selectorKindSession,
		Title:  "Select Session",
		Items:  items,
		Cursor: cursor,
	}
	return nil
}

func (m *App) handleSelectorKey(msg tea.KeyMsg) tea.Cmd {
	if m.selector == nil {
		return nil
	}

	switch msg.Type {
	case tea.KeyEsc:
		return m.cancelSelector()
	case tea.KeyUp:
		m.selector.Cursor--
		if m.selector.Cursor < 0 {
			m.selector.Cursor = len(m.selector.Items) - 1
		}
		return nil
	case tea.KeyDown:
		m.selector.Cursor++
		if m.selector.Cursor >= len(m.selector.Items) {
			m.selector.Cursor = 0
		}
		return nil
	case tea.KeyEnter:
		return m.confirmSelector()
	default:
		return nil
	}
}

func (m *App) cancelSelector() tea.Cmd {
	if m.selector == nil {
		return nil
	}
	m.selector = nil
	m.chat.Append(RoleAssistant, "Selection cancelled.")
	return nil
}

func (m *App) confirmSelector() tea.Cmd {
	if m.selector == nil || len(m.selector.Items) == 0 {
		m.selector = nil
		return nil
	}
	selected := m.selector.Items[m.selector.Cursor]
	m.selector = nil

	if m.busy {
		m.appendErrorMessage("cannot switch session while agent is running")
		return nil
	}
	m.switchSession(selected.Value)
	m.chat.Append(RoleAssistant, "Switched to session "+selected.Value+".")
	return nil
}

func (m *App) renderBody(width int) string {
	m.chat.SetViewportHeight(m.chatViewportHeight())

	main := func(w int) string {
		if m.selector != nil {
			return m.renderSelectorPanel(w)
		}
		return m.chat.Render(w, m.theme)
	}
	if !m.showInspector {
		return main(width)
	}

	inspectorWidth := defaultInspectorWidth
	if width/3 < inspectorWidth {
		inspectorWidth = width / 3
	}
	if inspectorWidth < minimumInspectorVisible {
		inspectorWidth = minimumInspectorVisible
	}

	mainWidth := width - inspectorWidth - 1
	if mainWidth < minimumChatPanelWidth {
		mainWidth = minimumChatPanelWidth
		inspectorWidth = max(width-mainWidth-1, 0)
	}

	mainView := main(mainWidth)
	if inspectorWidth <= 0 {
		return mainView
	}
	inspectorView := m.inspector.Render(inspectorWidth, m.theme)
	return lipgloss.JoinHorizontal(lipgloss.Top, mainView, inspectorView)
}

func (m *App) renderSelectorPanel(width int) string {
	if m.selector == nil || len(m.selector.Items) == 0 {
		return renderPanel(width, m.theme.PanelStyle, "No selectable items.")
	}
	lines := make([]string, 0, len(m.selector.Items)+2)
	lines = append(lines, m.selector.Title)
	lines = append(lines, "Use ↑/↓ to navigate, Enter to confirm, Esc to cancel.")
	for index, item := range m.selector.Items {
		prefix := "  "
		if index == m.selector.Cursor {
			prefix = "> "
		}
		lines = append(lines, prefix+item.Label)
	}
	return renderPanel(width, m.theme.PanelStyle, strings.Join(lines, "\n"))
}

func (m *App) handleChatScrollKey(msg tea.KeyMsg) bool {
	switch msg.Type {
	case tea.KeyUp:
		m.chat.ScrollUp(1)
		return true
	case tea.KeyDown:
		m.chat.ScrollDown(1)
		return true
	case tea.KeyPgUp:
		m.chat.PageUp()
		return true
	case tea.KeyPgDown:
		m.chat.PageDown()
		return true
	case tea.KeyHome:
		m.chat.ScrollToTop()
		return true
	case tea.KeyEnd:
		m.chat.ScrollToBottom()
		return true
	default:
		return false
	}
}

func (m *App) chatViewportHeight() int {
	if m.height <= 0 {
		return 0
	}

	const nonBodyRows = 2 // status + input
	bodyHeight := m.height - nonBodyRows
	if bodyHeight < 1 {
		return 1
	}

	contentHeight := bodyHeight - m.theme.PanelStyle.GetVerticalFrameSize()
	if contentHeight < 1 {
		return 1
	}
	return contentHeight
}
