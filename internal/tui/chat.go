package tui

import (
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const defaultChatLimit = 500

// Chat roles. Approval and error lines come from the app, never from the
// conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleToolError = "tool_error"
	RoleApproval  = "approval"
	RoleError     = "error"
)

// ChatMessage is one rendered chat item.
type ChatMessage struct {
	Role    string
	Content string
}

// ChatModel is a bounded, scrollable list of chat lines.
type ChatModel struct {
	messages    []ChatMessage
	maxMessages int
	scrollTop   int

	// viewportHeight is the number of visible lines; 0 shows everything.
	viewportHeight int
}

// NewChatModel creates a chat buffer keeping at most maxMessages entries.
func NewChatModel(maxMessages int) ChatModel {
	if maxMessages <= 0 {
		maxMessages = defaultChatLimit
	}
	return ChatModel{maxMessages: maxMessages}
}

// Append records one message when content is non-empty. A viewport pinned
// to the bottom follows new messages.
func (m *ChatModel) Append(role, content string) {
	text := strings.TrimSpace(content)
	if text == "" {
		return
	}
	follow := m.scrollTop >= m.maxScrollTop()

	m.messages = append(m.messages, ChatMessage{Role: strings.TrimSpace(role), Content: text})
	if overflow := len(m.messages) - m.maxMessages; overflow > 0 {
		m.messages = slices.Clone(m.messages[overflow:])
	}

	if follow {
		m.scrollTop = m.maxScrollTop()
		return
	}
	m.clampScrollTop()
}

// Messages returns a copy of buffered messages.
func (m ChatModel) Messages() []ChatMessage {
	return slices.Clone(m.messages)
}

// Last returns the most recent message, if any.
func (m ChatModel) Last() (ChatMessage, bool) {
	if len(m.messages) == 0 {
		return ChatMessage{}, false
	}
	return m.messages[len(m.messages)-1], true
}

// Clear removes all buffered chat messages.
func (m *ChatModel) Clear() {
	m.messages = nil
	m.scrollTop = 0
}

// SetViewportHeight configures the visible line count.
func (m *ChatModel) SetViewportHeight(height int) {
	m.viewportHeight = max(height, 0)
	m.clampScrollTop()
}

// ScrollUp moves the viewport up by lines.
func (m *ChatModel) ScrollUp(lines int) {
	if lines > 0 {
		m.scrollTop -= lines
		m.clampScrollTop()
	}
}

// ScrollDown moves the viewport down by lines.
func (m *ChatModel) ScrollDown(lines int) {
	if lines > 0 {
		m.scrollTop += lines
		m.clampScrollTop()
	}
}

// PageUp scrolls one viewport up.
func (m *ChatModel) PageUp() { m.ScrollUp(m.pageSize()) }

// PageDown scrolls one viewport down.
func (m *ChatModel) PageDown() { m.ScrollDown(m.pageSize()) }

// ScrollToTop jumps to the oldest line.
func (m *ChatModel) ScrollToTop() { m.scrollTop = 0 }

// ScrollToBottom jumps to the newest line.
func (m *ChatModel) ScrollToBottom() { m.scrollTop = m.maxScrollTop() }

// Render draws the visible window of chat lines inside a panel.
func (m ChatModel) Render(width int, theme Theme) string {
	if len(m.messages) == 0 {
		return renderPanel(width, theme.PanelStyle, "No messages yet. Tool calls wait for your approval before they run.")
	}

	lines := m.lines(&theme)
	if m.viewportHeight > 0 && len(lines) > m.viewportHeight {
		start := min(max(m.scrollTop, 0), len(lines)-m.viewportHeight)
		lines = lines[start : start+m.viewportHeight]
	}
	return renderPanel(width, theme.PanelStyle, strings.Join(lines, "\n"))
}

// lines flattens messages into display lines. With a nil theme only the
// count matters, so nothing is styled.
func (m ChatModel) lines(theme *Theme) []string {
	var out []string
	for _, message := range m.messages {
		raw := strings.Split(message.Content, "\n")
		if theme == nil {
			out = append(out, raw...)
			continue
		}
		prefix, style := rolePrefix(message.Role, *theme)
		out = append(out, style.Render(prefix)+" "+raw[0])
		out = append(out, raw[1:]...)
	}
	return out
}

func rolePrefix(role string, theme Theme) (string, lipgloss.Style) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case RoleAssistant:
		return "assistant:", theme.AssistantPrefixStyle
	case RoleTool:
		return "tool:", theme.ToolPrefixStyle
	case RoleToolError:
		return "tool failed:", theme.ErrorPrefixStyle
	case RoleApproval:
		return "approve?", theme.ApprovalPrefixStyle
	case RoleError:
		return "error:", theme.ErrorPrefixStyle
	default:
		return "user:", theme.UserPrefixStyle
	}
}

func renderPanel(width int, style lipgloss.Style, content string) string {
	if width > 0 {
		return style.Width(width).Render(content)
	}
	return style.Render(content)
}

func (m *ChatModel) pageSize() int {
	if m.viewportHeight <= 0 {
		return 10
	}
	return m.viewportHeight
}

func (m *ChatModel) maxScrollTop() int {
	if m.viewportHeight <= 0 {
		return 0
	}
	return max(len(m.lines(nil))-m.viewportHeight, 0)
}

func (m *ChatModel) clampScrollTop() {
	m.scrollTop = min(max(m.scrollTop, 0), m.maxScrollTop())
}
