package tui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// InputModel stores a single-line prompt buffer. The placeholder doubles as
// a hint for the keys that are live in the current state.
type InputModel struct {
	prompt      string
	placeholder string
	value       string
}

// NewInputModel constructs the input state.
func NewInputModel(prompt, placeholder string) InputModel {
	p := strings.TrimSpace(prompt)
	if p == "" {
		p = ">"
	}
	return InputModel{
		prompt:      p,
		placeholder: strings.TrimSpace(placeholder),
	}
}

// Value returns current raw input text.
func (m InputModel) Value() string {
	return m.value
}

// SetValue replaces input text.
func (m *InputModel) SetValue(value string) {
	m.value = value
}

// SetPlaceholder replaces the hint shown while the buffer is empty.
func (m *InputModel) SetPlaceholder(placeholder string) {
	m.placeholder = strings.TrimSpace(placeholder)
}

// Placeholder returns the current empty-buffer hint.
func (m InputModel) Placeholder() string {
	return m.placeholder
}

// Clear resets input text.
func (m *InputModel) Clear() {
	m.value = ""
}

// HandleKey mutates input state and reports submit key. Ctrl+U clears the
// line and Ctrl+W drops the last word.
func (m *InputModel) HandleKey(msg tea.KeyMsg) (submitted bool) {
	switch msg.Type {
	case tea.KeyEnter:
		return true
	case tea.KeyCtrlU:
		m.value = ""
		return false
	case tea.KeyCtrlW:
		trimmed := strings.TrimRight(m.value, " ")
		if idx := strings.LastIndex(trimmed, " "); idx >= 0 {
			m.value = trimmed[:idx+1]
		} else {
			m.value = ""
		}
		return false
	case tea.KeyBackspace, tea.KeyDelete:
		if m.value == "" {
			return false
		}
		runes := []rune(m.value)
		m.value = string(runes[:len(runes)-1])
		return false
	case tea.KeySpace:
		m.value += " "
		return false
	}

	if len(msg.Runes) > 0 {
		m.value += string(msg.Runes)
	}
	return false
}

// Render draws the input line.
func (m InputModel) Render(width int, theme Theme) string {
	value := m.value
	valueStyle := theme.InputTextStyle
	if strings.TrimSpace(value) == "" {
		value = m.placeholder
		valueStyle = theme.InputPlaceholderTextStyle
	}

	line := theme.InputPromptStyle.Render(m.prompt+" ") + valueStyle.Render(value)
	if width > 0 {
		return lipgloss.NewStyle().Width(width).Render(line)
	}
	return line
}
