package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// StatusModel renders the top status bar.
type StatusModel struct {
	Version   string
	ModelName string
	Protocol  string
	SessionID string
	State     string
	// Pending counts tool calls waiting for a decision.
	Pending int
}

// NewStatusModel constructs status data for rendering.
func NewStatusModel(version, modelName, protocol, sessionID string) StatusModel {
	return StatusModel{
		Version:   strings.TrimSpace(version),
		ModelName: strings.TrimSpace(modelName),
		Protocol:  strings.TrimSpace(protocol),
		SessionID: strings.TrimSpace(sessionID),
		State:     "idle",
	}
}

// SetState updates the runtime state token.
func (m *StatusModel) SetState(state string) {
	m.State = fallbackText(state, "idle")
}

// Render draws a one-line status bar. The state segment is highlighted while
// a decision is pending and after a failure. When width is set the prefix is
// truncated so the state segment always stays whole on the single row.
func (m StatusModel) Render(width int, theme Theme) string {
	parts := []string{
		"hitl " + fallbackText(m.Version, "dev"),
		fallbackText(m.ModelName, "unknown-model"),
		"protocol: " + fallbackText(m.Protocol, "structured"),
		"session: " + fallbackText(m.SessionID, "new"),
	}
	prefix := strings.Join(parts, " | ") + " | "

	state := "state: " + fallbackText(m.State, "idle")
	if m.Pending > 0 {
		state += fmt.Sprintf(" (%d pending)", m.Pending)
	}
	stateText := m.stateStyle(theme).Render(state)

	if width <= 0 {
		return theme.StatusBarStyle.Render(theme.StatusBarStyle.UnsetPadding().Render(prefix) + stateText)
	}
	room := width - theme.StatusBarStyle.GetHorizontalFrameSize() - lipgloss.Width(stateText)
	prefix = ansi.Truncate(prefix, max(room, 0), statusEllipsis)
	line := theme.StatusBarStyle.UnsetPadding().Render(prefix) + stateText
	return theme.StatusBarStyle.Width(width).MaxWidth(width).MaxHeight(1).Render(line)
}

const statusEllipsis = "… "

func (m StatusModel) stateStyle(theme Theme) lipgloss.Style {
	switch m.State {
	case "awaiting_approval":
		return theme.ApprovalPrefixStyle
	case "error", "aborted":
		return theme.ErrorPrefixStyle
	default:
		return theme.StatusBarStyle
	}
}

func fallbackText(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
