package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme contains style tokens used by the terminal UI.
type Theme struct {
	Name                      string
	StatusBarStyle            lipgloss.Style
	PanelStyle                lipgloss.Style
	InspectorStyle            lipgloss.Style
	PendingInspectorStyle     lipgloss.Style
	UserPrefixStyle           lipgloss.Style
	AssistantPrefixStyle      lipgloss.Style
	ToolPrefixStyle           lipgloss.Style
	ApprovalPrefixStyle       lipgloss.Style
	ErrorPrefixStyle          lipgloss.Style
	InputPromptStyle          lipgloss.Style
	InputTextStyle            lipgloss.Style
	InputPlaceholderTextStyle lipgloss.Style
}

// palette is the set of colors a theme is built from.
type palette struct {
	statusFg, statusBg  lipgloss.Color
	border, muted       lipgloss.Color
	user, assistant     lipgloss.Color
	tool, text          lipgloss.Color
	approvalFg, warning lipgloss.Color
	failure             lipgloss.Color
}

var (
	darkPalette = palette{
		statusFg: "230", statusBg: "63",
		border: "63", muted: "245",
		user: "39", assistant: "220",
		tool: "111", text: "252",
		approvalFg: "16", warning: "214",
		failure: "203",
	}
	lightPalette = palette{
		statusFg: "16", statusBg: "189",
		border: "246", muted: "240",
		user: "25", assistant: "94",
		tool: "31", text: "16",
		approvalFg: "231", warning: "166",
		failure: "160",
	}
)

// ResolveTheme returns the configured theme or the dark default.
func ResolveTheme(name string) Theme {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "light":
		return newTheme("light", lightPalette)
	default:
		return newTheme("dark", darkPalette)
	}
}

func newTheme(name string, p palette) Theme {
	panel := lipgloss.NewStyle().
		Border(lipgloss.NormalBorder()).
		BorderForeground(p.border).
		Padding(0, 1)
	prefix := func(c lipgloss.Color) lipgloss.Style {
		return lipgloss.NewStyle().Foreground(c).Bold(true)
	}

	return Theme{
		Name: name,
		StatusBarStyle: lipgloss.NewStyle().
			Foreground(p.statusFg).
			Background(p.statusBg).
			Padding(0, 1),
		PanelStyle:            panel,
		InspectorStyle:        panel,
		PendingInspectorStyle: panel.BorderForeground(p.warning),
		UserPrefixStyle:       prefix(p.user),
		AssistantPrefixStyle:  prefix(p.assistant),
		ToolPrefixStyle:       prefix(p.tool),
		ApprovalPrefixStyle:   prefix(p.approvalFg).Background(p.warning),
		ErrorPrefixStyle:      prefix(p.failure),
		InputPromptStyle:      prefix(p.user),
		InputTextStyle:        lipgloss.NewStyle().Foreground(p.text),
		InputPlaceholderTextStyle: lipgloss.NewStyle().
			Foreground(p.muted).
			Italic(true),
	}
}
