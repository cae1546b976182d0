package tui

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"hitl/internal/agent"
	"hitl/internal/llm/core"
)

// InspectorModel shows what the agent wants to do and what the user has
// allowed so far in this TUI process.
type InspectorModel struct {
	State    string
	Turn     int
	Pending  []core.ToolCall
	Approved map[string]int
	Rejected int
}

// NewInspectorModel constructs inspector defaults.
func NewInspectorModel() InspectorModel {
	return InspectorModel{
		State:    "idle",
		Approved: make(map[string]int),
	}
}

// SetState updates runtime state label.
func (m *InspectorModel) SetState(state string) {
	m.State = fallbackText(state, "idle")
}

// IncrementTurn counts one user submission.
func (m *InspectorModel) IncrementTurn() {
	m.Turn++
}

// SetPending replaces the calls shown as awaiting approval.
func (m *InspectorModel) SetPending(calls []core.ToolCall) {
	m.Pending = core.CloneToolCalls(calls)
}

// RecordDecision tallies approved calls per tool and rejected calls overall.
func (m *InspectorModel) RecordDecision(decision agent.Decision, calls []core.ToolCall) {
	if decision == agent.Reject {
		m.Rejected += len(calls)
		return
	}
	for _, call := range calls {
		m.Approved[fallbackText(call.Name, "unknown")]++
	}
}

// Render draws the inspector panel.
func (m InspectorModel) Render(width int, theme Theme) string {
	lines := []string{
		"Status: " + m.State,
		fmt.Sprintf("Turn: %d", m.Turn),
		"Pending:",
	}
	if len(m.Pending) == 0 {
		lines = append(lines, "  none")
	}
	for _, call := range m.Pending {
		lines = append(lines, "  "+FormatCall(call))
	}

	lines = append(lines, "Approved tools:")
	if len(m.Approved) == 0 {
		lines = append(lines, "  none")
	}
	for _, name := range slices.Sorted(maps.Keys(m.Approved)) {
		lines = append(lines, fmt.Sprintf("  %s (%d)", name, m.Approved[name]))
	}
	lines = append(lines, fmt.Sprintf("Rejected calls: %d", m.Rejected))

	style := theme.InspectorStyle
	if len(m.Pending) > 0 {
		style = theme.PendingInspectorStyle
	}
	return renderPanel(width, style, strings.Join(lines, "\n"))
}
