package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"hitl/internal/agent"
	"hitl/internal/session"
)

// handleSlashCommand parses and runs one slash command.
func (m *App) handleSlashCommand(content string) tea.Cmd {
	parts := strings.Fields(strings.TrimSpace(content))
	if len(parts) == 0 {
		return nil
	}
	command := strings.TrimPrefix(parts[0], "/")
	args := parts[1:]

	switch command {
	case "help":
		m.chat.Append(RoleAssistant, strings.Join([]string{
			"Slash commands:",
			"/help",
			"/session",
			"/sessions",
			"/switch <session-id>",
			"/new",
			"/discard",
			"/approve, /reject (same as y / n)",
		}, "\n"))
	case "session":
		info, err := m.driver.Get(m.sessionID)
		if err != nil {
			m.chat.Append(RoleAssistant, fmt.Sprintf("session=%s (no input yet)", m.sessionID))
			return nil
		}
		m.chat.Append(RoleAssistant, fmt.Sprintf(
			"session=%s status=%s outcome=%s messages=%d pending=%d",
			info.ID,
			info.State.Status,
			fallbackText(string(info.State.Outcome), "-"),
			len(info.History),
			len(info.State.Pending),
		))
	case "sessions":
		if m.busy {
			m.appendErrorMessage("cannot switch session while agent is running")
			return nil
		}
		return m.openSessionSelector()
	case "switch":
		if len(args) != 1 {
			m.appendErrorMessage("usage: /switch <session-id>")
			return nil
		}
		if m.busy {
			m.appendErrorMessage("cannot switch session while agent is running")
			return nil
		}
		if _, err := m.driver.Get(args[0]); err != nil {
			m.appendErrorMessage(err.Error())
			return nil
		}
		m.switchSession(args[0])
		m.chat.Append(RoleAssistant, "Switched to session "+args[0]+".")
	case "new":
		if m.busy {
			m.appendErrorMessage("cannot create new session while agent is running")
			return nil
		}
		id := session.NewID()
		m.switchSession(id)
		m.chat.Append(RoleAssistant, "Started new session "+id+".")
	case "discard":
		if m.busy {
			m.appendErrorMessage("cannot discard session while agent is running")
			return nil
		}
		old := m.sessionID
		if err := m.driver.Discard(context.Background(), old); err != nil {
			m.appendErrorMessage(err.Error())
			return nil
		}
		m.switchSession(session.NewID())
		m.chat.Append(RoleAssistant, "Discarded session "+old+".")
	case "approve":
		return m.decideCommand(agent.Approve)
	case "reject":
		return m.decideCommand(agent.Reject)
	default:
		m.appendErrorMessage(fmt.Sprintf("unknown command /%s; try /help", command))
	}
	return nil
}
