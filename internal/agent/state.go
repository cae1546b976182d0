package agent

import (
	"errors"
	"fmt"

	"hitl/internal/llm/core"
)

// ErrInvalidTransition indicates a state change the run lifecycle forbids.
var ErrInvalidTransition = errors.New("invalid run state transition")

// Status is the control state of a run.
type Status string

const (
	// StatusIdle is a run that has not received input yet.
	StatusIdle             Status = "idle"
	StatusRunning          Status = "running"
	StatusAwaitingApproval Status = "awaiting_approval"
	// StatusTerminated is absorbing.
	StatusTerminated Status = "terminated"
)

// Outcome says how a terminated run ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeAborted   Outcome = "aborted"
)

// State is the tagged run state. Pending is set only while awaiting
// approval; Outcome and Reason only once terminated.
type State struct {
	Status  Status          `json:"status"`
	Pending []core.ToolCall `json:"pending,omitempty"`
	Outcome Outcome         `json:"outcome,omitempty"`
	Reason  string          `json:"reason,omitempty"`
}

// Terminated reports whether the run has ended.
func (s State) Terminated() bool {
	return s.Status == StatusTerminated
}

func (s State) clone() State {
	s.Pending = core.CloneToolCalls(s.Pending)
	return s
}

var allowedTransitions = map[Status]map[Status]struct{}{
	StatusIdle: {
		StatusRunning: {},
	},
	StatusRunning: {
		StatusAwaitingApproval: {},
		StatusTerminated:       {},
	},
	StatusAwaitingApproval: {
		StatusRunning:    {},
		StatusTerminated: {},
	},
	StatusTerminated: {},
}

func validateTransition(from, to Status) error {
	allowed, ok := allowedTransitions[from]
	if !ok {
		return fmt.Errorf("%w: unknown source status %q", ErrInvalidTransition, from)
	}
	if _, ok := allowed[to]; !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
