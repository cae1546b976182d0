package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"hitl/internal/llm/core"
)

const snapshotVersion = 1

// ErrInvalidSnapshot indicates snapshot bytes that cannot be restored.
var ErrInvalidSnapshot = errors.New("invalid run snapshot")

// Run is one execution of the agent loop: its conversation and control
// state. The engine is the only writer. A Run is not safe for concurrent
// use; callers serialize access per run.
type Run struct {
	id            string
	history       []core.Message
	state         State
	turns         int
	parseFailures int
	answer        string
}

// NewRun creates an idle run. An empty id is replaced by a generated one.
func NewRun(id string) *Run {
	if strings.TrimSpace(id) == "" {
		id = uuid.NewString()
	}
	return &Run{id: id, state: State{Status: StatusIdle}}
}

// Fork creates an idle run under id seeded with a copy of r's conversation.
// r itself is left untouched.
func (r *Run) Fork(id string) *Run {
	next := NewRun(id)
	next.history = core.CloneMessages(r.history)
	return next
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// State returns a copy of the control state.
func (r *Run) State() State { return r.state.clone() }

// History returns a copy of the conversation.
func (r *Run) History() []core.Message { return core.CloneMessages(r.history) }

// Turns is the number of reasoner calls since the last user input.
func (r *Run) Turns() int { return r.turns }

// ParseFailures is the number of parse errors since the last user input.
func (r *Run) ParseFailures() int { return r.parseFailures }

// Answer is the final answer of a completed run.
func (r *Run) Answer() string { return r.answer }

type snapshot struct {
	Version       int            `json:"version"`
	ID            string         `json:"id"`
	History       []core.Message `json:"history"`
	State         State          `json:"state"`
	Turns         int            `json:"turns"`
	ParseFailures int            `json:"parse_failures"`
	Answer        string         `json:"answer,omitempty"`
}

// Snapshot encodes the run as JSON. Restoring and re-encoding yields the
// same bytes.
func (r *Run) Snapshot() ([]byte, error) {
	data, err := json.Marshal(snapshot{
		Version:       snapshotVersion,
		ID:            r.id,
		History:       r.history,
		State:         r.state,
		Turns:         r.turns,
		ParseFailures: r.parseFailures,
		Answer:        r.answer,
	})
	if err != nil {
		return nil, fmt.Errorf("encode run %s: %w", r.id, err)
	}
	return data, nil
}

// RestoreRun decodes a Snapshot.
func RestoreRun(data []byte) (*Run, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidSnapshot, snap.Version)
	}
	if snap.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidSnapshot)
	}
	if _, ok := allowedTransitions[snap.State.Status]; !ok {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidSnapshot, snap.State.Status)
	}
	if snap.State.Status == StatusAwaitingApproval && len(snap.State.Pending) == 0 {
		return nil, fmt.Errorf("%w: awaiting approval without pending calls", ErrInvalidSnapshot)
	}
	return &Run{
		id:            snap.ID,
		history:       snap.History,
		state:         snap.State,
		turns:         snap.Turns,
		parseFailures: snap.ParseFailures,
		answer:        snap.Answer,
	}, nil
}
