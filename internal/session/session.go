// Package session is the driver surface over the agent engine: keyed
// sessions, one writer per session at a time, and checkpointed suspension
// at the approval gate.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"hitl/internal/agent"
	"hitl/internal/checkpoint"
	"hitl/internal/llm/core"
	"hitl/internal/logging"
)

var (
	ErrEngineRequired  = errors.New("engine is required")
	ErrSessionNotFound = errors.New("session not found")
	ErrApproverFailed  = errors.New("approver failed")
)

// Approver decides a pending batch on behalf of a human.
type Approver interface {
	Approve(ctx context.Context, pending []core.ToolCall) (agent.Decision, error)
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, pending []core.ToolCall) (agent.Decision, error)

func (f ApproverFunc) Approve(ctx context.Context, pending []core.ToolCall) (agent.Decision, error) {
	return f(ctx, pending)
}

// AlwaysApprove approves every batch.
func AlwaysApprove() Approver {
	return ApproverFunc(func(context.Context, []core.ToolCall) (agent.Decision, error) {
		return agent.Approve, nil
	})
}

// NeverApprove rejects every batch.
func NeverApprove() Approver {
	return ApproverFunc(func(context.Context, []core.ToolCall) (agent.Decision, error) {
		return agent.Reject, nil
	})
}

// Config configures a Manager.
type Config struct {
	Engine *agent.Engine
	// Store holds snapshots of suspended runs. Nil uses an in-memory store.
	Store checkpoint.Store
	// CarryHistory seeds the run that replaces a terminated one with a copy
	// of its conversation.
	CarryHistory bool
	Logger       *slog.Logger
}

// Info is a read-only view of one session.
type Info struct {
	ID      string
	State   agent.State
	History []core.Message
	Answer  string
}

// Manager owns sessions by id.
type Manager struct {
	engine *agent.Engine
	store  checkpoint.Store
	carry  bool
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*entry
}

type entry struct {
	mu  sync.Mutex
	run *agent.Run
	// discarded is set once Discard retired the entry; it is never reused.
	discarded bool
}

// NewManager creates a manager with explicit dependencies.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Engine == nil {
		return nil, ErrEngineRequired
	}
	store := cfg.Store
	if store == nil {
		store = checkpoint.NewMemoryStore()
	}
	logger := logging.OrDiscard(cfg.Logger)
	return &Manager{
		engine:   cfg.Engine,
		store:    store,
		carry:    cfg.CarryHistory,
		logger:   logger,
		sessions: make(map[string]*entry),
	}, nil
}

// NewID returns a fresh session id.
func NewID() string {
	return uuid.NewString()
}

// Submit feeds user input into session id, creating it on first use. Input
// for a terminated session starts a new run under the same id; the ended
// run is left as it was.
func (m *Manager) Submit(ctx context.Context, id, text string) (agent.Event, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = NewID()
	}

	e := m.lock(id, true)
	defer e.mu.Unlock()

	switch {
	case e.run == nil:
		e.run = agent.NewRun(id)
		m.logger.Info("session started", "session_id", id)
	case e.run.State().Terminated():
		if m.carry {
			e.run = e.run.Fork(id)
		} else {
			e.run = agent.NewRun(id)
		}
		m.logger.Debug("session run replaced", "session_id", id, "carry_history", m.carry)
	}

	ev, err := m.engine.Submit(ctx, e.run, text)
	if err != nil {
		return agent.Event{}, err
	}
	return ev, m.persist(ctx, e.run, ev)
}

// Decide resolves the pending approval of session id. The run resumes from
// the snapshot saved when it suspended.
func (m *Manager) Decide(ctx context.Context, id string, decision agent.Decision) (agent.Event, error) {
	e := m.lock(strings.TrimSpace(id), false)
	if e == nil {
		return agent.Event{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	defer e.mu.Unlock()

	if e.run == nil {
		return agent.Event{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if e.run.State().Status == agent.StatusAwaitingApproval {
		data, err := m.store.Load(ctx, e.run.ID())
		if err != nil {
			return agent.Event{}, fmt.Errorf("load checkpoint for %s: %w", id, err)
		}
		restored, err := agent.RestoreRun(data)
		if err != nil {
			return agent.Event{}, fmt.Errorf("restore session %s: %w", id, err)
		}
		e.run = restored
	}

	ev, err := m.engine.Decide(ctx, e.run, decision)
	if err != nil {
		return agent.Event{}, err
	}
	return ev, m.persist(ctx, e.run, ev)
}

// Drive submits text and keeps asking approver until the session leaves
// AwaitingApproval. An approver error leaves the session suspended.
func (m *Manager) Drive(ctx context.Context, id, text string, approver Approver) (agent.Event, error) {
	ev, err := m.Submit(ctx, id, text)
	if err != nil {
		return ev, err
	}
	for ev.Kind == agent.EventAwaitingApproval {
		decision, err := approver.Approve(ctx, ev.Pending)
		if err != nil {
			return ev, fmt.Errorf("%w: %w", ErrApproverFailed, err)
		}
		ev, err = m.Decide(ctx, ev.RunID, decision)
		if err != nil {
			return ev, err
		}
	}
	return ev, nil
}

// Get returns a view of session id.
func (m *Manager) Get(id string) (Info, error) {
	e := m.lock(strings.TrimSpace(id), false)
	if e == nil {
		return Info{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	defer e.mu.Unlock()
	if e.run == nil {
		return Info{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return Info{
		ID:      e.run.ID(),
		State:   e.run.State(),
		History: e.run.History(),
		Answer:  e.run.Answer(),
	}, nil
}

// Discard forgets session id and its checkpoint. The checkpoint is dropped
// while the session is still registered and locked, so a Submit racing with
// Discard waits and then starts a fresh session whose checkpoint survives.
func (m *Manager) Discard(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	e := m.lock(id, false)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	defer e.mu.Unlock()

	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("drop checkpoint for %s: %w", id, err)
	}
	e.run = nil
	e.discarded = true

	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	m.logger.Info("session discarded", "session_id", id)
	return nil
}

// IDs lists known sessions in sorted order.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// lock returns the entry for id with its mutex held. Entries retired by
// Discard are skipped; with create set a fresh one takes their place.
func (m *Manager) lock(id string, create bool) *entry {
	for {
		e := m.entry(id, create)
		if e == nil {
			return nil
		}
		e.mu.Lock()
		if !e.discarded {
			return e
		}
		e.mu.Unlock()
	}
}

func (m *Manager) entry(id string, create bool) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok && create {
		e = &entry{}
		m.sessions[id] = e
	}
	return e
}

// persist checkpoints a suspended run and drops the checkpoint otherwise.
func (m *Manager) persist(ctx context.Context, run *agent.Run, ev agent.Event) error {
	if ev.Kind != agent.EventAwaitingApproval {
		if err := m.store.Delete(ctx, run.ID()); err != nil {
			return fmt.Errorf("drop checkpoint for %s: %w", run.ID(), err)
		}
		return nil
	}

	data, err := run.Snapshot()
	if err != nil {
		return err
	}
	if err := m.store.Save(ctx, run.ID(), data); err != nil {
		return fmt.Errorf("save checkpoint for %s: %w", run.ID(), err)
	}
	m.logger.Debug("session suspended", "session_id", run.ID(), "pending", len(ev.Pending), "bytes", len(data))
	return nil
}
