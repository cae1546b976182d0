package mockprovider

import (
	"context"
	"errors"
	"sync"
	"time"

	"hitl/internal/llm/core"
)

// ErrScriptExhausted is returned when Stream is called more times than the
// script has turns.
var ErrScriptExhausted = errors.New("mock provider: script exhausted")

// Turn is the scripted reply to one Stream call. A non-nil Err is returned
// from Stream itself, simulating an unreachable backend.
type Turn struct {
	Events []core.Event
	Err    error
}

// Provider replays one Turn per Stream call and records every request it sees.
type Provider struct {
	Turns []Turn
	Delay time.Duration

	mu       sync.Mutex
	calls    int
	requests []core.Request
}

// New builds a provider from turns.
func New(turns ...Turn) *Provider {
	return &Provider{Turns: turns}
}

// Text scripts a plain-text completion.
func Text(text string) Turn {
	return Turn{Events: []core.Event{
		{Type: core.EventStart},
		{Type: core.EventTextDelta, TextDelta: text},
		{Type: core.EventDone, Done: &core.DonePayload{Reason: core.StopReasonStop}},
	}}
}

// ToolCalls scripts a completion that requests the given calls, preceded by
// optional assistant text.
func ToolCalls(text string, calls ...core.ToolCall) Turn {
	events := []core.Event{{Type: core.EventStart}}
	if text != "" {
		events = append(events, core.Event{Type: core.EventTextDelta, TextDelta: text})
	}
	for _, call := range calls {
		call := core.CloneToolCall(call)
		events = append(events,
			core.Event{Type: core.EventToolCallStart, ToolCall: &core.ToolCall{ID: call.ID, Name: call.Name}},
			core.Event{Type: core.EventToolCallEnd, ToolCall: &call},
		)
	}
	events = append(events, core.Event{Type: core.EventDone, Done: &core.DonePayload{Reason: core.StopReasonToolUse}})
	return Turn{Events: events}
}

// Failure scripts a Stream call that fails before any event.
func Failure(err error) Turn {
	return Turn{Err: err}
}

// StreamFailure scripts a stream that starts and then reports err.
func StreamFailure(err error) Turn {
	return Turn{Events: []core.Event{
		{Type: core.EventStart},
		{Type: core.EventError, Done: &core.DonePayload{Reason: core.StopReasonError}, Err: err},
	}}
}

// Calls reports how many times Stream has been invoked.
func (m *Provider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests returns deep copies of the requests received so far.
func (m *Provider) Requests() []core.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Stream emits the next scripted turn in order until exhaustion or cancellation.
func (m *Provider) Stream(ctx context.Context, req *core.Request) (<-chan core.Event, error) {
	m.mu.Lock()
	if req != nil {
		recorded := *req
		recorded.Messages = core.CloneMessages(req.Messages)
		recorded.Tools = append([]core.ToolSpec(nil), req.Tools...)
		m.requests = append(m.requests, recorded)
	}
	idx := m.calls
	m.calls++
	m.mu.Unlock()

	if idx >= len(m.Turns) {
		return nil, ErrScriptExhausted
	}
	turn := m.Turns[idx]
	if turn.Err != nil {
		return nil, turn.Err
	}

	out := make(chan core.Event, 1)
	go func() {
		defer close(out)
		for _, ev := range turn.Events {
			if m.Delay > 0 {
				if err := core.SleepContext(ctx, m.Delay); err != nil {
					sendAborted(ctx, out, err)
					return
				}
			}
			if err := core.SendEvent(ctx, out, ev); err != nil {
				sendAborted(ctx, out, err)
				return
			}
		}
	}()

	return out, nil
}

func sendAborted(ctx context.Context, out chan<- core.Event, err error) {
	core.SendTerminalEvent(ctx, out, core.Event{
		Type: core.EventError,
		Done: &core.DonePayload{Reason: core.StopReasonAborted},
		Err:  err,
	})
}
