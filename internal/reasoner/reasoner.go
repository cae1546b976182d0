// Package reasoner invokes a language model with the conversation history and
// returns its raw reply for the parser.
package reasoner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"hitl/internal/llm/core"
	"hitl/internal/logging"
)

var (
	// ErrProviderRequired indicates a missing provider dependency.
	ErrProviderRequired = errors.New("provider is required")
	// ErrModelRequired indicates a missing model name.
	ErrModelRequired = errors.New("model is required")
	// ErrInvalidProtocol indicates an unknown protocol name.
	ErrInvalidProtocol = errors.New("invalid protocol")
	// ErrIncompleteStream indicates the provider closed its stream without a terminal event.
	ErrIncompleteStream = errors.New("provider stream ended without terminal event")
)

// Protocol selects how tool calls travel between the agent and the model.
type Protocol string

const (
	// ProtocolStructured uses native tool-call descriptors.
	ProtocolStructured Protocol = "structured"
	// ProtocolTranscript uses Thought/Action text and sends no tool definitions.
	ProtocolTranscript Protocol = "transcript"
)

// ParseProtocol validates a protocol name. Empty selects ProtocolStructured.
func ParseProtocol(name string) (Protocol, error) {
	switch Protocol(strings.ToLower(strings.TrimSpace(name))) {
	case "", ProtocolStructured:
		return ProtocolStructured, nil
	case ProtocolTranscript:
		return ProtocolTranscript, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidProtocol, name)
	}
}

// Response is one raw model reply.
type Response struct {
	Text       string
	ToolCalls  []core.ToolCall
	Structured bool
	StopReason core.StopReason
	Usage      core.Usage
}

// Reasoner produces the next reply for a conversation.
type Reasoner interface {
	Invoke(ctx context.Context, history []core.Message, instructions string) (Response, error)
}

// Config configures a provider-backed reasoner.
type Config struct {
	Provider    core.Provider
	Model       string
	Protocol    Protocol
	Tools       []core.ToolSpec
	MaxTokens   int
	Temperature *float64
	Retry       core.RetryPolicy
	Logger      *slog.Logger
}

// ProviderReasoner sends one provider request per Invoke and folds the
// event stream into a Response.
type ProviderReasoner struct {
	provider    core.Provider
	model       string
	protocol    Protocol
	tools       []core.ToolSpec
	maxTokens   int
	temperature *float64
	retry       core.RetryPolicy
	logger      *slog.Logger
}

// New validates cfg and builds a ProviderReasoner.
func New(cfg Config) (*ProviderReasoner, error) {
	if cfg.Provider == nil {
		return nil, ErrProviderRequired
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, ErrModelRequired
	}
	protocol, err := ParseProtocol(string(cfg.Protocol))
	if err != nil {
		return nil, err
	}
	logger := logging.OrDiscard(cfg.Logger)
	return &ProviderReasoner{
		provider:    cfg.Provider,
		model:       cfg.Model,
		protocol:    protocol,
		tools:       append([]core.ToolSpec(nil), cfg.Tools...),
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		retry:       cfg.Retry,
		logger:      logger,
	}, nil
}

// Protocol reports the configured protocol.
func (r *ProviderReasoner) Protocol() Protocol {
	return r.protocol
}

// Invoke sends history and instructions to the provider. Transport, auth and
// stream failures are returned as errors; the caller decides whether the
// turn survives them.
func (r *ProviderReasoner) Invoke(ctx context.Context, history []core.Message, instructions string) (Response, error) {
	req := &core.Request{
		Model:       r.model,
		System:      instructions,
		MaxTokens:   r.maxTokens,
		Temperature: r.temperature,
		Retry:       r.retry,
	}
	if r.protocol == ProtocolTranscript {
		req.Messages = renderTranscript(history)
	} else {
		req.Messages = core.CloneMessages(history)
		req.Tools = append([]core.ToolSpec(nil), r.tools...)
	}

	stream, err := r.provider.Stream(ctx, req)
	if err != nil {
		return Response{}, err
	}

	acc := newAccumulator()
	for {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case ev, ok := <-stream:
			if !ok {
				return Response{}, ErrIncompleteStream
			}
			acc.consume(ev)
			switch ev.Type {
			case core.EventError:
				if ev.Err != nil {
					return Response{}, ev.Err
				}
				return Response{}, errors.New("provider reported an error")
			case core.EventDone:
				resp := acc.response(r.protocol == ProtocolStructured)
				r.logger.Debug("model replied",
					"model", r.model,
					"protocol", r.protocol,
					"tool_calls", len(resp.ToolCalls),
					"stop_reason", resp.StopReason,
					"tokens", resp.Usage.TokenCount(),
				)
				return resp, nil
			}
		}
	}
}

// renderTranscript flattens history into plain user/assistant text turns.
// Assistant turns keep their raw text and observations come back as
// "Observation: ..." user turns, matching the Thought/Action protocol.
func renderTranscript(history []core.Message) []core.Message {
	out := make([]core.Message, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case core.RoleAssistant:
			out = append(out, core.Message{Role: core.RoleAssistant, Content: msg.Content})
		case core.RoleTool:
			out = append(out, core.UserMessage("Observation: "+msg.Content))
		default:
			out = append(out, core.UserMessage(msg.Content))
		}
	}
	return out
}

// accumulator folds stream events into text and ordered tool calls. Calls
// are keyed by id; tool_call_end replaces the partial call from tool_call_start.
type accumulator struct {
	text      strings.Builder
	order     []string
	calls     map[string]core.ToolCall
	reason    core.StopReason
	usage     core.Usage
	anonymous int
}

func newAccumulator() *accumulator {
	return &accumulator{calls: make(map[string]core.ToolCall), reason: core.StopReasonStop}
}

func (a *accumulator) consume(ev core.Event) {
	switch ev.Type {
	case core.EventTextDelta:
		a.text.WriteString(ev.TextDelta)
	case core.EventToolCallStart, core.EventToolCallEnd:
		if ev.ToolCall != nil {
			a.upsert(*ev.ToolCall, ev.Type == core.EventToolCallStart)
		}
	case core.EventUsage:
		if ev.Usage != nil {
			a.usage = *ev.Usage
		}
	case core.EventDone:
		if ev.Done != nil {
			a.reason = ev.Done.Reason
			a.usage = ev.Done.Usage
		}
	}
}

func (a *accumulator) upsert(call core.ToolCall, start bool) {
	key := call.ID
	if key == "" {
		// Providers that omit ids still pair start and end by position.
		if start {
			a.anonymous++
		}
		key = fmt.Sprintf("\x00%d", a.anonymous)
	}
	if _, exists := a.calls[key]; !exists {
		a.order = append(a.order, key)
	}
	a.calls[key] = core.CloneToolCall(call)
}

func (a *accumulator) response(structured bool) Response {
	resp := Response{
		Text:       a.text.String(),
		Structured: structured,
		StopReason: a.reason,
		Usage:      a.usage,
	}
	if !structured {
		return resp
	}
	for _, key := range a.order {
		call := a.calls[key]
		if call.Arguments == nil {
			call.Arguments = map[string]string{}
		}
		resp.ToolCalls = append(resp.ToolCalls, call)
	}
	return resp
}
