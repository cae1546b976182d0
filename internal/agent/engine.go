// Package agent runs the reason/act loop as an explicit state machine. A run
// alternates between asking the reasoner for the next step and dispatching
// the tool calls it requests, and suspends before any gated call until the
// caller approves or rejects it.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"hitl/internal/llm/core"
	"hitl/internal/logging"
	"hitl/internal/parser"
	"hitl/internal/reasoner"
	"hitl/internal/tools"
)

const (
	defaultMaxTurns        = 5
	defaultMaxParseRetries = 5
	tracerName             = "hitl/internal/agent"
	rejectedContent        = "rejected by approver"
)

var (
	// ErrReasonerRequired indicates a missing reasoner dependency.
	ErrReasonerRequired = errors.New("reasoner is required")
	// ErrRegistryRequired indicates a missing tool registry.
	ErrRegistryRequired = errors.New("tool registry is required")
	// ErrRunRequired indicates a nil run.
	ErrRunRequired = errors.New("run is required")
	// ErrRunTerminated indicates input for a run that already ended.
	ErrRunTerminated = errors.New("run is terminated")
	// ErrAwaitingApproval indicates input for a run that is waiting on a decision.
	ErrAwaitingApproval = errors.New("run is awaiting approval")
	// ErrNoPendingApproval indicates a decision for a run that is not waiting on one.
	ErrNoPendingApproval = errors.New("run has no pending approval")
	// ErrInvalidDecision indicates a decision other than approve or reject.
	ErrInvalidDecision = errors.New("invalid decision")

	// ErrReasonerUnavailable wraps reasoner failures that end the run.
	ErrReasonerUnavailable = errors.New("reasoner unavailable")
	// ErrLoopBudgetExceeded ends a run that used every reasoning turn.
	ErrLoopBudgetExceeded = errors.New("loop budget exceeded")
	// ErrParseBudgetExceeded ends a run whose replies failed to parse too often.
	ErrParseBudgetExceeded = errors.New("parse retry budget exceeded")
	// ErrRejected ends a run whose pending calls were rejected.
	ErrRejected = errors.New("tool calls rejected")
)

// Decision resolves a pending approval.
type Decision string

const (
	Approve Decision = "approve"
	Reject  Decision = "reject"
)

// ParseDecision accepts approve/reject and their y/n shorthands.
func ParseDecision(value string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "approve", "y", "yes":
		return Approve, nil
	case "reject", "n", "no":
		return Reject, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDecision, value)
	}
}

// EventKind is what the caller must do next.
type EventKind string

const (
	EventAwaitingApproval EventKind = "awaiting_approval"
	EventCompleted        EventKind = "completed"
	EventAborted          EventKind = "aborted"
)

// Event is the outcome of Submit or Decide.
type Event struct {
	Kind    EventKind
	RunID   string
	Pending []core.ToolCall
	Answer  string
	Reason  string
	// Err is set for EventAborted and wraps one of the budget, rejection or
	// reasoner sentinels.
	Err error
}

// Config configures an Engine.
type Config struct {
	Reasoner        reasoner.Reasoner
	Registry        *tools.Registry
	Instructions    string
	MaxTurns        int
	MaxParseRetries int
	Policy          ApprovalPolicy
	Logger          *slog.Logger
	Tracer          trace.Tracer
}

// Engine drives runs. It holds no per-run state, so one Engine serves any
// number of runs as long as each run is driven by one caller at a time.
type Engine struct {
	reasoner        reasoner.Reasoner
	registry        *tools.Registry
	instructions    string
	maxTurns        int
	maxParseRetries int
	policy          ApprovalPolicy
	logger          *slog.Logger
	tracer          trace.Tracer
}

// New creates an engine with explicit dependencies.
func New(cfg Config) (*Engine, error) {
	if cfg.Reasoner == nil {
		return nil, ErrReasonerRequired
	}
	if cfg.Registry == nil {
		return nil, ErrRegistryRequired
	}

	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	maxParseRetries := cfg.MaxParseRetries
	if maxParseRetries <= 0 {
		maxParseRetries = defaultMaxParseRetries
	}
	logger := logging.OrDiscard(cfg.Logger)
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	return &Engine{
		reasoner:        cfg.Reasoner,
		registry:        cfg.Registry,
		instructions:    cfg.Instructions,
		maxTurns:        maxTurns,
		maxParseRetries: maxParseRetries,
		policy:          cfg.Policy,
		logger:          logger,
		tracer:          tracer,
	}, nil
}

// RequiresApproval reports whether the engine gates calls to name.
func (e *Engine) RequiresApproval(name string) bool {
	return e.policy.Requires(name)
}

// Submit appends user input and runs until the run completes, aborts, or
// suspends for approval. Budgets reset on every Submit.
func (e *Engine) Submit(ctx context.Context, run *Run, text string) (Event, error) {
	if run == nil {
		return Event{}, ErrRunRequired
	}
	switch run.state.Status {
	case StatusTerminated:
		return Event{}, fmt.Errorf("%w: %s", ErrRunTerminated, run.id)
	case StatusAwaitingApproval:
		return Event{}, fmt.Errorf("%w: %s", ErrAwaitingApproval, run.id)
	}

	run.turns = 0
	run.parseFailures = 0
	run.history = append(run.history, core.UserMessage(text))
	if run.state.Status == StatusIdle {
		e.transition(run, State{Status: StatusRunning})
	}
	return e.advance(ctx, run), nil
}

// Decide resolves the pending approval of run. Approve dispatches every
// pending call in order and resumes reasoning. Reject records a refusal for
// each call, dispatches nothing, and aborts the run.
func (e *Engine) Decide(ctx context.Context, run *Run, decision Decision) (Event, error) {
	if run == nil {
		return Event{}, ErrRunRequired
	}
	if run.state.Status != StatusAwaitingApproval {
		return Event{}, fmt.Errorf("%w: %s is %s", ErrNoPendingApproval, run.id, run.state.Status)
	}

	pending := run.state.Pending
	switch decision {
	case Approve:
		e.logger.Info("tool calls approved", "run_id", run.id, "calls", len(pending))
		e.transition(run, State{Status: StatusRunning})
		e.dispatch(ctx, run, pending)
		return e.advance(ctx, run), nil
	case Reject:
		for _, call := range pending {
			run.history = append(run.history, core.ObservationMessage(core.ToolResult{
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Kind:       core.ObservationRejected,
				Content:    rejectedContent,
				IsError:    true,
			}))
		}
		e.logger.Warn("tool calls rejected", "run_id", run.id, "calls", len(pending))
		return e.abort(run, fmt.Errorf("%w: %s", ErrRejected, callNames(pending))), nil
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}
}

// advance loops reason -> act until the run leaves Running.
func (e *Engine) advance(ctx context.Context, run *Run) Event {
	for {
		if run.turns >= e.maxTurns {
			e.logger.Warn("loop budget exhausted", "run_id", run.id, "turns", run.turns)
			return e.abort(run, fmt.Errorf("%w: %d turns", ErrLoopBudgetExceeded, e.maxTurns))
		}
		run.turns++

		resp, err := e.reason(ctx, run)
		if err != nil {
			e.logger.Error("reasoner failed", "run_id", run.id, "turn", run.turns, "error", err)
			return e.abort(run, fmt.Errorf("%w: %w", ErrReasonerUnavailable, err))
		}

		step := parser.Parse(resp)
		switch step.Kind {
		case parser.KindFinalAnswer:
			run.history = append(run.history, core.Message{Role: core.RoleAssistant, Content: assistantContent(resp, step)})
			run.answer = step.Answer
			e.transition(run, State{Status: StatusTerminated, Outcome: OutcomeCompleted})
			return Event{Kind: EventCompleted, RunID: run.id, Answer: step.Answer}

		case parser.KindParseError:
			run.history = append(run.history,
				core.Message{Role: core.RoleAssistant, Content: resp.Text},
				core.ObservationMessage(core.ToolResult{
					Kind:    core.ObservationParseError,
					Content: step.Observation(),
					IsError: true,
				}),
			)
			run.parseFailures++
			e.logger.Debug("reply did not parse", "run_id", run.id, "turn", run.turns, "failures", run.parseFailures, "error", step.Err)
			if run.parseFailures >= e.maxParseRetries {
				e.logger.Warn("parse retry budget exhausted", "run_id", run.id, "failures", run.parseFailures)
				return e.abort(run, fmt.Errorf("%w: %d failures: %w", ErrParseBudgetExceeded, run.parseFailures, step.Err))
			}

		case parser.KindToolRequest:
			calls := assignCallIDs(step.Calls)
			run.history = append(run.history, core.Message{
				Role:      core.RoleAssistant,
				Content:   assistantContent(resp, step),
				ToolCalls: core.CloneToolCalls(calls),
			})
			if e.gated(calls) {
				e.transition(run, State{Status: StatusAwaitingApproval, Pending: calls})
				return Event{Kind: EventAwaitingApproval, RunID: run.id, Pending: core.CloneToolCalls(calls)}
			}
			e.dispatch(ctx, run, calls)
		}
	}
}

func (e *Engine) reason(ctx context.Context, run *Run) (reasoner.Response, error) {
	ctx, span := e.tracer.Start(ctx, "agent.reason", trace.WithAttributes(
		attribute.String("hitl.run_id", run.id),
		attribute.Int("hitl.turn", run.turns),
	))
	defer span.End()

	resp, err := e.reasoner.Invoke(ctx, core.CloneMessages(run.history), e.instructions)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return reasoner.Response{}, err
	}
	span.SetAttributes(
		attribute.Int("gen_ai.usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int("gen_ai.usage.output_tokens", resp.Usage.OutputTokens),
		attribute.Int("hitl.tool_calls", len(resp.ToolCalls)),
	)
	return resp, nil
}

// dispatch runs calls in order and appends one observation per call.
func (e *Engine) dispatch(ctx context.Context, run *Run, calls []core.ToolCall) {
	for _, call := range calls {
		_, span := e.tracer.Start(ctx, "agent.dispatch", trace.WithAttributes(
			attribute.String("hitl.run_id", run.id),
			attribute.String("hitl.tool.name", call.Name),
			attribute.String("hitl.tool.call_id", call.ID),
		))
		obs := e.registry.Dispatch(ctx, call.Name, call.Arguments)
		if obs.Err != nil {
			span.RecordError(obs.Err)
			span.SetStatus(codes.Error, obs.Err.Error())
		}
		span.End()

		e.logger.Debug("tool dispatched", "run_id", run.id, "tool", call.Name, "call_id", call.ID, "kind", obs.Kind)
		run.history = append(run.history, core.ObservationMessage(obs.Result(call)))
	}
}

// gated reports whether any registered tool in calls needs approval. Calls
// to unknown tools only produce a not-found observation, so they never
// suspend the run on their own.
func (e *Engine) gated(calls []core.ToolCall) bool {
	for _, call := range calls {
		if _, err := e.registry.Get(call.Name); err != nil {
			continue
		}
		if e.policy.Requires(call.Name) {
			return true
		}
	}
	return false
}

func (e *Engine) abort(run *Run, err error) Event {
	e.transition(run, State{Status: StatusTerminated, Outcome: OutcomeAborted, Reason: err.Error()})
	return Event{Kind: EventAborted, RunID: run.id, Reason: err.Error(), Err: err}
}

func (e *Engine) transition(run *Run, next State) {
	if err := validateTransition(run.state.Status, next.Status); err != nil {
		// Every caller checks the source status first.
		panic(err)
	}
	e.logger.Debug("run transition", "run_id", run.id, "from", run.state.Status, "to", next.Status, "turn", run.turns)
	run.state = next
}

// assistantContent is the text recorded for the assistant turn: the
// extracted Thought/Action span for transcript replies, so invented
// follow-up turns never enter the history, and the raw text otherwise.
func assistantContent(resp reasoner.Response, step parser.Step) string {
	if !resp.Structured && step.Span != "" {
		return step.Span
	}
	return resp.Text
}

func assignCallIDs(calls []core.ToolCall) []core.ToolCall {
	out := core.CloneToolCalls(calls)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = "call_" + uuid.NewString()
		}
	}
	return out
}

func callNames(calls []core.ToolCall) string {
	names := make([]string, 0, len(calls))
	for _, call := range calls {
		names = append(names, call.Name)
	}
	return strings.Join(names, ", ")
}
