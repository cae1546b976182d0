package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"strings"
	"sync"

	"hitl/internal/llm/core"
)

var (
	ErrToolRequired          = errors.New("tool is required")
	ErrToolNameRequired      = errors.New("tool name is required")
	ErrToolAlreadyRegistered = errors.New("tool already registered")
	ErrToolNotFound          = errors.New("tool not found")
	ErrToolExecution         = errors.New("tool execution failed")
)

// Tool is the runtime contract for every registered tool. Arguments arrive
// as plain strings and output is opaque text.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, args map[string]string) (string, error)
}

// Handler is the function form of Tool.Execute.
type Handler func(ctx context.Context, args map[string]string) (string, error)

// Observation is the uniform outcome of a dispatch.
type Observation struct {
	OK      bool
	Kind    core.ObservationKind
	Content string
	// Err wraps ErrToolNotFound or ErrToolExecution when OK is false.
	Err error
}

// Result pairs the observation with the call it answers.
func (o Observation) Result(call core.ToolCall) core.ToolResult {
	return core.ToolResult{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Kind:       o.Kind,
		Content:    o.Content,
		IsError:    !o.OK,
	}
}

// Registry stores tools by name and dispatches calls by lookup.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	order  []string
	logger *slog.Logger
}

// NewRegistry constructs an empty tool registry and optionally registers tools.
func NewRegistry(initial ...Tool) *Registry {
	r := &Registry{
		tools:  make(map[string]Tool, len(initial)),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, tool := range initial {
		_ = r.Register(tool)
	}
	return r
}

// WithLogger sets the logger used for dispatch failures.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// Register inserts a tool by its canonical name.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return ErrToolRequired
	}
	name := strings.TrimSpace(tool.Name())
	if name == "" {
		return ErrToolNameRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, name)
	}
	r.tools[name] = tool
	r.order = append(r.order, name)
	return nil
}

// RegisterFunc registers handler under name. The argument schema is
// reflected from argsStruct, whose json tags name the arguments.
func (r *Registry) RegisterFunc(name, description string, argsStruct any, handler Handler) error {
	if handler == nil {
		return ErrToolRequired
	}
	spec, err := core.NewToolSpecFromStruct(name, description, argsStruct)
	if err != nil {
		return fmt.Errorf("tool %s schema: %w", name, err)
	}
	return r.Register(funcTool{spec: spec, handler: handler})
}

// Get returns a registered tool by name.
func (r *Registry) Get(name string) (Tool, error) {
	lookup := strings.TrimSpace(name)
	if lookup == "" {
		return nil, ErrToolNameRequired
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[lookup]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, lookup)
	}
	return tool, nil
}

// Names lists registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Specs describes the registered tools in registration order.
func (r *Registry) Specs() []core.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]core.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		specs = append(specs, core.ToolSpec{
			Name:        name,
			Description: tool.Description(),
			Schema:      tool.Schema(),
		})
	}
	return specs
}

// Dispatch runs the named tool. It never returns an error and never panics:
// unknown names, missing required arguments, handler errors and handler
// panics all become failed observations.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]string) (obs Observation) {
	tool, err := r.Get(name)
	if err != nil {
		r.logger.Warn("tool not found", "tool", name)
		return Observation{
			Kind:    core.ObservationToolNotFound,
			Content: fmt.Sprintf("error: tool %q not found; available tools: %s", name, strings.Join(r.Names(), ", ")),
			Err:     fmt.Errorf("%w: %q", ErrToolNotFound, name),
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panicked", "tool", name, "panic", rec, "stack", string(debug.Stack()))
			obs = r.failure(name, fmt.Errorf("%w: %s: panic: %v", ErrToolExecution, name, rec))
		}
	}()

	if missing := missingRequired(tool.Schema(), args); len(missing) > 0 {
		return r.failure(name, fmt.Errorf("%w: %s: missing required argument(s) %s", ErrToolExecution, name, strings.Join(missing, ", ")))
	}

	out, err := tool.Execute(ctx, args)
	if err != nil {
		return r.failure(name, fmt.Errorf("%w: %s: %w", ErrToolExecution, name, err))
	}
	return Observation{OK: true, Kind: core.ObservationOK, Content: out}
}

func (r *Registry) failure(name string, err error) Observation {
	r.logger.Warn("tool failed", "tool", name, "error", err)
	return Observation{Kind: core.ObservationToolError, Content: "error: " + err.Error(), Err: err}
}

// missingRequired lists required schema properties absent from args.
func missingRequired(schema json.RawMessage, args map[string]string) []string {
	decoded, err := core.DecodeToolJSONSchema(schema)
	if err != nil {
		return nil
	}
	return decoded.Missing(args)
}

type funcTool struct {
	spec    core.ToolSpec
	handler Handler
}

func (f funcTool) Name() string            { return f.spec.Name }
func (f funcTool) Description() string     { return f.spec.Description }
func (f funcTool) Schema() json.RawMessage { return f.spec.Schema }

func (f funcTool) Execute(ctx context.Context, args map[string]string) (string, error) {
	return f.handler(ctx, args)
}

// schemaOf reflects argsStruct into a tool schema, falling back to an empty
// object schema.
func schemaOf(argsStruct any) json.RawMessage {
	spec, err := core.NewToolSpecFromStruct("", "", argsStruct)
	if err != nil {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return spec.Schema
}
