package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidRequest indicates missing or malformed provider request input.
	ErrInvalidRequest = errors.New("invalid llm request")
	// ErrMissingAPIKey indicates missing provider API key.
	ErrMissingAPIKey = errors.New("missing api key")
)

// Provider streams model events for a single request.
type Provider interface {
	Stream(ctx context.Context, req *Request) (<-chan Event, error)
}

// EventType identifies stream event variants.
type EventType string

const (
	EventStart         EventType = "start"
	EventTextDelta     EventType = "text_delta"
	EventToolCallStart EventType = "tool_call_start"
	EventToolCallDelta EventType = "tool_call_delta"
	EventToolCallEnd   EventType = "tool_call_end"
	EventUsage         EventType = "usage"
	EventDone          EventType = "done"
	EventError         EventType = "error"
)

// ToolSpec describes a tool exposed to the model.
// Schema can be generated from a Go struct via NewToolSpecFromStruct.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

// RetryPolicy configures retry/backoff behavior for retryable failures.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Request is the provider-agnostic streaming request.
// Tools is empty when the caller wants a plain-text reply.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolSpec
	MaxTokens   int
	Temperature *float64
	Retry       RetryPolicy
}

// Validate checks what every backend needs before a request is sent: a
// model, a known role per message, and a result on every tool message.
func (r *Request) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: request is nil", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Model) == "" {
		return fmt.Errorf("%w: model is required", ErrInvalidRequest)
	}
	if r.MaxTokens < 0 {
		return fmt.Errorf("%w: max tokens must not be negative", ErrInvalidRequest)
	}
	for i, msg := range r.Messages {
		switch msg.Role {
		case RoleUser, RoleAssistant:
		case RoleTool:
			if msg.ToolResult == nil {
				return fmt.Errorf("%w: message %d: tool message without result", ErrInvalidRequest, i)
			}
		default:
			return fmt.Errorf("%w: message %d: unsupported role %q", ErrInvalidRequest, i, msg.Role)
		}
	}
	return nil
}

// DonePayload carries the final status when the stream ends normally.
type DonePayload struct {
	Reason StopReason
	Usage  Usage
}

// Event is the provider-agnostic streaming event.
type Event struct {
	Type          EventType
	TextDelta     string
	ToolCall      *ToolCall
	ToolCallDelta string
	Usage         *Usage
	Done          *DonePayload
	Err           error
}

// SendEvent forwards an event unless the context has already been canceled.
func SendEvent(ctx context.Context, events chan<- Event, event Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case events <- event:
		return nil
	}
}

// SendTerminalEvent delivers the final event of a stream. It blocks until the
// consumer receives it, so an error is never lost behind an unread delta. Once
// ctx ends it only sends if the buffer has room.
func SendTerminalEvent(ctx context.Context, events chan<- Event, event Event) {
	select {
	case events <- event:
	case <-ctx.Done():
		select {
		case events <- event:
		default:
		}
	}
}
