package llm

import (
	anthropicprovider "hitl/internal/llm/providers/anthropic"
	mockprovider "hitl/internal/llm/providers/mock"
	openaiprovider "hitl/internal/llm/providers/openai"

	"hitl/internal/llm/core"
)

type (
	// Provider is the public streaming provider contract.
	Provider = core.Provider

	// EventType enumerates stream event variants.
	EventType   = core.EventType
	ToolSpec    = core.ToolSpec
	RetryPolicy = core.RetryPolicy

	// Request and Event payload aliases define the public stream protocol.
	Request     = core.Request
	DonePayload = core.DonePayload
	Event       = core.Event

	// Conversation-model aliases.
	Role            = core.Role
	StopReason      = core.StopReason
	ObservationKind = core.ObservationKind
	ToolCall        = core.ToolCall
	ToolResult      = core.ToolResult
	Message         = core.Message
	Usage           = core.Usage

	AnthropicConfig   = anthropicprovider.Config
	AnthropicProvider = anthropicprovider.Provider

	// OpenAI* aliases cover any OpenAI-compatible endpoint, OpenRouter included.
	OpenAIConfig   = openaiprovider.Config
	OpenAIProvider = openaiprovider.Provider

	// MockProvider replays scripted turns for tests.
	MockProvider = mockprovider.Provider
	MockTurn     = mockprovider.Turn
)

const (
	EventStart         = core.EventStart
	EventTextDelta     = core.EventTextDelta
	EventToolCallStart = core.EventToolCallStart
	EventToolCallDelta = core.EventToolCallDelta
	EventToolCallEnd   = core.EventToolCallEnd
	EventUsage         = core.EventUsage
	EventDone          = core.EventDone
	EventError         = core.EventError

	RoleUser      = core.RoleUser
	RoleAssistant = core.RoleAssistant
	RoleTool      = core.RoleTool

	StopReasonStop    = core.StopReasonStop
	StopReasonLength  = core.StopReasonLength
	StopReasonToolUse = core.StopReasonToolUse
	StopReasonError   = core.StopReasonError
	StopReasonAborted = core.StopReasonAborted

	ObservationOK           = core.ObservationOK
	ObservationToolNotFound = core.ObservationToolNotFound
	ObservationToolError    = core.ObservationToolError
	ObservationParseError   = core.ObservationParseError
	ObservationRejected     = core.ObservationRejected
)

var (
	// ErrInvalidRequest indicates malformed canonical request payloads.
	ErrInvalidRequest = core.ErrInvalidRequest
	// ErrMissingAPIKey indicates missing provider credentials.
	ErrMissingAPIKey = core.ErrMissingAPIKey
)

// NewToolSpecFromStruct reflects a Go struct into a normalized tool schema.
func NewToolSpecFromStruct(name, description string, schemaStruct any) (ToolSpec, error) {
	return core.NewToolSpecFromStruct(name, description, schemaStruct)
}

// NewAnthropicProvider constructs an Anthropic provider with normalized defaults.
func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	return anthropicprovider.New(cfg)
}

// NewOpenAIProvider constructs an OpenAI-compatible provider.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	return openaiprovider.New(cfg)
}

// NewMockProvider constructs a scripted provider.
func NewMockProvider(turns ...MockTurn) *MockProvider {
	return mockprovider.New(turns...)
}
