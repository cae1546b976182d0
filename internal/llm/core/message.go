package core

import "maps"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// StopReason represents the canonical reason a model response stopped.
type StopReason string

const (
	StopReasonStop    StopReason = "stop"
	StopReasonLength  StopReason = "length"
	StopReasonToolUse StopReason = "tool_use"
	StopReasonError   StopReason = "error"
	StopReasonAborted StopReason = "aborted"
)

// ObservationKind classifies how a tool observation was produced.
type ObservationKind string

const (
	ObservationOK           ObservationKind = "ok"
	ObservationToolNotFound ObservationKind = "tool_not_found"
	ObservationToolError    ObservationKind = "tool_error"
	ObservationParseError   ObservationKind = "parse_error"
	ObservationRejected     ObservationKind = "rejected"
)

// ToolCall is one requested invocation of a named tool.
// ID is unique within the assistant turn that issued it.
type ToolCall struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// ToolResult is the observation fed back into the conversation for a tool call.
// ToolCallID is empty only for parse-error observations, which answer an
// assistant turn that carried no well-formed call.
type ToolResult struct {
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Kind       ObservationKind `json:"kind"`
	Content    string          `json:"content"`
	IsError    bool            `json:"is_error"`
}

// Message is the provider-agnostic conversation record.
type Message struct {
	Role       Role        `json:"role"`
	Content    string      `json:"content,omitempty"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// UserMessage builds a user-authored message.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// ObservationMessage wraps a tool result in a tool-observation message.
func ObservationMessage(result ToolResult) Message {
	return Message{Role: RoleTool, Content: result.Content, ToolResult: &result}
}

// Usage tracks provider token accounting.
type Usage struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	CacheReadTokens  int `json:"cache_read_tokens"`
	CacheWriteTokens int `json:"cache_write_tokens"`
}

// TokenCount returns the total tokens consumed across all usage buckets.
func (u Usage) TokenCount() int {
	return u.InputTokens + u.OutputTokens + u.CacheReadTokens + u.CacheWriteTokens
}

// Clone returns a copy safe to share as pointer payload.
func (u Usage) Clone() *Usage {
	copied := u
	return &copied
}

// CloneToolCall returns a deep copy of call.
func CloneToolCall(call ToolCall) ToolCall {
	cloned := call
	if call.Arguments != nil {
		cloned.Arguments = maps.Clone(call.Arguments)
	}
	return cloned
}

// CloneToolCalls returns a deep copy of calls, preserving order.
func CloneToolCalls(calls []ToolCall) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	cloned := make([]ToolCall, 0, len(calls))
	for _, call := range calls {
		cloned = append(cloned, CloneToolCall(call))
	}
	return cloned
}

// CloneMessage returns a deep copy of msg.
func CloneMessage(msg Message) Message {
	cloned := Message{
		Role:      msg.Role,
		Content:   msg.Content,
		ToolCalls: CloneToolCalls(msg.ToolCalls),
	}
	if msg.ToolResult != nil {
		result := *msg.ToolResult
		cloned.ToolResult = &result
	}
	return cloned
}

// CloneMessages returns a deep copy of messages.
func CloneMessages(messages []Message) []Message {
	if len(messages) == 0 {
		return nil
	}
	cloned := make([]Message, 0, len(messages))
	for _, msg := range messages {
		cloned = append(cloned, CloneMessage(msg))
	}
	return cloned
}
