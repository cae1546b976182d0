package openaiprovider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"hitl/internal/llm/core"
)

// toLLMMessages converts canonical history into langchaingo message content.
// Each tool observation is its own message; parse-error observations carry
// no call id and are sent as human text.
func toLLMMessages(system string, messages []core.Message) ([]llms.MessageContent, error) {
	out := make([]llms.MessageContent, 0, len(messages)+1)
	if strings.TrimSpace(system) != "" {
		out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}

	for _, msg := range messages {
		switch msg.Role {
		case core.RoleUser:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, msg.Content))
		case core.RoleAssistant:
			parts := make([]llms.ContentPart, 0, 1+len(msg.ToolCalls))
			if msg.Content != "" {
				parts = append(parts, llms.TextPart(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				parts = append(parts, llms.ToolCall{
					ID:   call.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      call.Name,
						Arguments: string(core.EncodeArguments(call.Arguments)),
					},
				})
			}
			if len(parts) == 0 {
				continue
			}
			out = append(out, llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: parts})
		case core.RoleTool:
			tr := msg.ToolResult
			if tr == nil {
				return nil, fmt.Errorf("%w: tool message without result", core.ErrInvalidRequest)
			}
			if strings.TrimSpace(tr.ToolCallID) == "" {
				if tr.Kind != core.ObservationParseError {
					return nil, fmt.Errorf("%w: tool result missing tool_call_id", core.ErrInvalidRequest)
				}
				out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, "Observation: "+tr.Content))
				continue
			}
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: tr.ToolCallID,
					Name:       tr.ToolName,
					Content:    tr.Content,
				}},
			})
		default:
			return nil, fmt.Errorf("%w: unsupported role %q", core.ErrInvalidRequest, msg.Role)
		}
	}
	return out, nil
}

// toLLMTools exposes tool specs as OpenAI function definitions.
func toLLMTools(tools []core.ToolSpec) []llms.Tool {
	out := make([]llms.Tool, 0, len(tools))
	for _, tool := range tools {
		var params any = json.RawMessage(`{"type":"object","properties":{}}`)
		if len(tool.Schema) > 0 {
			params = json.RawMessage(tool.Schema)
		}
		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

// fromLLMToolCalls decodes function-call arguments into canonical tool calls.
func fromLLMToolCalls(calls []llms.ToolCall) ([]core.ToolCall, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	out := make([]core.ToolCall, 0, len(calls))
	for _, call := range calls {
		if call.FunctionCall == nil {
			continue
		}
		args, err := core.DecodeArguments(json.RawMessage(call.FunctionCall.Arguments))
		if err != nil {
			return nil, fmt.Errorf("tool_call %q arguments: %w", call.FunctionCall.Name, err)
		}
		out = append(out, core.ToolCall{ID: call.ID, Name: call.FunctionCall.Name, Arguments: args})
	}
	return out, nil
}

func mapStopReason(reason string) core.StopReason {
	switch reason {
	case "length":
		return core.StopReasonLength
	case "tool_calls", "function_call":
		return core.StopReasonToolUse
	case "content_filter":
		return core.StopReasonError
	default:
		return core.StopReasonStop
	}
}

// usageFromGenerationInfo reads the token counters langchaingo copies out of
// the completion usage block.
func usageFromGenerationInfo(info map[string]any) core.Usage {
	return core.Usage{
		InputTokens:  intFromInfo(info, "PromptTokens"),
		OutputTokens: intFromInfo(info, "CompletionTokens"),
	}
}

func intFromInfo(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
