package anthropicprovider

import (
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"

	"hitl/internal/llm/core"
)

// defaultMaxTokens is used when callers do not provide an explicit token budget.
const defaultMaxTokens = 1024

// parseErrorPrefix labels observations that answer a malformed assistant turn.
// They carry no tool_use id, so they travel as plain user text.
const parseErrorPrefix = "Observation: "

// mapStopReason maps Anthropic stop reasons to canonical provider-agnostic values.
func mapStopReason(reason string) (core.StopReason, error) {
	switch reason {
	case "end_turn", "stop_sequence", "pause_turn":
		return core.StopReasonStop, nil
	case "max_tokens":
		return core.StopReasonLength, nil
	case "tool_use":
		return core.StopReasonToolUse, nil
	case "refusal", "sensitive":
		return core.StopReasonError, nil
	default:
		return "", fmt.Errorf("unhandled stop reason: %s", reason)
	}
}

// toAnthropicSDKParams validates and converts a canonical request into SDK params.
func toAnthropicSDKParams(req *core.Request) (anthropic.MessageNewParams, error) {
	if err := req.Validate(); err != nil {
		return anthropic.MessageNewParams{}, err
	}

	messages, err := toSDKMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if strings.TrimSpace(req.System) != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools, err := toSDKTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	return params, nil
}

// toSDKMessages converts canonical conversation messages into Anthropic SDK
// messages. Consecutive user-side blocks (user text, tool results and
// parse-error observations) are merged so roles keep alternating.
func toSDKMessages(messages []core.Message) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(messages))
	var pending []anthropic.ContentBlockParamUnion

	flushUser := func() {
		if len(pending) > 0 {
			out = append(out, anthropic.NewUserMessage(pending...))
			pending = nil
		}
	}

	for _, msg := range messages {
		switch msg.Role {
		case core.RoleUser:
			if msg.Content != "" {
				pending = append(pending, anthropic.NewTextBlock(msg.Content))
			}
		case core.RoleTool:
			block, err := toSDKObservationBlock(msg)
			if err != nil {
				return nil, err
			}
			pending = append(pending, block)
		case core.RoleAssistant:
			flushUser()
			blocks := toSDKAssistantBlocks(msg)
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("%w: unsupported role %q", core.ErrInvalidRequest, msg.Role)
		}
	}
	flushUser()

	return out, nil
}

// toSDKObservationBlock renders one observation. Observations tied to a call
// become tool_result blocks; parse-error observations become user text.
func toSDKObservationBlock(msg core.Message) (anthropic.ContentBlockParamUnion, error) {
	tr := msg.ToolResult
	if tr == nil {
		return anthropic.ContentBlockParamUnion{}, fmt.Errorf("%w: tool message without result", core.ErrInvalidRequest)
	}
	if strings.TrimSpace(tr.ToolCallID) == "" {
		if tr.Kind != core.ObservationParseError {
			return anthropic.ContentBlockParamUnion{}, fmt.Errorf("%w: tool result missing tool_call_id", core.ErrInvalidRequest)
		}
		return anthropic.NewTextBlock(parseErrorPrefix + tr.Content), nil
	}
	return anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError), nil
}

// toSDKAssistantBlocks builds assistant blocks, including tool_use blocks when present.
func toSDKAssistantBlocks(msg core.Message) []anthropic.ContentBlockParamUnion {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(msg.ToolCalls))
	if msg.Content != "" {
		blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
	}
	for _, call := range msg.ToolCalls {
		if strings.TrimSpace(call.ID) == "" || strings.TrimSpace(call.Name) == "" {
			continue
		}
		blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, core.ArgumentsAsAny(call.Arguments), call.Name))
	}
	return blocks
}

// toSDKTools converts canonical tool specs into Anthropic SDK tool definitions.
func toSDKTools(tools []core.ToolSpec) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		schema, err := core.DecodeToolJSONSchema(tool.Schema)
		if err != nil {
			return nil, fmt.Errorf("decode tool schema for %q: %w", tool.Name, err)
		}
		toolParam := anthropic.ToolParam{
			Name: tool.Name,
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schema.Properties,
				Required:   schema.Required,
			},
		}
		if strings.TrimSpace(tool.Description) != "" {
			toolParam.Description = anthropic.String(tool.Description)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return out, nil
}
