package reasoner

import (
	"strings"

	"hitl/internal/llm/core"
)

// DefaultInstructions is the base preamble used when none is configured.
const DefaultInstructions = "You are a helpful assistant. Use the available tools when they help answer the user, and answer in the user's language."

const transcriptProtocol = `Reply in exactly this format, one step at a time:

Thought: <your reasoning about what to do next>
Action: <one action>

An action is either a tool call written as tool_name(key="value", ...) with every
value in double quotes, or Finish[<final answer>] when you are done.
Stop after the Action line. The result of a tool call arrives in the next message
as "Observation: ...".`

// Instructions builds the system preamble for protocol. Transcript mode
// appends the tool catalogue and the Thought/Action/Finish format.
func Instructions(base string, protocol Protocol, tools []core.ToolSpec) string {
	base = strings.TrimSpace(base)
	if base == "" {
		base = DefaultInstructions
	}
	if protocol != ProtocolTranscript {
		return base
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\nAvailable tools:\n")
	if len(tools) == 0 {
		b.WriteString("(none)\n")
	}
	for _, tool := range tools {
		b.WriteString("- ")
		b.WriteString(toolSignature(tool))
		if tool.Description != "" {
			b.WriteString(": ")
			b.WriteString(tool.Description)
		}
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.WriteString(transcriptProtocol)
	return b.String()
}

// toolSignature renders name(arg="...", ...) with arguments in sorted order.
func toolSignature(tool core.ToolSpec) string {
	schema, err := core.DecodeToolJSONSchema(tool.Schema)
	if err != nil {
		return tool.Name + "()"
	}
	keys := schema.ArgumentNames()
	args := make([]string, 0, len(keys))
	for _, key := range keys {
		args = append(args, key+`="..."`)
	}
	return tool.Name + "(" + strings.Join(args, ", ") + ")"
}
