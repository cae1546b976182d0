package anthropicprovider

import (
	anthropic "github.com/anthropics/anthropic-sdk-go"

	"hitl/internal/llm/core"
)

// applyStartUsage records the counters reported by message_start.
func applyStartUsage(dst *core.Usage, usage anthropic.Usage) {
	dst.InputTokens = int(usage.InputTokens)
	dst.OutputTokens = int(usage.OutputTokens)
	dst.CacheReadTokens = int(usage.CacheReadInputTokens)
	dst.CacheWriteTokens = int(usage.CacheCreationInputTokens)
}

// applyDeltaUsage overlays message_delta counters. The API reports cumulative
// values, so zero input counters keep what message_start already recorded.
func applyDeltaUsage(dst *core.Usage, usage anthropic.MessageDeltaUsage) {
	if usage.InputTokens > 0 {
		dst.InputTokens = int(usage.InputTokens)
	}
	dst.OutputTokens = int(usage.OutputTokens)
	if usage.CacheReadInputTokens > 0 {
		dst.CacheReadTokens = int(usage.CacheReadInputTokens)
	}
	if usage.CacheCreationInputTokens > 0 {
		dst.CacheWriteTokens = int(usage.CacheCreationInputTokens)
	}
}
