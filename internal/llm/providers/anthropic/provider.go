package anthropicprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"hitl/internal/llm/core"
	"hitl/internal/logging"
)

// Config configures the Anthropic provider.
type Config struct {
	APIKey     string
	BaseURL    string
	Version    string
	HTTPClient *http.Client
	Retry      core.RetryPolicy
	Logger     *slog.Logger
}

// Provider is a thin wrapper around the official anthropic-sdk-go client.
type Provider struct {
	apiKey string
	retry  core.RetryPolicy
	logger *slog.Logger

	client anthropic.Client
}

// New constructs a provider with sane defaults.
func New(cfg Config) *Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	version := strings.TrimSpace(cfg.Version)

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	logger := logging.OrDiscard(cfg.Logger)

	apiKey := strings.TrimSpace(cfg.APIKey)
	clientOptions := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0), // retries are driven by streamWithRetry
	}
	if baseURL != "" {
		clientOptions = append(clientOptions, option.WithBaseURL(baseURL))
	}
	if version != "" {
		clientOptions = append(clientOptions, option.WithHeader("anthropic-version", version))
	}

	return &Provider{
		apiKey: apiKey,
		retry:  core.NormalizeRetryPolicy(cfg.Retry),
		logger: logger.With("provider", "anthropic"),
		client: anthropic.NewClient(clientOptions...),
	}
}

// Stream executes a single Anthropic Messages API streaming request.
func (p *Provider) Stream(ctx context.Context, req *core.Request) (<-chan core.Event, error) {
	if p == nil {
		return nil, fmt.Errorf("anthropic provider is nil")
	}
	if p.apiKey == "" {
		return nil, core.ErrMissingAPIKey
	}

	params, err := toAnthropicSDKParams(req)
	if err != nil {
		return nil, err
	}

	events := make(chan core.Event, 1)
	retry := core.MergeRetryPolicy(p.retry, req.Retry)

	go func() {
		defer close(events)
		state := &streamState{reason: core.StopReasonStop}
		if err := p.streamWithRetry(ctx, params, retry, events, state); err != nil {
			reason := core.StopReasonError
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				reason = core.StopReasonAborted
			}
			core.SendTerminalEvent(ctx, events, core.Event{
				Type: core.EventError,
				Done: &core.DonePayload{Reason: reason, Usage: state.usage},
				Err:  fmt.Errorf("anthropic stream: %w", err),
			})
		}
	}()

	return events, nil
}

// streamState tracks incremental response state across one logical stream request.
type streamState struct {
	usage            core.Usage
	reason           core.StopReason
	emittedVisible   bool
	startEmitted     bool
	emittedDone      bool
	toolAccumulators map[int]*toolCallAccumulator
}

// toolCallAccumulator rebuilds chunked JSON tool input for one content block.
type toolCallAccumulator struct {
	id   string
	name string
	buf  strings.Builder
}

// streamWithRetry retries failed streams only while nothing visible has been emitted.
func (p *Provider) streamWithRetry(
	ctx context.Context,
	params anthropic.MessageNewParams,
	retry core.RetryPolicy,
	events chan<- core.Event,
	state *streamState,
) error {
	for attempt := 0; ; attempt++ {
		err := p.streamOnce(ctx, params, events, state)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if !core.IsRetryableError(err) || state.emittedVisible || attempt >= retry.MaxRetries {
			return err
		}
		p.logger.Warn("retrying stream", "attempt", attempt+1, "error", err)
		if err := core.SleepContext(ctx, core.ComputeBackoffDelay(retry, attempt)); err != nil {
			return err
		}
	}
}

// streamOnce consumes one SDK stream and emits canonical events.
func (p *Provider) streamOnce(
	ctx context.Context,
	params anthropic.MessageNewParams,
	events chan<- core.Event,
	state *streamState,
) error {
	stream := p.client.Messages.NewStreaming(ctx, params)
	defer func() {
		_ = stream.Close()
	}()

	if !state.startEmitted {
		if err := core.SendEvent(ctx, events, core.Event{Type: core.EventStart}); err != nil {
			return err
		}
		state.startEmitted = true
	}
	if state.toolAccumulators == nil {
		state.toolAccumulators = map[int]*toolCallAccumulator{}
	}

	for stream.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := handleSDKStreamEvent(ctx, stream.Current(), events, state); err != nil {
			return err
		}
		if state.emittedDone {
			return nil
		}
	}

	if err := stream.Err(); err != nil {
		return classifyStreamError(err)
	}
	if state.emittedDone {
		return nil
	}
	return core.MarkRetryable(errors.New("anthropic stream ended without message_stop"))
}

// handleSDKStreamEvent maps raw Anthropic stream events into canonical events.
// Thinking and server-tool blocks carry nothing the agent consumes and are skipped.
func handleSDKStreamEvent(
	ctx context.Context,
	event anthropic.MessageStreamEventUnion,
	events chan<- core.Event,
	state *streamState,
) error {
	switch variant := event.AsAny().(type) {
	case anthropic.MessageStartEvent:
		applyStartUsage(&state.usage, variant.Message.Usage)
		return core.SendEvent(ctx, events, core.Event{Type: core.EventUsage, Usage: state.usage.Clone()})

	case anthropic.ContentBlockStartEvent:
		block, ok := variant.ContentBlock.AsAny().(anthropic.ToolUseBlock)
		if !ok {
			return nil
		}
		acc := &toolCallAccumulator{id: block.ID, name: block.Name}
		raw, err := json.Marshal(block.Input)
		if err != nil {
			return fmt.Errorf("marshal tool_use input: %w", err)
		}
		if raw = bytes.TrimSpace(raw); len(raw) > 0 && string(raw) != "{}" && string(raw) != "null" {
			_, _ = acc.buf.Write(raw)
		}
		state.toolAccumulators[int(variant.Index)] = acc
		state.emittedVisible = true
		return core.SendEvent(ctx, events, core.Event{
			Type:     core.EventToolCallStart,
			ToolCall: &core.ToolCall{ID: block.ID, Name: block.Name},
		})

	case anthropic.ContentBlockDeltaEvent:
		switch delta := variant.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			state.emittedVisible = true
			return core.SendEvent(ctx, events, core.Event{Type: core.EventTextDelta, TextDelta: delta.Text})
		case anthropic.InputJSONDelta:
			acc, ok := state.toolAccumulators[int(variant.Index)]
			if !ok {
				return fmt.Errorf("tool_call accumulator not found for index %d", variant.Index)
			}
			_, _ = acc.buf.WriteString(delta.PartialJSON)
			state.emittedVisible = true
			return core.SendEvent(ctx, events, core.Event{Type: core.EventToolCallDelta, ToolCallDelta: delta.PartialJSON})
		default:
			return nil
		}

	case anthropic.ContentBlockStopEvent:
		acc, ok := state.toolAccumulators[int(variant.Index)]
		if !ok {
			return nil
		}
		delete(state.toolAccumulators, int(variant.Index))

		args, err := core.DecodeArguments(json.RawMessage(acc.buf.String()))
		if err != nil {
			return fmt.Errorf("tool_call %q arguments: %w", acc.name, err)
		}
		return core.SendEvent(ctx, events, core.Event{
			Type:     core.EventToolCallEnd,
			ToolCall: &core.ToolCall{ID: acc.id, Name: acc.name, Arguments: args},
		})

	case anthropic.MessageDeltaEvent:
		if variant.Delta.StopReason != "" {
			reason, err := mapStopReason(string(variant.Delta.StopReason))
			if err != nil {
				return err
			}
			state.reason = reason
		}
		applyDeltaUsage(&state.usage, variant.Usage)
		return core.SendEvent(ctx, events, core.Event{Type: core.EventUsage, Usage: state.usage.Clone()})

	case anthropic.MessageStopEvent:
		state.emittedDone = true
		return core.SendEvent(ctx, events, core.Event{
			Type: core.EventDone,
			Done: &core.DonePayload{Reason: state.reason, Usage: state.usage},
		})
	}

	return nil
}
