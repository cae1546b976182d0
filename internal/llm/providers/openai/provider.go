// Package openaiprovider adapts OpenAI-compatible chat endpoints (OpenAI,
// OpenRouter, local gateways) to the canonical streaming contract.
package openaiprovider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"hitl/internal/llm/core"
	"hitl/internal/logging"
)

// Config configures the OpenAI-compatible provider.
type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Retry      core.RetryPolicy
	Logger     *slog.Logger
}

// Provider issues one chat completion per Stream call and replays the result
// as canonical events.
type Provider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	retry      core.RetryPolicy
	logger     *slog.Logger
}

// New constructs a provider with sane defaults.
func New(cfg Config) *Provider {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	logger := logging.OrDiscard(cfg.Logger)
	return &Provider{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		retry:      core.NormalizeRetryPolicy(cfg.Retry),
		logger:     logger.With("provider", "openai"),
	}
}

// Stream executes one chat completion request.
func (p *Provider) Stream(ctx context.Context, req *core.Request) (<-chan core.Event, error) {
	if p == nil {
		return nil, fmt.Errorf("openai provider is nil")
	}
	if p.apiKey == "" {
		return nil, core.ErrMissingAPIKey
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	messages, err := toLLMMessages(req.System, req.Messages)
	if err != nil {
		return nil, err
	}
	client, err := p.client(req.Model)
	if err != nil {
		return nil, err
	}
	options := callOptions(req)

	events := make(chan core.Event, 1)
	retry := core.MergeRetryPolicy(p.retry, req.Retry)

	go func() {
		defer close(events)

		var resp *llms.ContentResponse
		err := core.Retry(ctx, retry, func(attempt int) error {
			if attempt > 0 {
				p.logger.Warn("retrying completion", "attempt", attempt)
			}
			var callErr error
			resp, callErr = client.GenerateContent(ctx, messages, options...)
			if callErr != nil && isRetryableProviderError(callErr) {
				return core.MarkRetryable(callErr)
			}
			return callErr
		})
		if err == nil {
			err = emitResponse(ctx, events, resp)
		}
		if err != nil {
			reason := core.StopReasonError
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				reason = core.StopReasonAborted
			}
			core.SendTerminalEvent(ctx, events, core.Event{
				Type: core.EventError,
				Done: &core.DonePayload{Reason: reason},
				Err:  fmt.Errorf("openai completion: %w", err),
			})
		}
	}()

	return events, nil
}

func (p *Provider) client(model string) (*openai.LLM, error) {
	opts := []openai.Option{
		openai.WithToken(p.apiKey),
		openai.WithModel(model),
		openai.WithHTTPClient(p.httpClient),
	}
	if p.baseURL != "" {
		opts = append(opts, openai.WithBaseURL(p.baseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("openai client: %w", err)
	}
	return client, nil
}

func callOptions(req *core.Request) []llms.CallOption {
	var opts []llms.CallOption
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.Temperature != nil {
		opts = append(opts, llms.WithTemperature(*req.Temperature))
	}
	if len(req.Tools) > 0 {
		opts = append(opts, llms.WithTools(toLLMTools(req.Tools)))
	}
	return opts
}

// emitResponse replays a completed response as start, text, tool calls,
// usage and done events.
func emitResponse(ctx context.Context, events chan<- core.Event, resp *llms.ContentResponse) error {
	if resp == nil || len(resp.Choices) == 0 {
		return errors.New("response has no choices")
	}
	choice := resp.Choices[0]

	if err := core.SendEvent(ctx, events, core.Event{Type: core.EventStart}); err != nil {
		return err
	}
	if choice.Content != "" {
		if err := core.SendEvent(ctx, events, core.Event{Type: core.EventTextDelta, TextDelta: choice.Content}); err != nil {
			return err
		}
	}

	calls, err := fromLLMToolCalls(choice.ToolCalls)
	if err != nil {
		return err
	}
	for i := range calls {
		call := calls[i]
		if err := core.SendEvent(ctx, events, core.Event{
			Type:     core.EventToolCallStart,
			ToolCall: &core.ToolCall{ID: call.ID, Name: call.Name},
		}); err != nil {
			return err
		}
		if err := core.SendEvent(ctx, events, core.Event{Type: core.EventToolCallEnd, ToolCall: &call}); err != nil {
			return err
		}
	}

	usage := usageFromGenerationInfo(choice.GenerationInfo)
	if err := core.SendEvent(ctx, events, core.Event{Type: core.EventUsage, Usage: usage.Clone()}); err != nil {
		return err
	}
	reason := mapStopReason(choice.StopReason)
	if len(calls) > 0 {
		reason = core.StopReasonToolUse
	}
	return core.SendEvent(ctx, events, core.Event{
		Type: core.EventDone,
		Done: &core.DonePayload{Reason: reason, Usage: usage},
	})
}

// isRetryableProviderError reports rate limiting, server errors and network failures.
// langchaingo surfaces HTTP failures as formatted errors, so status codes are
// matched on the message text.
func isRetryableProviderError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{"status code: 429", "status code: 500", "status code: 502", "status code: 503", "status code: 504"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
