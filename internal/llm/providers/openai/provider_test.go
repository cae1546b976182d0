package openaiprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tmc/langchaingo/llms"

	"hitl/internal/llm/core"
)

func TestToLLMMessagesMapsHistory(t *testing.T) {
	t.Parallel()

	history := []core.Message{
		core.UserMessage("北京天气"),
		{
			Role:      core.RoleAssistant,
			Content:   "checking",
			ToolCalls: []core.ToolCall{{ID: "call_1", Name: "get_weather", Arguments: map[string]string{"city": "北京"}}},
		},
		core.ObservationMessage(core.ToolResult{ToolCallID: "call_1", ToolName: "get_weather", Kind: core.ObservationOK, Content: "晴"}),
		{Role: core.RoleAssistant, Content: "garbled"},
		core.ObservationMessage(core.ToolResult{Kind: core.ObservationParseError, Content: "error: missing Action field", IsError: true}),
	}

	got, err := toLLMMessages("be brief", history)
	if err != nil {
		t.Fatalf("toLLMMessages() error = %v", err)
	}
	wantRoles := []llms.ChatMessageType{
		llms.ChatMessageTypeSystem,
		llms.ChatMessageTypeHuman,
		llms.ChatMessageTypeAI,
		llms.ChatMessageTypeTool,
		llms.ChatMessageTypeAI,
		llms.ChatMessageTypeHuman,
	}
	if len(got) != len(wantRoles) {
		t.Fatalf("message count = %d, want %d", len(got), len(wantRoles))
	}
	for i, role := range wantRoles {
		if got[i].Role != role {
			t.Fatalf("message %d role = %q, want %q", i, got[i].Role, role)
		}
	}

	call, ok := got[2].Parts[1].(llms.ToolCall)
	if !ok {
		t.Fatalf("assistant part = %T, want llms.ToolCall", got[2].Parts[1])
	}
	if call.ID != "call_1" || call.FunctionCall.Arguments != `{"city":"北京"}` {
		t.Fatalf("tool call = %+v", call)
	}
	resp, ok := got[3].Parts[0].(llms.ToolCallResponse)
	if !ok || resp.ToolCallID != "call_1" || resp.Content != "晴" {
		t.Fatalf("tool response = %+v", got[3].Parts[0])
	}
	text, ok := got[5].Parts[0].(llms.TextContent)
	if !ok || text.Text != "Observation: error: missing Action field" {
		t.Fatalf("parse-error part = %+v", got[5].Parts[0])
	}
}

func TestToLLMMessagesRejectsOrphanToolResult(t *testing.T) {
	t.Parallel()

	_, err := toLLMMessages("", []core.Message{
		core.ObservationMessage(core.ToolResult{Kind: core.ObservationOK, Content: "x"}),
	})
	if !errors.Is(err, core.ErrInvalidRequest) {
		t.Fatalf("toLLMMessages() error = %v, want ErrInvalidRequest", err)
	}
}

func TestFromLLMToolCallsDecodesArguments(t *testing.T) {
	t.Parallel()

	got, err := fromLLMToolCalls([]llms.ToolCall{
		{ID: "c1", Type: "function", FunctionCall: &llms.FunctionCall{Name: "save_document", Arguments: `{"content":"# T","filename":"a.md"}`}},
		{ID: "c2", Type: "function"},
	})
	if err != nil {
		t.Fatalf("fromLLMToolCalls() error = %v", err)
	}
	if len(got) != 1 || got[0].Arguments["filename"] != "a.md" {
		t.Fatalf("fromLLMToolCalls() = %+v", got)
	}

	if _, err := fromLLMToolCalls([]llms.ToolCall{{ID: "c3", FunctionCall: &llms.FunctionCall{Name: "x", Arguments: "{not json"}}}); err == nil {
		t.Fatalf("expected error for malformed arguments")
	}
}

func TestMapStopReason(t *testing.T) {
	t.Parallel()

	tests := map[string]core.StopReason{
		"stop":           core.StopReasonStop,
		"length":         core.StopReasonLength,
		"tool_calls":     core.StopReasonToolUse,
		"content_filter": core.StopReasonError,
		"":               core.StopReasonStop,
	}
	for input, want := range tests {
		if got := mapStopReason(input); got != want {
			t.Fatalf("mapStopReason(%q) = %q, want %q", input, got, want)
		}
	}
}

func completionJSON(content string, toolCalls string) string {
	if toolCalls == "" {
		toolCalls = "null"
	}
	return fmt.Sprintf(`{"id":"cmpl-1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
"choices":[{"index":0,"message":{"role":"assistant","content":%q,"tool_calls":%s},"finish_reason":"stop"}],
"usage":{"prompt_tokens":7,"completion_tokens":3,"total_tokens":10}}`, content, toolCalls)
}

func TestStreamReplaysCompletion(t *testing.T) {
	t.Parallel()

	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, completionJSON("", `[{"id":"call_1","type":"function","function":{"name":"get_weather","arguments":"{\"city\":\"北京\"}"}}]`))
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p := New(Config{APIKey: "test-key", BaseURL: server.URL})
	stream, err := p.Stream(ctx, &core.Request{
		Model:    "gpt-4o-mini",
		Messages: []core.Message{core.UserMessage("北京天气")},
		Tools:    []core.ToolSpec{{Name: "get_weather", Description: "weather", Schema: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`)}},
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	var ended *core.ToolCall
	var done *core.DonePayload
	for ev := range stream {
		switch ev.Type {
		case core.EventToolCallEnd:
			ended = ev.ToolCall
		case core.EventDone:
			done = ev.Done
		case core.EventError:
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
	}
	if ended == nil || ended.ID != "call_1" || ended.Arguments["city"] != "北京" {
		t.Fatalf("tool call = %+v", ended)
	}
	if done == nil || done.Reason != core.StopReasonToolUse {
		t.Fatalf("done = %+v, want tool_use", done)
	}
	if body["model"] != "gpt-4o-mini" {
		t.Fatalf("request model = %v", body["model"])
	}
	if _, ok := body["tools"]; !ok {
		t.Fatalf("request body missing tools: %v", body)
	}
}

func TestStreamRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprint(w, `{"error":{"message":"overloaded"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, completionJSON("Finish[ok]", ""))
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := New(Config{APIKey: "test-key", BaseURL: server.URL}).Stream(ctx, &core.Request{
		Model:    "gpt-4o-mini",
		Messages: []core.Message{core.UserMessage("hi")},
		Retry:    core.RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	var text strings.Builder
	for ev := range stream {
		if ev.Type == core.EventError {
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
		text.WriteString(ev.TextDelta)
	}
	if text.String() != "Finish[ok]" {
		t.Fatalf("text = %q, want Finish[ok]", text.String())
	}
	if calls.Load() != 2 {
		t.Fatalf("attempts = %d, want 2", calls.Load())
	}
}

func TestStreamRequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}).Stream(context.Background(), &core.Request{Model: "gpt-4o-mini"})
	if !errors.Is(err, core.ErrMissingAPIKey) {
		t.Fatalf("Stream() error = %v, want ErrMissingAPIKey", err)
	}
}
