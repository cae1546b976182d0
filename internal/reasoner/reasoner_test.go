package reasoner

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"hitl/internal/llm/core"
	mockprovider "hitl/internal/llm/providers/mock"
)

var weatherSpec = core.ToolSpec{
	Name:        "get_weather",
	Description: "查询指定城市的实时天气。",
	Schema:      json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`),
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Model: "m"}); !errors.Is(err, ErrProviderRequired) {
		t.Fatalf("New() error = %v, want ErrProviderRequired", err)
	}
	if _, err := New(Config{Provider: mockprovider.New(), Model: " "}); !errors.Is(err, ErrModelRequired) {
		t.Fatalf("New() error = %v, want ErrModelRequired", err)
	}
	if _, err := New(Config{Provider: mockprovider.New(), Model: "m", Protocol: "xml"}); !errors.Is(err, ErrInvalidProtocol) {
		t.Fatalf("New() error = %v, want ErrInvalidProtocol", err)
	}
}

func TestInvokeStructuredCollectsToolCalls(t *testing.T) {
	t.Parallel()

	provider := mockprovider.New(mockprovider.ToolCalls("let me check",
		core.ToolCall{ID: "c1", Name: "get_weather", Arguments: map[string]string{"city": "Beijing"}},
		core.ToolCall{ID: "c2", Name: "get_weather", Arguments: map[string]string{"city": "Shanghai"}},
	))
	r, err := New(Config{Provider: provider, Model: "m", Tools: []core.ToolSpec{weatherSpec}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	resp, err := r.Invoke(context.Background(), []core.Message{core.UserMessage("天气如何？")}, "sys")
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if !resp.Structured || resp.Text != "let me check" {
		t.Fatalf("Invoke() = %+v", resp)
	}
	if len(resp.ToolCalls) != 2 || resp.ToolCalls[0].ID != "c1" || resp.ToolCalls[1].Arguments["city"] != "Shanghai" {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	if resp.StopReason != core.StopReasonToolUse {
		t.Fatalf("stop reason = %q", resp.StopReason)
	}

	reqs := provider.Requests()
	if len(reqs) != 1 || reqs[0].System != "sys" || len(reqs[0].Tools) != 1 {
		t.Fatalf("request = %+v", reqs)
	}
}

func TestInvokeTranscriptRendersHistoryAsText(t *testing.T) {
	t.Parallel()

	provider := mockprovider.New(mockprovider.Text("Thought: done\nAction: Finish[ok]"))
	r, err := New(Config{Provider: provider, Model: "m", Protocol: ProtocolTranscript, Tools: []core.ToolSpec{weatherSpec}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	history := []core.Message{
		core.UserMessage("北京天气"),
		{
			Role:      core.RoleAssistant,
			Content:   "Thought: look it up\nAction: get_weather(city=\"北京\")",
			ToolCalls: []core.ToolCall{{ID: "x", Name: "get_weather", Arguments: map[string]string{"city": "北京"}}},
		},
		core.ObservationMessage(core.ToolResult{ToolCallID: "x", Kind: core.ObservationOK, Content: "晴"}),
	}
	resp, err := r.Invoke(context.Background(), history, "sys")
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if resp.Structured || len(resp.ToolCalls) != 0 {
		t.Fatalf("transcript response = %+v", resp)
	}

	req := provider.Requests()[0]
	if len(req.Tools) != 0 {
		t.Fatalf("transcript request sent %d tools, want 0", len(req.Tools))
	}
	if len(req.Messages) != 3 {
		t.Fatalf("message count = %d, want 3", len(req.Messages))
	}
	if req.Messages[1].ToolCalls != nil {
		t.Fatalf("assistant turn kept tool calls: %+v", req.Messages[1])
	}
	if got := req.Messages[2]; got.Role != core.RoleUser || got.Content != "Observation: 晴" {
		t.Fatalf("observation turn = %+v", got)
	}
}

func TestInvokeSurfacesProviderFailures(t *testing.T) {
	t.Parallel()

	refused := errors.New("connection refused")
	streamErr := errors.New("401 unauthorized")
	provider := mockprovider.New(mockprovider.Failure(refused), mockprovider.StreamFailure(streamErr))
	r, err := New(Config{Provider: provider, Model: "m"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := r.Invoke(context.Background(), nil, ""); !errors.Is(err, refused) {
		t.Fatalf("first Invoke() error = %v, want %v", err, refused)
	}
	if _, err := r.Invoke(context.Background(), nil, ""); !errors.Is(err, streamErr) {
		t.Fatalf("second Invoke() error = %v, want %v", err, streamErr)
	}
}

// failingStream emits some output and then fails, the way a provider reports
// a connection dropped mid-response.
type failingStream struct{ err error }

func (f failingStream) Stream(ctx context.Context, _ *core.Request) (<-chan core.Event, error) {
	events := make(chan core.Event, 1)
	go func() {
		defer close(events)
		for _, ev := range []core.Event{{Type: core.EventStart}, {Type: core.EventTextDelta, TextDelta: "partial"}} {
			if core.SendEvent(ctx, events, ev) != nil {
				return
			}
		}
		core.SendTerminalEvent(ctx, events, core.Event{
			Type: core.EventError,
			Done: &core.DonePayload{Reason: core.StopReasonError},
			Err:  f.err,
		})
	}()
	return events, nil
}

func TestInvokeSurfacesErrorAfterPartialOutput(t *testing.T) {
	t.Parallel()

	cause := errors.New("503 service unavailable")
	r, err := New(Config{Provider: failingStream{err: cause}, Model: "m"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for range 50 {
		_, err := r.Invoke(context.Background(), nil, "")
		if !errors.Is(err, cause) {
			t.Fatalf("Invoke() error = %v, want %v", err, cause)
		}
	}
}

func TestInvokeDetectsTruncatedStream(t *testing.T) {
	t.Parallel()

	provider := mockprovider.New(mockprovider.Turn{Events: []core.Event{{Type: core.EventStart}, {Type: core.EventTextDelta, TextDelta: "half"}}})
	r, err := New(Config{Provider: provider, Model: "m"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := r.Invoke(context.Background(), nil, ""); !errors.Is(err, ErrIncompleteStream) {
		t.Fatalf("Invoke() error = %v, want ErrIncompleteStream", err)
	}
}

func TestInstructions(t *testing.T) {
	t.Parallel()

	if got := Instructions("", ProtocolStructured, []core.ToolSpec{weatherSpec}); got != DefaultInstructions {
		t.Fatalf("structured Instructions() = %q, want default preamble", got)
	}

	got := Instructions("Be brief.", ProtocolTranscript, []core.ToolSpec{weatherSpec})
	for _, want := range []string{"Be brief.", `get_weather(city="...")`, "查询指定城市的实时天气。", "Finish[", "Thought:", "Action:"} {
		if !strings.Contains(got, want) {
			t.Fatalf("transcript Instructions() missing %q:\n%s", want, got)
		}
	}
}

func TestParseProtocol(t *testing.T) {
	t.Parallel()

	tests := map[string]Protocol{"": ProtocolStructured, "Structured": ProtocolStructured, " transcript ": ProtocolTranscript}
	for input, want := range tests {
		got, err := ParseProtocol(input)
		if err != nil || got != want {
			t.Fatalf("ParseProtocol(%q) = %q, %v; want %q", input, got, err, want)
		}
	}
}
