package anthropicprovider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"

	"hitl/internal/llm/core"
)

const (
	sseMessageStart = `event: message_start
data: {"type":"message_start","message":{"usage":{"input_tokens":10,"output_tokens":0,"cache_read_input_tokens":0,"cache_creation_input_tokens":0}}}

`
	sseTextStart = `event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}

`
	sseMessageStop = `event: message_stop
data: {"type":"message_stop"}

`
)

func sseTextDelta(text string) string {
	return fmt.Sprintf(`event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":%q}}

`, text)
}

func sseMessageDelta(reason string, output int) string {
	return fmt.Sprintf(`event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":%q,"stop_sequence":""},"usage":{"input_tokens":10,"output_tokens":%d,"cache_read_input_tokens":0,"cache_creation_input_tokens":0}}

`, reason, output)
}

// writeSSE flushes each chunk so the client observes a real stream.
func writeSSE(t *testing.T, w http.ResponseWriter, chunks ...string) {
	t.Helper()
	w.Header().Set("Content-Type", "text/event-stream")
	flusher, ok := w.(http.Flusher)
	if !ok {
		t.Errorf("response writer does not implement flusher")
		return
	}
	for _, chunk := range chunks {
		_, _ = fmt.Fprint(w, chunk)
		flusher.Flush()
	}
}

func streamRequest(retry core.RetryPolicy) *core.Request {
	return &core.Request{
		Model:     "claude-sonnet-4-20250514",
		MaxTokens: 128,
		Messages:  []core.Message{core.UserMessage("hello")},
		Retry:     retry,
	}
}

func collect(t *testing.T, stream <-chan core.Event) []core.Event {
	t.Helper()
	var out []core.Event
	for ev := range stream {
		out = append(out, ev)
	}
	return out
}

func TestStreamRequiresAPIKey(t *testing.T) {
	t.Parallel()

	p := New(Config{APIKey: "  "})
	if _, err := p.Stream(context.Background(), streamRequest(core.RetryPolicy{})); !errors.Is(err, core.ErrMissingAPIKey) {
		t.Fatalf("Stream() error = %v, want ErrMissingAPIKey", err)
	}
}

func TestStreamEmitsTextDeltaAndDone(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(t, w, sseMessageStart, sseTextStart, sseTextDelta("Thought: "), sseTextDelta("done"), sseMessageDelta("end_turn", 2), sseMessageStop)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := New(Config{APIKey: "test-key", BaseURL: server.URL}).Stream(ctx, streamRequest(core.RetryPolicy{}))
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	var text strings.Builder
	var done *core.DonePayload
	for _, ev := range collect(t, stream) {
		switch ev.Type {
		case core.EventTextDelta:
			text.WriteString(ev.TextDelta)
		case core.EventDone:
			done = ev.Done
		case core.EventError:
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
	}
	if text.String() != "Thought: done" {
		t.Fatalf("text = %q, want %q", text.String(), "Thought: done")
	}
	if done == nil || done.Reason != core.StopReasonStop {
		t.Fatalf("done = %+v, want stop reason", done)
	}
	if done.Usage.InputTokens != 10 || done.Usage.OutputTokens != 2 {
		t.Fatalf("usage = %+v, want input 10 output 2", done.Usage)
	}
}

func TestStreamReassemblesChunkedToolInput(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(t, w,
			sseMessageStart,
			`event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_1","name":"get_weather","input":{}}}

`,
			`event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"city\":\""}}

`,
			`event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"北京\",\"days\":3}"}}

`,
			`event: content_block_stop
data: {"type":"content_block_stop","index":0}

`,
			sseMessageDelta("tool_use", 3),
			sseMessageStop,
		)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := New(Config{APIKey: "test-key", BaseURL: server.URL}).Stream(ctx, streamRequest(core.RetryPolicy{}))
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	var started, ended *core.ToolCall
	var reason core.StopReason
	for _, ev := range collect(t, stream) {
		switch ev.Type {
		case core.EventToolCallStart:
			started = ev.ToolCall
		case core.EventToolCallEnd:
			ended = ev.ToolCall
		case core.EventDone:
			reason = ev.Done.Reason
		}
	}
	if started == nil || started.ID != "toolu_1" || started.Name != "get_weather" {
		t.Fatalf("tool start = %+v", started)
	}
	if ended == nil {
		t.Fatalf("missing EventToolCallEnd")
	}
	if ended.Arguments["city"] != "北京" || ended.Arguments["days"] != "3" {
		t.Fatalf("tool arguments = %v", ended.Arguments)
	}
	if reason != core.StopReasonToolUse {
		t.Fatalf("stop reason = %q, want %q", reason, core.StopReasonToolUse)
	}
}

func TestStreamRetriesOn429BeforeFirstDelta(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = fmt.Fprint(w, `{"error":"rate limited"}`)
			return
		}
		writeSSE(t, w, sseMessageStart, sseTextStart, sseTextDelta("ok"), sseMessageDelta("end_turn", 1), sseMessageStop)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := New(Config{APIKey: "test-key", BaseURL: server.URL}).Stream(ctx, streamRequest(core.RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  10 * time.Millisecond,
		MaxDelay:   20 * time.Millisecond,
	}))
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	var starts, errs int
	var seenDone bool
	for _, ev := range collect(t, stream) {
		switch ev.Type {
		case core.EventStart:
			starts++
		case core.EventDone:
			seenDone = true
		case core.EventError:
			errs++
		}
	}
	if !seenDone || errs != 0 {
		t.Fatalf("done = %v errors = %d, want done without errors", seenDone, errs)
	}
	if starts != 1 {
		t.Fatalf("EventStart count = %d, want 1", starts)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("attempts = %d, want 2", got)
	}
}

func TestStreamDoesNotRetryAfterVisibleOutput(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		// Stops before message_stop.
		writeSSE(t, w, sseMessageStart, sseTextStart, sseTextDelta("partial"))
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := New(Config{APIKey: "test-key", BaseURL: server.URL}).Stream(ctx, streamRequest(core.RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  10 * time.Millisecond,
		MaxDelay:   20 * time.Millisecond,
	}))
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	var seenError bool
	for _, ev := range collect(t, stream) {
		if ev.Type == core.EventError {
			seenError = true
		}
	}
	if !seenError {
		t.Fatalf("expected EventError for truncated stream")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("attempts = %d, want 1", got)
	}
}

func TestStreamCancelReturnsAbortedError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(t, w, "\n")
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := New(Config{APIKey: "test-key", BaseURL: server.URL}).Stream(ctx, streamRequest(core.RetryPolicy{
		MaxRetries: 1,
		BaseDelay:  5 * time.Millisecond,
		MaxDelay:   10 * time.Millisecond,
	}))
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	var seenStart, seenAborted bool
	for ev := range stream {
		if ev.Type == core.EventStart {
			seenStart = true
			cancel()
		}
		if ev.Type == core.EventError && ev.Done != nil && ev.Done.Reason == core.StopReasonAborted {
			seenAborted = true
		}
	}
	if !seenStart || !seenAborted {
		t.Fatalf("start = %v aborted = %v, want both", seenStart, seenAborted)
	}
}

func TestClassifyStreamError(t *testing.T) {
	t.Parallel()

	apiError := func(status int, retryAfter string) error {
		resp := &http.Response{StatusCode: status, Header: http.Header{}}
		if retryAfter != "" {
			resp.Header.Set("Retry-After", retryAfter)
		}
		return &anthropic.Error{
			StatusCode: status,
			Request:    httptest.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", nil),
			Response:   resp,
		}
	}

	limited := classifyStreamError(apiError(http.StatusTooManyRequests, "2"))
	if !core.IsRetryableError(limited) {
		t.Fatalf("429 should be retryable: %v", limited)
	}
	if got := core.RetryAfter(limited); got != 2*time.Second {
		t.Fatalf("RetryAfter() = %v, want 2s", got)
	}

	overloaded := classifyStreamError(apiError(529, ""))
	if !core.IsRetryableError(overloaded) || core.RetryAfter(overloaded) != 0 {
		t.Fatalf("529 should be retryable without hint: %v", overloaded)
	}

	badRequest := classifyStreamError(apiError(http.StatusBadRequest, ""))
	if core.IsRetryableError(badRequest) {
		t.Fatalf("400 should not be retryable: %v", badRequest)
	}
	var apiErr *anthropic.Error
	if !errors.As(badRequest, &apiErr) {
		t.Fatalf("classified error lost the api error: %v", badRequest)
	}

	if plain := classifyStreamError(errors.New("boom")); core.IsRetryableError(plain) {
		t.Fatalf("plain error should not be retryable")
	}
}
