package agent

import (
	"errors"
	"testing"

	"hitl/internal/tools"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTracedEngine(t *testing.T, cfg Config) (*Engine, *tracetest.SpanRecorder) {
	t.Helper()

	spans := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	t.Cleanup(func() { _ = provider.Shutdown(t.Context()) })

	cfg.Tracer = provider.Tracer("hitl-test")
	return newEngine(t, cfg), spans
}

func TestEngineRecordsReasonAndDispatchSpans(t *testing.T) {
	t.Parallel()

	failing := fakeTool{name: "save_document", run: func(map[string]string) (string, error) {
		return "", errors.New("disk full")
	}}
	engine, spans := newTracedEngine(t, Config{
		Reasoner: script(
			structured("", call("c1", "save_document", map[string]string{"name": "plan"})),
			structured("saved"),
		),
		Registry: tools.NewRegistry(failing),
		Policy:   NewApprovalPolicy(nil, []string{"save_document"}),
	})

	run := NewRun("traced")
	ev, err := engine.Submit(t.Context(), run, "save my plan")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if ev.Kind != EventCompleted {
		t.Fatalf("event = %s, want completed", ev.Kind)
	}

	var reasons, dispatches int
	for _, span := range spans.Ended() {
		switch span.Name() {
		case "agent.reason":
			reasons++
		case "agent.dispatch":
			dispatches++
			if span.Status().Code != codes.Error {
				t.Fatalf("dispatch span status = %v, want error", span.Status().Code)
			}
			if len(span.Events()) == 0 {
				t.Fatalf("dispatch span recorded no error event")
			}
		}
	}
	if reasons != 2 || dispatches != 1 {
		t.Fatalf("spans: reason=%d dispatch=%d, want 2 and 1", reasons, dispatches)
	}
}

func TestEngineMarksFailedReasonSpan(t *testing.T) {
	t.Parallel()

	engine, spans := newTracedEngine(t, Config{Reasoner: script()})

	ev, err := engine.Submit(t.Context(), NewRun("down"), "hello")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !errors.Is(ev.Err, ErrReasonerUnavailable) {
		t.Fatalf("event err = %v, want ErrReasonerUnavailable", ev.Err)
	}

	ended := spans.Ended()
	if len(ended) != 1 || ended[0].Name() != "agent.reason" {
		t.Fatalf("ended spans = %d, want a single agent.reason", len(ended))
	}
	if ended[0].Status().Code != codes.Error {
		t.Fatalf("reason span status = %v, want error", ended[0].Status().Code)
	}
}
