package mockprovider

import (
	"context"
	"errors"
	"testing"
	"time"

	"hitl/internal/llm/core"
)

func eventTypes(stream <-chan core.Event) []core.EventType {
	var got []core.EventType
	for ev := range stream {
		got = append(got, ev.Type)
	}
	return got
}

func TestProviderReplaysTurnsInOrder(t *testing.T) {
	t.Parallel()

	mp := New(
		ToolCalls("", core.ToolCall{ID: "c1", Name: "get_weather", Arguments: map[string]string{"city": "北京"}}),
		Text("done"),
	)

	first, err := mp.Stream(context.Background(), &core.Request{Model: "mock", Messages: []core.Message{core.UserMessage("q")}})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	want := []core.EventType{core.EventStart, core.EventToolCallStart, core.EventToolCallEnd, core.EventDone}
	if got := eventTypes(first); len(got) != len(want) {
		t.Fatalf("first turn events = %v, want %v", got, want)
	}

	second, err := mp.Stream(context.Background(), &core.Request{Model: "mock"})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	want = []core.EventType{core.EventStart, core.EventTextDelta, core.EventDone}
	got := eventTypes(second)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %s, want %s", i, got[i], want[i])
		}
	}

	if _, err := mp.Stream(context.Background(), &core.Request{Model: "mock"}); !errors.Is(err, ErrScriptExhausted) {
		t.Fatalf("third Stream() error = %v, want ErrScriptExhausted", err)
	}
	if mp.Calls() != 3 {
		t.Fatalf("Calls() = %d, want 3", mp.Calls())
	}
}

func TestProviderRecordsRequestCopies(t *testing.T) {
	t.Parallel()

	mp := New(Text("ok"))
	req := &core.Request{Model: "mock", Messages: []core.Message{core.UserMessage("original")}}
	stream, err := mp.Stream(context.Background(), req)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	eventTypes(stream)

	req.Messages[0].Content = "mutated"
	recorded := mp.Requests()
	if len(recorded) != 1 || recorded[0].Messages[0].Content != "original" {
		t.Fatalf("Requests() = %+v, want original content", recorded)
	}
}

func TestProviderFailureTurn(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	mp := New(Failure(boom))
	if _, err := mp.Stream(context.Background(), &core.Request{Model: "mock"}); !errors.Is(err, boom) {
		t.Fatalf("Stream() error = %v, want %v", err, boom)
	}
}

func TestProviderCancellationEmitsAborted(t *testing.T) {
	t.Parallel()

	mp := New(Text("slow"))
	mp.Delay = 50 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	stream, err := mp.Stream(ctx, &core.Request{Model: "mock"})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	cancel()

	var last core.Event
	for ev := range stream {
		last = ev
	}
	if last.Type != core.EventError || last.Done == nil || last.Done.Reason != core.StopReasonAborted {
		t.Fatalf("last event = %+v, want aborted error", last)
	}
}
