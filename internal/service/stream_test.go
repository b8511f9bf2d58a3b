package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Strob0t/Roundtable/internal/domain/event"
	"github.com/Strob0t/Roundtable/internal/domain/run"
)

func newTestStream(store *fakeStore) *Stream {
	return newStream("t1", "r1", 64, store, nil, testLogger())
}

func payloadOf(t *testing.T, ev event.Event) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(ev.Payload, &m); err != nil {
		t.Fatalf("payload unmarshal: %v", err)
	}
	return m
}

func TestStreamSeqMonotonic(t *testing.T) {
	s := newTestStream(newFakeStore())
	ctx := context.Background()

	s.Emit(ctx, event.TypeKeepalive, map[string]any{})
	s.Emit(ctx, event.TypeKeepalive, map[string]any{})
	s.Emit(ctx, event.TypeKeepalive, map[string]any{})
	s.Close()

	seq := 0
	for ev := range s.Events() {
		seq++
		if ev.Seq != seq {
			t.Fatalf("expected seq %d, got %d", seq, ev.Seq)
		}
		if ev.EventID != event.ID("r1", seq) {
			t.Fatalf("expected event id r1:%d, got %s", seq, ev.EventID)
		}
	}
	if seq != 3 {
		t.Fatalf("expected 3 events, got %d", seq)
	}
}

func TestStreamAgentStatusDedup(t *testing.T) {
	store := newFakeStore()
	s := newTestStream(store)
	ctx := context.Background()

	s.AgentStatus(ctx, "maestro", run.AgentThinking, "", false)
	s.AgentStatus(ctx, "maestro", run.AgentThinking, "", false) // suppressed
	s.AgentStatus(ctx, "maestro", run.AgentThinking, "retry", true)
	s.AgentStatus(ctx, "maestro", run.AgentDone, "", false)
	s.Close()

	var statuses []map[string]any
	for ev := range s.Events() {
		if ev.Type == event.TypeAgentStatus {
			statuses = append(statuses, payloadOf(t, ev))
		}
	}
	if len(statuses) != 3 {
		t.Fatalf("expected 3 status events after dedup, got %d", len(statuses))
	}
	if statuses[1]["note"] != "retry" {
		t.Fatalf("forced emission must carry its note, got %+v", statuses[1])
	}

	// Every emitted transition is persisted with its own ordinal.
	if len(store.statuses) != 3 {
		t.Fatalf("expected 3 persisted transitions, got %d", len(store.statuses))
	}
	for i, ev := range store.statuses {
		if ev.Seq != int64(i+1) {
			t.Fatalf("persisted status %d has seq %d", i, ev.Seq)
		}
	}
}

func TestStreamSetActiveEmitsDone(t *testing.T) {
	s := newTestStream(newFakeStore())
	ctx := context.Background()

	s.SetActive(ctx, "maestro")
	s.AgentStatus(ctx, "maestro", run.AgentThinking, "", false)
	s.SetActive(ctx, "Product Strategist")
	s.Close()

	var last map[string]any
	for ev := range s.Events() {
		if ev.Type == event.TypeAgentStatus {
			last = payloadOf(t, ev)
		}
	}
	if last["agent"] != "maestro" || last["status"] != string(run.AgentDone) {
		t.Fatalf("switching active agent must close out the previous one, got %+v", last)
	}
}

func TestStreamMessageBuffering(t *testing.T) {
	s := newTestStream(newFakeStore())
	ctx := context.Background()

	s.MessageDelta(ctx, "m1", "Buzz", "Hello, ")
	s.MessageDelta(ctx, "m1", "Buzz", "world.")
	s.MessageCompleted(ctx, "m1")
	s.MessageCompleted(ctx, "m1") // no buffer left, no event
	s.Close()

	var completed []map[string]any
	deltas := 0
	for ev := range s.Events() {
		switch ev.Type {
		case event.TypeMessageDelta:
			deltas++
		case event.TypeMessageCompleted:
			completed = append(completed, payloadOf(t, ev))
		}
	}
	if deltas != 2 {
		t.Fatalf("expected 2 delta events, got %d", deltas)
	}
	if len(completed) != 1 {
		t.Fatalf("expected exactly one completion, got %d", len(completed))
	}
	if completed[0]["content"] != "Hello, world." {
		t.Fatalf("completion must carry the buffered content, got %+v", completed[0])
	}
}

func TestStreamFlushOnCompletion(t *testing.T) {
	s := newTestStream(newFakeStore())
	ctx := context.Background()

	s.MessageDelta(ctx, "m1", "Buzz", "partial")
	s.RunCompleted(ctx, run.StatusCompleted)

	var types []event.Type
	for ev := range s.Events() {
		types = append(types, ev.Type)
	}
	if len(types) != 3 {
		t.Fatalf("expected delta, flushed completion, run.completed; got %v", types)
	}
	if types[1] != event.TypeMessageCompleted || types[2] != event.TypeRunCompleted {
		t.Fatalf("uncompleted buffers must flush before the terminal event, got %v", types)
	}
}

func TestStreamToolCallDedup(t *testing.T) {
	s := newTestStream(newFakeStore())
	ctx := context.Background()
	args := json.RawMessage(`{"doc_ids":["product_brief"]}`)

	s.ToolCall(ctx, "Buzz", "c1", "stage_edits", args)
	s.ToolCall(ctx, "Buzz", "c1", "stage_edits", args) // duplicate
	s.ToolCall(ctx, "Buzz", "c2", "stage_edits", args)
	s.Close()

	calls := 0
	for ev := range s.Events() {
		if ev.Type == event.TypeToolCall {
			calls++
		}
	}
	if calls != 2 {
		t.Fatalf("expected 2 distinct tool calls, got %d", calls)
	}
}

func TestStreamEmitAfterCloseDropped(t *testing.T) {
	s := newTestStream(newFakeStore())
	ctx := context.Background()

	s.Emit(ctx, event.TypeKeepalive, map[string]any{})
	s.Close()
	s.Emit(ctx, event.TypeKeepalive, map[string]any{})
	s.Close() // idempotent

	count := 0
	for range s.Events() {
		count++
	}
	if count != 1 {
		t.Fatalf("expected 1 event, got %d", count)
	}
}

func TestForwardKeepalive(t *testing.T) {
	s := newTestStream(newFakeStore())
	ctx := context.Background()

	var got []event.Event
	done := make(chan error, 1)
	go func() {
		done <- s.Forward(ctx, 10*time.Millisecond, time.Second, func(ev event.Event) error {
			got = append(got, ev)
			return nil
		})
	}()

	time.Sleep(50 * time.Millisecond)
	s.RunCompleted(ctx, run.StatusCompleted)
	if err := <-done; err != nil {
		t.Fatalf("forward: %v", err)
	}

	keepalives := 0
	for _, ev := range got {
		if ev.Type == event.TypeKeepalive {
			keepalives++
		}
	}
	if keepalives == 0 {
		t.Fatal("expected at least one keepalive during idleness")
	}
	if got[len(got)-1].Type != event.TypeRunCompleted {
		t.Fatalf("expected terminal run.completed, got %v", got[len(got)-1].Type)
	}
}

func TestForwardStallEmitsRunError(t *testing.T) {
	store := newFakeStore()
	s := newTestStream(store)
	ctx := context.Background()
	if err := store.CreateRun(ctx, &run.Run{ID: "r1", ThreadID: "t1", Status: run.StatusRunning}); err != nil {
		t.Fatalf("create run: %v", err)
	}

	var got []event.Event
	err := s.Forward(ctx, time.Hour, 20*time.Millisecond, func(ev event.Event) error {
		got = append(got, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	if len(got) == 0 || got[len(got)-1].Type != event.TypeRunError {
		t.Fatalf("stall must end the stream with run.error, got %d events", len(got))
	}
	p := payloadOf(t, got[len(got)-1])
	if p["status"] != string(run.StatusError) {
		t.Fatalf("stall error must carry error status, got %+v", p)
	}

	store.mu.Lock()
	r := store.runs["r1"]
	store.mu.Unlock()
	if r.Status != run.StatusError {
		t.Fatalf("stalled run must be persisted as error, got %s", r.Status)
	}
	if r.Error == "" || r.CompletedAt == nil {
		t.Fatalf("stalled run must carry error message and completion time, got %+v", r)
	}
}

func TestForwardStallFiresDespiteKeepalives(t *testing.T) {
	store := newFakeStore()
	s := newTestStream(store)
	ctx := context.Background()
	if err := store.CreateRun(ctx, &run.Run{ID: "r1", ThreadID: "t1", Status: run.StatusRunning}); err != nil {
		t.Fatalf("create run: %v", err)
	}

	// Heartbeat shorter than the stall deadline, as in production. The
	// loop's own keepalives must not count as engine activity, or a hung
	// engine is kept alive forever.
	var got []event.Event
	done := make(chan error, 1)
	go func() {
		done <- s.Forward(ctx, 20*time.Millisecond, 100*time.Millisecond, func(ev event.Event) error {
			got = append(got, ev)
			return nil
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("forward: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stall deadline never fired with heartbeat < deadline")
	}

	keepalives := 0
	for _, ev := range got {
		if ev.Type == event.TypeKeepalive {
			keepalives++
		}
	}
	if keepalives == 0 {
		t.Fatal("expected keepalives before the stall fired")
	}
	if got[len(got)-1].Type != event.TypeRunError {
		t.Fatalf("expected terminal run.error, got %v", got[len(got)-1].Type)
	}

	store.mu.Lock()
	status := store.runs["r1"].Status
	store.mu.Unlock()
	if status != run.StatusError {
		t.Fatalf("stalled run must be persisted as error, got %s", status)
	}
}

func TestStreamRegistryLifecycle(t *testing.T) {
	reg := NewStreamRegistry(newFakeStore(), nil, 16, testLogger())

	s := reg.Open("t1", "r1")
	if got, ok := reg.Get("r1"); !ok || got != s {
		t.Fatal("open stream must be retrievable by run id")
	}
	if reg.Len() != 1 {
		t.Fatalf("expected 1 live stream, got %d", reg.Len())
	}

	s.Close()
	deadline := time.After(time.Second)
	for reg.Len() != 0 {
		select {
		case <-deadline:
			t.Fatal("closed stream must leave the registry")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
