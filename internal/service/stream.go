package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Strob0t/Roundtable/internal/domain/event"
	"github.com/Strob0t/Roundtable/internal/domain/run"
	"github.com/Strob0t/Roundtable/internal/port/broadcast"
	"github.com/Strob0t/Roundtable/internal/port/database"
)

// Stream is the ordered external event stream of one run. Every emitted event
// carries a strictly monotonic per-run sequence number starting at 1, so
// consumers can detect gaps and duplicates. Emission is safe for one producer
// (the engine goroutine) plus the forwarding consumer.
type Stream struct {
	threadID string
	runID    string

	store database.Store
	bc    broadcast.Broadcaster
	log   *slog.Logger

	ch     chan event.Event
	closed chan struct{}

	mu          sync.Mutex
	seq         int
	statusSeq   int64
	lastStatus  map[string]run.AgentStatus
	activeAgent string
	toolCalls   map[string]bool
	buffers     map[string]*messageBuffer
	done        bool
}

type messageBuffer struct {
	agent   string
	content string
}

// newStream wires a run stream. store persists agent status transitions; bc
// fans emitted events out to connected websocket clients and may be nil.
func newStream(threadID, runID string, capacity int, store database.Store, bc broadcast.Broadcaster, log *slog.Logger) *Stream {
	if capacity <= 0 {
		capacity = 256
	}
	return &Stream{
		threadID:   threadID,
		runID:      runID,
		store:      store,
		bc:         bc,
		log:        log,
		ch:         make(chan event.Event, capacity),
		closed:     make(chan struct{}),
		lastStatus: make(map[string]run.AgentStatus),
		toolCalls:  make(map[string]bool),
		buffers:    make(map[string]*messageBuffer),
	}
}

// RunID identifies the run this stream belongs to.
func (s *Stream) RunID() string { return s.runID }

// Events is the consumer side of the stream. The channel is closed after the
// terminal event has been emitted.
func (s *Stream) Events() <-chan event.Event { return s.ch }

// Emit appends one event to the stream. The payload must marshal to a JSON
// object; emission after Close is dropped.
func (s *Stream) Emit(ctx context.Context, typ event.Type, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("stream payload marshal failed", "run_id", s.runID, "type", typ, "error", err)
		return
	}

	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.seq++
	ev := event.Event{
		EventID:   event.ID(s.runID, s.seq),
		Seq:       s.seq,
		ThreadID:  s.threadID,
		RunID:     s.runID,
		Type:      typ,
		Payload:   data,
		EmittedAt: time.Now().UTC(),
	}

	select {
	case s.ch <- ev:
	default:
		// The consumer fell behind past the bounded buffer. Drop the oldest
		// event rather than stalling the engine; the sequence gap is visible
		// to the consumer.
		select {
		case dropped := <-s.ch:
			s.log.Warn("stream buffer full, dropping event",
				"run_id", s.runID, "dropped_event_id", dropped.EventID)
		default:
		}
		select {
		case s.ch <- ev:
		default:
		}
	}
	s.mu.Unlock()

	if s.bc != nil {
		if env, err := ev.Envelope(); err == nil {
			s.bc.BroadcastEvent(ctx, string(typ), json.RawMessage(env))
		}
	}
}

// RunStarted emits the opening event of the stream.
func (s *Stream) RunStarted(ctx context.Context, trigger run.Trigger, startedAt time.Time) {
	s.Emit(ctx, event.TypeRunStarted, map[string]any{
		"status":     string(run.StatusRunning),
		"trigger":    string(trigger),
		"started_at": startedAt.UTC().Format(time.RFC3339Nano),
	})
}

// AgentStatus emits an agent.status event and persists the transition.
// Consecutive identical statuses for the same agent are suppressed unless
// force is set; forced emissions carry operator-relevant notes.
func (s *Stream) AgentStatus(ctx context.Context, agent string, status run.AgentStatus, note string, force bool) {
	s.mu.Lock()
	if !force && s.lastStatus[agent] == status {
		s.mu.Unlock()
		return
	}
	s.lastStatus[agent] = status
	s.statusSeq++
	seq := s.statusSeq
	s.mu.Unlock()

	ev := &run.AgentStatusEvent{
		RunID:    s.runID,
		ThreadID: s.threadID,
		Agent:    agent,
		Status:   status,
		Seq:      seq,
		Note:     note,
		At:       time.Now().UTC(),
	}
	if err := s.store.AppendAgentStatus(ctx, ev); err != nil {
		s.log.Warn("agent status persist failed", "run_id", s.runID, "agent", agent, "error", err)
	}

	payload := map[string]any{"agent": agent, "status": string(status)}
	if note != "" {
		payload["note"] = note
	}
	s.Emit(ctx, event.TypeAgentStatus, payload)
}

// SetActive marks an agent as the one currently acting. Switching away from a
// previously active agent emits its terminal done status first.
func (s *Stream) SetActive(ctx context.Context, agent string) {
	s.mu.Lock()
	prev := s.activeAgent
	s.activeAgent = agent
	s.mu.Unlock()

	if prev != "" && prev != agent {
		s.AgentStatus(ctx, prev, run.AgentDone, "", false)
	}
}

// ActiveAgent returns the agent currently marked active, or "".
func (s *Stream) ActiveAgent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeAgent
}

// MessageDelta buffers one content fragment of an in-flight message and emits
// the delta event.
func (s *Stream) MessageDelta(ctx context.Context, messageID, agent, delta string) {
	if delta == "" {
		return
	}
	s.mu.Lock()
	buf, ok := s.buffers[messageID]
	if !ok {
		buf = &messageBuffer{agent: agent}
		s.buffers[messageID] = buf
	}
	buf.content += delta
	s.mu.Unlock()

	s.Emit(ctx, event.TypeMessageDelta, map[string]any{
		"message_id": messageID,
		"by_agent":   agent,
		"delta":      delta,
	})
}

// MessageCompleted closes a buffered message and emits its full content.
func (s *Stream) MessageCompleted(ctx context.Context, messageID string) {
	s.mu.Lock()
	buf, ok := s.buffers[messageID]
	if ok {
		delete(s.buffers, messageID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	s.Emit(ctx, event.TypeMessageCompleted, map[string]any{
		"message_id": messageID,
		"by_agent":   buf.agent,
		"content":    buf.content,
	})
}

// Message emits a complete message in one step: a delta carrying the whole
// content followed by the completion event.
func (s *Stream) Message(ctx context.Context, messageID, agent, content string) {
	s.MessageDelta(ctx, messageID, agent, content)
	s.MessageCompleted(ctx, messageID)
}

// flushBuffers completes every message still buffered, in stable order.
func (s *Stream) flushBuffers(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.buffers))
	for id := range s.buffers {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)
	for _, id := range ids {
		s.MessageCompleted(ctx, id)
	}
}

// ToolCall emits a tool.call event, deduplicated on the full call identity,
// and flips the agent status to tool_call.
func (s *Stream) ToolCall(ctx context.Context, agent, callID, tool string, args json.RawMessage) {
	key := agent + "\x00" + callID + "\x00" + tool + "\x00" + string(args)
	s.mu.Lock()
	if s.toolCalls[key] {
		s.mu.Unlock()
		return
	}
	s.toolCalls[key] = true
	s.mu.Unlock()

	s.AgentStatus(ctx, agent, run.AgentToolCall, "", false)

	payload := map[string]any{"agent": agent, "tool": tool}
	if callID != "" {
		payload["call_id"] = callID
	}
	if len(args) > 0 {
		payload["args"] = args
	}
	s.Emit(ctx, event.TypeToolCall, payload)
}

// ToolResult emits the outcome of a tool invocation.
func (s *Stream) ToolResult(ctx context.Context, agent, callID, tool, result string) {
	payload := map[string]any{"agent": agent, "tool": tool, "result": result}
	if callID != "" {
		payload["call_id"] = callID
	}
	s.Emit(ctx, event.TypeToolResult, payload)
}

// Keepalive emits a liveness event during quiet stretches of a run.
func (s *Stream) Keepalive(ctx context.Context) {
	s.Emit(ctx, event.TypeKeepalive, map[string]any{})
}

// RunCompleted emits the terminal completion event and closes the stream.
// status distinguishes a finished run from one suspended at the approval gate.
func (s *Stream) RunCompleted(ctx context.Context, status run.Status) {
	s.flushBuffers(ctx)
	s.Emit(ctx, event.TypeRunCompleted, map[string]any{
		"status":       string(status),
		"completed_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	s.Close()
}

// RunError emits the terminal error event and closes the stream.
func (s *Stream) RunError(ctx context.Context, errMsg string) {
	s.flushBuffers(ctx)
	s.Emit(ctx, event.TypeRunError, map[string]any{
		"status":       string(run.StatusError),
		"error":        errMsg,
		"completed_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	s.Close()
}

// Close ends the stream. Further emissions are dropped; the event channel is
// closed after in-flight events drain.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	close(s.ch)
	close(s.closed)
}

// Forward drains the stream into send, inserting keepalives after heartbeat of
// idleness and aborting with a stall error frame when no event arrives within
// stallAfter. It returns when the stream closes, the context ends, or send
// fails.
func (s *Stream) Forward(ctx context.Context, heartbeat, stallAfter time.Duration, send func(ev event.Event) error) error {
	hb := time.NewTimer(heartbeat)
	defer hb.Stop()
	stall := time.NewTimer(stallAfter)
	defer stall.Stop()

	resetTimer := func(t *time.Timer, d time.Duration) {
		if !t.Stop() {
			select {
			case <-t.C:
			default:
			}
		}
		t.Reset(d)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-s.ch:
			if !ok {
				return nil
			}
			if err := send(ev); err != nil {
				return err
			}
			resetTimer(hb, heartbeat)
			// Keepalives originate in this loop, not the engine. Only
			// engine events count as activity for the stall deadline.
			if ev.Type != event.TypeKeepalive {
				resetTimer(stall, stallAfter)
			}

		case <-hb.C:
			s.Keepalive(ctx)
			hb.Reset(heartbeat)

		case <-stall.C:
			msg := "run stalled: no activity within " + stallAfter.String()
			s.log.Warn("run stream stalled", "run_id", s.runID, "deadline", stallAfter)
			if err := s.store.SetRunStatus(ctx, s.runID, run.StatusError, msg, true); err != nil {
				s.log.Warn("stalled run status persist failed", "run_id", s.runID, "error", err)
			}
			s.RunError(ctx, msg)
			for ev := range s.ch {
				if err := send(ev); err != nil {
					return err
				}
			}
			return nil
		}
	}
}

// StreamRegistry tracks the live stream of each in-flight run so transports
// can attach to a run they did not start.
type StreamRegistry struct {
	store database.Store
	bc    broadcast.Broadcaster
	log   *slog.Logger

	capacity int

	mu      sync.Mutex
	streams map[string]*Stream
}

// NewStreamRegistry creates the registry all run streams are opened through.
func NewStreamRegistry(store database.Store, bc broadcast.Broadcaster, capacity int, log *slog.Logger) *StreamRegistry {
	return &StreamRegistry{
		store:    store,
		bc:       bc,
		log:      log,
		capacity: capacity,
		streams:  make(map[string]*Stream),
	}
}

// Open creates and registers the stream for a new run. The stream removes
// itself from the registry once closed.
func (r *StreamRegistry) Open(threadID, runID string) *Stream {
	s := newStream(threadID, runID, r.capacity, r.store, r.bc, r.log)
	r.mu.Lock()
	r.streams[runID] = s
	r.mu.Unlock()

	go func() {
		<-s.closed
		r.mu.Lock()
		delete(r.streams, runID)
		r.mu.Unlock()
	}()
	return s
}

// Get returns the live stream of a run, if one is still open.
func (r *StreamRegistry) Get(runID string) (*Stream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[runID]
	return s, ok
}

// Len reports the number of runs with open streams.
func (r *StreamRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}
