package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	rtotel "github.com/Strob0t/Roundtable/internal/adapter/otel"
	"github.com/Strob0t/Roundtable/internal/config"
	"github.com/Strob0t/Roundtable/internal/domain"
	"github.com/Strob0t/Roundtable/internal/domain/changeset"
	"github.com/Strob0t/Roundtable/internal/domain/conversation"
	"github.com/Strob0t/Roundtable/internal/domain/event"
	"github.com/Strob0t/Roundtable/internal/domain/routing"
	"github.com/Strob0t/Roundtable/internal/domain/run"
	"github.com/Strob0t/Roundtable/internal/port/checkpoint"
	"github.com/Strob0t/Roundtable/internal/port/database"
	"github.com/Strob0t/Roundtable/internal/port/messagequeue"
	"github.com/Strob0t/Roundtable/internal/port/specialist"
)

// Engine drives runs through the step graph: route, delegate, stage, build a
// change-set, suspend at the approval gate, then apply or discard on resume.
// State is checkpointed after every step; each step is a pure function of
// state plus that step's external input, so a crashed process resumes from
// the last checkpoint without replay.
type Engine struct {
	store      database.Store
	ckpt       checkpoint.Store
	router     *RouterService
	workers    map[string]specialist.Worker
	changesets *ChangeSetService
	threads    *ThreadService
	queue      messagequeue.Queue
	streams    *StreamRegistry
	cfg        config.Engine
	log        *slog.Logger
	metrics    *rtotel.Metrics
}

// NewEngine wires the engine. Workers are keyed by their canonical roster
// name; the router only ever emits canonical names, so lookup is exact.
func NewEngine(
	store database.Store,
	ckpt checkpoint.Store,
	router *RouterService,
	workers []specialist.Worker,
	changesets *ChangeSetService,
	threads *ThreadService,
	queue messagequeue.Queue,
	streams *StreamRegistry,
	cfg config.Engine,
	log *slog.Logger,
) *Engine {
	wm := make(map[string]specialist.Worker, len(workers))
	for _, w := range workers {
		wm[w.Specialist().Name] = w
	}
	return &Engine{
		store:      store,
		ckpt:       ckpt,
		router:     router,
		workers:    wm,
		changesets: changesets,
		threads:    threads,
		queue:      queue,
		streams:    streams,
		cfg:        cfg,
		log:        log,
	}
}

// Streams exposes the registry of live run streams for transports.
func (e *Engine) Streams() *StreamRegistry { return e.streams }

// SetMetrics attaches metric instruments. Without them the engine runs
// unmetered.
func (e *Engine) SetMetrics(m *rtotel.Metrics) { e.metrics = m }

// Chat starts a new run from a user message. It refuses to start while a
// pending change-set awaits decision; the approval gate is a hard precondition
// for further edits. The run executes in the background; the returned stream
// carries its ordered events.
func (e *Engine) Chat(ctx context.Context, threadID, message string) (*run.Run, *Stream, error) {
	if err := e.threads.EnsureReady(ctx, threadID); err != nil {
		return nil, nil, err
	}

	if _, err := e.store.PendingChangeSet(ctx, threadID); err == nil {
		return nil, nil, fmt.Errorf("%w: thread %s has a pending change-set awaiting decision",
			domain.ErrConflict, threadID)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, nil, fmt.Errorf("pending change-set check: %w", err)
	}

	r := &run.Run{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Trigger:   run.TriggerChat,
		Status:    run.StatusQueued,
		StartedAt: time.Now().UTC(),
	}
	if err := e.store.CreateRun(ctx, r); err != nil {
		return nil, nil, fmt.Errorf("create run: %w", err)
	}

	userMsg := conversation.Message{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		RunID:     r.ID,
		Role:      conversation.RoleUser,
		Content:   message,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.CreateMessage(ctx, &userMsg); err != nil {
		return nil, nil, fmt.Errorf("persist user message: %w", err)
	}

	history, err := e.store.ListMessages(ctx, threadID)
	if err != nil {
		return nil, nil, fmt.Errorf("load history: %w", err)
	}
	docs, err := e.threads.DocumentsMap(ctx, threadID)
	if err != nil {
		return nil, nil, err
	}

	st := run.NewState(threadID, r.ID, e.cfg.MaxIterations, docs)
	st.NoopLimit = e.cfg.NoopLimit
	st.Messages = history

	stream := e.streams.Open(threadID, r.ID)

	// The run outlives the originating request; a dropped client must not
	// abort it mid-step.
	bg := context.WithoutCancel(ctx)
	go e.execute(bg, st, r, stream)

	return r, stream, nil
}

// Resume feeds a human decision into the thread's suspended approval gate and
// runs the remainder of the workflow as a new approval-triggered run.
func (e *Engine) Resume(ctx context.Context, threadID string, payload changeset.DecisionPayload) (*run.Run, *Stream, error) {
	st, err := e.ckpt.Load(ctx, threadID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: no suspended run for thread %s", domain.ErrNotFound, threadID)
		}
		return nil, nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if !st.Suspended || st.PendingChangeSet == nil {
		return nil, nil, fmt.Errorf("%w: thread %s has no approval gate open", domain.ErrConflict, threadID)
	}
	if payload.InterruptID != "" && payload.InterruptID != st.InterruptID {
		return nil, nil, fmt.Errorf("%w: interrupt id does not match the open gate", domain.ErrValidation)
	}

	r := &run.Run{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Trigger:   run.TriggerApproval,
		Status:    run.StatusQueued,
		StartedAt: time.Now().UTC(),
	}
	if err := e.store.CreateRun(ctx, r); err != nil {
		return nil, nil, fmt.Errorf("create run: %w", err)
	}

	st.RunID = r.ID
	st.Suspended = false
	st.InterruptID = ""

	decision := changeset.ParseDecision(payload.Decision)
	stream := e.streams.Open(threadID, r.ID)

	bg := context.WithoutCancel(ctx)
	go e.resume(bg, st, r, stream, decision, payload.Comment)

	return r, stream, nil
}

// execute runs a chat-triggered run from its initial state to suspension or
// completion.
func (e *Engine) execute(ctx context.Context, st *run.State, r *run.Run, s *Stream) {
	ctx, span := rtotel.StartRunSpan(ctx, r.ID, r.ThreadID, string(r.Trigger))
	defer span.End()

	e.begin(ctx, st, r, s)
	e.loop(ctx, st, r, s)
}

// resume records the approval decision, routes to apply or discard, and runs
// the remaining steps.
func (e *Engine) resume(ctx context.Context, st *run.State, r *run.Run, s *Stream, decision changeset.Decision, comment string) {
	ctx, span := rtotel.StartRunSpan(ctx, r.ID, r.ThreadID, string(r.Trigger))
	defer span.End()

	e.begin(ctx, st, r, s)

	cs := st.PendingChangeSet
	if err := e.changesets.Decide(ctx, cs, decision, comment, "user"); err != nil {
		e.fail(ctx, st, r, s, err)
		return
	}
	if e.metrics != nil {
		e.metrics.ChangeSetDecisions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("decision", string(decision))))
	}

	switch decision {
	case changeset.DecisionApprove:
		s.Emit(ctx, event.TypeChangeSetApproved, map[string]any{"change_set_id": cs.ID})
		st.NextStep = run.StepApplyChangeSet
	case changeset.DecisionRequestChanges:
		s.Emit(ctx, event.TypeChangeSetRequestChanges, map[string]any{
			"change_set_id": cs.ID,
			"comment":       comment,
		})
		st.NextStep = run.StepDiscard
	default:
		s.Emit(ctx, event.TypeChangeSetRejected, map[string]any{
			"change_set_id": cs.ID,
			"comment":       comment,
		})
		st.NextStep = run.StepDiscard
	}

	if err := e.checkpoint(ctx, st); err != nil {
		e.fail(ctx, st, r, s, err)
		return
	}
	e.loop(ctx, st, r, s)
}

func (e *Engine) begin(ctx context.Context, st *run.State, r *run.Run, s *Stream) {
	if err := e.store.SetRunStatus(ctx, r.ID, run.StatusRunning, "", false); err != nil {
		e.log.Warn("run status update failed", "run_id", r.ID, "error", err)
	}
	s.RunStarted(ctx, r.Trigger, r.StartedAt)
	s.AgentStatus(ctx, RouterAgent, run.AgentQueued, "run initialized", true)
	if e.metrics != nil {
		e.metrics.RunsStarted.Add(ctx, 1, metric.WithAttributes(
			attribute.String("trigger", string(r.Trigger))))
	}
	e.publishRun(ctx, messagequeue.SubjectRunStarted, r, "")
}

// loop advances the state machine one step at a time, checkpointing between
// steps, until the run suspends, finishes, or fails.
func (e *Engine) loop(ctx context.Context, st *run.State, r *run.Run, s *Stream) {
	for {
		if e.metrics != nil {
			e.metrics.Steps.Add(ctx, 1, metric.WithAttributes(
				attribute.String("step", string(st.NextStep))))
		}
		var err error
		switch st.NextStep {
		case run.StepRoute:
			err = e.stepRoute(ctx, st, s)
		case run.StepSpecialist:
			err = e.stepSpecialist(ctx, st, s)
		case run.StepBuildChangeSet:
			err = e.stepBuildChangeSet(ctx, st, s)
		case run.StepAwaitApproval:
			e.suspend(ctx, st, r, s)
			return
		case run.StepApplyChangeSet:
			err = e.stepApplyChangeSet(ctx, st, s)
		case run.StepDiscard:
			err = e.stepDiscard(ctx, st, s)
		case run.StepDone:
			e.finish(ctx, st, r, s)
			return
		default:
			err = fmt.Errorf("unknown step %q", st.NextStep)
		}
		if err != nil {
			e.fail(ctx, st, r, s, err)
			return
		}
		if err := e.checkpoint(ctx, st); err != nil {
			e.fail(ctx, st, r, s, err)
			return
		}
	}
}

// stepRoute runs one router turn behind the guardrails.
func (e *Engine) stepRoute(ctx context.Context, st *run.State, s *Stream) error {
	if halt := st.BeginRouterTurn(); halt != nil {
		e.log.Info("guardrail halt",
			"thread_id", st.ThreadID, "run_id", st.RunID, "reason", halt.Reason)
		if err := e.say(ctx, st, s, RouterAgent, halt.Message); err != nil {
			return err
		}
		st.NextStep = run.StepDone
		return nil
	}

	s.SetActive(ctx, RouterAgent)
	s.AgentStatus(ctx, RouterAgent, run.AgentThinking, "", false)

	d := e.router.Decide(ctx, st)
	if d.RoutingError != "" {
		st.LastRoutingError = d.RoutingError
	}
	if err := e.say(ctx, st, s, RouterAgent, d.UserMessage); err != nil {
		return err
	}

	if d.Action == routing.ActionDelegate {
		st.RecordDelegation(d.TargetAgent)
		if e.metrics != nil {
			e.metrics.Delegations.Add(ctx, 1, metric.WithAttributes(
				attribute.String("agent", d.TargetAgent)))
		}
		st.NextStep = run.StepSpecialist
		return nil
	}

	st.RecordDirectTurn()
	st.LoopStatus = run.LoopStopped
	st.NextStep = run.StepDone
	return nil
}

// stepSpecialist runs the delegated worker and folds its outcome into the
// state. Staged edits divert the run to the change-set builder; otherwise
// control returns to the router.
func (e *Engine) stepSpecialist(ctx context.Context, st *run.State, s *Stream) error {
	worker, ok := e.workers[st.NextAgent]
	if !ok {
		return fmt.Errorf("no worker registered for %q", st.NextAgent)
	}
	agent := worker.Specialist().Name

	s.SetActive(ctx, agent)
	s.AgentStatus(ctx, agent, run.AgentThinking, "", false)

	spanCtx, span := rtotel.StartSpecialistSpan(ctx, st.RunID, agent)
	out, err := worker.Run(spanCtx, st)
	span.End()
	if err != nil {
		return fmt.Errorf("specialist %s: %w", agent, err)
	}

	for _, tc := range out.ToolCalls {
		s.ToolCall(ctx, agent, tc.ID, tc.Name, tc.Args)
		if tc.Result == "" {
			continue
		}
		s.ToolResult(ctx, agent, tc.ID, tc.Name, tc.Result)
		toolMsg := conversation.Message{
			ID:        uuid.NewString(),
			ThreadID:  st.ThreadID,
			RunID:     st.RunID,
			Role:      conversation.RoleTool,
			Agent:     agent,
			ToolName:  tc.Name,
			Content:   tc.Result,
			CreatedAt: time.Now().UTC(),
		}
		if err := e.store.CreateMessage(ctx, &toolMsg); err != nil {
			return fmt.Errorf("persist tool message: %w", err)
		}
		st.AppendMessage(toolMsg)
	}

	for _, msg := range out.Messages {
		if err := e.say(ctx, st, s, agent, msg); err != nil {
			return err
		}
	}

	if len(out.StagedEdits) == 0 {
		st.NextStep = run.StepRoute
		return nil
	}

	if err := changeset.ValidateEdits(out.StagedEdits, st.KnownDoc); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrValidation, err)
	}
	st.StagedEdits = out.StagedEdits
	st.StagedSummary = out.Summary
	st.StagedBy = out.By
	if st.StagedBy == "" {
		st.StagedBy = agent
	}
	st.NextStep = run.StepBuildChangeSet
	return nil
}

// stepBuildChangeSet finalizes staged edits into a pending change-set and
// moves the run to the approval gate.
func (e *Engine) stepBuildChangeSet(ctx context.Context, st *run.State, s *Stream) error {
	if len(st.StagedEdits) == 0 {
		st.NextStep = run.StepRoute
		return nil
	}

	cs, err := e.changesets.Build(ctx, st)
	if err != nil {
		return err
	}

	st.PendingChangeSet = cs
	st.ClearStaging()
	if e.metrics != nil {
		e.metrics.ChangeSetsCreated.Add(ctx, 1)
	}

	s.Emit(ctx, event.TypeChangeSetCreated, map[string]any{
		"change_set_id": cs.ID,
		"created_by":    cs.CreatedBy,
		"docs":          cs.DocIDs(),
		"summary":       cs.Summary,
		"status":        string(cs.Status),
	})

	st.NextStep = run.StepAwaitApproval
	return nil
}

// suspend parks the run at the approval gate: the checkpoint carries the
// interrupt token, the run ends with waiting_approval, and nothing proceeds
// until a human decision resumes the thread.
func (e *Engine) suspend(ctx context.Context, st *run.State, r *run.Run, s *Stream) {
	cs := st.PendingChangeSet
	if cs == nil {
		e.fail(ctx, st, r, s, errors.New("approval gate reached without a pending change-set"))
		return
	}

	st.Suspended = true
	st.InterruptID = uuid.NewString()
	if err := e.checkpoint(ctx, st); err != nil {
		e.fail(ctx, st, r, s, err)
		return
	}

	active := s.ActiveAgent()
	if active == "" {
		active = RouterAgent
	}
	s.AgentStatus(ctx, active, run.AgentWaitingApproval, "", true)

	if err := e.store.SetRunStatus(ctx, r.ID, run.StatusWaitingApproval, "", true); err != nil {
		e.log.Warn("run status update failed", "run_id", r.ID, "error", err)
	}

	approvalPayload := map[string]any{
		"type":          "approval_required",
		"interrupt_id":  st.InterruptID,
		"change_set_id": cs.ID,
		"summary":       cs.Summary,
		"diffs":         cs.Diffs,
		"docs":          cs.DocIDs(),
	}
	s.Emit(ctx, event.TypeApprovalRequired, approvalPayload)
	e.publishJSON(ctx, messagequeue.SubjectApprovalRequired, map[string]any{
		"thread_id":     st.ThreadID,
		"run_id":        r.ID,
		"interrupt_id":  st.InterruptID,
		"change_set_id": cs.ID,
	})

	e.log.Info("run suspended for approval",
		"thread_id", st.ThreadID, "run_id", r.ID, "change_set_id", cs.ID)

	e.recordRunEnd(ctx, r, string(run.StatusWaitingApproval))
	e.publishRun(ctx, messagequeue.SubjectRunCompleted, r, string(run.StatusWaitingApproval))
	s.RunCompleted(ctx, run.StatusWaitingApproval)
}

// stepApplyChangeSet commits the approved batch and refreshes the state's
// document snapshot from the store.
func (e *Engine) stepApplyChangeSet(ctx context.Context, st *run.State, s *Stream) error {
	cs := st.PendingChangeSet
	if cs == nil {
		return errors.New("apply step reached without a pending change-set")
	}

	applied, err := e.changesets.Apply(ctx, st.ThreadID, cs)
	if err != nil {
		return err
	}

	s.Emit(ctx, event.TypeChangeSetApplied, map[string]any{
		"change_set_id": cs.ID,
		"docs":          applied,
	})

	docs, err := e.threads.DocumentsMap(ctx, st.ThreadID)
	if err != nil {
		return err
	}
	st.Docs = docs
	st.PendingChangeSet = nil
	st.NextStep = run.StepDone
	return nil
}

// stepDiscard drops the decided batch without touching any document.
func (e *Engine) stepDiscard(ctx context.Context, st *run.State, s *Stream) error {
	cs := st.PendingChangeSet
	if cs == nil {
		return errors.New("discard step reached without a pending change-set")
	}

	e.changesets.Discard(ctx, st.ThreadID, cs)
	s.Emit(ctx, event.TypeChangeSetDiscarded, map[string]any{
		"change_set_id": cs.ID,
		"status":        string(cs.Status),
	})

	st.PendingChangeSet = nil
	st.NextStep = run.StepDone
	return nil
}

func (e *Engine) finish(ctx context.Context, st *run.State, r *run.Run, s *Stream) {
	if err := e.checkpoint(ctx, st); err != nil {
		e.fail(ctx, st, r, s, err)
		return
	}

	active := s.ActiveAgent()
	if active != "" {
		s.AgentStatus(ctx, active, run.AgentDone, "", false)
	}
	if active != RouterAgent {
		s.AgentStatus(ctx, RouterAgent, run.AgentDone, "", false)
	}

	if err := e.store.SetRunStatus(ctx, r.ID, run.StatusCompleted, "", true); err != nil {
		e.log.Warn("run status update failed", "run_id", r.ID, "error", err)
	}

	e.log.Info("run completed", "thread_id", st.ThreadID, "run_id", r.ID,
		"iterations", st.IterationCount, "loop_status", string(st.LoopStatus))

	e.recordRunEnd(ctx, r, string(run.StatusCompleted))
	e.publishRun(ctx, messagequeue.SubjectRunCompleted, r, string(run.StatusCompleted))
	s.RunCompleted(ctx, run.StatusCompleted)
}

func (e *Engine) recordRunEnd(ctx context.Context, r *run.Run, status string) {
	if e.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	e.metrics.RunsCompleted.Add(ctx, 1, attrs)
	e.metrics.RunDuration.Record(ctx, time.Since(r.StartedAt).Seconds(), attrs)
}

func (e *Engine) fail(ctx context.Context, st *run.State, r *run.Run, s *Stream, cause error) {
	e.log.Error("run failed",
		"thread_id", st.ThreadID, "run_id", r.ID, "step", string(st.NextStep), "error", cause)

	active := s.ActiveAgent()
	if active == "" {
		active = RouterAgent
	}
	s.AgentStatus(ctx, active, run.AgentError, cause.Error(), true)

	if err := e.store.SetRunStatus(ctx, r.ID, run.StatusError, cause.Error(), true); err != nil {
		e.log.Warn("run status update failed", "run_id", r.ID, "error", err)
	}

	if e.metrics != nil {
		e.metrics.RunsFailed.Add(ctx, 1)
	}
	e.recordRunEnd(ctx, r, string(run.StatusError))
	e.publishRun(ctx, messagequeue.SubjectRunError, r, cause.Error())
	s.RunError(ctx, cause.Error())
}

// say persists an assistant message, folds it into the run history, and emits
// it on the stream.
func (e *Engine) say(ctx context.Context, st *run.State, s *Stream, agent, content string) error {
	m := conversation.Message{
		ID:        uuid.NewString(),
		ThreadID:  st.ThreadID,
		RunID:     st.RunID,
		Role:      conversation.RoleAssistant,
		Agent:     agent,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.CreateMessage(ctx, &m); err != nil {
		return fmt.Errorf("persist message: %w", err)
	}
	st.AppendMessage(m)
	s.Message(ctx, m.ID, agent, content)
	return nil
}

func (e *Engine) checkpoint(ctx context.Context, st *run.State) error {
	st.StepSeq++
	if err := e.ckpt.Save(ctx, st); err != nil {
		return fmt.Errorf("checkpoint thread %s: %w", st.ThreadID, err)
	}
	return nil
}

func (e *Engine) publishRun(ctx context.Context, subject string, r *run.Run, detail string) {
	payload := map[string]any{
		"run_id":    r.ID,
		"thread_id": r.ThreadID,
		"trigger":   string(r.Trigger),
	}
	if detail != "" {
		payload["detail"] = detail
	}
	e.publishJSON(ctx, subject, payload)
}

func (e *Engine) publishJSON(ctx context.Context, subject string, payload map[string]any) {
	if e.queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := e.queue.Publish(ctx, subject, data); err != nil {
		e.log.Warn("run event publish failed", "subject", subject, "error", err)
	}
}
