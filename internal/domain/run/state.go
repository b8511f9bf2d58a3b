package run

import (
	"github.com/Strob0t/Roundtable/internal/domain/changeset"
	"github.com/Strob0t/Roundtable/internal/domain/conversation"
	"github.com/Strob0t/Roundtable/internal/domain/document"
)

// Step names a node in the execution graph. The engine persists the next step
// with every checkpoint so a resumed process continues without replaying.
type Step string

const (
	StepRoute          Step = "route"
	StepSpecialist     Step = "specialist"
	StepBuildChangeSet Step = "build_changeset"
	StepAwaitApproval  Step = "await_approval"
	StepApplyChangeSet Step = "apply_changeset"
	StepDiscard        Step = "discard_changeset"
	StepDone           Step = "done"
)

// LoopStatus tracks whether the delegation loop is still live.
type LoopStatus string

const (
	LoopRunning       LoopStatus = "running"
	LoopStopped       LoopStatus = "stopped"
	LoopGuardrailStop LoopStatus = "guardrail_stop"
)

// State is the complete durable state of one run. It is checkpointed after
// every step; each step is a deterministic function of State plus that step's
// external input, so a crashed process resumes from the last checkpoint
// without replay.
type State struct {
	ThreadID string `json:"thread_id"`
	RunID    string `json:"run_id"`

	NextStep  Step   `json:"next_step"`
	NextAgent string `json:"next_agent,omitempty"`

	Messages []conversation.Message `json:"messages"`

	IterationCount       int        `json:"iteration_count"`
	MaxIterations        int        `json:"max_iterations"`
	NoopLimit            int        `json:"noop_limit,omitempty"`
	ConsecutiveNoopCount int        `json:"consecutive_noop_count"`
	LoopStatus           LoopStatus `json:"loop_status"`
	LastRoutingError     string     `json:"last_routing_error,omitempty"`

	// Explicit history cursor recorded at delegation time; "the delegated
	// worker did nothing observable" means the history did not grow past it.
	HistoryCursorAtLastDelegate int  `json:"history_cursor_at_last_delegate"`
	PrevTurnDelegated           bool `json:"prev_turn_delegated"`

	Docs map[string]document.Document `json:"docs"`

	StagedEdits   []changeset.StagedEdit `json:"staged_edits,omitempty"`
	StagedSummary string                 `json:"staged_edits_summary,omitempty"`
	StagedBy      string                 `json:"staged_edits_by,omitempty"`

	PendingChangeSet *changeset.ChangeSet `json:"pending_change_set,omitempty"`

	// InterruptID is the resumption token published while suspended at the
	// approval gate.
	InterruptID string `json:"interrupt_id,omitempty"`
	Suspended   bool   `json:"suspended"`

	// StepSeq counts persisted checkpoints for this thread.
	StepSeq int `json:"step_seq"`
}

// NewState creates the state for a fresh run over the given documents.
func NewState(threadID, runID string, maxIterations int, docs map[string]document.Document) *State {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &State{
		ThreadID:      threadID,
		RunID:         runID,
		NextStep:      StepRoute,
		MaxIterations: maxIterations,
		LoopStatus:    LoopRunning,
		Docs:          docs,
	}
}

// AppendMessage grows the run's message history.
func (s *State) AppendMessage(m conversation.Message) {
	s.Messages = append(s.Messages, m)
}

// HistoryLen is the current history cursor position.
func (s *State) HistoryLen() int {
	return len(s.Messages)
}

// RecordDelegation notes a delegate decision: bumps the iteration counter and
// records the history cursor against which the next turn's noop check runs.
func (s *State) RecordDelegation(target string) {
	s.IterationCount++
	s.NextAgent = target
	s.PrevTurnDelegated = true
	s.HistoryCursorAtLastDelegate = s.HistoryLen()
}

// RecordDirectTurn notes a respond/stop decision, which clears delegation
// tracking for the noop guardrail.
func (s *State) RecordDirectTurn() {
	s.NextAgent = ""
	s.PrevTurnDelegated = false
}

// ClearStaging drops the ephemeral staging fields after a change-set is built.
func (s *State) ClearStaging() {
	s.StagedEdits = nil
	s.StagedSummary = ""
	s.StagedBy = ""
}

// KnownDoc reports whether a doc_id refers to a document of this thread.
func (s *State) KnownDoc(docID string) bool {
	_, ok := s.Docs[docID]
	return ok
}
