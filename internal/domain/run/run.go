// Package run defines the Run entity, the durable run state, and the
// delegation guardrails.
package run

import "time"

// Status represents the externally visible state of a run.
type Status string

const (
	StatusQueued          Status = "queued"
	StatusRunning         Status = "running"
	StatusWaitingApproval Status = "waiting_approval"
	StatusCompleted       Status = "completed"
	StatusError           Status = "error"
)

// Trigger records what started a run.
type Trigger string

const (
	TriggerChat     Trigger = "chat"
	TriggerApproval Trigger = "approval"
)

// Run represents one execution of the workflow for a thread. A thread
// accumulates runs; state relevant to guardrail continuity is carried in the
// checkpointed State, not here.
type Run struct {
	ID          string     `json:"run_id"`
	ThreadID    string     `json:"thread_id"`
	Trigger     Trigger    `json:"trigger"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// AgentStatus is the per-agent activity state surfaced to clients.
type AgentStatus string

const (
	AgentQueued          AgentStatus = "queued"
	AgentThinking        AgentStatus = "thinking"
	AgentToolCall        AgentStatus = "tool_call"
	AgentWaitingApproval AgentStatus = "waiting_approval"
	AgentDone            AgentStatus = "done"
	AgentError           AgentStatus = "error"
)

// AgentStatusEvent is one durably persisted agent status transition.
type AgentStatusEvent struct {
	RunID    string      `json:"run_id"`
	ThreadID string      `json:"thread_id"`
	Agent    string      `json:"agent"`
	Status   AgentStatus `json:"status"`
	Seq      int64       `json:"seq"`
	Note     string      `json:"note,omitempty"`
	At       time.Time   `json:"at"`
}
