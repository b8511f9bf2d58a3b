// Package event defines the ordered external event stream emitted per run.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies the kind of external event.
type Type string

const (
	TypeRunStarted   Type = "run.started"
	TypeRunCompleted Type = "run.completed"
	TypeRunError     Type = "run.error"

	TypeAgentStatus Type = "agent.status"

	TypeMessageDelta     Type = "message.delta"
	TypeMessageCompleted Type = "message.completed"

	TypeToolCall   Type = "tool.call"
	TypeToolResult Type = "tool.result"

	TypeChangeSetCreated        Type = "changeset.created"
	TypeChangeSetApproved       Type = "changeset.approved"
	TypeChangeSetRequestChanges Type = "changeset.request_changes"
	TypeChangeSetRejected       Type = "changeset.rejected"
	TypeChangeSetApplied        Type = "changeset.applied"
	TypeChangeSetDiscarded      Type = "changeset.discarded"

	TypeApprovalRequired Type = "approval.required"
	TypeKeepalive        Type = "keepalive"
)

// Event is one entry of the external stream. Seq is strictly monotonic per
// run, so a client can detect gaps and duplicates; EventID is "<run_id>:<seq>".
type Event struct {
	EventID   string          `json:"event_id"`
	Seq       int             `json:"-"`
	ThreadID  string          `json:"thread_id"`
	RunID     string          `json:"run_id"`
	Type      Type            `json:"-"`
	Payload   json.RawMessage `json:"-"`
	EmittedAt time.Time       `json:"emitted_at"`
}

// ID formats the per-run event identifier for a sequence number.
func ID(runID string, seq int) string {
	return fmt.Sprintf("%s:%d", runID, seq)
}

// Envelope flattens the event for the wire: base fields plus the payload's
// own keys, matching the read contract of the stream consumers.
func (e *Event) Envelope() (json.RawMessage, error) {
	base := map[string]any{
		"event_id":   e.EventID,
		"thread_id":  e.ThreadID,
		"run_id":     e.RunID,
		"emitted_at": e.EmittedAt.UTC().Format(time.RFC3339Nano),
	}
	if len(e.Payload) > 0 {
		var extra map[string]any
		if err := json.Unmarshal(e.Payload, &extra); err != nil {
			return nil, fmt.Errorf("event payload: %w", err)
		}
		for k, v := range extra {
			base[k] = v
		}
	}
	data, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("event envelope: %w", err)
	}
	return data, nil
}
