package changeset

import "strings"

// Decision is a human review decision on a pending change-set.
type Decision string

const (
	DecisionApprove        Decision = "approve"
	DecisionReject         Decision = "reject"
	DecisionRequestChanges Decision = "request_changes"
)

// DecisionPayload is the resume input supplied to a suspended approval gate.
// InterruptID, when present, targets a specific suspended gate instance; empty
// means the single outstanding suspension for the thread.
type DecisionPayload struct {
	Decision    string `json:"decision"`
	Comment     string `json:"comment,omitempty"`
	InterruptID string `json:"interrupt_id,omitempty"`
}

// ParseDecision normalizes a raw decision string. Unrecognized or missing
// values default to reject; a malformed payload must never approve edits.
func ParseDecision(raw string) Decision {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case string(DecisionApprove):
		return DecisionApprove
	case string(DecisionRequestChanges):
		return DecisionRequestChanges
	default:
		return DecisionReject
	}
}

// StatusFor maps a decision to the change-set status it produces.
func (d Decision) StatusFor() Status {
	switch d {
	case DecisionApprove:
		return StatusApproved
	case DecisionRequestChanges:
		return StatusRequestChanges
	default:
		return StatusRejected
	}
}
