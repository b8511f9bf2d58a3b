// Package changeset defines the change-set lifecycle for human-gated document edits.
package changeset

import (
	"fmt"
	"time"
)

// Status is the review state of a change-set.
type Status string

const (
	StatusPending        Status = "pending"
	StatusApproved       Status = "approved"
	StatusApplied        Status = "applied"
	StatusRejected       Status = "rejected"
	StatusRequestChanges Status = "request_changes"
)

// CanTransition reports whether a change-set may move from its current status
// to next. The only legal moves are pending → approved/rejected/request_changes
// and approved → applied.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusApproved || next == StatusRejected || next == StatusRequestChanges
	case StatusApproved:
		return next == StatusApplied
	default:
		return false
	}
}

// StagedEdit is an ephemeral full-content replacement proposed by a specialist.
// It exists only between the staging tool call and the change-set build.
type StagedEdit struct {
	DocID      string `json:"doc_id"`
	NewContent string `json:"new_content"`
}

// ChangeSet is a diff-bearing batch of edits awaiting human review.
type ChangeSet struct {
	ID           string            `json:"change_set_id"`
	ThreadID     string            `json:"thread_id,omitempty"`
	RunID        string            `json:"run_id,omitempty"`
	CreatedBy    string            `json:"created_by"`
	CreatedAt    time.Time         `json:"created_at"`
	Summary      string            `json:"summary"`
	Edits        []StagedEdit      `json:"edits,omitempty"`
	Diffs        map[string]string `json:"diffs"`
	Status       Status            `json:"status"`
	DecidedAt    *time.Time        `json:"decided_at,omitempty"`
	DecisionNote string            `json:"decision_note,omitempty"`
}

// DocIDs returns the distinct documents touched by the change-set, in edit order.
func (cs *ChangeSet) DocIDs() []string {
	seen := make(map[string]bool, len(cs.Edits))
	ids := make([]string, 0, len(cs.Edits))
	for _, e := range cs.Edits {
		if seen[e.DocID] {
			continue
		}
		seen[e.DocID] = true
		ids = append(ids, e.DocID)
	}
	return ids
}

// DocChange is the persisted per-document record of a change-set: the exact
// before/after content and the diff shown to the reviewer.
type DocChange struct {
	DocID         string `json:"doc_id"`
	BeforeContent string `json:"before_content"`
	AfterContent  string `json:"after_content"`
	Diff          string `json:"diff"`
}

// Review is one recorded human decision on a change-set.
type Review struct {
	Decision   Decision  `json:"decision"`
	Comment    string    `json:"comment,omitempty"`
	ReviewedBy string    `json:"reviewed_by"`
	ReviewedAt time.Time `json:"reviewed_at"`
}

// Detail is the change-set read model for external inspection: the record
// plus its per-document changes and review history.
type Detail struct {
	ChangeSet
	Docs       []string    `json:"docs"`
	DocChanges []DocChange `json:"doc_changes,omitempty"`
	Reviews    []Review    `json:"reviews,omitempty"`
}

// Dedupe collapses staged edits so the last write per doc_id wins while
// preserving first-seen document order.
func Dedupe(edits []StagedEdit) []StagedEdit {
	latest := make(map[string]string, len(edits))
	order := make([]string, 0, len(edits))
	for _, e := range edits {
		if _, ok := latest[e.DocID]; !ok {
			order = append(order, e.DocID)
		}
		latest[e.DocID] = e.NewContent
	}

	out := make([]StagedEdit, 0, len(order))
	for _, id := range order {
		out = append(out, StagedEdit{DocID: id, NewContent: latest[id]})
	}
	return out
}

// ValidateEdits checks every staged edit targets a known document.
func ValidateEdits(edits []StagedEdit, known func(docID string) bool) error {
	if len(edits) == 0 {
		return fmt.Errorf("no edits staged")
	}
	for _, e := range edits {
		if !known(e.DocID) {
			return fmt.Errorf("unknown doc_id: %s", e.DocID)
		}
	}
	return nil
}
