// Package document defines the shared planning documents owned by a thread.
package document

import "time"

// Document is a versioned structured document shared across runs of a thread.
// Content is mutated only by an applied change-set; Version increments by
// exactly one when content actually changes. Metadata-only writes keep the
// current version.
type Document struct {
	DocID       string     `json:"doc_id"`
	ThreadID    string     `json:"thread_id,omitempty"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	Description string     `json:"description"`
	Version     int        `json:"version"`
	UpdatedBy   string     `json:"updated_by,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// Version history entries are retained alongside the live row; documents are
// never deleted.

// Revision is one retained historical version of a document's content.
type Revision struct {
	ThreadID    string    `json:"thread_id"`
	DocID       string    `json:"doc_id"`
	Version     int       `json:"version"`
	Content     string    `json:"content"`
	Summary     string    `json:"summary"`
	UpdatedBy   string    `json:"updated_by,omitempty"`
	ChangeSetID string    `json:"change_set_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Bootstrap returns the standard set of empty documents created when a thread
// is first seen. Order is stable for deterministic seeding.
func Bootstrap() []Document {
	seed := []struct {
		id, title, description string
	}{
		{"product_brief", "Product Brief", "Describe the core problem, target user, value proposition, and positioning."},
		{"evidence_assumptions_log", "Evidence & Assumptions Log", "Track key assumptions with confidence level and validation status."},
		{"mvp_scope_non_goals", "MVP Scope & Non-Goals", "Define what is in scope for MVP and explicitly list what is out of scope."},
		{"technical_plan", "Technical Plan", "Describe architecture, stack decisions, delivery milestones, and constraints."},
		{"gtm_plan", "GTM Plan", "Describe launch strategy, distribution channels, and growth experiments."},
		{"business_model_pricing", "Business Model & Pricing", "Describe monetization model, packaging, pricing, and core unit economics."},
		{"risk_decision_log", "Risk & Decision Log", "Track major risks, tradeoffs, and decision rationale over time."},
		{"next_actions_board", "Next Actions Board", "Maintain a prioritized list of concrete tasks for the next two weeks."},
	}

	docs := make([]Document, 0, len(seed))
	for _, s := range seed {
		docs = append(docs, Document{
			DocID:       s.id,
			Title:       s.title,
			Description: s.description,
			Version:     1,
		})
	}
	return docs
}
