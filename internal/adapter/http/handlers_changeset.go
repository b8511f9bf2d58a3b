package http

import (
	"net/http"

	"github.com/Strob0t/Roundtable/internal/domain/changeset"
)

// Approval feeds a human decision into the thread's suspended approval gate
// and streams the resumed run as SSE. Unrecognized decisions reject.
func (h *Handlers) Approval(w http.ResponseWriter, r *http.Request) {
	threadID := urlParam(r, "id")
	if !requireField(w, threadID, "thread id") {
		return
	}
	payload, ok := readJSON[changeset.DecisionPayload](w, r, maxRequestBodySize)
	if !ok {
		return
	}

	// A missing decision is not a client error: ParseDecision treats it as
	// a reject, the safe default for the gate.
	_, stream, err := h.Engine.Resume(r.Context(), threadID, payload)
	if err != nil {
		writeDomainError(w, err, "no suspended run for thread")
		return
	}
	h.streamRun(w, r, stream)
}

// ListChangeSets returns the thread's change-sets, newest first.
func (h *Handlers) ListChangeSets(w http.ResponseWriter, r *http.Request) {
	threadID := urlParam(r, "id")
	sets, err := h.ChangeSets.List(r.Context(), threadID)
	if err != nil {
		writeDomainError(w, err, "thread not found")
		return
	}
	writeJSON(w, http.StatusOK, sets)
}

// GetPendingChangeSet returns the change-set currently awaiting a decision.
func (h *Handlers) GetPendingChangeSet(w http.ResponseWriter, r *http.Request) {
	threadID := urlParam(r, "id")
	cs, err := h.ChangeSets.Pending(r.Context(), threadID)
	if err != nil {
		writeDomainError(w, err, "no pending change-set")
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

// GetChangeSet returns one change-set with its document changes and reviews.
func (h *Handlers) GetChangeSet(w http.ResponseWriter, r *http.Request) {
	threadID := urlParam(r, "id")
	changeSetID := urlParam(r, "changeSetID")
	cs, err := h.ChangeSets.Get(r.Context(), threadID, changeSetID)
	if err != nil {
		writeDomainError(w, err, "change-set not found")
		return
	}
	writeJSON(w, http.StatusOK, cs)
}
