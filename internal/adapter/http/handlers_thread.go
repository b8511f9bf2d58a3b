package http

import (
	"net/http"
)

type chatRequest struct {
	Message string `json:"message"`
}

// Chat starts a new run from a user message and streams its events as SSE.
// A thread with a pending change-set refuses new chat turns with 409.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	threadID := urlParam(r, "id")
	if !requireField(w, threadID, "thread id") {
		return
	}
	req, ok := readJSON[chatRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	if !requireField(w, req.Message, "message") {
		return
	}

	_, stream, err := h.Engine.Chat(r.Context(), threadID, req.Message)
	if err != nil {
		writeDomainError(w, err, "thread not found")
		return
	}
	h.streamRun(w, r, stream)
}

// GetSnapshot returns the full thread read model for clients catching up.
func (h *Handlers) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	threadID := urlParam(r, "id")
	if !requireField(w, threadID, "thread id") {
		return
	}
	snap, err := h.Threads.Snapshot(r.Context(), threadID)
	if err != nil {
		writeDomainError(w, err, "thread not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ListMessages returns the thread's conversation history in order.
func (h *Handlers) ListMessages(w http.ResponseWriter, r *http.Request) {
	threadID := urlParam(r, "id")
	msgs, err := h.Threads.Messages(r.Context(), threadID)
	if err != nil {
		writeDomainError(w, err, "thread not found")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// ListDocuments returns the thread's current documents.
func (h *Handlers) ListDocuments(w http.ResponseWriter, r *http.Request) {
	threadID := urlParam(r, "id")
	docs, err := h.Threads.Documents(r.Context(), threadID)
	if err != nil {
		writeDomainError(w, err, "thread not found")
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// GetDocument returns one document of the thread.
func (h *Handlers) GetDocument(w http.ResponseWriter, r *http.Request) {
	threadID := urlParam(r, "id")
	docID := urlParam(r, "docID")
	doc, err := h.Threads.Document(r.Context(), threadID, docID)
	if err != nil {
		writeDomainError(w, err, "document not found")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// ListDocumentRevisions returns the retained version history of a document.
func (h *Handlers) ListDocumentRevisions(w http.ResponseWriter, r *http.Request) {
	threadID := urlParam(r, "id")
	docID := urlParam(r, "docID")
	revs, err := h.Threads.DocumentRevisions(r.Context(), threadID, docID)
	if err != nil {
		writeDomainError(w, err, "document not found")
		return
	}
	writeJSON(w, http.StatusOK, revs)
}

// ListRuns returns the thread's recent runs, newest first.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	threadID := urlParam(r, "id")
	runs, err := h.Threads.Runs(r.Context(), threadID)
	if err != nil {
		writeDomainError(w, err, "thread not found")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// ListAgentStatuses returns the latest persisted status per agent.
func (h *Handlers) ListAgentStatuses(w http.ResponseWriter, r *http.Request) {
	threadID := urlParam(r, "id")
	statuses, err := h.Threads.AgentStatuses(r.Context(), threadID)
	if err != nil {
		writeDomainError(w, err, "thread not found")
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}
