package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Threads. The chat and approval endpoints respond with an SSE
		// stream of run events; everything else is a plain JSON read.
		r.Route("/threads/{id}", func(r chi.Router) {
			r.Post("/chat", h.Chat)
			r.Post("/approval", h.Approval)

			r.Get("/", h.GetSnapshot)
			r.Get("/messages", h.ListMessages)
			r.Get("/runs", h.ListRuns)
			r.Get("/agents", h.ListAgentStatuses)

			// Shared documents
			r.Get("/docs", h.ListDocuments)
			r.Get("/docs/{docID}", h.GetDocument)
			r.Get("/docs/{docID}/revisions", h.ListDocumentRevisions)

			// Change-sets
			r.Get("/changesets", h.ListChangeSets)
			r.Get("/changesets/pending", h.GetPendingChangeSet)
			r.Get("/changesets/{changeSetID}", h.GetChangeSet)
		})

		// LLM gateway
		r.Get("/llm/models", h.ListLLMModels)
		r.Get("/llm/health", h.LLMHealth)
	})
}
