package http

import "net/http"

// ListLLMModels proxies the model catalog from the LiteLLM gateway.
func (h *Handlers) ListLLMModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.LiteLLM.ListModels(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "llm gateway unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

// LLMHealth reports gateway reachability without exposing gateway internals.
func (h *Handlers) LLMHealth(w http.ResponseWriter, r *http.Request) {
	healthy, err := h.LiteLLM.Health(r.Context())
	status := "ok"
	if err != nil || !healthy {
		status = "unreachable"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}
