package handler

import (
	"net/http"
	"time"
)

// handleHealth handles GET /health.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: h.version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady handles GET /ready. It answers 503 until recovery has
// finished.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if !h.store.Ready() {
		h.writeError(w, r, http.StatusServiceUnavailable, "WDB-SYS-5030", "storage is recovering")
		return
	}
	h.writeJSON(w, r, http.StatusOK, HealthResponse{
		Status: "ready",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}
