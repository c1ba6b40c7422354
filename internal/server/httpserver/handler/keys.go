package handler

import (
	"net/http"
	"time"

	"github.com/workingdb/workingdb-go/internal/core/domain"
)

// handleStats handles GET /v1/stats.
func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, h.store.Stats())
}

// handleGetKey handles GET /v1/keys/{key}. The read goes through the
// executor, so an expired key is evicted like any other read.
func (h *Handler) handleGetKey(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	res, err := h.store.Execute(r.Context(), domain.Get(key))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if !res.Found {
		h.writeError(w, r, http.StatusNotFound, "WDB-DATA-4040", "key not found")
		return
	}

	out := KeyResponse{
		Key:     key,
		Value:   res.Value,
		Flags:   res.Flags,
		Version: res.Version,
	}
	if res.ExpiresAt != 0 {
		at := time.UnixMilli(res.ExpiresAt).UTC()
		out.ExpiresAt = &at
		out.TTLMillis = max(time.Until(at).Milliseconds(), 0)
	} else {
		out.TTLMillis = -1
	}
	h.writeJSON(w, r, http.StatusOK, out)
}
