package handler

import (
	"net/http"
	"time"
)

// handleSnapshot handles POST /admin/v1/snapshot.
func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	info, err := h.store.TriggerSnapshot(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, SnapshotResponse{
		ID:         info.ID,
		Path:       info.Path,
		Size:       info.Size,
		LastSeq:    info.LastSeq,
		WALSegment: info.WALSegment,
		EntryCount: info.EntryCount,
		CreatedAt:  time.UnixMilli(info.CreatedAt).UTC(),
		Encrypted:  info.Encrypted,
	})
}

// handleSweep handles POST /admin/v1/sweep.
func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	if !h.store.Ready() {
		h.writeError(w, r, http.StatusServiceUnavailable, "WDB-SYS-5030", "storage is recovering")
		return
	}
	removed := h.store.Sweep()
	h.writeJSON(w, r, http.StatusOK, SweepResponse{
		Removed:     removed,
		TriggeredAt: time.Now().UTC().Format(time.RFC3339),
	})
}
