package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/workingdb/workingdb-go/internal/core/domain"
	"github.com/workingdb/workingdb-go/internal/storage/snapshot"
	"github.com/workingdb/workingdb-go/internal/telemetry/logger"
)

// Store is the part of the storage engine the admin API needs.
// *storage.Engine implements it.
type Store interface {
	Ready() bool
	Execute(ctx context.Context, cmd domain.Command) (*domain.Result, error)
	Stats() domain.Stats
	TriggerSnapshot(ctx context.Context) (*snapshot.Info, error)
	Sweep() int
}

// Handler serves the admin API.
type Handler struct {
	store   Store
	version string
	logger  *slog.Logger
	mux     *http.ServeMux
}

// New creates a Handler.
func New(store Store, version string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		store:   store,
		version: version,
		logger:  logger,
		mux:     http.NewServeMux(),
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /ready", h.handleReady)

	h.mux.HandleFunc("GET /v1/stats", h.handleStats)
	h.mux.HandleFunc("GET /v1/keys/{key}", h.handleGetKey)

	h.mux.HandleFunc("POST /admin/v1/snapshot", h.handleSnapshot)
	h.mux.HandleFunc("POST /admin/v1/sweep", h.handleSweep)
}

// writeJSON writes a success envelope.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	requestID := logger.RequestIDFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(NewResponse(requestID, data)); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// writeError writes an error envelope.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	requestID := logger.RequestIDFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(NewErrorResponse(requestID, code, message))
}

// handleServiceError converts store errors to HTTP responses.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if code := domain.CodeOf(err); code != "" {
		status := errorCodeToHTTPStatus(code)
		if status >= 500 {
			logger.L(r.Context()).Error("request failed", "error", err)
		}
		h.writeError(w, r, status, code, err.Error())
		return
	}

	logger.L(r.Context()).Error("internal error", "error", err)
	h.writeError(w, r, http.StatusInternalServerError, "WDB-SYS-5000", "internal server error")
}

// errorCodeToHTTPStatus maps error codes to HTTP status codes.
func errorCodeToHTTPStatus(code string) int {
	switch {
	case strings.HasSuffix(code, "-4131"), strings.HasSuffix(code, "-4132"):
		return http.StatusRequestEntityTooLarge
	case strings.HasSuffix(code, "-4040"):
		return http.StatusNotFound
	case strings.HasPrefix(code, "WDB-DATA-4"):
		return http.StatusBadRequest
	case strings.HasSuffix(code, "-5030"), strings.HasSuffix(code, "-5031"):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
