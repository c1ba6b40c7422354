package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/workingdb/workingdb-go/internal/server/httpserver/handler"
	"github.com/workingdb/workingdb-go/internal/server/ratelimit"
)

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	Store   handler.Store
	Version string
	Logger  *slog.Logger

	// Metrics serves GET /metrics. Nil leaves the route unregistered.
	Metrics http.Handler

	// RateLimit is applied to the /v1 and /admin routes.
	RateLimit *ratelimit.Registry

	// OnRateLimited is called for every rejected request.
	OnRateLimited func()

	// AccessLog enables one log line per request.
	AccessLog bool
}

// NewRouter builds the admin API mux with its middleware.
func NewRouter(cfg *RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	h := handler.New(cfg.Store, cfg.Version, log)

	probes := Chain(h, RequestID(log), Recover())

	api := []Middleware{RequestID(log), Recover()}
	if cfg.AccessLog {
		api = append(api, AccessLog())
	}
	api = append(api, RateLimit(cfg.RateLimit, cfg.OnRateLimited))
	apiHandler := Chain(h, api...)

	mux := http.NewServeMux()
	mux.Handle("GET /health", probes)
	mux.Handle("GET /ready", probes)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	mux.Handle("GET /v1/stats", apiHandler)
	mux.Handle("GET /v1/keys/{key}", apiHandler)
	mux.Handle("POST /admin/v1/snapshot", apiHandler)
	mux.Handle("POST /admin/v1/sweep", apiHandler)
	return mux
}
