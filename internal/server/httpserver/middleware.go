package httpserver

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/workingdb/workingdb-go/internal/server/ratelimit"
	"github.com/workingdb/workingdb-go/internal/telemetry/logger"
)

// Middleware wraps an http.Handler with additional functionality.
type Middleware func(http.Handler) http.Handler

// Chain chains multiple middlewares together. The first middleware is the
// outermost one.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// RequestID tags each request with an id, taken from X-Request-ID when the
// client sent one. The id is echoed in the response and stored on the
// request context next to the base logger.
func RequestID(base *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" || len(requestID) > 128 {
				requestID = "req-" + ulid.Make().String()
			}
			w.Header().Set("X-Request-ID", requestID)

			ctx := logger.WithRequestID(r.Context(), requestID)
			ctx = logger.WithLogger(ctx, base)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimit rejects peers that exceed their budget with 429. Buckets are
// keyed by the connection's remote host; forwarding headers are ignored
// because clients control them. A nil registry disables the check.
func RateLimit(limiter *ratelimit.Registry, onReject func()) Middleware {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.AllowHost(remoteHost(r)) {
				if onReject != nil {
					onReject()
				}
				w.Header().Set("Retry-After", "1")
				writePlainError(w, http.StatusTooManyRequests, "WDB-SYS-4290", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AccessLog logs one line per request once the handler has returned.
func AccessLog() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"bytes", wrapped.written,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote", remoteHost(r),
			}
			log := logger.L(r.Context())
			switch {
			case wrapped.statusCode >= 500:
				log.Error("request completed with error", attrs...)
			case wrapped.statusCode >= 400:
				log.Warn("request completed with client error", attrs...)
			default:
				log.Debug("request completed", attrs...)
			}
		})
	}
}

// Recover turns a handler panic into a 500 response.
func Recover() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					logger.L(r.Context()).Error("panic recovered",
						"error", err,
						"path", r.URL.Path,
					)
					writePlainError(w, http.StatusInternalServerError, "WDB-SYS-5000", "internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (w *responseWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.written += int64(n)
	return n, err
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// writePlainError writes an error body for responses produced outside the
// handler package.
func writePlainError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":      code,
		"message":   message,
		"timestamp": time.Now().UnixMilli(),
	})
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
