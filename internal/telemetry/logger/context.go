package logger

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	loggerKey    contextKey = "workingdb.logger"
	requestIDKey contextKey = "workingdb.request_id"
	connIDKey    contextKey = "workingdb.conn_id"
)

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext extracts the logger from context, or the default logger.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
		return l
	}
	return Default()
}

// WithRequestID adds an HTTP request id to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id from context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithConnID adds a client connection id to the context.
func WithConnID(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, connIDKey, connID)
}

// ConnIDFromContext extracts the connection id from context.
func ConnIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(connIDKey).(string)
	return id
}

// L returns the context logger enriched with the request and connection
// ids found in ctx.
func L(ctx context.Context) *slog.Logger {
	l := FromContext(ctx)
	if id := RequestIDFromContext(ctx); id != "" {
		l = l.With("request_id", id)
	}
	if id := ConnIDFromContext(ctx); id != "" {
		l = l.With("conn_id", id)
	}
	return l
}
