package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// DefaultTimeout bounds the whole shutdown sequence.
const DefaultTimeout = 30 * time.Second

type hook struct {
	name string
	fn   func(context.Context) error
}

// Handler runs registered shutdown hooks in reverse registration order.
type Handler struct {
	timeout time.Duration
	logger  *slog.Logger
	hooks   []hook
	mu      sync.Mutex
	once    sync.Once
	done    chan struct{}
	err     error
}

// NewHandler creates a new shutdown handler.
func NewHandler(timeout time.Duration, logger *slog.Logger) *Handler {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		timeout: timeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// OnShutdown registers a named hook. Hooks registered first run last, so
// components are stopped in the reverse of their start order.
func (h *Handler) OnShutdown(name string, fn func(context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, hook{name: name, fn: fn})
}

// Shutdown runs every hook once, even when earlier hooks fail, and
// returns the joined errors. The hooks share one context bounded by the
// handler timeout. Later calls return the first result.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
		defer cancel()

		h.mu.Lock()
		hooks := make([]hook, len(h.hooks))
		copy(hooks, h.hooks)
		h.mu.Unlock()

		var errs []error
		for i := len(hooks) - 1; i >= 0; i-- {
			start := time.Now()
			if err := hooks[i].fn(ctx); err != nil {
				h.logger.Error("shutdown hook failed", "hook", hooks[i].name, "error", err)
				errs = append(errs, fmt.Errorf("%s: %w", hooks[i].name, err))
				continue
			}
			h.logger.Debug("shutdown hook finished", "hook", hooks[i].name, "duration", time.Since(start))
		}
		h.err = errors.Join(errs...)
		close(h.done)
	})
	return h.err
}

// Done returns a channel that closes when shutdown is complete.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// WithSignals returns a context cancelled on SIGINT or SIGTERM.
func WithSignals(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
