package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// Config configures the admin HTTP listener.
type Config struct {
	Address           string
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
}

// DefaultConfig returns the default admin listener configuration.
func DefaultConfig() Config {
	return Config{
		Address:           "127.0.0.1:6380",
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}

// Server represents the HTTP server.
type Server struct {
	cfg        Config
	httpServer *http.Server
	logger     *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	done     chan struct{}
}

// New creates a new HTTP server.
func New(cfg Config, h http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		logger: logger,
		httpServer: &http.Server{
			Addr:              cfg.Address,
			Handler:           h,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		},
	}
}

// Start binds the listener and serves in the background. Bind errors are
// returned synchronously.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("http: listen %s: %w", s.cfg.Address, err)
	}
	s.httpServer.BaseContext = func(net.Listener) context.Context { return ctx }

	s.mu.Lock()
	s.listener = ln
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("http server listening", "address", ln.Addr().String())
	go func() {
		defer close(s.done)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	return err
}
