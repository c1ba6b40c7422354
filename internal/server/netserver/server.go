// Package netserver runs the accept loop shared by the stream protocol
// listeners: connection limits, tracking for shutdown and connection
// metrics.
package netserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Handler serves one accepted connection. It returns when the client
// disconnects or ctx is cancelled; the server closes the connection
// afterwards.
type Handler interface {
	ServeConn(ctx context.Context, c net.Conn)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, c net.Conn)

func (f HandlerFunc) ServeConn(ctx context.Context, c net.Conn) { f(ctx, c) }

// Metrics receives connection events. *metric.Registry implements it.
type Metrics interface {
	ConnOpened(protocol string)
	ConnClosed(protocol string)
}

// Config configures a Server.
type Config struct {
	// Name labels logs and metrics ("redis", "memcached", ...).
	Name string
	// Network is "tcp" (default) or "unix".
	Network string
	Address string
	// MaxConnections bounds concurrent clients; 0 means unlimited.
	MaxConnections int
	// Listen overrides net.Listen, e.g. to prepare a unix socket.
	Listen func(network, address string) (net.Listener, error)
	// OnReject writes a refusal to a client turned away by MaxConnections.
	OnReject func(c net.Conn)
}

// Server accepts connections and hands each to a Handler in its own
// goroutine.
type Server struct {
	cfg     Config
	handler Handler
	logger  *slog.Logger
	metrics Metrics

	mu      sync.Mutex
	ln      net.Listener
	conns   map[net.Conn]struct{}
	cancel  context.CancelFunc
	running atomic.Bool
	active  atomic.Int64
	wg      sync.WaitGroup
}

// New creates a server. logger and metrics may be nil.
func New(cfg Config, h Handler, logger *slog.Logger, metrics Metrics) *Server {
	if cfg.Network == "" {
		cfg.Network = "tcp"
	}
	if cfg.Listen == nil {
		cfg.Listen = net.Listen
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		handler: h,
		logger:  logger.With("listener", cfg.Name),
		metrics: metrics,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Start binds the listener and serves in the background. Bind errors are
// returned directly.
func (s *Server) Start(ctx context.Context) error {
	ln, err := s.cfg.Listen(s.cfg.Network, s.cfg.Address)
	if err != nil {
		return fmt.Errorf("%s: listen %s: %w", s.cfg.Name, s.cfg.Address, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.ln = ln
	s.cancel = cancel
	s.mu.Unlock()
	s.running.Store(true)

	s.logger.Info("listener started", "address", ln.Addr().String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.acceptLoop(ctx, ln); err != nil {
			s.logger.Error("accept loop stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// ActiveConnections returns the number of connections being served.
func (s *Server) ActiveConnections() int {
	return int(s.active.Load())
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	var backoff time.Duration
	for {
		c, err := ln.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if backoff == 0 {
					backoff = 5 * time.Millisecond
				} else if backoff *= 2; backoff > time.Second {
					backoff = time.Second
				}
				s.logger.Warn("accept error, retrying", "error", err, "backoff", backoff)
				time.Sleep(backoff)
				continue
			}
			return err
		}
		backoff = 0

		if limit := s.cfg.MaxConnections; limit > 0 && s.active.Load() >= int64(limit) {
			s.logger.Warn("connection limit reached, rejecting client",
				"remote", c.RemoteAddr().String(), "max_connections", limit)
			if s.cfg.OnReject != nil {
				_ = c.SetWriteDeadline(time.Now().Add(time.Second))
				s.cfg.OnReject(c)
			}
			_ = c.Close()
			continue
		}

		s.track(c, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(c, false)
			defer c.Close()
			s.handler.ServeConn(ctx, c)
		}()
	}
}

func (s *Server) track(c net.Conn, open bool) {
	s.mu.Lock()
	if open {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
	s.mu.Unlock()

	if open {
		s.active.Add(1)
		if s.metrics != nil {
			s.metrics.ConnOpened(s.cfg.Name)
		}
		return
	}
	s.active.Add(-1)
	if s.metrics != nil {
		s.metrics.ConnClosed(s.cfg.Name)
	}
}

// Shutdown stops accepting, closes open connections and waits for their
// handlers to return or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.mu.Lock()
	ln := s.ln
	if s.cancel != nil {
		s.cancel()
	}
	var err error
	if ln != nil {
		err = ln.Close()
	}
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.logger.Info("listener stopped")
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}
