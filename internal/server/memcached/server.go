package memcached

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/workingdb/workingdb-go/internal/core/domain"
	"github.com/workingdb/workingdb-go/internal/server/netserver"
	"github.com/workingdb/workingdb-go/internal/server/ratelimit"
)

// Protocol is the label used in logs and metrics.
const Protocol = "memcached"

// Executor runs normalized commands. *storage.Engine implements it.
type Executor interface {
	Execute(ctx context.Context, cmd domain.Command) (*domain.Result, error)
}

// Metrics receives connection and rate limit events.
type Metrics interface {
	netserver.Metrics
	IncRateLimited(protocol string)
}

// Config holds the memcached server configuration.
type Config struct {
	Address        string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxConnections int
	// RateLimit is the maximum number of commands per second per client
	// host. 0 disables rate limiting.
	RateLimit int
	// MaxItemSize is the largest data block read from a client. Larger
	// blocks are discarded without buffering.
	MaxItemSize int
	// Version is reported by the version command.
	Version string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:        "127.0.0.1:11211",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    5 * time.Minute,
		MaxConnections: 10000,
		MaxItemSize:    domain.DefaultMaxValueSize,
		Version:        "dev",
	}
}

// Server is the memcached text protocol server.
type Server struct {
	cfg     *Config
	exec    Executor
	logger  *slog.Logger
	limiter *ratelimit.Registry
	metrics Metrics
	net     *netserver.Server
	now     func() time.Time
	started time.Time
}

// New creates a memcached server. metrics may be nil.
func New(cfg *Config, exec Executor, logger *slog.Logger, metrics Metrics) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxItemSize <= 0 {
		cfg.MaxItemSize = domain.DefaultMaxValueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("protocol", Protocol)

	s := &Server{
		cfg:     cfg,
		exec:    exec,
		logger:  logger,
		limiter: ratelimit.New(cfg.RateLimit),
		metrics: metrics,
		now:     time.Now,
		started: time.Now(),
	}

	var nm netserver.Metrics
	if metrics != nil {
		nm = metrics
	}
	s.net = netserver.New(netserver.Config{
		Name:           Protocol,
		Address:        cfg.Address,
		MaxConnections: cfg.MaxConnections,
		OnReject: func(c net.Conn) {
			_, _ = io.WriteString(c, "SERVER_ERROR too many open connections\r\n")
		},
	}, s, logger, nm)
	return s
}

// Limiter returns the per-client rate limiter, nil when disabled.
func (s *Server) Limiter() *ratelimit.Registry {
	return s.limiter
}

// Start binds the TCP listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	return s.net.Start(ctx)
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.net.Addr()
}

// Shutdown stops the listener and closes client connections.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.net.Shutdown(ctx)
}

type conn struct {
	nc   net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer
	quit bool
}

// ServeConn serves the text protocol on c.
func (s *Server) ServeConn(ctx context.Context, c net.Conn) {
	s.ServeBuffered(ctx, c, nil)
}

// ServeBuffered is ServeConn for a connection whose first bytes were
// already read into br.
func (s *Server) ServeBuffered(ctx context.Context, nc net.Conn, br *bufio.Reader) {
	if br == nil {
		br = bufio.NewReader(nc)
	}
	c := &conn{nc: nc, br: br, bw: bufio.NewWriter(nc)}

	readTimeout := orDefault(s.cfg.ReadTimeout, 30*time.Second)
	writeTimeout := orDefault(s.cfg.WriteTimeout, 30*time.Second)
	idleTimeout := orDefault(s.cfg.IdleTimeout, 5*time.Minute)

	stop := context.AfterFunc(ctx, func() { _ = nc.SetReadDeadline(time.Now()) })
	defer stop()

	for {
		if c.br.Buffered() == 0 {
			if err := nc.SetReadDeadline(time.Now().Add(idleTimeout)); err != nil {
				return
			}
			if _, err := c.br.Peek(1); err != nil {
				s.logReadError(nc, err)
				return
			}
			if ctx.Err() != nil {
				return
			}
		}
		if err := nc.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return
		}

		line, err := readLine(c.br)
		if err != nil {
			if errors.Is(err, errLineTooLong) {
				_ = nc.SetWriteDeadline(time.Now().Add(writeTimeout))
				_, _ = c.bw.WriteString("CLIENT_ERROR line too long\r\n")
				_ = c.bw.Flush()
				return
			}
			s.logReadError(nc, err)
			return
		}

		if err := s.handle(ctx, c, line); err != nil {
			s.logReadError(nc, err)
			_ = nc.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = c.bw.Flush()
			return
		}

		// Replies to pipelined requests go out together.
		if c.br.Buffered() == 0 || c.quit {
			if err := nc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := c.bw.Flush(); err != nil {
				return
			}
		}
		if c.quit {
			return
		}
	}
}

func (s *Server) logReadError(nc net.Conn, err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		s.logger.Debug("connection timed out", "remote", nc.RemoteAddr().String())
		return
	}
	s.logger.Debug("connection error", "remote", nc.RemoteAddr().String(), "error", err)
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
