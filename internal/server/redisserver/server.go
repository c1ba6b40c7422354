package redisserver

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
const Protocol = "redis"

// Executor runs normalized commands. *storage.Engine implements it.
type Executor interface {
	Execute(ctx context.Context, cmd domain.Command) (*domain.Result, error)
}

// Metrics receives connection and rate limit events.
type Metrics interface {
	netserver.Metrics
	IncRateLimited(protocol string)
}

// Config holds the Redis server configuration.
type Config struct {
	// Address is the TCP listen address.
	Address string
	// ReadTimeout bounds reading one command once its first byte arrived.
	ReadTimeout time.Duration
	// WriteTimeout bounds flushing one reply.
	WriteTimeout time.Duration
	// IdleTimeout closes connections with no command for this long.
	IdleTimeout time.Duration
	// MaxConnections bounds concurrent clients; 0 means unlimited.
	MaxConnections int
	// RateLimit is the maximum number of commands per second per client
	// host. 0 disables rate limiting.
	RateLimit int
	// RequirePass enables AUTH. Empty means no authentication.
	RequirePass string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:        "127.0.0.1:6379",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    5 * time.Minute,
		MaxConnections: 10000,
	}
}

// Server is the Redis protocol server. It can own a TCP listener (Start)
// or serve connections accepted elsewhere (ServeConn).
type Server struct {
	cfg     *Config
	handler *CommandHandler
	logger  *slog.Logger
	net     *netserver.Server
}

// ConnState holds per-connection protocol state.
type ConnState struct {
	Authenticated bool
}

// Conn is a single client connection.
type Conn struct {
	netConn net.Conn
	br      *bufio.Reader
	bw      *bufio.Writer
	state   ConnState
	quit    bool
}

func newConn(c net.Conn, br *bufio.Reader) *Conn {
	if br == nil {
		br = bufio.NewReader(c)
	}
	return &Conn{
		netConn: c,
		br:      br,
		bw:      bufio.NewWriter(c),
	}
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.netConn.RemoteAddr()
}

// New creates a Redis protocol server. metrics may be nil.
func New(cfg *Config, exec Executor, logger *slog.Logger, metrics Metrics) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("protocol", Protocol)

	s := &Server{cfg: cfg, logger: logger}
	s.handler = NewCommandHandler(exec, cfg, ratelimit.New(cfg.RateLimit), metrics, logger)

	var nm netserver.Metrics
	if metrics != nil {
		nm = metrics
	}
	s.net = netserver.New(netserver.Config{
		Name:           Protocol,
		Address:        cfg.Address,
		MaxConnections: cfg.MaxConnections,
		OnReject: func(c net.Conn) {
			_, _ = io.WriteString(c, "-ERR max number of clients reached\r\n")
		},
	}, s, logger, nm)
	return s
}

// Limiter returns the per-client rate limiter, nil when disabled.
func (s *Server) Limiter() *ratelimit.Registry {
	return s.handler.limiter
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

// ServeConn serves RESP on c until the client quits, the connection fails
// or ctx is cancelled.
func (s *Server) ServeConn(ctx context.Context, c net.Conn) {
	s.ServeBuffered(ctx, c, nil)
}

// ServeBuffered is ServeConn for a connection whose first bytes were
// already read into br.
func (s *Server) ServeBuffered(ctx context.Context, nc net.Conn, br *bufio.Reader) {
	c := newConn(nc, br)
	if s.cfg.RequirePass == "" {
		c.state.Authenticated = true
	}

	readTimeout := orDefault(s.cfg.ReadTimeout, 30*time.Second)
	writeTimeout := orDefault(s.cfg.WriteTimeout, 30*time.Second)
	idleTimeout := orDefault(s.cfg.IdleTimeout, 5*time.Minute)

	stop := context.AfterFunc(ctx, func() { _ = nc.SetReadDeadline(time.Now()) })
	defer stop()

	for {
		// Idle wait for the first byte of the next command.
		if err := nc.SetReadDeadline(time.Now().Add(idleTimeout)); err != nil {
			return
		}
		if _, err := c.br.Peek(1); err != nil {
			s.logReadError(c, err)
			return
		}
		if ctx.Err() != nil {
			return
		}

		// Once a command started, it has to arrive within the read timeout.
		if err := nc.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return
		}

		args, err := ReadCommand(c.br)
		if err != nil {
			if errors.Is(err, ErrLimitExceeded) {
				s.logger.Warn("protocol limit exceeded", "remote", c.RemoteAddr().String(), "error", err)
				s.reply(c, writeTimeout, "ERR protocol limit exceeded")
				return
			}
			if errors.Is(err, ErrProtocol) {
				s.reply(c, writeTimeout, "ERR Protocol error: "+err.Error())
				return
			}
			s.logReadError(c, err)
			return
		}
		if len(args) == 0 {
			continue
		}

		s.handler.Handle(ctx, c, args)

		if err := nc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return
		}
		if err := c.bw.Flush(); err != nil {
			return
		}
		if c.quit {
			return
		}
	}
}

func (s *Server) reply(c *Conn, timeout time.Duration, msg string) {
	_ = c.netConn.SetWriteDeadline(time.Now().Add(timeout))
	_ = WriteError(c.bw, msg)
	_ = c.bw.Flush()
}

func (s *Server) logReadError(c *Conn, err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		s.logger.Debug("connection timed out", "remote", c.RemoteAddr().String())
		return
	}
	s.logger.Debug("connection read error", "remote", c.RemoteAddr().String(), "error", err)
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
