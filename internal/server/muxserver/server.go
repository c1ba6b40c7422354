// Package muxserver serves RESP and the memcached text protocol on one
// port. The first byte of a connection selects the protocol: '*' starts
// a RESP array, anything else is a memcached command line. Inline RESP
// commands are therefore not available on this port.
package muxserver

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/workingdb/workingdb-go/internal/server/netserver"
)

// Protocol is the label used in logs and metrics.
const Protocol = "mux"

// BufferedHandler serves a connection whose first bytes sit in br.
// redisserver.Server and memcached.Server implement it.
type BufferedHandler interface {
	ServeBuffered(ctx context.Context, c net.Conn, br *bufio.Reader)
}

// Config configures the multiplexed listener.
type Config struct {
	Address        string
	MaxConnections int
	// SniffTimeout bounds the wait for the first byte.
	SniffTimeout time.Duration
}

// Server sniffs the protocol of each connection and dispatches it.
type Server struct {
	cfg       Config
	resp      BufferedHandler
	memcached BufferedHandler
	logger    *slog.Logger
	net       *netserver.Server
}

// New creates a multiplexed server. metrics may be nil.
func New(cfg Config, resp, memcached BufferedHandler, logger *slog.Logger, metrics netserver.Metrics) *Server {
	if cfg.SniffTimeout <= 0 {
		cfg.SniffTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		resp:      resp,
		memcached: memcached,
		logger:    logger.With("protocol", Protocol),
	}
	s.net = netserver.New(netserver.Config{
		Name:           Protocol,
		Address:        cfg.Address,
		MaxConnections: cfg.MaxConnections,
	}, s, s.logger, metrics)
	return s
}

func (s *Server) Start(ctx context.Context) error {
	return s.net.Start(ctx)
}

func (s *Server) Addr() net.Addr {
	return s.net.Addr()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.net.Shutdown(ctx)
}

// ServeConn implements netserver.Handler.
func (s *Server) ServeConn(ctx context.Context, c net.Conn) {
	br := bufio.NewReader(c)
	if err := c.SetReadDeadline(time.Now().Add(s.cfg.SniffTimeout)); err != nil {
		return
	}
	first, err := br.Peek(1)
	if err != nil {
		return
	}

	if Sniff(first[0]) == "resp" {
		s.resp.ServeBuffered(ctx, c, br)
		return
	}
	s.memcached.ServeBuffered(ctx, c, br)
}

// Sniff names the protocol that starts with b.
func Sniff(b byte) string {
	if b == '*' {
		return "resp"
	}
	return "memcached"
}
