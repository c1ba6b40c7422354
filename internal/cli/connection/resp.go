package connection

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/workingdb/workingdb-go/internal/server/redisserver"
)

// ErrClosed is returned by Do after Close.
var ErrClosed = errors.New("connection closed")

// RESPClient speaks RESP to the server over TCP or the local Unix socket.
// It is safe for concurrent use; commands are serialized.
type RESPClient struct {
	network string
	addr    string
	timeout time.Duration

	mu     sync.Mutex
	conn   net.Conn
	br     *bufio.Reader
	bw     *bufio.Writer
	closed bool
}

// NewRESPClient creates a client for network ("tcp" or "unix") and addr.
// The connection is opened by the first Do.
func NewRESPClient(network, addr string, timeout time.Duration) *RESPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &RESPClient{network: network, addr: addr, timeout: timeout}
}

// Addr returns the dialed address.
func (c *RESPClient) Addr() string {
	return c.network + "://" + c.addr
}

// Connect opens the connection if it is not open yet.
func (c *RESPClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *RESPClient) connectLocked(ctx context.Context) error {
	if c.closed {
		return ErrClosed
	}
	if c.conn != nil {
		return nil
	}
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, c.network, c.addr)
	if err != nil {
		return fmt.Errorf("connect %s: %w", c.Addr(), err)
	}
	c.conn = conn
	c.br = bufio.NewReader(conn)
	c.bw = bufio.NewWriter(conn)
	return nil
}

// Do sends one command and waits for its reply. An error reply from the
// server is returned as a Reply, not as an error; errors are reserved for
// transport failures, after which the connection is dropped and the next
// Do redials.
func (c *RESPClient) Do(ctx context.Context, args ...string) (redisserver.Reply, error) {
	if len(args) == 0 {
		return redisserver.Reply{}, errors.New("empty command")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		return redisserver.Reply{}, err
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	raw := make([][]byte, len(args))
	for i, a := range args {
		raw[i] = []byte(a)
	}
	if err := redisserver.WriteCommand(c.bw, raw...); err != nil {
		c.dropLocked()
		return redisserver.Reply{}, err
	}
	if err := c.bw.Flush(); err != nil {
		c.dropLocked()
		return redisserver.Reply{}, fmt.Errorf("send: %w", err)
	}
	reply, err := redisserver.ReadReply(c.br)
	if err != nil {
		c.dropLocked()
		if ctx.Err() != nil {
			return redisserver.Reply{}, ctx.Err()
		}
		return redisserver.Reply{}, fmt.Errorf("read reply: %w", err)
	}
	return reply, nil
}

func (c *RESPClient) dropLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Close closes the connection.
func (c *RESPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
