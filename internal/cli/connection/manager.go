package connection

import (
	"context"
	"errors"
	"strings"
	"time"
)

// DefaultTimeout bounds dialing and a single request.
const DefaultTimeout = 10 * time.Second

// Target describes where the CLI connects.
type Target struct {
	// Server is the RESP address (host:port).
	Server string
	// Socket is the local Unix socket path. It takes precedence over
	// Server when set.
	Socket string
	// Admin is the admin HTTP address.
	Admin string
	// Password is sent with AUTH after connecting.
	Password string
	Timeout  time.Duration
}

// Manager hands out lazily created clients for one target.
type Manager struct {
	target Target
	resp   *RESPClient
	http   *HTTPClient
}

// NewManager creates a new connection manager.
func NewManager(target Target) *Manager {
	return &Manager{target: target}
}

// Target returns the configured target.
func (m *Manager) Target() Target {
	return m.target
}

// RESP returns a connected, authenticated RESP client.
func (m *Manager) RESP(ctx context.Context) (*RESPClient, error) {
	if m.resp != nil {
		return m.resp, nil
	}
	network, addr := "tcp", m.target.Server
	if m.target.Socket != "" {
		network, addr = "unix", m.target.Socket
	}
	if addr == "" {
		return nil, errors.New("no server address configured")
	}

	c := NewRESPClient(network, addr, m.target.Timeout)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	if m.target.Password != "" {
		reply, err := c.Do(ctx, "AUTH", m.target.Password)
		if err != nil {
			c.Close()
			return nil, err
		}
		if err := reply.Err(); err != nil {
			c.Close()
			return nil, err
		}
	}
	m.resp = c
	return c, nil
}

// HTTP returns the admin API client.
func (m *Manager) HTTP() (*HTTPClient, error) {
	if m.http != nil {
		return m.http, nil
	}
	if strings.TrimSpace(m.target.Admin) == "" {
		return nil, errors.New("no admin address configured")
	}
	m.http = NewHTTPClient(m.target.Admin, m.target.Timeout)
	return m.http, nil
}

// Close closes any open connection.
func (m *Manager) Close() error {
	if m.resp == nil {
		return nil
	}
	err := m.resp.Close()
	m.resp = nil
	return err
}
