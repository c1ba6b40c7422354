package localserver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/workingdb/workingdb-go/internal/server/netserver"
)

// Protocol is the label used in logs and metrics.
const Protocol = "local"

// ErrSocketInUse is returned when another process serves the socket path.
var ErrSocketInUse = errors.New("localserver: socket already in use")

// Server is the local socket server.
type Server struct {
	path string
	net  *netserver.Server
}

// New creates a local server on socketPath serving connections with h,
// typically a *redisserver.Server. metrics may be nil.
func New(socketPath string, h netserver.Handler, logger *slog.Logger, metrics netserver.Metrics) *Server {
	s := &Server{path: socketPath}
	s.net = netserver.New(netserver.Config{
		Name:    Protocol,
		Network: "unix",
		Address: socketPath,
		Listen:  s.listen,
	}, h, logger, metrics)
	return s
}

// Path returns the socket path.
func (s *Server) Path() string {
	return s.path
}

// Start creates the socket and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	return s.net.Start(ctx)
}

// Shutdown closes the socket and client connections. The socket file is
// removed by the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.net.Shutdown(ctx)
}

func (s *Server) listen(network, address string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(address), 0o700); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}
	if err := removeStale(address); err != nil {
		return nil, err
	}

	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(address, 0o600); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return ln, nil
}

// removeStale deletes a socket file nobody listens on.
func removeStale(path string) error {
	fi, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if fi.Mode()&fs.ModeSocket == 0 {
		return fmt.Errorf("localserver: %s exists and is not a socket", path)
	}

	c, err := net.DialTimeout("unix", path, 200*time.Millisecond)
	if err == nil {
		_ = c.Close()
		return fmt.Errorf("%w: %s", ErrSocketInUse, path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	return nil
}
