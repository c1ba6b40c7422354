package memcached

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workingdb/workingdb-go/internal/core/domain"
	"github.com/workingdb/workingdb-go/internal/core/service"
	"github.com/workingdb/workingdb-go/internal/storage/memory"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type client struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func (c *client) send(s string) {
	c.t.Helper()
	_, err := c.conn.Write([]byte(s))
	require.NoError(c.t, err)
}

func (c *client) line() string {
	c.t.Helper()
	l, err := c.r.ReadString('\n')
	require.NoError(c.t, err)
	return strings.TrimSuffix(l, "\r\n")
}

// call sends a request and reads lines until a terminal reply.
func (c *client) call(req string) []string {
	c.t.Helper()
	c.send(req)
	var out []string
	for {
		l := c.line()
		out = append(out, l)
		if !strings.HasPrefix(l, "VALUE ") && !strings.HasPrefix(l, "STAT ") && (len(out) < 2 || !strings.HasPrefix(out[len(out)-2], "VALUE ")) {
			return out
		}
	}
}

func startServer(t *testing.T, cfg *Config, limits domain.Limits) (*Server, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Unix(1_800_000_000, 0)}
	exec := service.NewExecutor(memory.New(8), service.WithClock(clock.Now), service.WithLimits(limits))
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.Address = "127.0.0.1:0"
	cfg.Version = "1.2.3"
	srv := New(cfg, exec, nil, nil)
	srv.now = clock.Now
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv, clock
}

func dial(t *testing.T, srv *Server) *client {
	t.Helper()
	c, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	_ = c.SetDeadline(time.Now().Add(5 * time.Second))
	return &client{t: t, conn: c, r: bufio.NewReader(c)}
}

func TestServer_StorageCommands(t *testing.T) {
	srv, _ := startServer(t, nil, domain.DefaultLimits())
	c := dial(t, srv)

	assert.Equal(t, []string{"END"}, c.call("get k\r\n"))
	assert.Equal(t, []string{"STORED"}, c.call("set k 5 0 3\r\nabc\r\n"))
	assert.Equal(t, []string{"VALUE k 5 3", "abc", "END"}, c.call("get k\r\n"))

	assert.Equal(t, []string{"NOT_STORED"}, c.call("add k 0 0 1\r\nx\r\n"))
	assert.Equal(t, []string{"STORED"}, c.call("add n 0 0 1\r\nx\r\n"))
	assert.Equal(t, []string{"NOT_STORED"}, c.call("replace missing 0 0 1\r\nx\r\n"))
	assert.Equal(t, []string{"STORED"}, c.call("replace k 7 0 2\r\nxy\r\n"))

	got := c.call("get k missing n\r\n")
	assert.Equal(t, []string{"VALUE k 7 2", "xy", "VALUE n 0 1", "x", "END"}, got)

	assert.Equal(t, []string{"DELETED"}, c.call("delete n\r\n"))
	assert.Equal(t, []string{"NOT_FOUND"}, c.call("delete n\r\n"))
	assert.Equal(t, []string{"DELETED"}, c.call("delete k 0\r\n"))
}

func TestServer_CAS(t *testing.T) {
	srv, _ := startServer(t, nil, domain.DefaultLimits())
	c := dial(t, srv)

	c.call("set k 0 0 1\r\na\r\n")
	got := c.call("gets k\r\n")
	require.Len(t, got, 3)
	var cas uint64
	_, err := fmt.Sscanf(got[0], "VALUE k 0 1 %d", &cas)
	require.NoError(t, err)

	assert.Equal(t, []string{"EXISTS"}, c.call(fmt.Sprintf("cas k 0 0 1 %d\r\nb\r\n", cas+1)))
	assert.Equal(t, []string{"STORED"}, c.call(fmt.Sprintf("cas k 0 0 1 %d\r\nb\r\n", cas)))
	assert.Equal(t, []string{"EXISTS"}, c.call(fmt.Sprintf("cas k 0 0 1 %d\r\nc\r\n", cas)))
	assert.Equal(t, []string{"NOT_FOUND"}, c.call("cas missing 0 0 1 1\r\nb\r\n"))
	assert.Equal(t, []string{"VALUE k 0 1", "b", "END"}, c.call("get k\r\n"))
}

func TestServer_CASTokenNotReusedAfterDelete(t *testing.T) {
	srv, _ := startServer(t, nil, domain.DefaultLimits())
	c := dial(t, srv)

	c.call("set k 0 0 3\r\nold\r\n")
	got := c.call("gets k\r\n")
	require.Len(t, got, 3)
	var stale uint64
	_, err := fmt.Sscanf(got[0], "VALUE k 0 3 %d", &stale)
	require.NoError(t, err)

	assert.Equal(t, []string{"DELETED"}, c.call("delete k\r\n"))
	assert.Equal(t, []string{"STORED"}, c.call("set k 0 0 5\r\nother\r\n"))

	assert.Equal(t, []string{"EXISTS"}, c.call(fmt.Sprintf("cas k 0 0 5 %d\r\nstale\r\n", stale)))
	assert.Equal(t, []string{"VALUE k 0 5", "other", "END"}, c.call("get k\r\n"))
}

func TestServer_Expiry(t *testing.T) {
	srv, clock := startServer(t, nil, domain.DefaultLimits())
	c := dial(t, srv)

	c.call("set short 0 10 1\r\na\r\n")
	c.call("set gone 0 -1 1\r\na\r\n")
	c.call(fmt.Sprintf("set abs 0 %d 1\r\na\r\n", clock.Now().Unix()+20))

	assert.Equal(t, []string{"END"}, c.call("get gone\r\n"))
	clock.Advance(11 * time.Second)
	assert.Equal(t, []string{"END"}, c.call("get short\r\n"))
	assert.Equal(t, []string{"VALUE abs 0 1", "a", "END"}, c.call("get abs\r\n"))

	assert.Equal(t, []string{"TOUCHED"}, c.call("touch abs 0\r\n"))
	clock.Advance(time.Hour)
	assert.Equal(t, []string{"VALUE abs 0 1", "a", "END"}, c.call("get abs\r\n"))

	assert.Equal(t, []string{"TOUCHED"}, c.call("touch abs 5\r\n"))
	clock.Advance(5 * time.Second)
	assert.Equal(t, []string{"NOT_FOUND"}, c.call("touch abs 5\r\n"))
}

func TestServer_NoReply(t *testing.T) {
	srv, _ := startServer(t, nil, domain.DefaultLimits())
	c := dial(t, srv)

	c.send("set a 0 0 1 noreply\r\n1\r\n")
	c.send("delete missing noreply\r\n")
	c.send("touch a 100 noreply\r\n")
	assert.Equal(t, []string{"VALUE a 0 1", "1", "END"}, c.call("get a\r\n"))
}

func TestServer_Errors(t *testing.T) {
	srv, _ := startServer(t, &Config{MaxItemSize: 8}, domain.Limits{MaxKeySize: 250, MaxValueSize: 4})
	c := dial(t, srv)

	assert.Equal(t, []string{"ERROR"}, c.call("flush_all\r\n"))
	assert.Equal(t, []string{"ERROR"}, c.call("\r\n"))
	assert.Equal(t, []string{"CLIENT_ERROR bad command line format"}, c.call("set k x 0 1\r\na\r\n"))
	assert.Equal(t, []string{"CLIENT_ERROR bad command line format"}, c.call("get "+strings.Repeat("k", 251)+"\r\n"))

	// Rejected by the adapter before buffering.
	assert.Equal(t, []string{"SERVER_ERROR object too large for cache"}, c.call("set k 0 0 20\r\n"+strings.Repeat("v", 20)+"\r\n"))
	// Rejected by the executor's value ceiling.
	assert.Equal(t, []string{"SERVER_ERROR object too large for cache"}, c.call("set k 0 0 6\r\nvvvvvv\r\n"))

	// The stream is still in sync.
	assert.Equal(t, []string{"STORED"}, c.call("set k 0 0 2\r\nok\r\n"))
	assert.Equal(t, []string{"VERSION 1.2.3"}, c.call("version\r\n"))
	assert.Equal(t, []string{"OK"}, c.call("verbosity 1\r\n"))
}

func TestServer_BadDataChunkCloses(t *testing.T) {
	srv, _ := startServer(t, nil, domain.DefaultLimits())
	c := dial(t, srv)

	c.send("set k 0 0 2\r\nabcd\r\n")
	assert.Equal(t, "CLIENT_ERROR bad data chunk", c.line())
	_, err := c.r.ReadString('\n')
	assert.Error(t, err)
}

func TestServer_Stats(t *testing.T) {
	srv, _ := startServer(t, nil, domain.DefaultLimits())
	c := dial(t, srv)

	c.call("set k 0 0 1\r\na\r\n")
	c.call("get k\r\n")
	c.call("get nope\r\n")

	c.send("stats\r\n")
	stats := map[string]string{}
	for {
		l := c.line()
		if l == "END" {
			break
		}
		parts := strings.SplitN(l, " ", 3)
		require.Len(t, parts, 3)
		stats[parts[1]] = parts[2]
	}
	assert.Equal(t, "1", stats["curr_items"])
	assert.Equal(t, "1", stats["get_hits"])
	assert.Equal(t, "1", stats["get_misses"])
	assert.Equal(t, "1.2.3", stats["version"])
	assert.Equal(t, "1", stats["curr_connections"])
}

func TestServer_Quit(t *testing.T) {
	srv, _ := startServer(t, nil, domain.DefaultLimits())
	c := dial(t, srv)

	c.send("quit\r\n")
	_, err := c.r.ReadString('\n')
	assert.Error(t, err)
}
