package redisserver

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/workingdb/workingdb-go/internal/core/domain"
	"github.com/workingdb/workingdb-go/internal/core/service"
	"github.com/workingdb/workingdb-go/internal/server/ratelimit"
	"github.com/workingdb/workingdb-go/internal/storage/memory"
	"github.com/workingdb/workingdb-go/internal/storage/wal"
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

type testConn struct {
	*Conn
	output *bytes.Buffer
	server net.Conn
	client net.Conn
}

func newTestConn(authenticated bool) *testConn {
	server, client := net.Pipe()
	output := &bytes.Buffer{}
	tc := &testConn{output: output, server: server, client: client}
	tc.Conn = &Conn{
		netConn: server,
		br:      bufio.NewReader(server),
		bw:      bufio.NewWriter(output),
	}
	tc.state.Authenticated = authenticated
	return tc
}

func (tc *testConn) Close() {
	tc.server.Close()
	tc.client.Close()
}

// do runs one command and returns its raw reply.
func (tc *testConn) do(h *CommandHandler, args ...string) string {
	tc.output.Reset()
	argv := make([][]byte, len(args))
	for i, a := range args {
		argv[i] = []byte(a)
	}
	h.Handle(context.Background(), tc.Conn, argv)
	_ = tc.bw.Flush()
	return tc.output.String()
}

type rateMetrics struct {
	mu      sync.Mutex
	limited int
}

func (m *rateMetrics) ConnOpened(string) {}
func (m *rateMetrics) ConnClosed(string) {}
func (m *rateMetrics) IncRateLimited(string) {
	m.mu.Lock()
	m.limited++
	m.mu.Unlock()
}

func newTestHandler(t *testing.T, cfg *Config) (*CommandHandler, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	exec := service.NewExecutor(memory.New(8),
		service.WithClock(clock.Now),
		service.WithIdentity("run-1", "v-test"),
	)
	h := NewCommandHandler(exec, cfg, nil, nil, nil)
	h.now = clock.Now
	return h, clock
}

func TestFormatRedisError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"key too large", domain.ErrKeyTooLarge, "ERR WDB-DATA-4131 key too large"},
		{"details", domain.ErrInvalidArgument.WithDetails("bad"), "ERR WDB-DATA-4001 invalid argument: bad"},
		{"log failure", domain.ErrLogWriteFailed.WithCause(errors.New("disk full")), "IOERR WDB-SYS-5001 write log append failed"},
		{"sticky failure", domain.ErrUnavailable.WithCause(errors.New("x")), "IOERR WDB-SYS-5030 store unavailable"},
		{"log closed", domain.ErrUnavailable.WithCause(wal.ErrNotAppending), "IOERR WDB-SYS-5030 store unavailable"},
		{"recovering", domain.ErrUnavailable.WithDetails("storage is recovering"), "LOADING WDB-SYS-5030 store unavailable: storage is recovering"},
		{"plain", context.Canceled, "ERR context canceled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatRedisError(tt.err); got != tt.want {
				t.Errorf("formatRedisError() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCommandHandler_Basics(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	tc := newTestConn(true)
	defer tc.Close()

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"PING"}, "+PONG\r\n"},
		{[]string{"ping", "hi"}, "$2\r\nhi\r\n"},
		{[]string{"ECHO", "x y"}, "$3\r\nx y\r\n"},
		{[]string{"GET", "missing"}, "$-1\r\n"},
		{[]string{"SET", "k", "v"}, "+OK\r\n"},
		{[]string{"GET", "k"}, "$1\r\nv\r\n"},
		{[]string{"SET", "k", "v2", "NX"}, "$-1\r\n"},
		{[]string{"SET", "other", "v", "XX"}, "$-1\r\n"},
		{[]string{"SET", "k", "v2", "XX"}, "+OK\r\n"},
		{[]string{"SETNX", "k", "v3"}, ":0\r\n"},
		{[]string{"SETNX", "n", "1"}, ":1\r\n"},
		{[]string{"MGET", "k", "nope", "n"}, "*3\r\n$2\r\nv2\r\n$-1\r\n$1\r\n1\r\n"},
		{[]string{"EXISTS", "k", "k", "nope"}, ":2\r\n"},
		{[]string{"DBSIZE"}, ":2\r\n"},
		{[]string{"DEL", "k", "nope", "n"}, ":2\r\n"},
		{[]string{"DEL", "k"}, ":0\r\n"},
		{[]string{"SELECT", "0"}, "+OK\r\n"},
		{[]string{"SELECT", "1"}, "-ERR DB index is out of range\r\n"},
		{[]string{"COMMAND", "DOCS"}, "*0\r\n"},
		{[]string{"FLUSHALL"}, "-ERR unknown command 'flushall'\r\n"},
	}
	for _, tt := range tests {
		if got := tc.do(h, tt.args...); got != tt.want {
			t.Errorf("%v = %q, want %q", tt.args, got, tt.want)
		}
	}
}

func TestCommandHandler_ArgumentErrors(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	tc := newTestConn(true)
	defer tc.Close()

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"GET"}, "-ERR wrong number of arguments for 'get' command\r\n"},
		{[]string{"SET", "k"}, "-ERR wrong number of arguments for 'set' command\r\n"},
		{[]string{"SET", "k", "v", "EX"}, "-ERR syntax error\r\n"},
		{[]string{"SET", "k", "v", "EX", "1", "PX", "5"}, "-ERR syntax error\r\n"},
		{[]string{"SET", "k", "v", "NX", "XX"}, "-ERR syntax error\r\n"},
		{[]string{"SET", "k", "v", "KEEPTTL"}, "-ERR syntax error\r\n"},
		{[]string{"SET", "k", "v", "EX", "abc"}, "-ERR value is not an integer or out of range\r\n"},
		{[]string{"SET", "k", "v", "EX", "0"}, "-ERR invalid expire time in 'set' command\r\n"},
		{[]string{"SETEX", "k", "-1", "v"}, "-ERR invalid expire time in 'setex' command\r\n"},
		{[]string{"EXPIRE", "k", "99999999999999999"}, "-ERR invalid expire time in 'expire' command\r\n"},
		{[]string{"PEXPIRE", "k"}, "-ERR wrong number of arguments for 'pexpire' command\r\n"},
		{[]string{"PTTL"}, "-ERR wrong number of arguments for 'pttl' command\r\n"},
		{[]string{"INFO", "a", "b"}, "-ERR syntax error\r\n"},
	}
	for _, tt := range tests {
		if got := tc.do(h, tt.args...); got != tt.want {
			t.Errorf("%v = %q, want %q", tt.args, got, tt.want)
		}
	}
}

func TestCommandHandler_Expiry(t *testing.T) {
	h, clock := newTestHandler(t, nil)
	tc := newTestConn(true)
	defer tc.Close()

	if got := tc.do(h, "TTL", "k"); got != ":-2\r\n" {
		t.Fatalf("TTL missing = %q", got)
	}
	tc.do(h, "SET", "k", "v")
	if got := tc.do(h, "TTL", "k"); got != ":-1\r\n" {
		t.Fatalf("TTL persistent = %q", got)
	}
	if got := tc.do(h, "EXPIRE", "k", "10"); got != ":1\r\n" {
		t.Fatalf("EXPIRE = %q", got)
	}
	if got := tc.do(h, "TTL", "k"); got != ":10\r\n" {
		t.Fatalf("TTL = %q", got)
	}
	clock.Advance(2500 * time.Millisecond)
	if got := tc.do(h, "PTTL", "k"); got != ":7500\r\n" {
		t.Fatalf("PTTL = %q", got)
	}
	if got := tc.do(h, "TTL", "k"); got != ":8\r\n" {
		t.Fatalf("TTL rounded = %q", got)
	}
	if got := tc.do(h, "PERSIST", "k"); got != ":1\r\n" {
		t.Fatalf("PERSIST = %q", got)
	}
	if got := tc.do(h, "PERSIST", "k"); got != ":0\r\n" {
		t.Fatalf("second PERSIST = %q", got)
	}

	tc.do(h, "SET", "p", "v", "PX", "100")
	clock.Advance(100 * time.Millisecond)
	if got := tc.do(h, "GET", "p"); got != "$-1\r\n" {
		t.Fatalf("GET after PX deadline = %q", got)
	}

	tc.do(h, "SETEX", "s", "5", "v")
	if got := tc.do(h, "EXPIRE", "s", "0"); got != ":1\r\n" {
		t.Fatalf("EXPIRE 0 = %q", got)
	}
	if got := tc.do(h, "EXISTS", "s"); got != ":0\r\n" {
		t.Fatalf("EXISTS after EXPIRE 0 = %q", got)
	}
	if got := tc.do(h, "EXPIRE", "missing", "5"); got != ":0\r\n" {
		t.Fatalf("EXPIRE missing = %q", got)
	}
}

func TestCommandHandler_Auth(t *testing.T) {
	h, _ := newTestHandler(t, &Config{RequirePass: "s3cret"})
	tc := newTestConn(false)
	defer tc.Close()

	if got := tc.do(h, "GET", "k"); !strings.HasPrefix(got, "-NOAUTH") {
		t.Fatalf("GET before AUTH = %q", got)
	}
	if got := tc.do(h, "PING"); !strings.HasPrefix(got, "-NOAUTH") {
		t.Fatalf("PING before AUTH = %q", got)
	}
	if got := tc.do(h, "AUTH", "wrong"); !strings.HasPrefix(got, "-WRONGPASS") {
		t.Fatalf("AUTH wrong = %q", got)
	}
	if got := tc.do(h, "AUTH", "admin", "s3cret"); !strings.HasPrefix(got, "-WRONGPASS") {
		t.Fatalf("AUTH with unknown user = %q", got)
	}
	if got := tc.do(h, "AUTH", "default", "s3cret"); got != "+OK\r\n" {
		t.Fatalf("AUTH = %q", got)
	}
	if got := tc.do(h, "GET", "k"); got != "$-1\r\n" {
		t.Fatalf("GET after AUTH = %q", got)
	}
}

func TestCommandHandler_AuthWithoutPassword(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	tc := newTestConn(true)
	defer tc.Close()

	if got := tc.do(h, "AUTH", "x"); !strings.HasPrefix(got, "-ERR AUTH <password> called without") {
		t.Fatalf("AUTH = %q", got)
	}
}

func TestCommandHandler_Quit(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	tc := newTestConn(true)
	defer tc.Close()

	if got := tc.do(h, "QUIT"); got != "+OK\r\n" {
		t.Fatalf("QUIT = %q", got)
	}
	if !tc.quit {
		t.Fatal("QUIT did not mark the connection for closing")
	}
}

func TestCommandHandler_Info(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	tc := newTestConn(true)
	defer tc.Close()

	tc.do(h, "SET", "a", "1")
	all := tc.do(h, "INFO")
	for _, want := range []string{"# Server\r\n", "run_id:run-1\r\n", "workingdb_version:v-test\r\n", "# Keyspace\r\n", "db0:keys=1\r\n", "aof_enabled:0\r\n"} {
		if !strings.Contains(all, want) {
			t.Errorf("INFO missing %q in %q", want, all)
		}
	}

	ks := tc.do(h, "INFO", "keyspace")
	if strings.Contains(ks, "# Server") || !strings.Contains(ks, "db0:keys=1") {
		t.Fatalf("INFO keyspace = %q", ks)
	}
	if got := tc.do(h, "INFO", "nosuch"); got != "$0\r\n\r\n" {
		t.Fatalf("INFO unknown section = %q", got)
	}
}

func TestCommandHandler_ValueLimit(t *testing.T) {
	clock := &testClock{now: time.Now()}
	exec := service.NewExecutor(memory.New(4),
		service.WithClock(clock.Now),
		service.WithLimits(domain.Limits{MaxKeySize: 4, MaxValueSize: 8}),
	)
	h := NewCommandHandler(exec, nil, nil, nil, nil)
	tc := newTestConn(true)
	defer tc.Close()

	if got := tc.do(h, "SET", "k", "123456789"); got != "-ERR WDB-DATA-4132 value too large\r\n" {
		t.Fatalf("SET oversized value = %q", got)
	}
	if got := tc.do(h, "GET", "kkkkk"); got != "-ERR WDB-DATA-4131 key too large\r\n" {
		t.Fatalf("GET oversized key = %q", got)
	}
}

func TestCommandHandler_RateLimit(t *testing.T) {
	exec := service.NewExecutor(memory.New(4))
	m := &rateMetrics{}
	h := NewCommandHandler(exec, nil, ratelimit.New(1), m, nil)
	tc := newTestConn(true)
	defer tc.Close()

	if got := tc.do(h, "PING"); got != "+PONG\r\n" {
		t.Fatalf("first PING = %q", got)
	}
	if got := tc.do(h, "PING"); got != "-ERR rate limit exceeded\r\n" {
		t.Fatalf("second PING = %q", got)
	}
	if m.limited != 1 {
		t.Fatalf("IncRateLimited calls = %d, want 1", m.limited)
	}
}
