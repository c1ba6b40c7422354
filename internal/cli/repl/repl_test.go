package repl

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/workingdb/workingdb-go/internal/server/redisserver"
)

type fakeDoer struct {
	calls   [][]string
	replies map[string]redisserver.Reply
	err     error
}

func (f *fakeDoer) Do(_ context.Context, args ...string) (redisserver.Reply, error) {
	f.calls = append(f.calls, args)
	if f.err != nil {
		return redisserver.Reply{}, f.err
	}
	if r, ok := f.replies[strings.ToUpper(args[0])]; ok {
		return r, nil
	}
	return redisserver.Reply{Type: redisserver.ReplyStatus, Str: "OK"}, nil
}

func run(t *testing.T, d Doer, input string) string {
	t.Helper()
	var out bytes.Buffer
	r := New(d, WithIO(strings.NewReader(input), &out), WithPrompt("> "))
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return out.String()
}

func TestREPL_SendsCommands(t *testing.T) {
	d := &fakeDoer{replies: map[string]redisserver.Reply{
		"GET":  {Type: redisserver.ReplyBulk, Bulk: []byte("hello world")},
		"TTL":  {Type: redisserver.ReplyInteger, Int: -1},
		"NOPE": {Type: redisserver.ReplyError, Str: "ERR unknown command 'NOPE'"},
	}}
	out := run(t, d, "SET k \"hello world\"\n\nGET k\nTTL k\nNOPE\n")

	if len(d.calls) != 4 {
		t.Fatalf("calls = %v", d.calls)
	}
	if got := d.calls[0]; len(got) != 3 || got[2] != "hello world" {
		t.Errorf("SET args = %q", got)
	}
	for _, want := range []string{"OK\n", "\"hello world\"\n", "(integer) -1\n", "(error) ERR unknown command 'NOPE'\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestREPL_ExitAndQuit(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantCalls int
	}{
		{"exit", "exit\nPING\n", 0},
		{"quit", "QUIT\nPING\n", 1},
		{"eof", "PING", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDoer{}
			run(t, d, tt.input)
			if len(d.calls) != tt.wantCalls {
				t.Errorf("calls = %v, want %d", d.calls, tt.wantCalls)
			}
		})
	}
}

func TestREPL_InfoPrintsRaw(t *testing.T) {
	d := &fakeDoer{replies: map[string]redisserver.Reply{
		"INFO": {Type: redisserver.ReplyBulk, Bulk: []byte("# Server\r\nrun_id:abc\r\n")},
	}}
	out := run(t, d, "INFO\n")
	if !strings.Contains(out, "# Server\nrun_id:abc\n") {
		t.Errorf("output = %q", out)
	}
}

func TestREPL_ErrorsContinue(t *testing.T) {
	d := &fakeDoer{err: errors.New("connection refused")}
	out := run(t, d, "SET k \"open\nGET k\n")
	if !strings.Contains(out, "(error) invalid argument(s): unbalanced quotes") {
		t.Errorf("missing split error:\n%s", out)
	}
	if !strings.Contains(out, "(error) connection refused") {
		t.Errorf("missing transport error:\n%s", out)
	}
	if len(d.calls) != 1 {
		t.Errorf("calls = %v", d.calls)
	}
}

func TestREPL_Help(t *testing.T) {
	d := &fakeDoer{}
	out := run(t, d, "help\nhelp pexp\nhelp zz\n")
	if len(d.calls) != 0 {
		t.Errorf("help should not reach the server: %v", d.calls)
	}
	for _, want := range []string{"Commands:", "SET key value", "PEXPIRE key milliseconds\n", `no command matches "zz"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
