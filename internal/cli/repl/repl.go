package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/workingdb/workingdb-go/internal/server/redisserver"
)

// Doer sends one command. *connection.RESPClient implements it.
type Doer interface {
	Do(ctx context.Context, args ...string) (redisserver.Reply, error)
}

// REPL is the read-eval-print loop.
type REPL struct {
	client    Doer
	prompt    string
	input     io.Reader
	output    io.Writer
	completer *Completer
	history   *History
}

// Option configures a REPL.
type Option func(*REPL)

// WithIO replaces stdin and stdout.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(r *REPL) {
		r.input, r.output = in, out
	}
}

// WithHistory sets the history store.
func WithHistory(h *History) Option {
	return func(r *REPL) {
		r.history = h
	}
}

// WithPrompt sets the prompt, normally the server address.
func WithPrompt(prompt string) Option {
	return func(r *REPL) {
		r.prompt = prompt
	}
}

// New creates a REPL sending commands through client.
func New(client Doer, opts ...Option) *REPL {
	r := &REPL{
		client:    client,
		prompt:    "workingdb> ",
		input:     os.Stdin,
		output:    os.Stdout,
		completer: NewCompleter(),
		history:   NewHistory("", 0),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run reads lines until EOF, exit, QUIT or ctx is done. Server error
// replies and transport failures are printed and the loop continues.
func (r *REPL) Run(ctx context.Context) error {
	if err := r.history.Load(); err != nil {
		fmt.Fprintf(r.output, "warning: load history: %v\n", err)
	}
	defer func() {
		if err := r.history.Save(); err != nil {
			fmt.Fprintf(r.output, "warning: save history: %v\n", err)
		}
	}()

	scanner := bufio.NewScanner(r.input)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(r.output, r.prompt)
		if !scanner.Scan() {
			fmt.Fprintln(r.output)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		r.history.Add(line)

		done, err := r.execute(ctx, line)
		if err != nil {
			fmt.Fprintf(r.output, "(error) %v\n", err)
		}
		if done {
			return nil
		}
	}
}

func (r *REPL) execute(ctx context.Context, line string) (bool, error) {
	args, err := Split(line)
	if err != nil {
		return false, fmt.Errorf("invalid argument(s): %w", err)
	}
	if len(args) == 0 {
		return false, nil
	}

	switch name := strings.ToLower(args[0]); name {
	case "exit":
		return true, nil
	case "help":
		r.help(args[1:])
		return false, nil
	}

	reply, err := r.client.Do(ctx, args...)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return true, nil
		}
		return false, err
	}
	if strings.EqualFold(args[0], "INFO") && reply.Type == redisserver.ReplyBulk && !reply.Null {
		fmt.Fprint(r.output, strings.ReplaceAll(string(reply.Bulk), "\r\n", "\n"))
		return false, nil
	}
	fmt.Fprintln(r.output, reply.String())
	return strings.EqualFold(args[0], "QUIT"), nil
}

func (r *REPL) help(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(r.output, "Commands:")
		for _, name := range r.completer.Complete("") {
			if usage, ok := Usage(name); ok {
				fmt.Fprintf(r.output, "  %s\n", usage)
			}
		}
		fmt.Fprintln(r.output, "Type exit to leave.")
		return
	}
	matches := r.completer.Complete(args[0])
	if len(matches) == 0 {
		fmt.Fprintf(r.output, "no command matches %q\n", args[0])
		return
	}
	for _, name := range matches {
		if usage, ok := Usage(name); ok {
			fmt.Fprintln(r.output, usage)
		} else {
			fmt.Fprintln(r.output, name)
		}
	}
}
