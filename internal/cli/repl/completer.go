package repl

import (
	"sort"
	"strings"
)

// commandHelp lists the commands the server understands.
var commandHelp = map[string]string{
	"AUTH":    "AUTH password",
	"DBSIZE":  "DBSIZE",
	"DEL":     "DEL key [key ...]",
	"ECHO":    "ECHO message",
	"EXISTS":  "EXISTS key [key ...]",
	"EXPIRE":  "EXPIRE key seconds",
	"GET":     "GET key",
	"INFO":    "INFO [section]",
	"MGET":    "MGET key [key ...]",
	"PERSIST": "PERSIST key",
	"PEXPIRE": "PEXPIRE key milliseconds",
	"PING":    "PING [message]",
	"PTTL":    "PTTL key",
	"QUIT":    "QUIT",
	"SET":     "SET key value [NX|XX] [EX seconds|PX milliseconds]",
	"SETEX":   "SETEX key seconds value",
	"SETNX":   "SETNX key value",
	"TTL":     "TTL key",
}

// Completer completes command names.
type Completer struct {
	commands []string
}

// NewCompleter creates a completer over the server commands plus the
// REPL's own help, exit and quit.
func NewCompleter() *Completer {
	cmds := []string{"help", "exit"}
	for name := range commandHelp {
		cmds = append(cmds, name)
	}
	sort.Strings(cmds)
	return &Completer{commands: cmds}
}

// Complete returns the commands starting with prefix, ignoring case.
func (c *Completer) Complete(prefix string) []string {
	prefix = strings.ToUpper(prefix)
	var out []string
	for _, cmd := range c.commands {
		if strings.HasPrefix(strings.ToUpper(cmd), prefix) {
			out = append(out, cmd)
		}
	}
	return out
}

// Usage returns the usage line of a server command.
func Usage(name string) (string, bool) {
	u, ok := commandHelp[strings.ToUpper(name)]
	return u, ok
}
