package command

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/workingdb/workingdb-go/internal/server/redisserver"
)

// do sends one RESP command and turns error replies into errors.
func do(c *cli.Context, args ...string) (redisserver.Reply, error) {
	mgr, err := connManager(c)
	if err != nil {
		return redisserver.Reply{}, err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	client, err := mgr.RESP(ctx)
	if err != nil {
		return redisserver.Reply{}, fmt.Errorf("connect: %w", err)
	}
	reply, err := client.Do(ctx, args...)
	if err != nil {
		return reply, err
	}
	return reply, reply.Err()
}

// PingCommand checks that the server answers.
func PingCommand() *cli.Command {
	return &cli.Command{
		Name:      "ping",
		Usage:     "Check the RESP connection",
		ArgsUsage: "[MESSAGE]",
		Action: func(c *cli.Context) error {
			args := []string{"PING"}
			if c.NArg() > 0 {
				args = append(args, c.Args().First())
			}
			start := time.Now()
			reply, err := do(c, args...)
			if err != nil {
				return err
			}
			if structured(c) {
				return render(c, map[string]any{
					"reply":   replyText(reply),
					"latency": time.Since(start).String(),
				})
			}
			fmt.Fprintln(stdout(c), replyText(reply))
			return nil
		},
	}
}

type getResult struct {
	Key   string `json:"key"`
	Found bool   `json:"found"`
	Value string `json:"value,omitempty"`
}

// GetCommand reads one key.
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Read the value of a key",
		ArgsUsage: "KEY",
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1); err != nil {
				return err
			}
			key := c.Args().First()
			reply, err := do(c, "GET", key)
			if err != nil {
				return err
			}
			res := getResult{Key: key, Found: !reply.Null, Value: string(reply.Bulk)}
			if structured(c) {
				return render(c, res)
			}
			if !res.Found {
				fmt.Fprintln(stdout(c), "(nil)")
				return nil
			}
			fmt.Fprintln(stdout(c), res.Value)
			return nil
		},
	}
}

type setResult struct {
	Key     string `json:"key"`
	Applied bool   `json:"applied"`
}

// SetCommand writes one key.
func SetCommand() *cli.Command {
	return &cli.Command{
		Name:      "set",
		Usage:     "Store a value",
		ArgsUsage: "KEY VALUE",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "ttl", Usage: "expire the key after this duration"},
			&cli.BoolFlag{Name: "nx", Usage: "only set if the key does not exist"},
			&cli.BoolFlag{Name: "xx", Usage: "only set if the key exists"},
		},
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 2); err != nil {
				return err
			}
			if c.Bool("nx") && c.Bool("xx") {
				return cli.Exit("--nx and --xx are mutually exclusive", 2)
			}
			key := c.Args().Get(0)
			args := []string{"SET", key, c.Args().Get(1)}
			if ttl := c.Duration("ttl"); ttl != 0 {
				if ttl < time.Millisecond {
					return cli.Exit("--ttl must be at least 1ms", 2)
				}
				args = append(args, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
			}
			if c.Bool("nx") {
				args = append(args, "NX")
			}
			if c.Bool("xx") {
				args = append(args, "XX")
			}

			reply, err := do(c, args...)
			if err != nil {
				return err
			}
			res := setResult{Key: key, Applied: !reply.Null}
			if structured(c) {
				return render(c, res)
			}
			fmt.Fprintln(stdout(c), replyText(reply))
			return nil
		},
	}
}

// DelCommand removes keys.
func DelCommand() *cli.Command {
	return &cli.Command{
		Name:      "del",
		Usage:     "Delete keys",
		ArgsUsage: "KEY [KEY...]",
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return requireArgs(c, 1)
			}
			reply, err := do(c, append([]string{"DEL"}, c.Args().Slice()...)...)
			if err != nil {
				return err
			}
			return printCount(c, "deleted", reply)
		},
	}
}

// ExpireCommand sets a key's time to live.
func ExpireCommand() *cli.Command {
	return &cli.Command{
		Name:      "expire",
		Usage:     "Set the time to live of a key",
		ArgsUsage: "KEY DURATION",
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 2); err != nil {
				return err
			}
			ttl, err := time.ParseDuration(c.Args().Get(1))
			if err != nil {
				return cli.Exit(fmt.Sprintf("invalid duration: %v", err), 2)
			}
			reply, err := do(c, "PEXPIRE", c.Args().Get(0), strconv.FormatInt(ttl.Milliseconds(), 10))
			if err != nil {
				return err
			}
			return printCount(c, "applied", reply)
		},
	}
}

// PersistCommand removes a key's deadline.
func PersistCommand() *cli.Command {
	return &cli.Command{
		Name:      "persist",
		Usage:     "Remove the expiry of a key",
		ArgsUsage: "KEY",
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1); err != nil {
				return err
			}
			reply, err := do(c, "PERSIST", c.Args().First())
			if err != nil {
				return err
			}
			return printCount(c, "applied", reply)
		},
	}
}

type ttlResult struct {
	Key       string `json:"key"`
	Found     bool   `json:"found"`
	Expires   bool   `json:"expires"`
	TTLMillis int64  `json:"ttl_ms"`
}

// TTLCommand shows a key's remaining time to live.
func TTLCommand() *cli.Command {
	return &cli.Command{
		Name:      "ttl",
		Usage:     "Show the remaining time to live of a key",
		ArgsUsage: "KEY",
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1); err != nil {
				return err
			}
			key := c.Args().First()
			reply, err := do(c, "PTTL", key)
			if err != nil {
				return err
			}
			res := ttlResult{Key: key, Found: reply.Int != -2, Expires: reply.Int >= 0, TTLMillis: reply.Int}
			if structured(c) {
				return render(c, res)
			}
			switch {
			case !res.Found:
				fmt.Fprintln(stdout(c), "(key not found)")
			case !res.Expires:
				fmt.Fprintln(stdout(c), "(no expiry)")
			default:
				fmt.Fprintln(stdout(c), durationMillis(reply.Int))
			}
			return nil
		},
	}
}

// InfoCommand prints the server INFO report.
func InfoCommand() *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "Show the server INFO report",
		ArgsUsage: "[SECTION]",
		Action: func(c *cli.Context) error {
			args := []string{"INFO"}
			if c.NArg() > 0 {
				args = append(args, c.Args().First())
			}
			reply, err := do(c, args...)
			if err != nil {
				return err
			}
			text := strings.ReplaceAll(string(reply.Bulk), "\r\n", "\n")
			if structured(c) {
				return render(c, parseInfo(text))
			}
			fmt.Fprint(stdout(c), text)
			return nil
		},
	}
}

// parseInfo splits an INFO report into section -> field -> value.
func parseInfo(text string) map[string]map[string]string {
	out := make(map[string]map[string]string)
	section := "default"
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case strings.HasPrefix(line, "#"):
			section = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, "#")))
		default:
			k, v, ok := strings.Cut(line, ":")
			if !ok {
				continue
			}
			if out[section] == nil {
				out[section] = make(map[string]string)
			}
			out[section][k] = v
		}
	}
	return out
}

func printCount(c *cli.Context, field string, reply redisserver.Reply) error {
	if structured(c) {
		return render(c, map[string]int64{field: reply.Int})
	}
	fmt.Fprintln(stdout(c), reply.String())
	return nil
}

// replyText is Reply.String without the quoting of bulk strings.
func replyText(r redisserver.Reply) string {
	if r.Type == redisserver.ReplyBulk && !r.Null {
		return string(r.Bulk)
	}
	return r.String()
}
