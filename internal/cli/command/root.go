package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/workingdb/workingdb-go/internal/cli/config"
	"github.com/workingdb/workingdb-go/internal/cli/connection"
	"github.com/workingdb/workingdb-go/internal/cli/output"
	"github.com/workingdb/workingdb-go/internal/infra/buildinfo"
)

const (
	metaConnMgr = "connMgr"
	metaConfig  = "cliConfig"
	metaFormat  = "format"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "workingdb-cli",
		Usage:   "command-line client for workingdb",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			PingCommand(),
			GetCommand(),
			SetCommand(),
			DelCommand(),
			ExpireCommand(),
			PersistCommand(),
			TTLCommand(),
			InfoCommand(),
			StatsCommand(),
			KeyCommand(),
			HealthCommand(),
			SnapshotCommand(),
			SweepCommand(),
			LogCommand(),
			ConfigCommand(),
			REPLCommand(),
		},
		Before: setup,
		After: func(c *cli.Context) error {
			if mgr := GetConnectionManager(c); mgr != nil {
				return mgr.Close()
			}
			return nil
		},
		Action: runREPL,
	}
}

// globalFlags returns the global CLI flags. Unset flags fall back to the
// active profile of the CLI configuration file.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "CLI configuration file",
			EnvVars: []string{"WORKINGDB_CLI_CONFIG"},
			Value:   config.DefaultConfigPath(),
		},
		&cli.StringFlag{
			Name:    "profile",
			Aliases: []string{"p"},
			Usage:   "connection profile from the configuration file",
			EnvVars: []string{"WORKINGDB_PROFILE"},
		},
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "RESP address, host:port",
			EnvVars: []string{"WORKINGDB_SERVER"},
		},
		&cli.StringFlag{
			Name:    "socket",
			Usage:   "Unix socket path, overrides --server",
			EnvVars: []string{"WORKINGDB_SOCKET"},
		},
		&cli.StringFlag{
			Name:    "admin",
			Usage:   "HTTP admin address, host:port",
			EnvVars: []string{"WORKINGDB_ADMIN"},
		},
		&cli.StringFlag{
			Name:    "password",
			Aliases: []string{"a"},
			Usage:   "password sent with AUTH",
			EnvVars: []string{"WORKINGDB_PASSWORD"},
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "output format: table, json, yaml",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "per-request timeout",
			Value: connection.DefaultTimeout,
		},
	}
}

// setup loads the CLI configuration and builds the connection manager.
func setup(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("load cli config: %w", err)
	}
	profile, err := cfg.Profile(c.String("profile"))
	if err != nil {
		return err
	}

	target := connection.Target{
		Server:   profile.Server,
		Socket:   profile.Socket,
		Admin:    profile.Admin,
		Password: profile.Password,
		Timeout:  c.Duration("timeout"),
	}
	if c.IsSet("server") {
		target.Server = c.String("server")
		target.Socket = ""
	}
	if c.IsSet("socket") {
		target.Socket = c.String("socket")
	}
	if c.IsSet("admin") {
		target.Admin = c.String("admin")
	}
	if c.IsSet("password") {
		target.Password = c.String("password")
	}

	formatName := cfg.Output
	if c.IsSet("output") {
		formatName = c.String("output")
	}
	format, err := output.ParseFormat(formatName)
	if err != nil {
		return err
	}

	if c.App.Metadata == nil {
		c.App.Metadata = make(map[string]any)
	}
	c.App.Metadata[metaConnMgr] = connection.NewManager(target)
	c.App.Metadata[metaConfig] = cfg
	c.App.Metadata[metaFormat] = format
	return nil
}

// GetConnectionManager retrieves the connection manager from context.
func GetConnectionManager(c *cli.Context) *connection.Manager {
	if mgr, ok := c.App.Metadata[metaConnMgr].(*connection.Manager); ok {
		return mgr
	}
	return nil
}

func cliConfig(c *cli.Context) *config.CLIConfig {
	if cfg, ok := c.App.Metadata[metaConfig].(*config.CLIConfig); ok {
		return cfg
	}
	return config.Default()
}

func outputFormat(c *cli.Context) output.Format {
	if f, ok := c.App.Metadata[metaFormat].(output.Format); ok {
		return f
	}
	return output.FormatTable
}

// render prints data in the selected format.
func render(c *cli.Context, data any) error {
	return output.NewFormatter(outputFormat(c)).Format(c.App.Writer, data)
}

// structured reports whether the user asked for json or yaml.
func structured(c *cli.Context) bool {
	return outputFormat(c) != output.FormatTable
}

// requestContext bounds one command by --timeout.
func requestContext(c *cli.Context) (context.Context, context.CancelFunc) {
	timeout := c.Duration("timeout")
	if timeout <= 0 {
		timeout = connection.DefaultTimeout
	}
	return context.WithTimeout(c.Context, timeout)
}

func stdout(c *cli.Context) io.Writer {
	return c.App.Writer
}

func requireArgs(c *cli.Context, n int) error {
	if c.NArg() != n {
		return cli.Exit(fmt.Sprintf("usage: %s %s %s", c.App.Name, c.Command.Name, c.Command.ArgsUsage), 2)
	}
	return nil
}

func connManager(c *cli.Context) (*connection.Manager, error) {
	mgr := GetConnectionManager(c)
	if mgr == nil {
		return nil, errors.New("connection manager not initialized")
	}
	return mgr, nil
}

// durationMillis renders a millisecond count as a rounded duration.
func durationMillis(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).String()
}
