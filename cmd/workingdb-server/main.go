package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/workingdb/workingdb-go/internal/infra/buildinfo"
	"github.com/workingdb/workingdb-go/internal/infra/confloader"
	"github.com/workingdb/workingdb-go/internal/infra/shutdown"
	"github.com/workingdb/workingdb-go/internal/server/config"
	"github.com/workingdb/workingdb-go/internal/telemetry/logger"
	"github.com/workingdb/workingdb-go/pkg/secret"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "workingdb-server",
		Usage:   "in-memory key-value store speaking RESP and memcached",
		Version: buildinfo.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML configuration file",
				EnvVars: []string{"WORKINGDB_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "data-dir",
				Usage: "override storage.data_dir",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override log.level (debug, info, warn, error)",
			},
		},
		Action: run,
		Commands: []*cli.Command{
			{
				Name:  "keygen",
				Usage: "print a random storage.encryption_key",
				Action: func(c *cli.Context) error {
					key, err := secret.GenerateKey()
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(c.App.Writer, key)
					return err
				},
			},
		},
	}
}

func run(c *cli.Context) error {
	configFile := c.String("config")
	cfg, err := loadConfig(configFile, c.String("data-dir"), c.String("log-level"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.SetDefault(log)

	info := buildinfo.Get()
	log.Info("starting workingdb-server",
		"version", info.Version,
		"commit", info.Commit,
		"config", configFile)
	log.Debug("effective configuration", "config", config.Sanitize(cfg))

	ctx, stop := shutdown.WithSignals(c.Context)
	defer stop()

	if configFile != "" && c.String("log-level") == "" {
		w, err := watchLogLevel(ctx, configFile, log)
		if err != nil {
			log.Warn("configuration watcher disabled", "error", err)
		} else {
			defer w.Stop()
		}
	}

	d, err := newDaemon(cfg, log)
	if err != nil {
		return err
	}
	return d.serve(ctx)
}

// loadConfig layers defaults, the optional file, the environment and the
// command line flags, then validates the result.
func loadConfig(configFile, dataDir, logLevel string) (*config.ServerConfig, error) {
	cfg := config.Default()

	opts := []confloader.Option{confloader.WithConfigFile(configFile)}
	if dataDir != "" {
		opts = append(opts, confloader.WithOverride("storage.data_dir", dataDir))
	}
	if logLevel != "" {
		opts = append(opts, confloader.WithOverride("log.level", logLevel))
	}
	if err := confloader.NewLoader(opts...).Load(cfg); err != nil {
		return nil, err
	}

	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// watchLogLevel reloads log.level whenever the configuration file
// changes. Other settings need a restart.
func watchLogLevel(ctx context.Context, configFile string, log *slog.Logger) (*confloader.Watcher, error) {
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
	if err != nil {
		return nil, err
	}
	if err := w.Watch(configFile); err != nil {
		_ = w.Stop()
		return nil, err
	}
	w.OnChange(func(string) {
		reloadLogLevel(configFile, log)
	})
	go w.Run(ctx)
	return w, nil
}

func reloadLogLevel(configFile string, log *slog.Logger) {
	cfg := config.Default()
	if err := confloader.NewLoader(confloader.WithConfigFile(configFile)).Load(cfg); err != nil {
		log.Warn("configuration reload failed", "error", err)
		return
	}
	if cfg.Log.Level == logger.GetLevel() {
		return
	}
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		log.Warn("ignoring invalid log level", "level", cfg.Log.Level, "error", err)
		return
	}
	log.Info("log level changed", "level", cfg.Log.Level)
}
