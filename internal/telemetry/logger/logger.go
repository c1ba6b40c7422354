package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// Format is the output format (json, text).
	Format string
	// Output selects the destination: "stdout", "stderr" (default) or a
	// file path opened for appending.
	Output string
	// Writer overrides Output when set.
	Writer io.Writer
	// AddSource adds source file information to log entries.
	AddSource bool
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "json",
		Output: "stderr",
	}
}

// globalLevel holds the current log level for runtime adjustment.
var globalLevel = new(slog.LevelVar)

// New creates a logger. All loggers share one level, changed with
// SetLevel.
func New(cfg Config) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	globalLevel.Set(level)

	out := cfg.Writer
	if out == nil {
		if out, err = openOutput(cfg.Output); err != nil {
			return nil, err
		}
	}

	opts := &slog.HandlerOptions{
		Level:     globalLevel,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			return redactSensitive(a)
		},
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text", "console":
		handler = slog.NewTextHandler(out, opts)
	case "", "json":
		handler = slog.NewJSONHandler(out, opts)
	default:
		return nil, fmt.Errorf("logger: unknown format %q", cfg.Format)
	}
	return slog.New(handler), nil
}

func openOutput(name string) (io.Writer, error) {
	switch strings.ToLower(name) {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	}
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logger: open %s: %w", name, err)
	}
	return f, nil
}

// SetLevel changes the level of every logger built by New. Unknown names
// are rejected and leave the level unchanged.
func SetLevel(level string) error {
	l, err := ParseLevel(level)
	if err != nil {
		return err
	}
	globalLevel.Set(l)
	return nil
}

// GetLevel returns the current log level as a string.
func GetLevel() string {
	return strings.ToLower(globalLevel.Level().String())
}

// ParseLevel converts a level name to slog.Level. Empty means info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logger: unknown level %q", level)
	}
}

// SetDefault installs l as the slog default logger.
func SetDefault(l *slog.Logger) {
	if l != nil {
		slog.SetDefault(l)
	}
}

// Default returns the slog default logger.
func Default() *slog.Logger {
	return slog.Default()
}

// Discard returns a logger that drops everything, for tests and tools.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
