package command

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/workingdb/workingdb-go/internal/server/httpserver"
	"github.com/workingdb/workingdb-go/internal/server/redisserver"
	"github.com/workingdb/workingdb-go/internal/storage"
	"github.com/workingdb/workingdb-go/internal/storage/wal"
	"github.com/workingdb/workingdb-go/internal/telemetry/logger"
)

// stack is a recovered engine behind RESP and HTTP listeners.
type stack struct {
	engine    *storage.Engine
	dataDir   string
	redisAddr string
	httpAddr  string
	cliConfig string
}

func startStack(t *testing.T) *stack {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	cfg := storage.DefaultConfig(dir)
	cfg.ShardCount = 4
	cfg.SnapshotInterval = 0
	cfg.WAL.Sync = wal.SyncAlways
	cfg.Logger = logger.Discard()
	engine, err := storage.Open(cfg)
	require.NoError(t, err)
	_, err = engine.Recover(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	rcfg := redisserver.DefaultConfig()
	rcfg.Address = "127.0.0.1:0"
	redis := redisserver.New(rcfg, engine, logger.Discard(), nil)
	require.NoError(t, redis.Start(ctx))
	t.Cleanup(func() { _ = redis.Shutdown(context.Background()) })

	hcfg := httpserver.DefaultConfig()
	hcfg.Address = "127.0.0.1:0"
	router := httpserver.NewRouter(&httpserver.RouterConfig{Store: engine, Version: "test", Logger: logger.Discard()})
	web := httpserver.New(hcfg, router, logger.Discard())
	require.NoError(t, web.Start(ctx))
	t.Cleanup(func() { _ = web.Shutdown(context.Background()) })

	return &stack{
		engine:    engine,
		dataDir:   dir,
		redisAddr: redis.Addr().String(),
		httpAddr:  web.Addr().String(),
		cliConfig: filepath.Join(t.TempDir(), "cli.yaml"),
	}
}

// run executes workingdb-cli with the stack's addresses and returns
// stdout.
func (s *stack) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	full := []string{"workingdb-cli", "--config", s.cliConfig, "--server", s.redisAddr, "--admin", s.httpAddr}
	return runApp(t, "", append(full, args...)...)
}

func runApp(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	app := App()
	app.Reader = strings.NewReader(stdin)
	app.Writer = &out
	app.ErrWriter = &errOut
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.RunContext(context.Background(), args)
	return out.String(), err
}
