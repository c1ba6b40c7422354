package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/workingdb/workingdb-go/internal/core/domain"
	"github.com/workingdb/workingdb-go/internal/infra/buildinfo"
	"github.com/workingdb/workingdb-go/internal/infra/shutdown"
	"github.com/workingdb/workingdb-go/internal/server/config"
	"github.com/workingdb/workingdb-go/internal/server/httpserver"
	"github.com/workingdb/workingdb-go/internal/server/localserver"
	"github.com/workingdb/workingdb-go/internal/server/memcached"
	"github.com/workingdb/workingdb-go/internal/server/muxserver"
	"github.com/workingdb/workingdb-go/internal/server/ratelimit"
	"github.com/workingdb/workingdb-go/internal/server/redisserver"
	"github.com/workingdb/workingdb-go/internal/storage"
	"github.com/workingdb/workingdb-go/internal/storage/wal"
	"github.com/workingdb/workingdb-go/internal/telemetry/metric"
)

// limiterPruneInterval is how often idle rate limit buckets are dropped.
const limiterPruneInterval = time.Minute

// listener is the lifecycle shared by every network front end.
type listener interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// daemon wires the engine to its listeners.
type daemon struct {
	cfg     *config.ServerConfig
	logger  *slog.Logger
	runID   string
	metrics *metric.Registry
	engine  *storage.Engine

	redis     *redisserver.Server
	memcached *memcached.Server
	mux       *muxserver.Server
	local     *localserver.Server
	http      *httpserver.Server

	stopper *shutdown.Handler
	bg      *errgroup.Group
	cancel  context.CancelFunc
}

// newDaemon opens the engine and builds the enabled listeners. Nothing is
// bound and no data is read until start.
func newDaemon(cfg *config.ServerConfig, logger *slog.Logger) (*daemon, error) {
	d := &daemon{
		cfg:     cfg,
		logger:  logger,
		runID:   ulid.Make().String(),
		metrics: metric.NewRegistry(),
		stopper: shutdown.NewHandler(shutdown.DefaultTimeout, logger),
	}

	engineCfg, err := storageConfig(cfg)
	if err != nil {
		return nil, err
	}
	engineCfg.RunID = d.runID
	engineCfg.Version = buildinfo.Version
	engineCfg.Logger = logger
	engineCfg.Observer = d.metrics

	d.engine, err = storage.Open(engineCfg)
	if err != nil {
		return nil, err
	}

	d.metrics.RegisterGaugeFunc("keys", "Keys currently stored, including expired keys not yet removed.",
		func() float64 { return float64(d.engine.Table().Len()) })
	d.metrics.RegisterGaugeFunc("wal_bytes", "Size of the write log on disk.",
		func() float64 { return float64(d.engine.Stats().LogSize) })

	srv := cfg.Server
	d.redis = redisserver.New(&redisserver.Config{
		Address:        srv.Redis.Address,
		ReadTimeout:    srv.Redis.ReadTimeout,
		WriteTimeout:   srv.Redis.WriteTimeout,
		IdleTimeout:    srv.Redis.IdleTimeout,
		MaxConnections: srv.Redis.MaxConnections,
		RateLimit:      srv.Redis.RateLimitPerSecond,
		RequirePass:    srv.Redis.RequirePass,
	}, d.engine, logger, d.metrics)

	d.memcached = memcached.New(&memcached.Config{
		Address:        srv.Memcached.Address,
		ReadTimeout:    srv.Memcached.ReadTimeout,
		WriteTimeout:   srv.Memcached.WriteTimeout,
		IdleTimeout:    srv.Memcached.IdleTimeout,
		MaxConnections: srv.Memcached.MaxConnections,
		RateLimit:      srv.Memcached.RateLimitPerSecond,
		MaxItemSize:    cfg.Limits.MaxValueSize,
		Version:        buildinfo.Version,
	}, d.engine, logger, d.metrics)

	if srv.Mux.Enabled {
		d.mux = muxserver.New(muxserver.Config{
			Address:        srv.Mux.Address,
			MaxConnections: srv.Mux.MaxConnections,
		}, d.redis, d.memcached, logger, d.metrics)
	}
	if srv.Local.Enabled {
		d.local = localserver.New(srv.Local.SocketPath, d.redis, logger, d.metrics)
	}
	if srv.HTTP.Enabled {
		httpCfg := httpserver.DefaultConfig()
		httpCfg.Address = srv.HTTP.Address
		router := httpserver.NewRouter(&httpserver.RouterConfig{
			Store:         d.engine,
			Version:       buildinfo.Version,
			Logger:        logger,
			Metrics:       d.metrics.Handler(),
			RateLimit:     ratelimit.New(srv.HTTP.RateLimitPerSecond),
			OnRateLimited: func() { d.metrics.IncRateLimited("http") },
			AccessLog:     srv.HTTP.AccessLog,
		})
		d.http = httpserver.New(httpCfg, router, logger)
	}
	return d, nil
}

// storageConfig maps the storage, expiry and limits sections onto the
// engine configuration.
func storageConfig(cfg *config.ServerConfig) (storage.Config, error) {
	sc := storage.DefaultConfig(cfg.Storage.DataDir)
	sc.ShardCount = cfg.Storage.ShardCount

	policy, err := wal.ParseSyncPolicy(cfg.Storage.Fsync)
	if err != nil {
		return sc, err
	}
	sc.WAL.Sync = policy
	if cfg.Storage.FsyncInterval > 0 {
		sc.WAL.SyncInterval = cfg.Storage.FsyncInterval
	}
	if cfg.Storage.SegmentSize > 0 {
		sc.WAL.MaxSegmentSize = cfg.Storage.SegmentSize
	}
	if cfg.Storage.FilePrefix != "" {
		sc.WAL.FilePrefix = cfg.Storage.FilePrefix
	}

	sc.SnapshotInterval = cfg.Storage.SnapshotInterval
	sc.Snapshot.Retention = cfg.Storage.SnapshotRetention
	sc.Snapshot.Compression = cfg.Storage.Compression
	sc.RetainSegments = cfg.Storage.RetainSegments

	cipher, err := storage.CipherFromHex(cfg.Storage.EncryptionKey, cfg.Storage.EncryptionCipher)
	if err != nil {
		return sc, fmt.Errorf("storage.encryption_key: %w", err)
	}
	sc.Snapshot.Cipher = cipher

	sc.SweepInterval = cfg.Expiry.SweepInterval
	sc.SweepBatch = cfg.Expiry.SweepBatch
	sc.Limits = domain.Limits{
		MaxKeySize:   cfg.Limits.MaxKeySize,
		MaxValueSize: cfg.Limits.MaxValueSize,
	}
	return sc, nil
}

// start binds every enabled listener, recovers the engine and starts the
// background loops. Listeners come up first so that clients connecting
// during recovery get a loading error instead of a refused connection.
// Shutdown hooks are registered in start order and run in reverse.
func (d *daemon) start(ctx context.Context) error {
	ctx, d.cancel = context.WithCancel(ctx)
	d.bg, ctx = errgroup.WithContext(ctx)

	d.stopper.OnShutdown("storage", func(context.Context) error {
		return d.engine.Close()
	})
	d.stopper.OnShutdown("background", func(context.Context) error {
		d.cancel()
		return d.bg.Wait()
	})

	type named struct {
		name    string
		enabled bool
		l       listener
	}
	listeners := []named{
		{"http", d.http != nil, d.http},
		{"redis", d.cfg.Server.Redis.Enabled, d.redis},
		{"memcached", d.cfg.Server.Memcached.Enabled, d.memcached},
		{"mux", d.mux != nil, d.mux},
		{"local", d.local != nil, d.local},
	}
	for _, ln := range listeners {
		if !ln.enabled {
			continue
		}
		if err := ln.l.Start(ctx); err != nil {
			return fmt.Errorf("start %s listener: %w", ln.name, err)
		}
		d.stopper.OnShutdown(ln.name, ln.l.Shutdown)
	}

	for _, lim := range []*ratelimit.Registry{d.redis.Limiter(), d.memcached.Limiter()} {
		d.bg.Go(func() error {
			lim.Run(ctx, limiterPruneInterval)
			return nil
		})
	}

	st, err := d.engine.Recover(ctx)
	if err != nil {
		return err
	}
	if st.Truncated {
		d.logger.Warn("write log tail was truncated during recovery",
			"reason", st.Reason,
			"segment", st.TruncatedAt.Segment,
			"offset", st.TruncatedAt.Offset)
	}
	if err := d.engine.Start(ctx); err != nil {
		return err
	}

	d.logger.Info("workingdb-server ready",
		"run_id", d.runID,
		"keys", d.engine.Table().Len(),
		"shards", d.cfg.Storage.ShardCount)
	return nil
}

// stop runs the shutdown hooks. It is safe to call after a failed start.
func (d *daemon) stop(ctx context.Context) error {
	if d.cancel == nil {
		return d.engine.Close()
	}
	return d.stopper.Shutdown(ctx)
}

// redisAddr returns the bound RESP address, or nil when disabled.
func (d *daemon) redisAddr() net.Addr {
	if !d.cfg.Server.Redis.Enabled {
		return nil
	}
	return d.redis.Addr()
}

// serve starts the daemon and blocks until ctx is cancelled, then shuts
// down.
func (d *daemon) serve(ctx context.Context) error {
	startErr := d.start(ctx)
	if startErr == nil {
		<-ctx.Done()
		d.logger.Info("shutdown signal received")
	}
	stopErr := d.stop(context.Background())
	if startErr != nil {
		return errors.Join(startErr, stopErr)
	}
	if stopErr != nil {
		return stopErr
	}
	d.logger.Info("server stopped gracefully")
	return nil
}
