package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/workingdb/workingdb-go/internal/core/domain"
	"github.com/workingdb/workingdb-go/internal/core/service"
	"github.com/workingdb/workingdb-go/internal/storage/memory"
	"github.com/workingdb/workingdb-go/internal/storage/snapshot"
	"github.com/workingdb/workingdb-go/internal/storage/wal"
)

// Default configuration values.
const (
	DefaultShardCount       = memory.DefaultShardCount
	DefaultSnapshotInterval = time.Hour
	DefaultRetainSegments   = wal.DefaultRetainCount
	WALDirName              = "wal"
	SnapshotDirName         = "snapshots"
)

// Config configures the storage engine.
type Config struct {
	// DataDir is the base directory for the write log and snapshots.
	DataDir string

	// ShardCount must be a power of two.
	ShardCount int

	WAL      wal.Config
	Snapshot snapshot.Config

	// SnapshotInterval is the period of automatic snapshots. Zero disables
	// them.
	SnapshotInterval time.Duration

	// RetainSegments is the number of obsolete log segments kept after a
	// snapshot.
	RetainSegments int

	SweepInterval time.Duration
	SweepBatch    int

	Limits domain.Limits

	RunID   string
	Version string

	Logger   *slog.Logger
	Observer Observer
}

// Observer extends the executor observer with storage events.
type Observer interface {
	service.Observer
	ObserveSync(d time.Duration, err error)
	IncWALAppends()
	RecordSnapshot(err error)
}

// DefaultConfig returns the default storage configuration rooted at dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:          dataDir,
		ShardCount:       DefaultShardCount,
		WAL:              wal.DefaultConfig(filepath.Join(dataDir, WALDirName)),
		Snapshot:         snapshot.DefaultConfig(filepath.Join(dataDir, SnapshotDirName)),
		SnapshotInterval: DefaultSnapshotInterval,
		RetainSegments:   DefaultRetainSegments,
		SweepInterval:    service.DefaultSweepInterval,
		SweepBatch:       service.DefaultSweepBatch,
		Limits:           domain.DefaultLimits(),
	}
}

// Engine is the storage engine: table, log, snapshots, executor and
// sweeper.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	table    *memory.Table
	log      *wal.Log
	snapshot *snapshot.Manager
	exec     *service.Executor
	sweeper  *service.Sweeper
	observer Observer

	ready     atomic.Bool
	recovered *wal.RecoveredState

	snapMu   sync.Mutex
	lastSnap atomic.Pointer[snapshot.Info]

	bgMu     sync.Mutex
	bgCancel context.CancelFunc
	bgDone   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// Open creates the engine and its directories. It does not read any data;
// call Recover before serving clients.
func Open(cfg Config) (*Engine, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("storage: data_dir is required")
	}
	if cfg.ShardCount == 0 {
		cfg.ShardCount = DefaultShardCount
	}
	if cfg.ShardCount < 0 || cfg.ShardCount&(cfg.ShardCount-1) != 0 {
		return nil, fmt.Errorf("storage: shard_count must be a power of two, got %d", cfg.ShardCount)
	}
	if cfg.WAL.Dir == "" {
		cfg.WAL.Dir = filepath.Join(cfg.DataDir, WALDirName)
	}
	if cfg.Snapshot.Dir == "" {
		cfg.Snapshot.Dir = filepath.Join(cfg.DataDir, SnapshotDirName)
	}
	if cfg.RetainSegments < 0 {
		cfg.RetainSegments = 0
	}
	if cfg.Limits == (domain.Limits{}) {
		cfg.Limits = domain.DefaultLimits()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Snapshot.Logger = logger

	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		table:    memory.New(cfg.ShardCount),
		observer: cfg.Observer,
	}

	logOpts := []wal.Option{wal.WithLogger(logger)}
	if e.observer != nil {
		logOpts = append(logOpts, wal.WithSyncObserver(e.observer.ObserveSync))
	}
	l, err := wal.Open(cfg.WAL, logOpts...)
	if err != nil {
		return nil, fmt.Errorf("storage: open write log: %w", err)
	}
	e.log = l

	snap, err := snapshot.NewManager(cfg.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("storage: open snapshot manager: %w", err)
	}
	e.snapshot = snap

	execOpts := []service.Option{
		service.WithLimits(cfg.Limits),
		service.WithLogger(logger),
		service.WithIdentity(cfg.RunID, cfg.Version),
	}
	if e.observer != nil {
		execOpts = append(execOpts, service.WithObserver(e.observer))
	}
	e.exec = service.NewExecutor(e.table, execOpts...)
	e.sweeper = service.NewSweeper(e.exec,
		service.WithSweepInterval(cfg.SweepInterval),
		service.WithSweepBatch(cfg.SweepBatch),
		service.WithSweepLogger(logger))

	return e, nil
}

// Recover rebuilds the table from the newest snapshot and the write log,
// then enables persistence. It must be called exactly once, before Start.
func (e *Engine) Recover(ctx context.Context) (*wal.RecoveredState, error) {
	start := time.Now()
	e.logger.Info("storage recovery started", "data_dir", e.cfg.DataDir)

	var fromSeq uint64
	info, err := e.snapshot.LoadLatest(func(key string, entry domain.Entry) error {
		e.table.Load(key, entry)
		return nil
	})
	switch {
	case err == nil:
		fromSeq = info.LastSeq
		e.lastSnap.Store(info)
		e.logger.Info("snapshot loaded",
			"id", info.ID,
			"entries", info.EntryCount,
			"last_seq", info.LastSeq,
			"elapsed", time.Since(start))
	case errors.Is(err, snapshot.ErrNoSnapshots):
		e.logger.Info("no snapshot found, replaying the full write log")
	default:
		return nil, fmt.Errorf("storage: load snapshot: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	st, err := e.log.Recover(fromSeq, e.exec.Replay)
	if err != nil {
		return nil, fmt.Errorf("storage: replay write log: %w", err)
	}
	e.recovered = st

	var journal service.Journal = e.log
	if e.observer != nil {
		journal = countingJournal{Journal: e.log, observer: e.observer}
	}
	e.exec.AttachJournal(journal)
	e.ready.Store(true)

	e.logger.Info("storage recovery completed",
		"keys", e.table.Len(),
		"replayed", st.Replayed,
		"last_seq", st.LastSeq,
		"truncated", st.Truncated,
		"elapsed", time.Since(start))
	return st, nil
}

// Ready reports whether recovery has finished.
func (e *Engine) Ready() bool {
	return e.ready.Load()
}

// Execute runs cmd through the executor.
func (e *Engine) Execute(ctx context.Context, cmd domain.Command) (*domain.Result, error) {
	if !e.ready.Load() {
		return nil, domain.ErrUnavailable.WithDetails("storage is recovering")
	}
	return e.exec.Execute(ctx, cmd)
}

// Stats returns executor, table and log statistics.
func (e *Engine) Stats() domain.Stats {
	return e.exec.Stats()
}

// Executor returns the command executor.
func (e *Engine) Executor() *service.Executor {
	return e.exec
}

// Table returns the shard table.
func (e *Engine) Table() *memory.Table {
	return e.table
}

// LastSnapshot returns the most recent snapshot taken or loaded, if any.
func (e *Engine) LastSnapshot() *snapshot.Info {
	return e.lastSnap.Load()
}

// Sweep runs one expiration pass and returns the number of keys removed.
func (e *Engine) Sweep() int {
	return e.sweeper.RunOnce()
}

// TriggerSnapshot writes a snapshot, prunes old ones and deletes log
// segments the snapshot covers. Only one snapshot runs at a time.
func (e *Engine) TriggerSnapshot(ctx context.Context) (*snapshot.Info, error) {
	if !e.ready.Load() {
		return nil, domain.ErrUnavailable.WithDetails("storage is recovering")
	}
	e.snapMu.Lock()
	defer e.snapMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pos, lastSeq := e.log.Position()
	info, err := e.snapshot.Create(gatedSource{e.table}, snapshot.Mark{LastSeq: lastSeq, Segment: pos.Segment})
	if e.observer != nil {
		e.observer.RecordSnapshot(err)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: create snapshot: %w", err)
	}
	e.lastSnap.Store(info)

	if n, err := e.snapshot.Prune(); err != nil {
		e.logger.Warn("snapshot prune failed", "error", err)
	} else if n > 0 {
		e.logger.Debug("old snapshots pruned", "removed", n)
	}

	if res, err := e.log.Compact(pos, e.cfg.RetainSegments); err != nil {
		e.logger.Warn("write log compaction failed", "error", err)
	} else if res.Removed > 0 {
		e.logger.Debug("write log compacted", "segments", res.Removed, "freed", res.Freed)
	}
	return info, nil
}

// Start launches the sweeper and the periodic snapshot loop. Both stop
// when ctx is done or Close is called.
func (e *Engine) Start(ctx context.Context) error {
	if !e.ready.Load() {
		return fmt.Errorf("storage: start before recovery")
	}

	e.bgMu.Lock()
	defer e.bgMu.Unlock()
	if e.bgCancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	e.bgCancel = cancel
	e.bgDone = make(chan struct{})

	e.sweeper.Start(ctx)
	go e.snapshotLoop(ctx, e.bgDone)
	return nil
}

func (e *Engine) snapshotLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	if e.cfg.SnapshotInterval <= 0 {
		return
	}

	ticker := time.NewTicker(e.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.TriggerSnapshot(ctx); err != nil {
				e.logger.Error("periodic snapshot failed", "error", err)
			}
		}
	}
}

// Close stops background work and closes the write log, syncing and
// finalizing the active segment.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.logger.Info("shutting down storage engine")

		e.bgMu.Lock()
		cancel, done := e.bgCancel, e.bgDone
		e.bgMu.Unlock()
		if cancel != nil {
			cancel()
			<-done
		}
		e.sweeper.Stop()

		e.ready.Store(false)
		if err := e.log.Close(); err != nil {
			e.logger.Error("close write log failed", "error", err)
			e.closeErr = err
			return
		}
		e.logger.Info("storage engine shutdown complete")
	})
	return e.closeErr
}

// gatedSource scans each shard with its write gate held, so a mutation
// that was logged before the snapshot mark is applied before its shard is
// read.
type gatedSource struct {
	table *memory.Table
}

func (g gatedSource) ShardCount() int {
	return g.table.ShardCount()
}

func (g gatedSource) ScanShard(i int, pred func(string, *domain.Entry) bool) ([]memory.KeyEntry, error) {
	sh := g.table.Shard(i)
	if sh == nil {
		return nil, domain.ErrShardUnavailable
	}
	sh.LockWrites()
	defer sh.UnlockWrites()
	return g.table.ScanShard(i, pred)
}

// countingJournal reports successful appends to the observer.
type countingJournal struct {
	service.Journal
	observer Observer
}

func (j countingJournal) Append(rec *wal.Record) (uint64, error) {
	seq, err := j.Journal.Append(rec)
	if err == nil {
		j.observer.IncWALAppends()
	}
	return seq, err
}
