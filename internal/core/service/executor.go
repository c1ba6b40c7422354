package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/workingdb/workingdb-go/internal/core/domain"
	"github.com/workingdb/workingdb-go/internal/storage/memory"
	"github.com/workingdb/workingdb-go/internal/storage/wal"
)

// Journal is the durable log the executor appends to. *wal.Log implements
// it.
type Journal interface {
	Append(rec *wal.Record) (uint64, error)
	Size() int64
	LastSeq() uint64
	State() wal.State
	Err() error
}

// Observer receives command and expiry events, typically for metrics.
type Observer interface {
	ObserveCommand(kind string, outcome string, d time.Duration)
	ObserveExpired(path string, n int)
	ObserveSweep(d time.Duration, removed int)
}

// Command outcomes reported to the Observer.
const (
	OutcomeOK         = "ok"
	OutcomeMiss       = "miss"
	OutcomeNotApplied = "not_applied"
	OutcomeError      = "error"
)

// Expiry paths reported to the Observer.
const (
	ExpiryLazy  = "lazy"
	ExpirySweep = "sweep"
)

type noopObserver struct{}

func (noopObserver) ObserveCommand(string, string, time.Duration) {}
func (noopObserver) ObserveExpired(string, int)                   {}
func (noopObserver) ObserveSweep(time.Duration, int)              {}

type journalRef struct {
	Journal
}

// Executor applies normalized commands to the shard table.
type Executor struct {
	table    *memory.Table
	limits   domain.Limits
	clock    func() time.Time
	logger   *slog.Logger
	observer Observer

	runID     string
	version   string
	startedAt time.Time

	journal atomic.Pointer[journalRef]

	reads        atomic.Int64
	readHits     atomic.Int64
	readNanos    atomic.Int64
	writes       atomic.Int64
	deletes      atomic.Int64
	writeNanos   atomic.Int64
	lazyExpired  atomic.Int64
	sweepExpired atomic.Int64
	sweepCycles  atomic.Int64
	sweepNanos   atomic.Int64
}

// Option configures an Executor.
type Option func(*Executor)

// WithLimits sets the key and value ceilings.
func WithLimits(l domain.Limits) Option {
	return func(e *Executor) {
		e.limits = l
	}
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Executor) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithObserver registers an event observer.
func WithObserver(o Observer) Option {
	return func(e *Executor) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithIdentity sets the run id and server version reported by Info.
func WithIdentity(runID, version string) Option {
	return func(e *Executor) {
		e.runID = runID
		e.version = version
	}
}

// NewExecutor creates an executor over table. Persistence starts disabled;
// call AttachJournal once recovery has finished.
func NewExecutor(table *memory.Table, opts ...Option) *Executor {
	e := &Executor{
		table:    table,
		limits:   domain.DefaultLimits(),
		clock:    time.Now,
		logger:   slog.Default(),
		observer: noopObserver{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.startedAt = e.clock()
	return e
}

// AttachJournal enables persistence. Every later mutation is appended to j
// before it is applied.
func (e *Executor) AttachJournal(j Journal) {
	if j == nil {
		e.journal.Store(nil)
		return
	}
	e.journal.Store(&journalRef{Journal: j})
}

// Persistent reports whether mutations are being logged.
func (e *Executor) Persistent() bool {
	return e.journal.Load() != nil
}

// Table returns the underlying shard table.
func (e *Executor) Table() *memory.Table {
	return e.table
}

// Execute runs cmd. A read miss is reported as Result.Found == false, not
// as an error.
func (e *Executor) Execute(ctx context.Context, cmd domain.Command) (*domain.Result, error) {
	start := time.Now()

	var (
		res *domain.Result
		err error
	)
	switch cmd.Kind {
	case domain.KindGet:
		res, err = e.get(cmd.Key)
		e.readNanos.Add(int64(time.Since(start)))
	case domain.KindSet:
		res, err = e.set(ctx, cmd)
		e.writeNanos.Add(int64(time.Since(start)))
	case domain.KindDelete:
		res, err = e.delete(ctx, cmd.Key)
		e.writeNanos.Add(int64(time.Since(start)))
	case domain.KindExpire:
		res, err = e.expire(ctx, cmd)
		e.writeNanos.Add(int64(time.Since(start)))
	case domain.KindPing:
		msg := "PONG"
		if len(cmd.Value) > 0 {
			msg = string(cmd.Value)
		}
		res = &domain.Result{Found: true, Message: msg}
	case domain.KindInfo:
		st := e.Stats()
		res = &domain.Result{Found: true, Stats: &st}
	default:
		err = domain.ErrInvalidArgument.WithDetails("unknown command kind " + cmd.Kind.String())
	}

	e.observer.ObserveCommand(cmd.Kind.String(), outcome(cmd.Kind, res, err), time.Since(start))
	return res, err
}

func outcome(kind domain.Kind, res *domain.Result, err error) string {
	switch {
	case err != nil:
		return OutcomeError
	case kind.Mutating() && res.Applied:
		return OutcomeOK
	case kind.Mutating() && res.Found:
		return OutcomeNotApplied
	case !res.Found:
		return OutcomeMiss
	default:
		return OutcomeOK
	}
}

func (e *Executor) get(key string) (*domain.Result, error) {
	e.reads.Add(1)
	if err := e.limits.Check(key, nil); err != nil {
		return nil, err
	}

	sh := e.table.ShardFor(key)
	cur, ok := sh.Get(key)
	if !ok {
		return &domain.Result{}, nil
	}
	if cur.IsExpired(e.clock()) {
		e.expireLazily(sh, key)
		return &domain.Result{}, nil
	}

	e.readHits.Add(1)
	return &domain.Result{
		Found:     true,
		Value:     cur.Value,
		Flags:     cur.Flags,
		ExpiresAt: cur.ExpiresAt,
		Version:   cur.Version,
	}, nil
}

// expireLazily removes key if it is still expired once the shard's write
// gate is held. Failure to log the eviction leaves the entry in place; the
// caller still reports a miss.
func (e *Executor) expireLazily(sh *memory.Shard, key string) {
	sh.LockWrites()
	defer sh.UnlockWrites()

	cur, ok := sh.Get(key)
	if !ok || !cur.IsExpired(e.clock()) {
		return
	}
	if err := e.evictLocked(sh, key, ExpiryLazy); err != nil {
		e.logger.Warn("lazy expiration not logged", "shard", sh.Index(), "error", err)
	}
}

// evictLocked logs and removes an expired key. The shard's write gate must
// be held.
func (e *Executor) evictLocked(sh *memory.Shard, key, path string) error {
	if _, err := e.appendRecord(&wal.Record{Kind: wal.KindEvict, Key: []byte(key)}); err != nil {
		return err
	}
	if _, ok := sh.Remove(key); !ok {
		return nil
	}
	if path == ExpirySweep {
		e.sweepExpired.Add(1)
	} else {
		e.lazyExpired.Add(1)
	}
	e.observer.ObserveExpired(path, 1)
	return nil
}

// current returns the live entry for key with the write gate held, evicting
// it first when it has expired.
func (e *Executor) current(sh *memory.Shard, key string) (domain.Entry, bool, error) {
	cur, ok := sh.Get(key)
	if !ok {
		return domain.Entry{}, false, nil
	}
	if cur.IsExpired(e.clock()) {
		if err := e.evictLocked(sh, key, ExpiryLazy); err != nil {
			return domain.Entry{}, false, err
		}
		return domain.Entry{}, false, nil
	}
	return cur, true, nil
}

func (e *Executor) set(ctx context.Context, cmd domain.Command) (*domain.Result, error) {
	e.writes.Add(1)
	if err := e.limits.Check(cmd.Key, cmd.Value); err != nil {
		return nil, err
	}

	sh := e.table.ShardFor(cmd.Key)
	sh.LockWrites()
	defer sh.UnlockWrites()

	cur, exists, err := e.current(sh, cmd.Key)
	if err != nil {
		return nil, err
	}

	switch cmd.Cond {
	case domain.SetAlways:
	case domain.SetIfAbsent:
		if exists {
			return &domain.Result{Found: true, Version: cur.Version}, nil
		}
	case domain.SetIfPresent:
		if !exists {
			return &domain.Result{}, nil
		}
	case domain.SetIfVersion:
		if !exists {
			return &domain.Result{}, nil
		}
		if cur.Version != cmd.Version {
			return &domain.Result{Found: true, Version: cur.Version}, nil
		}
	default:
		return nil, domain.ErrInvalidArgument.WithDetails("unknown set condition")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entry := domain.Entry{
		Value: bytes.Clone(cmd.Value),
		Flags: cmd.Flags,
	}
	if entry.Value == nil {
		entry.Value = []byte{}
	}
	if cmd.HasTTL {
		entry.ExpiresAt = domain.ExpiresAtFor(e.clock(), cmd.TTL)
	}

	seq, err := e.appendRecord(&wal.Record{
		Kind:      wal.KindSet,
		Key:       []byte(cmd.Key),
		Value:     entry.Value,
		Flags:     entry.Flags,
		ExpiresAt: entry.ExpiresAt,
	})
	if err != nil {
		return nil, err
	}
	entry.Seq = seq

	stored, prev, _ := sh.Put(cmd.Key, entry)
	res := &domain.Result{
		Applied:   true,
		Found:     exists,
		ExpiresAt: stored.ExpiresAt,
		Version:   stored.Version,
	}
	if exists {
		res.Value, res.Flags = prev.Value, prev.Flags
	}
	return res, nil
}

func (e *Executor) delete(ctx context.Context, key string) (*domain.Result, error) {
	e.deletes.Add(1)
	if err := e.limits.Check(key, nil); err != nil {
		return nil, err
	}

	sh := e.table.ShardFor(key)
	sh.LockWrites()
	defer sh.UnlockWrites()

	_, exists, err := e.current(sh, key)
	if err != nil {
		return nil, err
	}
	if !exists {
		return &domain.Result{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if _, err := e.appendRecord(&wal.Record{Kind: wal.KindDelete, Key: []byte(key)}); err != nil {
		return nil, err
	}
	prev, _ := sh.Remove(key)
	return &domain.Result{
		Applied: true,
		Found:   true,
		Value:   prev.Value,
		Flags:   prev.Flags,
		Version: prev.Version,
	}, nil
}

func (e *Executor) expire(ctx context.Context, cmd domain.Command) (*domain.Result, error) {
	e.writes.Add(1)
	if err := e.limits.Check(cmd.Key, nil); err != nil {
		return nil, err
	}

	sh := e.table.ShardFor(cmd.Key)
	sh.LockWrites()
	defer sh.UnlockWrites()

	cur, exists, err := e.current(sh, cmd.Key)
	if err != nil {
		return nil, err
	}
	if !exists {
		return &domain.Result{}, nil
	}

	var at int64
	if cmd.HasTTL {
		at = domain.ExpiresAtFor(e.clock(), cmd.TTL)
	} else if cur.ExpiresAt == 0 {
		// Nothing to persist.
		return &domain.Result{Found: true, Version: cur.Version}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seq, err := e.appendRecord(&wal.Record{Kind: wal.KindExpire, Key: []byte(cmd.Key), ExpiresAt: at})
	if err != nil {
		return nil, err
	}
	next, _ := sh.SetExpiry(cmd.Key, at, seq)
	return &domain.Result{
		Applied:   true,
		Found:     true,
		ExpiresAt: next.ExpiresAt,
		Version:   next.Version,
	}, nil
}

// appendRecord logs rec when persistence is enabled and returns its
// sequence number, or 0 when running without a journal.
func (e *Executor) appendRecord(rec *wal.Record) (uint64, error) {
	ref := e.journal.Load()
	if ref == nil {
		return 0, nil
	}
	if err := ref.Err(); err != nil {
		return 0, domain.ErrUnavailable.WithCause(err).WithDetails("write log failed, restart required")
	}
	seq, err := ref.Append(rec)
	if err != nil {
		if errors.Is(err, domain.ErrLogWriteFailed) {
			e.logger.Error("write log append failed, refusing further writes",
				"kind", rec.Kind.String(), "error", err)
		}
		return 0, err
	}
	return seq, nil
}

// evictIfExpired removes key from sh when it is still expired once the
// shard's write gate is held.
func (e *Executor) evictIfExpired(sh *memory.Shard, key string) (bool, error) {
	sh.LockWrites()
	defer sh.UnlockWrites()

	cur, ok := sh.Get(key)
	if !ok || !cur.IsExpired(e.clock()) {
		return false, nil
	}
	if err := e.evictLocked(sh, key, ExpirySweep); err != nil {
		return false, err
	}
	return true, nil
}
