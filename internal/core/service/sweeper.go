package service

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper defaults.
const (
	DefaultSweepInterval = time.Second
	DefaultSweepBatch    = 512
)

// Sweeper periodically removes expired entries that nobody reads again.
// It visits shards one at a time and never holds more than one shard's
// write gate.
type Sweeper struct {
	exec     *Executor
	interval time.Duration
	batch    int
	logger   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepInterval sets the tick interval.
func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSweepBatch bounds the keys removed per shard per tick.
func WithSweepBatch(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.batch = n
		}
	}
}

// WithSweepLogger sets the logger.
func WithSweepLogger(l *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSweeper creates a sweeper over exec.
func NewSweeper(exec *Executor, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		exec:     exec,
		interval: DefaultSweepInterval,
		batch:    DefaultSweepBatch,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the sweep loop. It stops when ctx is done or Stop is
// called.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.running = true

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce()
			}
		}
	}(s.done)
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	done := s.done
	s.mu.Unlock()

	<-done
}

// RunOnce performs one pass over every shard and returns the number of
// entries removed.
func (s *Sweeper) RunOnce() int {
	start := time.Now()
	removed := 0
	table := s.exec.table

	for i := 0; i < table.ShardCount(); i++ {
		sh := table.Shard(i)
		keys := sh.ExpiredKeys(s.exec.clock().UnixMilli(), s.batch)
		for _, key := range keys {
			ok, err := s.exec.evictIfExpired(sh, key)
			if err != nil {
				s.logger.Warn("sweep stopped", "shard", i, "error", err)
				s.finish(start, removed)
				return removed
			}
			if ok {
				removed++
			}
		}
	}

	s.finish(start, removed)
	return removed
}

func (s *Sweeper) finish(start time.Time, removed int) {
	d := time.Since(start)
	s.exec.sweepCycles.Add(1)
	s.exec.sweepNanos.Add(int64(d))
	s.exec.observer.ObserveSweep(d, removed)
	if removed > 0 {
		s.logger.Debug("expired keys swept", "removed", removed, "duration", d)
	}
}
