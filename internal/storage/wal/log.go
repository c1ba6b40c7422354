package wal

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/workingdb/workingdb-go/internal/core/domain"
)

// State is the lifecycle state of a Log.
type State int32

// Log states. A log moves forward only: Closed -> Recovering -> Appending.
const (
	StateClosed State = iota
	StateRecovering
	StateAppending
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateRecovering:
		return "recovering"
	case StateAppending:
		return "appending"
	default:
		return "unknown"
	}
}

// Log errors.
var (
	ErrNotAppending  = errors.New("wal: log is not accepting appends")
	ErrAlreadyOpened = errors.New("wal: log already recovered")
	ErrSequenceGap   = errors.New("wal: sequence gap")
	ErrMissingHead   = errors.New("wal: records before the first segment are missing")
	ErrSequenceOrder = errors.New("wal: sequence numbers out of order")
)

// RecoveredState summarizes a recovery run.
type RecoveredState struct {
	Replayed    int           `json:"replayed"`
	Skipped     int           `json:"skipped"`
	LastSeq     uint64        `json:"last_seq"`
	Truncated   bool          `json:"truncated"`
	TruncatedAt Position      `json:"truncated_at"`
	Reason      string        `json:"reason,omitempty"`
	Quarantined []string      `json:"quarantined,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// Log is the append-only write log.
type Log struct {
	cfg    Config
	logger *slog.Logger
	onSync func(time.Duration, error)

	mu    sync.Mutex
	state State
	w     *writer
}

// Option configures a Log.
type Option func(*Log)

// WithLogger sets the logger used for recovery warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithSyncObserver registers a callback invoked after every fsync.
func WithSyncObserver(fn func(time.Duration, error)) Option {
	return func(l *Log) {
		l.onSync = fn
	}
}

// Open prepares a log rooted at cfg.Dir. No file is touched until Recover.
func Open(cfg Config, opts ...Option) (*Log, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("wal: dir is required")
	}
	applyDefaults(&cfg)
	if _, err := ParseSyncPolicy(string(cfg.Sync)); err != nil {
		return nil, err
	}

	l := &Log{
		cfg:    cfg,
		logger: slog.Default(),
		state:  StateClosed,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Config returns the effective configuration.
func (l *Log) Config() Config {
	return l.cfg
}

// State returns the current lifecycle state.
func (l *Log) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Recover replays the log and opens it for appending.
//
// Records with Seq <= fromSeq are already reflected in a snapshot and are
// skipped. Every other record is passed to apply in sequence order. Replay
// stops at the first torn record, checksum mismatch or sequence gap; the
// damaged tail is cut off, later segments are renamed with CorruptSuffix,
// and appending resumes at LastSeq+1.
func (l *Log) Recover(fromSeq uint64, apply func(*Record) error) (*RecoveredState, error) {
	l.mu.Lock()
	if l.state != StateClosed {
		l.mu.Unlock()
		return nil, ErrAlreadyOpened
	}
	l.state = StateRecovering
	l.mu.Unlock()

	start := time.Now()
	st, err := scan(l.cfg.Dir, l.cfg.FilePrefix, fromSeq, apply)
	if err != nil {
		return nil, err
	}

	if st.Truncated {
		l.logger.Warn("write log tail is damaged, truncating",
			"position", st.TruncatedAt.String(),
			"reason", st.Reason,
			"last_seq", st.LastSeq)
		quarantined, err := l.truncateAt(st.TruncatedAt)
		if err != nil {
			return nil, err
		}
		st.Quarantined = quarantined
	}

	w, err := openWriter(l.cfg, st.LastSeq, l.onSync)
	if err != nil {
		return nil, err
	}
	st.Duration = time.Since(start)

	l.mu.Lock()
	l.w = w
	l.state = StateAppending
	l.mu.Unlock()

	return st, nil
}

// scan reads the log and applies records above fromSeq. It does not modify
// any file.
func scan(dir, prefix string, fromSeq uint64, apply func(*Record) error) (*RecoveredState, error) {
	r, err := NewReader(dir, prefix)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	st := &RecoveredState{LastSeq: fromSeq}
	var prev uint64
	first := true
	stop := func(pos Position, reason error) {
		st.Truncated = true
		st.TruncatedAt = pos
		st.Reason = reason.Error()
	}

	for {
		pos := r.Position()
		rec, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			var ce *CorruptionError
			if errors.As(err, &ce) {
				stop(ce.Pos, ce.Err)
				break
			}
			return nil, err
		}

		if rec.Seq <= fromSeq {
			if !first && rec.Seq <= prev {
				stop(pos, ErrSequenceOrder)
				break
			}
			first = false
			prev = rec.Seq
			st.Skipped++
			continue
		}

		want := max(prev, fromSeq) + 1
		if rec.Seq != want {
			if first {
				return nil, domain.ErrLogCorrupt.WithCause(ErrMissingHead).
					WithDetails(fmt.Sprintf("first record %d, expected %d", rec.Seq, want))
			}
			stop(pos, fmt.Errorf("%w: got %d, want %d", ErrSequenceGap, rec.Seq, want))
			break
		}
		first = false
		prev = rec.Seq

		if apply != nil {
			if err := apply(rec); err != nil {
				return nil, fmt.Errorf("wal: replay record %d: %w", rec.Seq, err)
			}
		}
		st.Replayed++
		st.LastSeq = rec.Seq
	}
	return st, nil
}

// truncateAt cuts the log at pos and quarantines every later segment.
func (l *Log) truncateAt(pos Position) ([]string, error) {
	segs, err := listSegments(l.cfg.Dir, l.cfg.FilePrefix)
	if err != nil {
		return nil, err
	}

	var quarantined []string
	for _, s := range segs {
		switch {
		case s.id < pos.Segment:
			continue
		case s.id == pos.Segment && pos.Offset >= MagicBytesSize:
			if err := os.Truncate(s.path, pos.Offset); err != nil {
				return nil, fmt.Errorf("wal: truncate %s: %w", s.path, err)
			}
		default:
			dst := s.path + CorruptSuffix
			if err := os.Rename(s.path, dst); err != nil {
				return nil, fmt.Errorf("wal: quarantine %s: %w", s.path, err)
			}
			quarantined = append(quarantined, dst)
		}
	}
	return quarantined, nil
}

// Append writes rec, assigning it the next sequence number. It returns once
// the record satisfies the sync policy. Any failure is sticky: later calls
// fail with domain.ErrLogWriteFailed until the process restarts. Appends
// outside the appending state, such as during shutdown, fail with
// domain.ErrUnavailable.
func (l *Log) Append(rec *Record) (uint64, error) {
	w, err := l.appender()
	if err != nil {
		return 0, domain.ErrUnavailable.WithCause(err)
	}
	seq, err := w.append(rec)
	switch {
	case errors.Is(err, ErrClosed):
		return 0, domain.ErrUnavailable.WithCause(err)
	case err != nil:
		return 0, domain.ErrLogWriteFailed.WithCause(err)
	}
	return seq, nil
}

func (l *Log) appender() (*writer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateAppending || l.w == nil {
		return nil, ErrNotAppending
	}
	return l.w, nil
}

// Sync flushes appended records to stable storage.
func (l *Log) Sync() error {
	w, err := l.appender()
	if err != nil {
		return err
	}
	return w.sync()
}

// Position returns the current write position with the last assigned
// sequence number. Every record at or below that number lives in a segment
// with id <= Position.Segment.
func (l *Log) Position() (Position, uint64) {
	w, err := l.appender()
	if err != nil {
		return Position{}, 0
	}
	return w.position()
}

// LastSeq returns the last assigned sequence number.
func (l *Log) LastSeq() uint64 {
	_, seq := l.Position()
	return seq
}

// Size returns the number of bytes held by the log's segments.
func (l *Log) Size() int64 {
	w, err := l.appender()
	if err != nil {
		return 0
	}
	return w.size()
}

// Err returns the sticky write failure, if any.
func (l *Log) Err() error {
	w, err := l.appender()
	if err != nil {
		return nil
	}
	return w.err()
}

// Compact removes segments entirely covered by a snapshot taken at pos,
// keeping at least retain segments.
func (l *Log) Compact(pos Position, retain int) (CompactResult, error) {
	res, err := NewCompactor(l.cfg.Dir, l.cfg.FilePrefix, retain).Compact(pos.Segment)
	if err != nil {
		return res, err
	}

	w, werr := l.appender()
	if werr != nil {
		return res, nil
	}
	return res, w.refreshClosedBytes()
}

// Close finalizes the active segment. The log cannot be reopened.
func (l *Log) Close() error {
	l.mu.Lock()
	w := l.w
	l.w = nil
	l.mu.Unlock()

	if w == nil {
		return nil
	}
	return w.close()
}

// Verify scans the log in dir without modifying it, passing every intact
// record to fn. The log may start at any sequence number; damage is
// reported through RecoveredState.Truncated.
func Verify(dir, prefix string, fn func(*Record) error) (*RecoveredState, error) {
	if prefix == "" {
		prefix = DefaultFilePrefix
	}
	r, err := NewReader(dir, prefix)
	if err != nil {
		return nil, err
	}
	first, err := r.Next()
	r.Close()

	var fromSeq uint64
	if err == nil && first.Seq > 0 {
		fromSeq = first.Seq - 1
	}
	start := time.Now()
	st, err := scan(dir, prefix, fromSeq, fn)
	if err != nil {
		return nil, err
	}
	st.Duration = time.Since(start)
	return st, nil
}
