package wal

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Writer errors.
var (
	ErrClosed = errors.New("wal: writer is closed")
)

// SyncPolicy defines when appended records are flushed to stable storage.
// Every policy writes a record to the file before Append returns, so a
// process crash never loses an acknowledged record.
type SyncPolicy string

const (
	// SyncAlways fsyncs before Append returns.
	SyncAlways SyncPolicy = "always"
	// SyncEverySec fsyncs from a background loop every SyncInterval.
	SyncEverySec SyncPolicy = "everysec"
	// SyncNo leaves flushing to the OS, except on rotation and close.
	SyncNo SyncPolicy = "no"
)

// ParseSyncPolicy validates a policy name.
func ParseSyncPolicy(s string) (SyncPolicy, error) {
	switch p := SyncPolicy(s); p {
	case SyncAlways, SyncEverySec, SyncNo:
		return p, nil
	case "":
		return SyncEverySec, nil
	default:
		return "", fmt.Errorf("wal: unknown sync policy %q", s)
	}
}

// Default configuration values.
const (
	DefaultSyncInterval         = time.Second
	DefaultMaxSegmentSize int64 = 64 << 20
)

// Config configures the write log.
type Config struct {
	Dir        string
	FilePrefix string

	Sync         SyncPolicy
	SyncInterval time.Duration

	MaxSegmentSize int64
}

// DefaultConfig returns the default log configuration for dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:            dir,
		FilePrefix:     DefaultFilePrefix,
		Sync:           SyncEverySec,
		SyncInterval:   DefaultSyncInterval,
		MaxSegmentSize: DefaultMaxSegmentSize,
	}
}

func applyDefaults(cfg *Config) {
	if cfg.FilePrefix == "" {
		cfg.FilePrefix = DefaultFilePrefix
	}
	if cfg.Sync == "" {
		cfg.Sync = SyncEverySec
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = DefaultSyncInterval
	}
	if cfg.MaxSegmentSize <= 0 {
		cfg.MaxSegmentSize = DefaultMaxSegmentSize
	}
}

// writer appends records to the active segment. It owns the sequence
// allocator; every append and rotation runs under mu.
type writer struct {
	cfg Config

	mu sync.Mutex

	segmentID uint64
	file      *os.File
	fileSize  int64 // bytes written excluding trailing checksum
	hash      hash.Hash
	buf       []byte

	nextSeq     uint64
	closedBytes int64 // size of finalized segments still on disk
	dirty       bool
	failed      error
	closed      bool

	onSync   func(time.Duration, error)
	syncFile func(*os.File) error

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// openWriter resumes appending after lastSeq. The latest segment is reopened
// when it is not finalized; otherwise a new segment is started.
func openWriter(cfg Config, lastSeq uint64, onSync func(time.Duration, error)) (*writer, error) {
	if err := os.MkdirAll(cfg.Dir, DefaultDirPerm); err != nil {
		return nil, fmt.Errorf("wal: create dir: %w", err)
	}

	w := &writer{
		cfg:      cfg,
		hash:     sha256.New(),
		nextSeq:  lastSeq + 1,
		onSync:   onSync,
		syncFile: (*os.File).Sync,
		stopCh:   make(chan struct{}),
	}

	segs, err := listSegments(cfg.Dir, cfg.FilePrefix)
	if err != nil {
		return nil, err
	}

	var latest segmentInfo
	latestClosed := true
	if len(segs) > 0 {
		latest = segs[len(segs)-1]
		for _, s := range segs[:len(segs)-1] {
			if info, err := os.Stat(s.path); err == nil {
				w.closedBytes += info.Size()
			}
		}
		latestClosed, err = segmentFinalized(latest.path)
		if err != nil {
			return nil, err
		}
	}

	if len(segs) == 0 || latestClosed {
		if len(segs) > 0 {
			if info, err := os.Stat(latest.path); err == nil {
				w.closedBytes += info.Size()
			}
		}
		w.segmentID = latest.id + 1
		if err := w.openNewSegment(); err != nil {
			return nil, err
		}
	} else {
		w.segmentID = latest.id
		if err := w.openExistingSegment(latest.path); err != nil {
			return nil, err
		}
	}

	if cfg.Sync == SyncEverySec {
		w.startSyncLoop()
	}
	return w, nil
}

func segmentFinalized(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("wal: open latest: %w", err)
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("wal: stat latest: %w", err)
	}
	closed, _, err := verifyChecksumTrailer(f, stat.Size())
	if err != nil {
		return false, err
	}
	return closed, nil
}

// append assigns the next sequence number to rec and writes it.
func (w *writer) append(rec *Record) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrClosed
	}
	if w.failed != nil {
		return 0, w.failed
	}

	rec.Seq = w.nextSeq
	w.buf = appendRecord(w.buf[:0], rec)

	if w.fileSize > MagicBytesSize && w.fileSize+int64(len(w.buf)) > w.cfg.MaxSegmentSize {
		if err := w.rotateLocked(); err != nil {
			w.failed = err
			return 0, err
		}
	}

	start := w.fileSize
	n, err := w.file.Write(w.buf)
	if err != nil {
		if n > 0 {
			// Drop the partial record so the segment stays readable.
			w.rollbackLocked(start)
		}
		w.failed = fmt.Errorf("wal: write record %d: %w", rec.Seq, err)
		return 0, w.failed
	}
	w.hash.Write(w.buf)
	w.fileSize += int64(n)
	w.dirty = true

	if w.cfg.Sync == SyncAlways {
		if err := w.syncLocked(); err != nil {
			// The caller is told the record failed, so it must not
			// come back on recovery.
			w.rollbackLocked(start)
			return 0, err
		}
	}

	w.nextSeq++
	return rec.Seq, nil
}

// rollbackLocked cuts the active segment back to size. The writer is failed
// by then, so the running trailer hash is not restored.
func (w *writer) rollbackLocked(size int64) {
	_ = w.file.Truncate(size)
	_, _ = w.file.Seek(size, io.SeekStart)
	w.fileSize = size
}

func (w *writer) syncLocked() error {
	if !w.dirty || w.file == nil {
		return nil
	}
	start := time.Now()
	err := w.syncFile(w.file)
	if w.onSync != nil {
		w.onSync(time.Since(start), err)
	}
	if err != nil {
		w.failed = fmt.Errorf("wal: sync: %w", err)
		return w.failed
	}
	w.dirty = false
	return nil
}

// sync flushes written records to stable storage.
func (w *writer) sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.failed != nil {
		return w.failed
	}
	return w.syncLocked()
}

func (w *writer) startSyncLoop() {
	ticker := time.NewTicker(w.cfg.SyncInterval)
	w.wg.Add(1)

	go func() {
		defer w.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = w.sync()
			case <-w.stopCh:
				return
			}
		}
	}()
}

func (w *writer) rotateLocked() error {
	size := w.fileSize + ChecksumSize
	if err := w.finalizeSegmentLocked(); err != nil {
		return err
	}
	w.closedBytes += size
	w.segmentID++
	return w.openNewSegment()
}

func (w *writer) openNewSegment() error {
	path := filepath.Join(w.cfg.Dir, formatSegmentFilename(w.cfg.FilePrefix, w.segmentID))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, DefaultFilePerm)
	if err != nil {
		return fmt.Errorf("wal: open segment: %w", err)
	}

	w.file = file
	w.fileSize = 0
	w.hash = sha256.New()

	if _, err := file.Write([]byte(MagicBytes)); err != nil {
		file.Close()
		w.file = nil
		return fmt.Errorf("wal: write magic: %w", err)
	}
	w.hash.Write([]byte(MagicBytes))
	w.fileSize = MagicBytesSize
	w.dirty = true
	return nil
}

func (w *writer) openExistingSegment(path string) error {
	file, err := os.OpenFile(path, os.O_RDWR, DefaultFilePerm)
	if err != nil {
		return fmt.Errorf("wal: open existing segment: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("wal: stat segment: %w", err)
	}
	size := stat.Size()
	if size < MagicBytesSize {
		file.Close()
		return fmt.Errorf("wal: segment %s shorter than header", path)
	}

	// Recompute the trailer hash over the existing bytes.
	w.hash = sha256.New()
	if _, err := io.CopyN(w.hash, io.NewSectionReader(file, 0, size), size); err != nil {
		file.Close()
		return fmt.Errorf("wal: hash existing segment: %w", err)
	}
	if _, err := file.Seek(size, io.SeekStart); err != nil {
		file.Close()
		return fmt.Errorf("wal: seek: %w", err)
	}

	w.file = file
	w.fileSize = size
	return nil
}

func (w *writer) finalizeSegmentLocked() error {
	if w.file == nil {
		return nil
	}
	if _, err := w.file.Write(w.hash.Sum(nil)); err != nil {
		return fmt.Errorf("wal: write checksum: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal: sync: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("wal: close: %w", err)
	}
	w.file = nil
	w.dirty = false
	return nil
}

// position returns the current write position and the last assigned
// sequence number, read together.
func (w *writer) position() (Position, uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Position{Segment: w.segmentID, Offset: w.fileSize}, w.nextSeq - 1
}

func (w *writer) size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closedBytes + w.fileSize
}

// refreshClosedBytes recounts finalized segments after compaction.
func (w *writer) refreshClosedBytes() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	segs, err := listSegments(w.cfg.Dir, w.cfg.FilePrefix)
	if err != nil {
		return err
	}
	var total int64
	for _, s := range segs {
		if s.id >= w.segmentID {
			continue
		}
		if info, err := os.Stat(s.path); err == nil {
			total += info.Size()
		}
	}
	w.closedBytes = total
	return nil
}

func (w *writer) err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failed
}

// close finalizes the active segment with its checksum trailer. A failed
// writer is closed without a trailer so the next recovery inspects the
// tail.
func (w *writer) close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	if w.failed != nil {
		err := w.file.Close()
		w.file = nil
		return err
	}
	return w.finalizeSegmentLocked()
}
