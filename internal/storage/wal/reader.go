package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/workingdb/workingdb-go/internal/core/domain"
)

// CorruptionError reports where a log stops being readable. Pos is the end
// of the last intact record, i.e. where a writer may safely resume.
type CorruptionError struct {
	Pos Position
	Err error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("wal: corruption at %s: %v", e.Pos, e.Err)
}

// Unwrap exposes both the concrete cause and domain.ErrLogCorrupt.
func (e *CorruptionError) Unwrap() []error {
	return []error{e.Err, domain.ErrLogCorrupt}
}

// Reader reads records across all segments in id order. It stops at the
// first unreadable byte and never skips over damage.
type Reader struct {
	segments []segmentInfo
	segIndex int

	file    *os.File
	reader  *bufio.Reader
	records *recordReader
	dataLen int64

	pos Position
	err error
}

// NewReader creates a reader over the segments of dir.
func NewReader(dir, prefix string) (*Reader, error) {
	if prefix == "" {
		prefix = DefaultFilePrefix
	}
	segs, err := listSegments(dir, prefix)
	if err != nil {
		return nil, err
	}
	return &Reader{segments: segs}, nil
}

// Position returns the end of the last record returned, or of the segment
// header when no record has been read from the current segment yet.
func (r *Reader) Position() Position {
	return r.pos
}

// Next returns the next record. It returns io.EOF at the clean end of the
// log and a *CorruptionError when a segment is damaged. Once an error is
// returned every later call returns the same error.
func (r *Reader) Next() (*Record, error) {
	if r.err != nil {
		return nil, r.err
	}
	for {
		if r.reader == nil {
			if err := r.openNextSegment(); err != nil {
				r.err = err
				return nil, err
			}
		}

		remaining := r.dataLen - r.pos.Offset
		if remaining == 0 {
			r.closeCurrent()
			continue
		}

		rec, n, err := r.records.next(remaining)
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.closeCurrent()
				continue
			}
			if errors.Is(err, ErrTornRecord) || errors.Is(err, ErrChecksumMismatch) || errors.Is(err, ErrCorruptRecord) {
				r.err = &CorruptionError{Pos: r.pos, Err: err}
				r.closeCurrent()
				return nil, r.err
			}
			r.err = err
			return nil, err
		}
		r.pos.Offset += n
		return rec, nil
	}
}

// Close closes any open segment file.
func (r *Reader) Close() error {
	return r.closeCurrent()
}

func (r *Reader) openNextSegment() error {
	r.closeCurrent()

	if r.segIndex >= len(r.segments) {
		return io.EOF
	}

	seg := r.segments[r.segIndex]
	r.segIndex++
	r.pos = Position{Segment: seg.id}

	f, err := os.Open(seg.path)
	if err != nil {
		return fmt.Errorf("wal: open segment: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("wal: stat segment: %w", err)
	}

	_, dataLen, err := verifyChecksumTrailer(f, stat.Size())
	if err != nil {
		f.Close()
		if errors.Is(err, errInvalidMagic) {
			return &CorruptionError{Pos: r.pos, Err: err}
		}
		return err
	}
	if dataLen < MagicBytesSize {
		// Crashed while creating the segment.
		f.Close()
		return &CorruptionError{Pos: r.pos, Err: ErrTornRecord}
	}

	r.file = f
	r.dataLen = dataLen
	r.reader = bufio.NewReader(io.NewSectionReader(f, MagicBytesSize, dataLen-MagicBytesSize))
	r.records = newRecordReader(r.reader)
	r.pos.Offset = MagicBytesSize
	return nil
}

func (r *Reader) closeCurrent() error {
	r.reader = nil
	r.records = nil

	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}
