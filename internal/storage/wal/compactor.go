package wal

import (
	"errors"
	"fmt"
	"os"
)

// DefaultRetainCount is the default number of segments kept after compaction.
const DefaultRetainCount = 2

// CompactResult reports what one compaction removed.
type CompactResult struct {
	Removed int
	Freed   int64
}

// Compactor deletes segments whose records are all covered by a snapshot.
type Compactor struct {
	dir    string
	prefix string
	retain int
}

// NewCompactor creates a compactor for the segments of dir. retain <= 0
// uses DefaultRetainCount.
func NewCompactor(dir, prefix string, retain int) *Compactor {
	if prefix == "" {
		prefix = DefaultFilePrefix
	}
	if retain <= 0 {
		retain = DefaultRetainCount
	}
	return &Compactor{dir: dir, prefix: prefix, retain: retain}
}

// Compact removes segments with an id lower than cover, the segment that
// was active when the snapshot was taken. At least retain segments stay
// on disk; the newest covered ones are kept first.
func (c *Compactor) Compact(cover uint64) (CompactResult, error) {
	var res CompactResult
	segs, err := listSegments(c.dir, c.prefix)
	if err != nil {
		return res, err
	}

	n := 0
	for n < len(segs) && segs[n].id < cover {
		n++
	}
	if uncovered := len(segs) - n; uncovered < c.retain {
		n -= c.retain - uncovered
	}

	var errs []error
	for _, s := range segs[:max(n, 0)] {
		var size int64
		if info, err := os.Stat(s.path); err == nil {
			size = info.Size()
		}
		if err := os.Remove(s.path); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", s.path, err))
			continue
		}
		res.Removed++
		res.Freed += size
	}
	if len(errs) > 0 {
		return res, fmt.Errorf("wal: compact: %w", errors.Join(errs...))
	}
	return res, nil
}
