package memory

import (
	"sync"

	"github.com/spaolacci/murmur3"

	"github.com/workingdb/workingdb-go/internal/core/domain"
)

// DefaultShardCount is the default number of shards.
const DefaultShardCount = 64

// Shard is one independently locked partition of the key space.
//
// A shard has two locks. mu guards the map and the expiration index and is
// held only for in-memory work. writeMu is the shard's single mutation
// point: callers that must log a record before applying it hold writeMu
// across the append so that per-key apply order equals append order, while
// readers keep going on mu.
//
// Versions come from clock, a counter shared by every key of the shard, so
// a key that is deleted and created again never reuses a version.
type Shard struct {
	index   int
	writeMu sync.Mutex

	mu     sync.RWMutex
	items  map[string]*domain.Entry
	expiry *expiryIndex
	clock  uint64 // last version handed out
}

// Index returns the shard's position in the table.
func (s *Shard) Index() int {
	return s.index
}

// LockWrites acquires the shard's mutation point.
func (s *Shard) LockWrites() {
	s.writeMu.Lock()
}

// UnlockWrites releases the shard's mutation point.
func (s *Shard) UnlockWrites() {
	s.writeMu.Unlock()
}

// Get returns a copy of the entry stored for key, regardless of expiry.
func (s *Shard) Get(key string) (domain.Entry, bool) {
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return domain.Entry{}, false
	}
	return *e, true
}

// Put installs entry under key and returns the stored entry along with the
// previous one. The version is assigned by the shard; entry.Version is
// ignored.
func (s *Shard) Put(key string, entry domain.Entry) (stored, prev domain.Entry, existed bool) {
	stored = entry
	s.mu.Lock()
	defer s.mu.Unlock()

	old, existed := s.items[key]
	var prevAt int64
	if existed {
		prevAt = old.ExpiresAt
		prev = *old
	}
	stored.Version = s.nextVersion()
	s.items[key] = &stored
	s.expiry.track(key, prevAt, stored.ExpiresAt)
	return stored, prev, existed
}

// nextVersion returns a version newer than any the shard has handed out
// or loaded. Callers hold mu.
func (s *Shard) nextVersion() uint64 {
	s.clock++
	return s.clock
}

// Remove deletes key and returns the removed entry.
func (s *Shard) Remove(key string) (domain.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.items[key]
	if !ok {
		return domain.Entry{}, false
	}
	delete(s.items, key)
	s.expiry.track(key, prev.ExpiresAt, 0)
	return *prev, true
}

// SetExpiry replaces the deadline of an existing key, bumping its version.
func (s *Shard) SetExpiry(key string, expiresAt int64, seq uint64) (domain.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.items[key]
	if !ok {
		return domain.Entry{}, false
	}
	next := *prev
	next.ExpiresAt = expiresAt
	next.Version = s.nextVersion()
	next.Seq = seq
	s.items[key] = &next
	s.expiry.track(key, prev.ExpiresAt, expiresAt)
	return next, true
}

// load installs entry exactly as given, keeping its version and sequence
// number. Used when restoring a snapshot.
func (s *Shard) load(key string, entry domain.Entry) {
	stored := entry
	s.mu.Lock()
	defer s.mu.Unlock()

	if stored.Version > s.clock {
		s.clock = stored.Version
	}
	var prevAt int64
	if prev, ok := s.items[key]; ok {
		prevAt = prev.ExpiresAt
	}
	s.items[key] = &stored
	s.expiry.track(key, prevAt, stored.ExpiresAt)
}

// Len returns the number of entries in the shard, expired ones included.
func (s *Shard) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// KeyEntry pairs a key with a copy of its entry.
type KeyEntry struct {
	Key   string
	Entry domain.Entry
}

// Scan returns the entries of the shard accepted by pred. A nil predicate
// accepts everything. Only this shard's read lock is held.
func (s *Shard) Scan(pred func(key string, e *domain.Entry) bool) []KeyEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]KeyEntry, 0, len(s.items))
	for k, e := range s.items {
		if pred != nil && !pred(k, e) {
			continue
		}
		out = append(out, KeyEntry{Key: k, Entry: *e})
	}
	return out
}

// ExpiredKeys returns up to limit keys whose deadline is at or before
// nowMilli, using the expiration index.
func (s *Shard) ExpiredKeys(nowMilli int64, limit int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiry.due(nowMilli, limit)
}

// Table is a fixed array of shards. The shard for a key never changes for
// the lifetime of the table.
type Table struct {
	shards []*Shard
	mask   uint32
}

// New creates a table with shardCount shards. shardCount must be a power of
// two; other values fall back to DefaultShardCount.
func New(shardCount int) *Table {
	if shardCount <= 0 || shardCount&(shardCount-1) != 0 {
		shardCount = DefaultShardCount
	}

	t := &Table{
		shards: make([]*Shard, shardCount),
		mask:   uint32(shardCount - 1),
	}
	for i := range t.shards {
		t.shards[i] = &Shard{
			index:  i,
			items:  make(map[string]*domain.Entry),
			expiry: newExpiryIndex(),
		}
	}
	return t
}

// ShardIndex returns the shard index for key.
func (t *Table) ShardIndex(key string) int {
	return int(murmur3.Sum32([]byte(key)) & t.mask)
}

// ShardFor returns the shard owning key.
func (t *Table) ShardFor(key string) *Shard {
	return t.shards[t.ShardIndex(key)]
}

// Shard returns the shard at index i, or nil when i is out of range.
func (t *Table) Shard(i int) *Shard {
	if i < 0 || i >= len(t.shards) {
		return nil
	}
	return t.shards[i]
}

// ShardCount returns the number of shards.
func (t *Table) ShardCount() int {
	return len(t.shards)
}

// Get returns the entry for key, regardless of expiry.
func (t *Table) Get(key string) (domain.Entry, bool) {
	return t.ShardFor(key).Get(key)
}

// Put inserts or replaces the entry for key.
func (t *Table) Put(key string, entry domain.Entry) (stored, prev domain.Entry, existed bool) {
	return t.ShardFor(key).Put(key, entry)
}

// Remove deletes key.
func (t *Table) Remove(key string) (domain.Entry, bool) {
	return t.ShardFor(key).Remove(key)
}

// Load installs a restored entry without touching its version.
func (t *Table) Load(key string, entry domain.Entry) {
	t.ShardFor(key).load(key, entry)
}

// ScanShard scans shard i with pred.
func (t *Table) ScanShard(i int, pred func(key string, e *domain.Entry) bool) ([]KeyEntry, error) {
	s := t.Shard(i)
	if s == nil {
		return nil, domain.ErrShardUnavailable
	}
	return s.Scan(pred), nil
}

// Len returns the total number of entries, expired ones included.
func (t *Table) Len() int {
	n := 0
	for _, s := range t.shards {
		n += s.Len()
	}
	return n
}

// ShardStats describes one shard.
type ShardStats struct {
	Index        int   `json:"index"`
	Keys         int   `json:"keys"`
	WithDeadline int   `json:"with_deadline"`
	NextDeadline int64 `json:"next_deadline,omitempty"`
}

// Stats returns per-shard statistics.
func (t *Table) Stats() []ShardStats {
	out := make([]ShardStats, len(t.shards))
	for i, s := range t.shards {
		s.mu.RLock()
		st := ShardStats{
			Index:        i,
			Keys:         len(s.items),
			WithDeadline: s.expiry.len(),
		}
		if at, ok := s.expiry.next(); ok {
			st.NextDeadline = at
		}
		s.mu.RUnlock()
		out[i] = st
	}
	return out
}
