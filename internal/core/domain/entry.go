package domain

import "time"

// Default size ceilings.
const (
	DefaultMaxKeySize   = 512
	DefaultMaxValueSize = 1 << 20
)

// Entry is the unit stored per key.
//
// Entries are replaced as a whole and never mutated in place once they are
// visible in a shard. Value is shared between readers and must be treated as
// read-only.
type Entry struct {
	Value []byte
	Flags uint32

	// ExpiresAt is the absolute deadline in unix milliseconds; 0 means the
	// entry never expires.
	ExpiresAt int64

	// Version increases on every successful mutation of the key and is
	// never reused for it, even after a delete. It is assigned by the shard
	// table only and doubles as the memcached cas unique.
	Version uint64

	// Seq is the write log sequence number of the last record applied to
	// this entry. Zero when persistence is disabled.
	Seq uint64
}

// HasExpiry reports whether the entry carries a deadline.
func (e *Entry) HasExpiry() bool {
	return e.ExpiresAt != 0
}

// IsExpired reports whether the entry is logically absent at now.
func (e *Entry) IsExpired(now time.Time) bool {
	return e.ExpiresAt != 0 && e.ExpiresAt <= now.UnixMilli()
}

// TTL returns the remaining lifetime at now. The second return value is
// false when the entry has no deadline.
func (e *Entry) TTL(now time.Time) (time.Duration, bool) {
	if e.ExpiresAt == 0 {
		return 0, false
	}
	d := time.Duration(e.ExpiresAt-now.UnixMilli()) * time.Millisecond
	if d < 0 {
		d = 0
	}
	return d, true
}

// ExpiresAtFor converts a relative TTL into an absolute deadline. A TTL of
// zero or less yields a deadline that is already reached.
func ExpiresAtFor(now time.Time, ttl time.Duration) int64 {
	if ttl <= 0 {
		return now.UnixMilli()
	}
	at := now.Add(ttl).UnixMilli()
	if at == 0 {
		at = 1
	}
	return at
}

// Limits holds the size ceilings enforced by the command executor so every
// protocol shares one policy.
type Limits struct {
	MaxKeySize   int
	MaxValueSize int
}

// DefaultLimits returns the default ceilings.
func DefaultLimits() Limits {
	return Limits{
		MaxKeySize:   DefaultMaxKeySize,
		MaxValueSize: DefaultMaxValueSize,
	}
}

// Check validates key and value sizes.
func (l Limits) Check(key string, value []byte) error {
	if l.MaxKeySize > 0 && len(key) > l.MaxKeySize {
		return ErrKeyTooLarge
	}
	if l.MaxValueSize > 0 && len(value) > l.MaxValueSize {
		return ErrValueTooLarge
	}
	return nil
}
