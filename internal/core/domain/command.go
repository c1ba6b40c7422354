package domain

import (
	"fmt"
	"time"
)

// Kind identifies a normalized command.
type Kind uint8

// Command kinds.
const (
	KindGet Kind = iota + 1
	KindSet
	KindDelete
	KindExpire
	KindPing
	KindInfo
)

var kindNames = map[Kind]string{
	KindGet:    "get",
	KindSet:    "set",
	KindDelete: "delete",
	KindExpire: "expire",
	KindPing:   "ping",
	KindInfo:   "info",
}

// String returns the lowercase command name.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Mutating reports whether commands of this kind change state.
func (k Kind) Mutating() bool {
	return k == KindSet || k == KindDelete || k == KindExpire
}

// SetCond restricts when a Set is applied.
type SetCond uint8

const (
	// SetAlways stores unconditionally.
	SetAlways SetCond = iota
	// SetIfAbsent stores only when the key is missing (NX, add).
	SetIfAbsent
	// SetIfPresent stores only when the key exists (XX, replace).
	SetIfPresent
	// SetIfVersion stores only when the current version equals
	// Command.Version (cas).
	SetIfVersion
)

// Command is a protocol-independent request.
type Command struct {
	Kind  Kind
	Key   string
	Value []byte
	Flags uint32

	// HasTTL selects whether TTL applies. A Set without TTL clears any
	// existing deadline; an Expire without TTL removes the deadline.
	HasTTL bool
	TTL    time.Duration

	Cond    SetCond
	Version uint64 // expected version for SetIfVersion
}

// Get builds a Get command.
func Get(key string) Command {
	return Command{Kind: KindGet, Key: key}
}

// Set builds an unconditional Set without expiry.
func Set(key string, value []byte, flags uint32) Command {
	return Command{Kind: KindSet, Key: key, Value: value, Flags: flags}
}

// SetWithTTL builds an unconditional Set with a TTL.
func SetWithTTL(key string, value []byte, flags uint32, ttl time.Duration) Command {
	return Command{Kind: KindSet, Key: key, Value: value, Flags: flags, HasTTL: true, TTL: ttl}
}

// Delete builds a Delete command.
func Delete(key string) Command {
	return Command{Kind: KindDelete, Key: key}
}

// Expire builds a command that sets a new TTL on an existing key.
func Expire(key string, ttl time.Duration) Command {
	return Command{Kind: KindExpire, Key: key, HasTTL: true, TTL: ttl}
}

// Persist builds a command that removes the deadline of an existing key.
func Persist(key string) Command {
	return Command{Kind: KindExpire, Key: key}
}

// Result is the normalized outcome of a command.
type Result struct {
	// Found reports whether the key existed (and was alive) before the
	// command ran. For Get it is the hit/miss indicator.
	Found bool

	// Applied reports whether a mutating command changed state. A Set whose
	// condition failed has Applied == false.
	Applied bool

	// Value and Flags hold the entry read by Get, or the previous value of a
	// mutated key.
	Value []byte
	Flags uint32

	// ExpiresAt is the deadline of the entry read or written, 0 if none.
	ExpiresAt int64

	// Version is the entry version after the command (or the version read).
	Version uint64

	// Message carries the reply of Ping.
	Message string

	// Stats is populated by Info.
	Stats *Stats
}
