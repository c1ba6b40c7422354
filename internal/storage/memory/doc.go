// Package memory provides the sharded in-memory key space.
//
// A Table is a fixed power-of-two array of shards selected by murmur3 hash.
// Each shard owns its map and an expiration index ordered by deadline, both
// guarded by the shard's read-write lock, plus a separate write gate that
// serializes mutations of that shard without blocking its readers.
//
// The table never interprets deadlines on its own; callers decide whether an
// entry is logically alive.
package memory
