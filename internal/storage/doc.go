// Package storage assembles the storage engine.
//
// The engine owns the shard table, the write log, the snapshot manager,
// the command executor and the expiration sweeper:
//
//   - Memory: the sharded key space with per-shard expiry indexes
//   - Write log: every mutation is appended before it is applied
//   - Snapshots: periodic dumps that bound recovery time and let old log
//     segments be deleted
//
// Recovery loads the newest valid snapshot, replays the log records newer
// than it through the executor with persistence disabled, and only then
// attaches the log for new writes.
package storage
