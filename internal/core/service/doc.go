// Package service implements the command executor, the single choke point
// through which every protocol adapter reads and mutates the key space.
//
// A mutating command takes the target shard's write gate, appends its
// record to the write log, and only then applies the change to the shard.
// The shard's data lock is never held across log I/O, so readers of the
// same shard are not delayed by fsync.
//
// Expired entries are removed both lazily, when a command touches them, and
// by the Sweeper. Both paths log an EVICT record so that replaying the log
// reproduces the same key space.
package service
