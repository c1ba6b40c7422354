// Package snapshot writes and reads point-in-time dumps of the shard table.
//
// A snapshot shortens recovery: the engine loads the newest valid snapshot
// and replays only write log records newer than the sequence number the
// snapshot covers.
//
// File layout:
//
//	snapshot-<ulid>.snap
//	[magic:8 "WDBSNAP1"]
//	[HeaderLen:4][HeaderJSON:HeaderLen]
//	[Data]      JSON lines of entries, zstd compressed, optionally encrypted
//	[checksum:32 SHA-256 of all bytes above]
//
// Files are written to a temporary name, synced and renamed, so a crash
// never leaves a partial snapshot under the final name.
package snapshot
