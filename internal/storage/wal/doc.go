// Package wal provides the append-only write log that makes every
// mutation durable before it is acknowledged.
//
// Layout:
//
//	<prefix>-<segment-id>.log
//	[magic:8 "WDBAOF\x00\x01"]
//	[Record]*
//	[checksum:32 SHA-256 of all bytes above] (finalized segments only)
//
// Record wire format:
//
//	[seq:u64][kind:u8][key_len:uvarint][key][value_len:uvarint][value]
//	[flags:u32][expires_at:i64, -1 = none][checksum:u32]
//
// Fixed-width integers are big endian. The record checksum is the low 32
// bits of xxhash64 over all preceding bytes of the record.
//
// Sequence numbers are assigned by the log, strictly increasing and
// gap-free. Recovery stops at the first torn record, checksum mismatch or
// gap, truncates there, and resumes appending with the next number.
package wal
