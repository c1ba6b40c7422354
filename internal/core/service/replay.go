package service

import (
	"fmt"

	"github.com/workingdb/workingdb-go/internal/core/domain"
	"github.com/workingdb/workingdb-go/internal/storage/wal"
)

// Replay applies a recovered record without logging it. Records that are
// not newer than the entry they target (already reflected by a snapshot)
// are ignored. Deadlines are applied as recorded, even when they have
// passed; later commands or the sweeper expire such entries.
func (e *Executor) Replay(rec *wal.Record) error {
	if e.Persistent() {
		return fmt.Errorf("service: replay with persistence enabled")
	}

	key := string(rec.Key)
	sh := e.table.ShardFor(key)
	sh.LockWrites()
	defer sh.UnlockWrites()

	if cur, ok := sh.Get(key); ok && cur.Seq >= rec.Seq {
		return nil
	}

	switch rec.Kind {
	case wal.KindSet:
		value := rec.Value
		if value == nil {
			value = []byte{}
		}
		sh.Put(key, domain.Entry{
			Value:     value,
			Flags:     rec.Flags,
			ExpiresAt: rec.ExpiresAt,
			Seq:       rec.Seq,
		})
	case wal.KindDelete, wal.KindEvict:
		sh.Remove(key)
	case wal.KindExpire:
		sh.SetExpiry(key, rec.ExpiresAt, rec.Seq)
	default:
		return domain.ErrLogCorrupt.WithDetails(fmt.Sprintf("record %d has unknown kind %s", rec.Seq, rec.Kind))
	}
	return nil
}
