package memory

import (
	"github.com/google/btree"
)

// deadline is one (expires_at, key) pair in a shard's expiration index.
type deadline struct {
	at  int64
	key string
}

func deadlineLess(a, b deadline) bool {
	if a.at != b.at {
		return a.at < b.at
	}
	return a.key < b.key
}

// expiryIndex orders a shard's keys by deadline so the sweep can find
// expired keys without walking the whole shard.
//
// It is not safe for concurrent use; the owning shard's data lock guards it.
type expiryIndex struct {
	tree *btree.BTreeG[deadline]
}

const expiryIndexDegree = 32

func newExpiryIndex() *expiryIndex {
	return &expiryIndex{
		tree: btree.NewG(expiryIndexDegree, deadlineLess),
	}
}

// track replaces the deadline recorded for key. A zero deadline removes
// the key from the index.
func (x *expiryIndex) track(key string, oldAt, newAt int64) {
	if oldAt == newAt {
		return
	}
	if oldAt != 0 {
		x.tree.Delete(deadline{at: oldAt, key: key})
	}
	if newAt != 0 {
		x.tree.ReplaceOrInsert(deadline{at: newAt, key: key})
	}
}

// due returns up to limit keys whose deadline is at or before now, earliest
// first. A limit <= 0 means no limit.
func (x *expiryIndex) due(now int64, limit int) []string {
	var keys []string
	x.tree.Ascend(func(d deadline) bool {
		if d.at > now {
			return false
		}
		keys = append(keys, d.key)
		return limit <= 0 || len(keys) < limit
	})
	return keys
}

// next returns the earliest deadline in the index.
func (x *expiryIndex) next() (int64, bool) {
	d, ok := x.tree.Min()
	if !ok {
		return 0, false
	}
	return d.at, true
}

func (x *expiryIndex) len() int {
	return x.tree.Len()
}

