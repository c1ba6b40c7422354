package cmap

import (
	"sync"

	"github.com/spaolacci/murmur3"
)

// DefaultShardCount is the default number of shards.
const DefaultShardCount = 16

// Map is a concurrent sharded map with string keys.
type Map[V any] struct {
	shards []*shard[V]
	mask   uint32
}

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

// New creates a map with DefaultShardCount shards.
func New[V any]() *Map[V] {
	return NewWithShards[V](DefaultShardCount)
}

// NewWithShards creates a map with shardCount shards. shardCount must be a
// power of two; other values fall back to DefaultShardCount.
func NewWithShards[V any](shardCount int) *Map[V] {
	if shardCount <= 0 || shardCount&(shardCount-1) != 0 {
		shardCount = DefaultShardCount
	}
	m := &Map[V]{
		shards: make([]*shard[V], shardCount),
		mask:   uint32(shardCount - 1),
	}
	for i := range m.shards {
		m.shards[i] = &shard[V]{items: make(map[string]V)}
	}
	return m
}

func (m *Map[V]) shardFor(key string) *shard[V] {
	return m.shards[murmur3.Sum32([]byte(key))&m.mask]
}

// Get returns the value stored for key.
func (m *Map[V]) Get(key string) (V, bool) {
	s := m.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

// Set stores value for key.
func (m *Map[V]) Set(key string, value V) {
	s := m.shardFor(key)
	s.mu.Lock()
	s.items[key] = value
	s.mu.Unlock()
}

// GetOrSet returns the existing value for key, or stores and returns value.
// The boolean reports whether the value was already present.
func (m *Map[V]) GetOrSet(key string, value V) (V, bool) {
	s := m.shardFor(key)
	s.mu.RLock()
	if v, ok := s.items[key]; ok {
		s.mu.RUnlock()
		return v, true
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.items[key]; ok {
		return v, true
	}
	s.items[key] = value
	return value, false
}

// Delete removes key.
func (m *Map[V]) Delete(key string) {
	s := m.shardFor(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// DeleteFunc removes every entry for which fn returns true and returns the
// number removed.
func (m *Map[V]) DeleteFunc(fn func(key string, value V) bool) int {
	removed := 0
	for _, s := range m.shards {
		s.mu.Lock()
		for k, v := range s.items {
			if fn(k, v) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Range calls fn for every entry until fn returns false. Entries added or
// removed concurrently may or may not be visited.
func (m *Map[V]) Range(fn func(key string, value V) bool) {
	for _, s := range m.shards {
		s.mu.RLock()
		for k, v := range s.items {
			if !fn(k, v) {
				s.mu.RUnlock()
				return
			}
		}
		s.mu.RUnlock()
	}
}

// Count returns the number of entries.
func (m *Map[V]) Count() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}

// Clear removes all entries.
func (m *Map[V]) Clear() {
	for _, s := range m.shards {
		s.mu.Lock()
		s.items = make(map[string]V)
		s.mu.Unlock()
	}
}

// ShardCount returns the number of shards.
func (m *Map[V]) ShardCount() int {
	return len(m.shards)
}
