// Package cmap provides a concurrent map keyed by strings.
//
// Keys are spread over a power-of-two number of shards by their murmur3
// hash; each shard has its own RWMutex. Callbacks passed to Range and
// DeleteFunc run with one shard's lock held and must not call back into
// the map.
//
//	m := cmap.New[*rate.Limiter]()
//	l, _ := m.GetOrSet(ip, rate.NewLimiter(100, 100))
package cmap
