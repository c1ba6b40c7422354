// Package ratelimit keeps one token bucket per client address.
package ratelimit

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/workingdb/workingdb-go/pkg/cmap"
)

// DefaultIdleTimeout is how long an unused bucket is kept.
const DefaultIdleTimeout = 10 * time.Minute

type bucket struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// Registry hands out per-client limiters allowing perSecond commands with
// an equal burst. A nil *Registry allows everything.
type Registry struct {
	limit   rate.Limit
	burst   int
	buckets *cmap.Map[*bucket]
	now     func() time.Time
}

// New returns a registry, or nil when perSecond <= 0.
func New(perSecond int) *Registry {
	if perSecond <= 0 {
		return nil
	}
	return &Registry{
		limit:   rate.Limit(perSecond),
		burst:   perSecond,
		buckets: cmap.NewWithShards[*bucket](32),
		now:     time.Now,
	}
}

// Allow reports whether the client at addr may run one more command.
func (r *Registry) Allow(addr net.Addr) bool {
	if r == nil {
		return true
	}
	return r.AllowHost(HostOf(addr))
}

// AllowHost is Allow for callers that already know the client host.
func (r *Registry) AllowHost(key string) bool {
	if r == nil {
		return true
	}
	b, ok := r.buckets.Get(key)
	if !ok {
		b, _ = r.buckets.GetOrSet(key, &bucket{limiter: rate.NewLimiter(r.limit, r.burst)})
	}
	now := r.now()
	b.lastSeen.Store(now.UnixNano())
	return b.limiter.AllowN(now, 1)
}

// Prune drops buckets idle for longer than idle and returns how many were
// removed.
func (r *Registry) Prune(idle time.Duration) int {
	if r == nil {
		return 0
	}
	cutoff := r.now().Add(-idle).UnixNano()
	return r.buckets.DeleteFunc(func(_ string, b *bucket) bool {
		return b.lastSeen.Load() < cutoff
	})
}

// Len returns the number of tracked clients.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return r.buckets.Count()
}

// Run prunes idle buckets every interval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if r == nil {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Prune(DefaultIdleTimeout)
		}
	}
}

// HostOf returns the host part of addr. Unix socket peers share one key.
func HostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	s := addr.String()
	if host, _, err := net.SplitHostPort(s); err == nil {
		return host
	}
	return s
}
