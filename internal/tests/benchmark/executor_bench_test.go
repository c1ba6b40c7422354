package benchmark

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/workingdb/workingdb-go/internal/core/domain"
	"github.com/workingdb/workingdb-go/internal/core/service"
	"github.com/workingdb/workingdb-go/internal/storage/memory"
)

func newExecutor(count int) *service.Executor {
	table := memory.New(benchShards)
	prefillTable(table, count)
	return service.NewExecutor(table)
}

// BenchmarkExecutorGet measures hits on a prefilled table.
func BenchmarkExecutorGet(b *testing.B) {
	runWithKeyCounts(b, KeyCounts, func(b *testing.B, count int) {
		exec := newExecutor(count)
		ctx := context.Background()
		b.ResetTimer()
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			if _, err := exec.Execute(ctx, domain.Get(benchKey(i%count))); err != nil {
				b.Fatal(err)
			}
		}
	})
}

// BenchmarkExecutorSet measures overwrites without a write log.
func BenchmarkExecutorSet(b *testing.B) {
	runWithKeyCounts(b, KeyCounts, func(b *testing.B, count int) {
		exec := newExecutor(count)
		ctx := context.Background()
		value := benchValue()
		b.ResetTimer()
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			if _, err := exec.Execute(ctx, domain.Set(benchKey(i%count), value, 0)); err != nil {
				b.Fatal(err)
			}
		}
		b.StopTimer()
		reportMemory(b, "mem")
	})
}

// BenchmarkExecutorParallel mixes 90% reads and 10% writes across
// goroutines.
func BenchmarkExecutorParallel(b *testing.B) {
	const count = 100000
	exec := newExecutor(count)
	ctx := context.Background()
	value := benchValue()
	var next atomic.Int64

	b.ResetTimer()
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := int(next.Add(1))
			key := benchKey(i % count)
			var cmd domain.Command
			if i%10 == 0 {
				cmd = domain.SetWithTTL(key, value, 0, time.Hour)
			} else {
				cmd = domain.Get(key)
			}
			if _, err := exec.Execute(ctx, cmd); err != nil {
				b.Fatal(err)
			}
		}
	})
}

// BenchmarkSweep measures one sweep pass over a table where every
// deadline has passed.
func BenchmarkSweep(b *testing.B) {
	runWithKeyCounts(b, KeyCounts, func(b *testing.B, count int) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			b.StopTimer()
			table := memory.New(benchShards)
			past := time.Now().Add(-time.Second).UnixMilli()
			for k := 0; k < count; k++ {
				table.Load(benchKey(k), domain.Entry{Value: []byte("v"), ExpiresAt: past, Version: 1})
			}
			sweeper := service.NewSweeper(service.NewExecutor(table), service.WithSweepBatch(count))
			b.StartTimer()

			if removed := sweeper.RunOnce(); removed != count {
				b.Fatalf("removed %d, want %d", removed, count)
			}
		}
	})
}
