package benchmark

import (
	"fmt"
	"runtime"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/workingdb/workingdb-go/internal/core/domain"
	"github.com/workingdb/workingdb-go/internal/storage/memory"
)

// KeyCounts are the table sizes used by the scaling benchmarks.
var KeyCounts = []int{1000, 10000, 100000}

// benchShards matches the server default.
const benchShards = 64

func benchKey(i int) string {
	return fmt.Sprintf("key:%08d", i)
}

// benchValue returns a 26-byte value that differs per call.
func benchValue() []byte {
	return []byte(ulid.Make().String())
}

// prefillTable loads count keys, every fourth one with a deadline an hour
// away.
func prefillTable(table *memory.Table, count int) {
	deadline := time.Now().Add(time.Hour).UnixMilli()
	for i := 0; i < count; i++ {
		e := domain.Entry{Value: benchValue(), Version: 1}
		if i%4 == 0 {
			e.ExpiresAt = deadline
		}
		table.Load(benchKey(i), e)
	}
}

// reportMemory reports heap usage after a forced collection.
func reportMemory(b *testing.B, prefix string) {
	var m runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m)
	b.ReportMetric(float64(m.Alloc)/(1024*1024), prefix+"_MB")
	b.ReportMetric(float64(m.NumGC), prefix+"_GC")
}

// runWithKeyCounts runs benchFn once per table size.
func runWithKeyCounts(b *testing.B, counts []int, benchFn func(b *testing.B, count int)) {
	for _, count := range counts {
		b.Run(fmt.Sprintf("keys_%d", count), func(b *testing.B) {
			benchFn(b, count)
		})
	}
}
