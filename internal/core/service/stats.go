package service

import (
	"time"

	"github.com/workingdb/workingdb-go/internal/core/domain"
)

// Stats returns a snapshot of executor, table and log statistics.
func (e *Executor) Stats() domain.Stats {
	st := domain.Stats{
		RunID:      e.runID,
		Version:    e.version,
		Uptime:     e.clock().Sub(e.startedAt),
		ShardCount: e.table.ShardCount(),
		KeyCount:   int64(e.table.Len()),

		LazyExpired:  e.lazyExpired.Load(),
		SweepExpired: e.sweepExpired.Load(),

		TotalReads:   e.reads.Load(),
		TotalWrites:  e.writes.Load(),
		TotalDeletes: e.deletes.Load(),
		ReadHits:     e.readHits.Load(),
		SweepCycles:  e.sweepCycles.Load(),
	}
	st.ExpiredCount = st.LazyExpired + st.SweepExpired
	st.ReadMisses = st.TotalReads - st.ReadHits

	if st.TotalReads > 0 {
		st.AvgReadLatency = time.Duration(e.readNanos.Load() / st.TotalReads)
	}
	if n := st.TotalWrites + st.TotalDeletes; n > 0 {
		st.AvgWriteLatency = time.Duration(e.writeNanos.Load() / n)
	}
	if st.SweepCycles > 0 {
		st.SweepAvgDuration = time.Duration(e.sweepNanos.Load() / st.SweepCycles)
	}

	if ref := e.journal.Load(); ref != nil {
		st.LogEnabled = true
		st.LogState = ref.State().String()
		st.LogSize = ref.Size()
		st.LogLastSeq = ref.LastSeq()
		st.LogFailed = ref.Err() != nil
	}
	return st
}
