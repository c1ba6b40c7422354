package domain

import "time"

// Stats is a point-in-time view of the store, served by the Info family of
// protocol commands.
type Stats struct {
	RunID      string        `json:"run_id"`
	Version    string        `json:"version"`
	Uptime     time.Duration `json:"uptime"`
	ShardCount int           `json:"shard_count"`

	KeyCount     int64 `json:"key_count"`
	ExpiredCount int64 `json:"expired_count"`
	LazyExpired  int64 `json:"lazy_expired"`
	SweepExpired int64 `json:"sweep_expired"`

	TotalReads      int64         `json:"total_reads"`
	TotalWrites     int64         `json:"total_writes"`
	TotalDeletes    int64         `json:"total_deletes"`
	ReadHits        int64         `json:"read_hits"`
	ReadMisses      int64         `json:"read_misses"`
	AvgReadLatency  time.Duration `json:"avg_read_latency"`
	AvgWriteLatency time.Duration `json:"avg_write_latency"`

	SweepCycles      int64         `json:"sweep_cycles"`
	SweepAvgDuration time.Duration `json:"sweep_avg_duration"`

	LogEnabled bool   `json:"log_enabled"`
	LogState   string `json:"log_state"`
	LogSize    int64  `json:"log_size" table:"bytes"`
	LogLastSeq uint64 `json:"log_last_seq"`
	LogFailed  bool   `json:"log_failed"`
}
