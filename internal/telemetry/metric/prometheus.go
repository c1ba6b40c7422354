package metric

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "workingdb"

// Registry holds all application metrics.
type Registry struct {
	registry *prometheus.Registry

	// Command metrics
	CommandsTotal   *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	ExpiredKeys     *prometheus.CounterVec

	// Write log metrics
	WALAppends      prometheus.Counter
	WALSyncDuration prometheus.Histogram
	WALSyncErrors   prometheus.Counter

	// Background work
	SweepDuration prometheus.Histogram
	Snapshots     *prometheus.CounterVec

	// Listener metrics
	ConnectionsActive *prometheus.GaugeVec
	RateLimited       *prometheus.CounterVec

	gaugeMu sync.Mutex
	gauges  map[string]bool
}

// NewRegistry creates a registry with Go runtime and process collectors
// already registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		registry: reg,
		gauges:   make(map[string]bool),

		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands executed, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Command execution latency.",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1, .5},
		}, []string{"kind"}),
		ExpiredKeys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_keys_total",
			Help:      "Keys removed after their deadline, by path (lazy or sweep).",
		}, []string{"path"}),

		WALAppends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wal_appends_total",
			Help:      "Records appended to the write log.",
		}),
		WALSyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "wal_sync_duration_seconds",
			Help:      "Write log fsync latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		WALSyncErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wal_sync_errors_total",
			Help:      "Failed write log fsyncs.",
		}),

		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of one expiration sweep over all shards.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 8),
		}),
		Snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Snapshots attempted, by result.",
		}, []string{"result"}),

		ConnectionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Open client connections, by protocol.",
		}, []string{"protocol"}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Commands rejected by the per-client rate limiter.",
		}, []string{"protocol"}),
	}

	reg.MustRegister(
		r.CommandsTotal,
		r.CommandDuration,
		r.ExpiredKeys,
		r.WALAppends,
		r.WALSyncDuration,
		r.WALSyncErrors,
		r.SweepDuration,
		r.Snapshots,
		r.ConnectionsActive,
		r.RateLimited,
	)
	return r
}

var (
	globalOnce sync.Once
	global     *Registry
)

// Global returns the process-wide registry.
func Global() *Registry {
	globalOnce.Do(func() {
		global = NewRegistry()
	})
	return global
}

// Handler returns the /metrics handler of the global registry.
func Handler() http.Handler {
	return Global().Handler()
}

// Handler returns an HTTP handler serving this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// RegisterGaugeFunc registers a gauge whose value is read from fn at
// scrape time. Registering the same name twice is a no-op.
func (r *Registry) RegisterGaugeFunc(name, help string, fn func() float64) {
	r.gaugeMu.Lock()
	defer r.gaugeMu.Unlock()
	if r.gauges[name] {
		return
	}
	r.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
	r.gauges[name] = true
}

// ObserveCommand records one executed command.
func (r *Registry) ObserveCommand(kind, outcome string, d time.Duration) {
	r.CommandsTotal.WithLabelValues(kind, outcome).Inc()
	r.CommandDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveExpired records n keys expired through path.
func (r *Registry) ObserveExpired(path string, n int) {
	r.ExpiredKeys.WithLabelValues(path).Add(float64(n))
}

// ObserveSweep records one sweep cycle.
func (r *Registry) ObserveSweep(d time.Duration, _ int) {
	r.SweepDuration.Observe(d.Seconds())
}

// ObserveSync records one write log fsync.
func (r *Registry) ObserveSync(d time.Duration, err error) {
	if err != nil {
		r.WALSyncErrors.Inc()
		return
	}
	r.WALSyncDuration.Observe(d.Seconds())
}

// IncWALAppends counts appended records.
func (r *Registry) IncWALAppends() {
	r.WALAppends.Inc()
}

// RecordSnapshot counts a snapshot attempt.
func (r *Registry) RecordSnapshot(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.Snapshots.WithLabelValues(result).Inc()
}

// ConnOpened and ConnClosed track open client connections per protocol.
func (r *Registry) ConnOpened(protocol string) {
	r.ConnectionsActive.WithLabelValues(protocol).Inc()
}

func (r *Registry) ConnClosed(protocol string) {
	r.ConnectionsActive.WithLabelValues(protocol).Dec()
}

// IncRateLimited counts a command rejected by the rate limiter.
func (r *Registry) IncRateLimited(protocol string) {
	r.RateLimited.WithLabelValues(protocol).Inc()
}
