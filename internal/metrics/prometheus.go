package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all warden metrics.
type Registry struct {
	// Stats cache
	CacheRequests   *prometheus.CounterVec
	CacheRefreshes  *prometheus.CounterVec
	RefreshDuration *prometheus.HistogramVec
	SnapshotAge     *prometheus.GaugeVec

	// Consolidation
	ConsolidatedEntries   prometheus.Gauge
	ConsolidationWarnings prometheus.Counter
	SourceErrors          *prometheus.CounterVec

	// Exposure
	ExposureVerdicts   *prometheus.GaugeVec
	ExposedSockets     prometheus.Gauge
	SocketLinesSkipped prometheus.Counter

	// Interface and connection tracking
	InterfaceBytes *prometheus.GaugeVec
	InterfaceRate  *prometheus.GaugeVec
	Connections    *prometheus.GaugeVec

	// Poller
	PollCycles *prometheus.CounterVec
}

// Get returns the global metrics registry, creating it if necessary.
// Metrics are registered with the default prometheus registerer.
func Get() *Registry {
	once.Do(func() {
		registry = New(prometheus.DefaultRegisterer)
	})
	return registry
}

// New builds a Registry whose collectors are registered with reg.
// Tests pass a fresh prometheus.NewRegistry() to avoid duplicate registration.
func New(reg prometheus.Registerer) *Registry {
	f := promauto.With(reg)
	r := &Registry{}

	r.CacheRequests = f.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_stats_cache_requests_total",
		Help: "Stats cache lookups by kind and result (hit, refresh, stale)",
	}, []string{"kind", "result"})

	r.CacheRefreshes = f.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_stats_cache_refreshes_total",
		Help: "Collector invocations by kind and outcome",
	}, []string{"kind", "outcome"})

	r.RefreshDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "warden_stats_refresh_duration_seconds",
		Help:    "Collector latency by kind",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	r.SnapshotAge = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "warden_stats_snapshot_age_seconds",
		Help: "Age of the snapshot served for each kind",
	}, []string{"kind"})

	r.ConsolidatedEntries = f.NewGauge(prometheus.GaugeOpts{
		Name: "warden_consolidated_entries",
		Help: "Number of consolidated port entries in the last poll",
	})

	r.ConsolidationWarnings = f.NewCounter(prometheus.CounterOpts{
		Name: "warden_consolidation_warnings_total",
		Help: "Malformed or unresolved firewall records skipped during consolidation",
	})

	r.SourceErrors = f.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_source_errors_total",
		Help: "Failures reading a state source",
	}, []string{"source"})

	r.ExposureVerdicts = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "warden_exposure_sockets",
		Help: "Listening sockets by exposure verdict",
	}, []string{"verdict"})

	r.ExposedSockets = f.NewGauge(prometheus.GaugeOpts{
		Name: "warden_exposed_sockets",
		Help: "Listening sockets reachable from outside the host",
	})

	r.SocketLinesSkipped = f.NewCounter(prometheus.CounterOpts{
		Name: "warden_socket_lines_skipped_total",
		Help: "Malformed socket table lines skipped",
	})

	r.InterfaceBytes = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "warden_interface_bytes",
		Help: "Cumulative interface byte counters",
	}, []string{"interface", "direction"})

	r.InterfaceRate = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "warden_interface_bytes_per_second",
		Help: "Interface throughput derived from consecutive samples",
	}, []string{"interface", "direction"})

	r.Connections = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "warden_connections",
		Help: "Tracked connections by protocol",
	}, []string{"protocol"})

	r.PollCycles = f.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_poll_cycles_total",
		Help: "Background poll cycles by outcome",
	}, []string{"outcome"})

	return r
}

// RecordCacheRequest counts a cache lookup. Safe on a nil Registry.
func (r *Registry) RecordCacheRequest(kind, result string) {
	if r == nil {
		return
	}
	r.CacheRequests.WithLabelValues(kind, result).Inc()
}

// RecordRefresh records one collector invocation.
func (r *Registry) RecordRefresh(kind, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.CacheRefreshes.WithLabelValues(kind, outcome).Inc()
	r.RefreshDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// SetSnapshotAge records the age of the snapshot last served for kind.
func (r *Registry) SetSnapshotAge(kind string, age time.Duration) {
	if r == nil {
		return
	}
	r.SnapshotAge.WithLabelValues(kind).Set(age.Seconds())
}

// RecordConsolidation updates entry and warning metrics after a consolidation pass.
func (r *Registry) RecordConsolidation(entries, warnings int) {
	if r == nil {
		return
	}
	r.ConsolidatedEntries.Set(float64(entries))
	r.ConsolidationWarnings.Add(float64(warnings))
}

// RecordSourceError counts a failed read of the named source.
func (r *Registry) RecordSourceError(source string) {
	if r == nil {
		return
	}
	r.SourceErrors.WithLabelValues(source).Inc()
}

// RecordExposure replaces the verdict gauges with counts from the latest report.
func (r *Registry) RecordExposure(counts map[string]int, exposed, skipped int) {
	if r == nil {
		return
	}
	r.ExposureVerdicts.Reset()
	for verdict, n := range counts {
		r.ExposureVerdicts.WithLabelValues(verdict).Set(float64(n))
	}
	r.ExposedSockets.Set(float64(exposed))
	r.SocketLinesSkipped.Add(float64(skipped))
}

// RecordInterface updates counters and rates for one interface.
func (r *Registry) RecordInterface(name string, rxBytes, txBytes uint64, rxRate, txRate float64) {
	if r == nil {
		return
	}
	r.InterfaceBytes.WithLabelValues(name, "rx").Set(float64(rxBytes))
	r.InterfaceBytes.WithLabelValues(name, "tx").Set(float64(txBytes))
	r.InterfaceRate.WithLabelValues(name, "rx").Set(rxRate)
	r.InterfaceRate.WithLabelValues(name, "tx").Set(txRate)
}

// RecordConnections sets the tracked connection count for a protocol.
func (r *Registry) RecordConnections(protocol string, n int) {
	if r == nil {
		return
	}
	r.Connections.WithLabelValues(protocol).Set(float64(n))
}

// RecordPoll counts a background poll cycle.
func (r *Registry) RecordPoll(success bool) {
	if r == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	r.PollCycles.WithLabelValues(outcome).Inc()
}
