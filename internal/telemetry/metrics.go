package telemetry

import (
	"errors"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cinemitr/internal/lifecycle"
)

var (
	once sync.Once

	TransitionsApplied  = prometheus.NewCounter(prometheus.CounterOpts{Name: "content_transitions_total", Help: "Committed status transitions"})
	TransitionsRejected = prometheus.NewCounter(prometheus.CounterOpts{Name: "content_transitions_rejected_total", Help: "Transitions rejected as illegal"})
	Conflicts           = prometheus.NewCounter(prometheus.CounterOpts{Name: "content_transition_conflicts_total", Help: "Transitions lost to a concurrent writer"})
	Timeouts            = prometheus.NewCounter(prometheus.CounterOpts{Name: "content_transition_timeouts_total", Help: "Transitions aborted on deadline"})
	PersistenceFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "content_persistence_failures_total", Help: "Store failures forcing rollback"})
	AuditRecords        = prometheus.NewCounter(prometheus.CounterOpts{Name: "audit_records_total", Help: "Audit rows appended"})
	ExportsCompleted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "exports_completed_total", Help: "Export jobs completed"})
	ExportsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "exports_failed_total", Help: "Export jobs failed"})
	RateLimitRejects    = prometheus.NewCounter(prometheus.CounterOpts{Name: "api_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	MetricsCacheHits    = prometheus.NewCounter(prometheus.CounterOpts{Name: "dashboard_cache_hits_total", Help: "Dashboard metrics served from cache"})
	MetricsCacheMisses  = prometheus.NewCounter(prometheus.CounterOpts{Name: "dashboard_cache_misses_total", Help: "Dashboard metrics recomputed"})
	QueueDepthGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "worker_queue_depth", Help: "Ready worker queue depth"})
	InFlightGauge       = prometheus.NewGauge(prometheus.GaugeOpts{Name: "worker_inflight", Help: "Jobs currently leased by workers"})
)

// ObserveRejection buckets a mutator failure into the taxonomy counters.
func ObserveRejection(err error) {
	switch {
	case errors.Is(err, lifecycle.ErrIllegalTransition):
		TransitionsRejected.Inc()
	case errors.Is(err, lifecycle.ErrConflict):
		Conflicts.Inc()
	case errors.Is(err, lifecycle.ErrTimeout):
		Timeouts.Inc()
	case errors.Is(err, lifecycle.ErrNotFound):
		// not a health signal
	default:
		PersistenceFailures.Inc()
	}
}

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			TransitionsApplied,
			TransitionsRejected,
			Conflicts,
			Timeouts,
			PersistenceFailures,
			AuditRecords,
			ExportsCompleted,
			ExportsFailed,
			RateLimitRejects,
			MetricsCacheHits,
			MetricsCacheMisses,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
