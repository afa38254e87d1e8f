// Package metrics provides Prometheus instrumentation for the cache tiers,
// job executor, batch processor and document manager. There is no HTTP
// export endpoint here; callers wire the registry into whatever exporter
// their deployment uses.
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	// Cache metrics
	CacheRequestsTotal *prometheus.CounterVec
	CacheLatency       *prometheus.HistogramVec
	L1Entries          prometheus.Gauge
	L1Bytes            prometheus.Gauge
	CoalesceWaitTotal  *prometheus.CounterVec
	LockWaitDuration   *prometheus.HistogramVec

	// Canonicalization / rules metrics
	CanonDuration  *prometheus.HistogramVec
	CanonRejects   *prometheus.CounterVec

	// Job executor metrics
	JobDuration      *prometheus.HistogramVec
	JobsTotal        *prometheus.CounterVec
	CircuitState     *prometheus.GaugeVec
	EngineRSSBytes   *prometheus.GaugeVec

	// Batch processor metrics
	BatchItemsTotal    *prometheus.CounterVec
	BatchProgress      *prometheus.GaugeVec
	BatchDuration      *prometheus.HistogramVec

	// Document manager metrics
	DocumentOpsTotal *prometheus.CounterVec
	DocumentLocks    prometheus.Gauge

	// Scheduler metrics
	SchedulerRunsTotal *prometheus.CounterVec
	SchedulerLag       *prometheus.HistogramVec

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a new Metrics instance registered against the default registerer.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry,
// useful for tests that must avoid the global default registry.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_requests_total",
				Help: "Total cache lookups by tier and outcome (hit/miss).",
			},
			[]string{"service", "tier", "flow", "outcome"},
		),
		CacheLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cache_operation_duration_seconds",
				Help:    "Duration of cache get/set operations by tier.",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"service", "tier", "op"},
		),
		L1Entries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "l1_cache_entries",
				Help: "Current number of entries held in the L1 in-process cache.",
			},
		),
		L1Bytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "l1_cache_bytes",
				Help: "Current aggregate estimated byte size of the L1 cache.",
			},
		),
		CoalesceWaitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_coalesce_waits_total",
				Help: "Total number of callers that waited on an in-flight compute_fn instead of invoking their own.",
			},
			[]string{"service", "flow"},
		),
		LockWaitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cache_lock_wait_duration_seconds",
				Help:    "Time spent waiting to acquire or poll the L2 distributed lock.",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10, 30},
			},
			[]string{"service", "flow", "outcome"},
		),

		CanonDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "canonicalization_duration_seconds",
				Help:    "Duration of structured or script canonicalization.",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
			},
			[]string{"service", "path"},
		),
		CanonRejects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canonicalization_rejects_total",
				Help: "Total canonicalization/rules-engine rejections by reason code.",
			},
			[]string{"service", "reason"},
		),

		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "job_executor_duration_seconds",
				Help:    "Duration of job executor subprocess invocations by operation type.",
				Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"service", "op_type", "status"},
		),
		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "job_executor_jobs_total",
				Help: "Total jobs executed by operation type and outcome.",
			},
			[]string{"service", "op_type", "status"},
		),
		CircuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state per operation type: 0=closed, 1=half-open, 2=open.",
			},
			[]string{"service", "breaker"},
		),
		EngineRSSBytes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "engine_subprocess_rss_bytes",
				Help: "Last observed RSS of a running engine subprocess.",
			},
			[]string{"service", "op_type"},
		),

		BatchItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batch_items_total",
				Help: "Total batch items processed by strategy and outcome.",
			},
			[]string{"service", "strategy", "status"},
		),
		BatchProgress: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "batch_progress_ratio",
				Help: "Fraction of items completed for the most recent batch, per strategy.",
			},
			[]string{"service", "strategy"},
		),
		BatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "batch_duration_seconds",
				Help:    "Wall-clock duration of a completed batch by strategy.",
				Buckets: []float64{.5, 1, 5, 10, 30, 60, 300, 600},
			},
			[]string{"service", "strategy"},
		),

		DocumentOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "document_operations_total",
				Help: "Total document manager operations by type and outcome.",
			},
			[]string{"service", "op", "status"},
		),
		DocumentLocks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "document_locks_held",
				Help: "Current number of documents with an active lock.",
			},
		),

		SchedulerRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scheduler_runs_total",
				Help: "Total scheduled job dispatches by schedule kind and outcome.",
			},
			[]string{"service", "kind", "status"},
		),
		SchedulerLag: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scheduler_dispatch_lag_seconds",
				Help:    "Delay between a job's scheduled fire time and actual dispatch.",
				Buckets: []float64{.1, .5, 1, 5, 10, 30, 60},
			},
			[]string{"service", "kind"},
		),

		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "service_uptime_seconds",
				Help: "Service uptime in seconds.",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_info",
				Help: "Service build/environment information.",
			},
			[]string{"service", "version", "environment"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.CacheRequestsTotal,
			m.CacheLatency,
			m.L1Entries,
			m.L1Bytes,
			m.CoalesceWaitTotal,
			m.LockWaitDuration,
			m.CanonDuration,
			m.CanonRejects,
			m.JobDuration,
			m.JobsTotal,
			m.CircuitState,
			m.EngineRSSBytes,
			m.BatchItemsTotal,
			m.BatchProgress,
			m.BatchDuration,
			m.DocumentOpsTotal,
			m.DocumentLocks,
			m.SchedulerRunsTotal,
			m.SchedulerLag,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", environment()).Set(1)

	return m
}

// RecordCacheEvent records a cache get/set outcome for a tier.
func (m *Metrics) RecordCacheEvent(tier, flow, outcome string, duration time.Duration) {
	m.CacheRequestsTotal.WithLabelValues(serviceLabel, tier, flow, outcome).Inc()
	m.CacheLatency.WithLabelValues(serviceLabel, tier, "get").Observe(duration.Seconds())
}

// RecordCoalesceWait records that a caller waited on an in-flight compute_fn.
func (m *Metrics) RecordCoalesceWait(flow string) {
	m.CoalesceWaitTotal.WithLabelValues(serviceLabel, flow).Inc()
}

// RecordLockWait records time spent waiting on the L2 distributed lock.
func (m *Metrics) RecordLockWait(flow, outcome string, d time.Duration) {
	m.LockWaitDuration.WithLabelValues(serviceLabel, flow, outcome).Observe(d.Seconds())
}

// SetL1Stats updates the L1 cache entry/byte gauges.
func (m *Metrics) SetL1Stats(entries int, bytes int64) {
	m.L1Entries.Set(float64(entries))
	m.L1Bytes.Set(float64(bytes))
}

// RecordCanonicalization records canonicalization duration for a path
// ("structured" or "script").
func (m *Metrics) RecordCanonicalization(path string, d time.Duration) {
	m.CanonDuration.WithLabelValues(serviceLabel, path).Observe(d.Seconds())
}

// RecordCanonReject records a canonicalization/rules rejection by reason code.
func (m *Metrics) RecordCanonReject(reason string) {
	m.CanonRejects.WithLabelValues(serviceLabel, reason).Inc()
}

// RecordJob records a job executor invocation outcome and duration.
func (m *Metrics) RecordJob(opType, status string, d time.Duration) {
	m.JobDuration.WithLabelValues(serviceLabel, opType, status).Observe(d.Seconds())
	m.JobsTotal.WithLabelValues(serviceLabel, opType, status).Inc()
}

// SetCircuitState reports the current circuit breaker state as a gauge value
// (0=closed, 1=half-open, 2=open), matching resilience.State ordering.
func (m *Metrics) SetCircuitState(breaker string, state int) {
	m.CircuitState.WithLabelValues(serviceLabel, breaker).Set(float64(state))
}

// SetEngineRSS reports the last observed RSS for a running engine subprocess.
func (m *Metrics) SetEngineRSS(opType string, rssBytes uint64) {
	m.EngineRSSBytes.WithLabelValues(serviceLabel, opType).Set(float64(rssBytes))
}

// RecordBatchItem records one batch item's completion.
func (m *Metrics) RecordBatchItem(strategy, status string) {
	m.BatchItemsTotal.WithLabelValues(serviceLabel, strategy, status).Inc()
}

// SetBatchProgress reports the fraction (0..1) of a batch completed.
func (m *Metrics) SetBatchProgress(strategy string, ratio float64) {
	m.BatchProgress.WithLabelValues(serviceLabel, strategy).Set(ratio)
}

// RecordBatchCompletion records the total wall-clock duration of a batch.
func (m *Metrics) RecordBatchCompletion(strategy string, d time.Duration) {
	m.BatchDuration.WithLabelValues(serviceLabel, strategy).Observe(d.Seconds())
}

// RecordDocumentOp records a document manager operation outcome.
func (m *Metrics) RecordDocumentOp(op, status string) {
	m.DocumentOpsTotal.WithLabelValues(serviceLabel, op, status).Inc()
}

// SetDocumentLocks reports the current count of locked documents.
func (m *Metrics) SetDocumentLocks(count int) {
	m.DocumentLocks.Set(float64(count))
}

// RecordSchedulerRun records a scheduled job dispatch outcome and its lag.
func (m *Metrics) RecordSchedulerRun(kind, status string, lag time.Duration) {
	m.SchedulerRunsTotal.WithLabelValues(serviceLabel, kind, status).Inc()
	m.SchedulerLag.WithLabelValues(serviceLabel, kind).Observe(lag.Seconds())
}

// UpdateUptime updates the service uptime gauge.
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// serviceLabel is filled in lazily via SetServiceLabel; defaults to "worker".
var serviceLabel = "worker"

// SetServiceLabel overrides the service label applied to future recordings.
func SetServiceLabel(name string) {
	if name != "" {
		serviceLabel = name
	}
}

func environment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv("APP_ENV")))
	if env == "" {
		return "development"
	}
	return env
}

// Enabled returns whether Prometheus metrics should be collected.
//
// Defaults:
// - production: disabled unless explicitly enabled via METRICS_ENABLED
// - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return environment() != "production"
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Global metrics instance.
var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance.
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		SetServiceLabel(serviceName)
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance, lazily initializing one bound
// to the default registry if none has been created yet.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
