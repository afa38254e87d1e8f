package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewWithRegistry("test-service", reg)
}

func TestNewWithRegistry(t *testing.T) {
	m := newTestMetrics(t)
	if m == nil {
		t.Fatal("expected non-nil metrics instance")
	}
	if m.CacheRequestsTotal == nil || m.JobDuration == nil || m.BatchProgress == nil {
		t.Fatal("expected core collectors to be initialized")
	}
}

func TestRecordCacheEvent(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordCacheEvent("l1", "geometry", "hit", 2*time.Millisecond)
	m.RecordCacheEvent("l2", "geometry", "miss", 10*time.Millisecond)
}

func TestSetL1Stats(t *testing.T) {
	m := newTestMetrics(t)
	m.SetL1Stats(42, 1024)
}

func TestRecordJob(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordJob("geometry.export", "success", 500*time.Millisecond)
	m.RecordJob("geometry.export", "failure", 10*time.Millisecond)
}

func TestSetCircuitState(t *testing.T) {
	m := newTestMetrics(t)
	m.SetCircuitState("geometry.export", 0)
	m.SetCircuitState("geometry.export", 2)
}

func TestBatchProgress(t *testing.T) {
	m := newTestMetrics(t)
	m.SetBatchProgress("adaptive", 0.5)
	m.RecordBatchItem("adaptive", "success")
	m.RecordBatchCompletion("adaptive", time.Second)
}

func TestDocumentAndSchedulerMetrics(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordDocumentOp("commit", "success")
	m.SetDocumentLocks(3)
	m.RecordSchedulerRun("cron", "success", 200*time.Millisecond)
}

func TestEnabledDefaultsByEnvironment(t *testing.T) {
	t.Setenv("METRICS_ENABLED", "")
	t.Setenv("APP_ENV", "production")
	if Enabled() {
		t.Error("expected metrics disabled by default in production")
	}

	t.Setenv("APP_ENV", "development")
	if !Enabled() {
		t.Error("expected metrics enabled by default outside production")
	}

	t.Setenv("METRICS_ENABLED", "true")
	t.Setenv("APP_ENV", "production")
	if !Enabled() {
		t.Error("expected explicit METRICS_ENABLED=true to override production default")
	}
}
