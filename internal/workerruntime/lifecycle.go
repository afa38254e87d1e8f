package workerruntime

import (
	"context"
	"sync"
	"time"

	"github.com/cncaiprojem/projem-sub004/infrastructure/metrics"
	"github.com/cncaiprojem/projem-sub004/internal/cache/manager"
	"github.com/cncaiprojem/projem-sub004/internal/cachekey"
)

// TaskLifecycle wires per-task hooks around a job body: idempotency
// resolution before execution, duration/caching bookkeeping after, and a
// retry counter a supervising scheduler can consult for backoff decisions.
type TaskLifecycle struct {
	cache *manager.Manager
	met   *metrics.Metrics

	mu      sync.Mutex
	retries map[string]int64
}

// NewTaskLifecycle constructs a TaskLifecycle. cache may be nil, in which
// case idempotency resolution is skipped and every task runs.
func NewTaskLifecycle(cache *manager.Manager, met *metrics.Metrics) *TaskLifecycle {
	return &TaskLifecycle{cache: cache, met: met, retries: make(map[string]int64)}
}

// TaskFunc is the job body a lifecycle wraps.
type TaskFunc func(ctx context.Context) ([]byte, error)

// Run resolves idempotency against the cache manager before invoking fn,
// and records the outcome's duration and status after it returns. flow and
// canonical identify the task for idempotency purposes; opType labels the
// metric series.
func (l *TaskLifecycle) Run(ctx context.Context, flow cachekey.Flow, canonical []byte, opType string, fn TaskFunc) ([]byte, error) {
	start := time.Now()

	var (
		result []byte
		err    error
	)
	if l.cache != nil {
		result, err = l.cache.GetOrCompute(ctx, flow, canonical, "", 0, manager.ComputeFunc(fn))
	} else {
		result, err = fn(ctx)
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	if l.met != nil {
		l.met.RecordJob(opType, status, time.Since(start))
	}
	return result, err
}

// IncrementRetry bumps and returns the retry counter for key (typically a
// job id), used to drive retry-aware backoff and circuit decisions.
func (l *TaskLifecycle) IncrementRetry(key string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.retries[key]++
	return l.retries[key]
}

// RetryCount returns the current retry counter for key without mutating it.
func (l *TaskLifecycle) RetryCount(key string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.retries[key]
}

// ResetRetry clears key's retry counter, called once a job completes.
func (l *TaskLifecycle) ResetRetry(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.retries, key)
}
