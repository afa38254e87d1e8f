package workerruntime

import (
	"context"
	"errors"
	"testing"

	"github.com/cncaiprojem/projem-sub004/internal/cachekey"
)

func TestTaskLifecycleRunWithoutCacheAlwaysExecutes(t *testing.T) {
	l := NewTaskLifecycle(nil, nil)
	calls := 0
	fn := func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte("ok"), nil
	}

	for i := 0; i < 3; i++ {
		if _, err := l.Run(context.Background(), cachekey.FlowMetrics, []byte("job"), "tessellate", fn); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3 (no cache means no idempotency)", calls)
	}
}

func TestTaskLifecyclePropagatesError(t *testing.T) {
	l := NewTaskLifecycle(nil, nil)
	wantErr := errors.New("boom")
	_, err := l.Run(context.Background(), cachekey.FlowMetrics, []byte("job"), "tessellate", func(ctx context.Context) ([]byte, error) {
		return nil, wantErr
	})
	if err != wantErr {
		t.Fatalf("Run() error = %v, want %v", err, wantErr)
	}
}

func TestRetryCounterLifecycle(t *testing.T) {
	l := NewTaskLifecycle(nil, nil)
	if got := l.RetryCount("job-1"); got != 0 {
		t.Fatalf("RetryCount() = %d, want 0", got)
	}
	if got := l.IncrementRetry("job-1"); got != 1 {
		t.Fatalf("IncrementRetry() = %d, want 1", got)
	}
	if got := l.IncrementRetry("job-1"); got != 2 {
		t.Fatalf("IncrementRetry() = %d, want 2", got)
	}
	l.ResetRetry("job-1")
	if got := l.RetryCount("job-1"); got != 0 {
		t.Fatalf("RetryCount() after reset = %d, want 0", got)
	}
}
