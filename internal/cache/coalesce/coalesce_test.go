package coalesce

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDoCoalescesConcurrentCallers(t *testing.T) {
	g := New()
	var calls int64
	release := make(chan struct{})

	fn := func(ctx context.Context) (interface{}, error) {
		atomic.AddInt64(&calls, 1)
		<-release
		return "computed", nil
	}

	const waiters = 5
	var wg sync.WaitGroup
	results := make([]Result, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			r, err := g.Do(context.Background(), "k", fn)
			if err != nil {
				t.Errorf("Do() error = %v", err)
				return
			}
			results[idx] = r
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("fn invoked %d times, want 1", got)
	}
	for _, r := range results {
		if r.Value != "computed" {
			t.Fatalf("Value = %v, want computed", r.Value)
		}
	}
}

func TestDoPropagatesError(t *testing.T) {
	g := New()
	wantErr := errTest("boom")
	_, err := g.Do(context.Background(), "k", func(ctx context.Context) (interface{}, error) {
		return nil, wantErr
	})
	if err != wantErr {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}

func TestDoSequentialCallsAfterRelease(t *testing.T) {
	g := New()
	var calls int64
	fn := func(ctx context.Context) (interface{}, error) {
		atomic.AddInt64(&calls, 1)
		return "v", nil
	}

	if _, err := g.Do(context.Background(), "k", fn); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if _, err := g.Do(context.Background(), "k", fn); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if got := atomic.LoadInt64(&calls); got != 2 {
		t.Fatalf("fn invoked %d times, want 2 (calls are not coalesced once the first has returned)", got)
	}
}

func TestForgetAllowsImmediateReentry(t *testing.T) {
	g := New()
	var calls int64
	release := make(chan struct{})
	fn := func(ctx context.Context) (interface{}, error) {
		atomic.AddInt64(&calls, 1)
		<-release
		return "v", nil
	}

	go func() {
		_, _ = g.Do(context.Background(), "k", fn)
	}()
	time.Sleep(10 * time.Millisecond)
	g.Forget("k")

	r, err := g.Do(context.Background(), "k", func(ctx context.Context) (interface{}, error) {
		return "other", nil
	})
	close(release)
	if err != nil {
		t.Fatalf("Do() after Forget error = %v", err)
	}
	if r.Value != "other" {
		t.Fatalf("Do() after Forget = %v, want a fresh call returning \"other\"", r.Value)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	g := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	block := make(chan struct{})
	defer close(block)

	_, err := g.Do(ctx, "k", func(ctx context.Context) (interface{}, error) {
		<-block
		return "v", nil
	})
	if err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }
