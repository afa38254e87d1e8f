package manager

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/cncaiprojem/projem-sub004/infrastructure/logging"
	"github.com/cncaiprojem/projem-sub004/infrastructure/metrics"
	"github.com/cncaiprojem/projem-sub004/internal/cache/l1"
	"github.com/cncaiprojem/projem-sub004/internal/cache/l2"
	"github.com/cncaiprojem/projem-sub004/internal/cachekey"
	"github.com/cncaiprojem/projem-sub004/internal/fingerprint"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	fingerprint.Bind(fingerprint.Fingerprint{EngineVersion: "1.0.0", KernelVersion: "k1"})

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	l2c, err := l2.New(client, l2.DefaultConfig())
	if err != nil {
		t.Fatalf("l2.New() error = %v", err)
	}
	t.Cleanup(func() { l2c.Close() })

	l1c := l1.New(100, 1<<20)
	met := metrics.NewWithRegistry(t.Name(), prometheus.NewRegistry())
	log := logging.New("test", "error", "text")

	cfg := DefaultConfig()
	cfg.LockTimeout = time.Second
	cfg.PollInitial = 5 * time.Millisecond
	cfg.PollMax = 20 * time.Millisecond

	return New(l1c, l2c, cfg, log, met)
}

func TestSetThenGetHitsL1(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if err := m.Set(ctx, cachekey.FlowParams, []byte(`{"a":1}`), []byte("value"), "", time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := m.Get(ctx, cachekey.FlowParams, []byte(`{"a":1}`), "")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v, %v", got, ok, err)
	}
	if string(got) != "value" {
		t.Fatalf("got %s, want value", got)
	}
}

func TestGetMissReturnsFalse(t *testing.T) {
	m := newTestManager(t)
	_, ok, err := m.Get(context.Background(), cachekey.FlowGeometry, []byte(`{}`), "")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Fatal("expected miss")
	}
}

func TestGetOrComputeRunsOnceOnMiss(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	var calls int64

	compute := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt64(&calls, 1)
		return []byte("computed"), nil
	}

	got, err := m.GetOrCompute(ctx, cachekey.FlowGeometry, []byte(`{"x":1}`), "", time.Minute, compute)
	if err != nil {
		t.Fatalf("GetOrCompute() error = %v", err)
	}
	if string(got) != "computed" {
		t.Fatalf("got %s, want computed", got)
	}

	got2, err := m.GetOrCompute(ctx, cachekey.FlowGeometry, []byte(`{"x":1}`), "", time.Minute, compute)
	if err != nil {
		t.Fatalf("second GetOrCompute() error = %v", err)
	}
	if string(got2) != "computed" {
		t.Fatalf("got %s, want computed", got2)
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("compute invoked %d times, want 1 (second call should read through cache)", got)
	}
}

func TestGetOrComputePropagatesError(t *testing.T) {
	m := newTestManager(t)
	wantErr := errors.New("boom")

	_, err := m.GetOrCompute(context.Background(), cachekey.FlowAI, []byte(`{}`), "", time.Minute, func(ctx context.Context) ([]byte, error) {
		return nil, wantErr
	})
	if err != wantErr {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}

func TestInvalidateEngineClearsBothTiers(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if err := m.Set(ctx, cachekey.FlowExport, []byte(`{"v":1}`), []byte("val"), "", time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	n, err := m.InvalidateEngine(ctx, nil)
	if err != nil {
		t.Fatalf("InvalidateEngine() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("invalidated %d keys, want 1", n)
	}

	_, ok, err := m.Get(ctx, cachekey.FlowExport, []byte(`{"v":1}`), "")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Fatal("expected miss after invalidation")
	}
}

func TestGetOrComputeConcurrentCallersCoalesce(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	var calls int64
	release := make(chan struct{})

	compute := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt64(&calls, 1)
		<-release
		return []byte("v"), nil
	}

	done := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, _ = m.GetOrCompute(ctx, cachekey.FlowUpload, []byte(`{"u":1}`), "", time.Minute, compute)
			done <- struct{}{}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	for i := 0; i < 3; i++ {
		<-done
	}

	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("compute invoked %d times, want 1", got)
	}
}
