package batch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func makeItems(n int) []Item {
	items := make([]Item, n)
	for i := range items {
		items[i] = Item{Index: i, Payload: []byte(fmt.Sprintf("item-%d", i))}
	}
	return items
}

func TestProcessSequentialStopsOnErrorByDefault(t *testing.T) {
	p := New(nil, nil)
	items := makeItems(5)
	calls := 0
	fn := func(_ context.Context, item Item) ([]byte, error) {
		calls++
		if item.Index == 2 {
			return nil, errors.New("boom")
		}
		return item.Payload, nil
	}
	res, err := p.Process(context.Background(), items, fn, Options{Strategy: StrategySequential, KeepResults: true})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3 (stopped at first failure)", calls)
	}
	if res.Failed != 1 || res.Successful != 2 {
		t.Fatalf("result = %+v", res)
	}
}

func TestProcessSequentialContinuesOnError(t *testing.T) {
	p := New(nil, nil)
	items := makeItems(4)
	fn := func(_ context.Context, item Item) ([]byte, error) {
		if item.Index%2 == 0 {
			return nil, errors.New("even fails")
		}
		return item.Payload, nil
	}
	res, err := p.Process(context.Background(), items, fn, Options{Strategy: StrategySequential, ContinueOnError: true})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Total != 4 || res.Failed != 2 || res.Successful != 2 {
		t.Fatalf("result = %+v", res)
	}
}

func TestProcessParallelRunsAllItems(t *testing.T) {
	p := New(nil, nil)
	items := makeItems(20)
	fn := func(_ context.Context, item Item) ([]byte, error) {
		return item.Payload, nil
	}
	res, err := p.Process(context.Background(), items, fn, Options{Strategy: StrategyParallel, ContinueOnError: true})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Successful != 20 {
		t.Fatalf("Successful = %d, want 20", res.Successful)
	}
}

func TestProcessChunkedRespectsChunkSize(t *testing.T) {
	p := New(nil, nil)
	items := makeItems(7)
	fn := func(_ context.Context, item Item) ([]byte, error) {
		return item.Payload, nil
	}
	res, err := p.Process(context.Background(), items, fn, Options{
		Strategy:   StrategyChunked,
		ChunkSize:  3,
		ChunkPause: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Total != 7 || res.Successful != 7 {
		t.Fatalf("result = %+v", res)
	}
}

func TestProcessRetriesUpToMaxRetries(t *testing.T) {
	p := New(nil, nil)
	items := makeItems(1)
	attempts := 0
	fn := func(_ context.Context, item Item) ([]byte, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("transient")
		}
		return item.Payload, nil
	}
	res, err := p.Process(context.Background(), items, fn, Options{Strategy: StrategySequential, MaxRetries: 3})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Failed != 0 || res.Successful != 1 {
		t.Fatalf("result = %+v", res)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestAdaptiveParallelismCapsAtItemCount(t *testing.T) {
	if got := adaptiveParallelism(makeItems(1)); got != 1 {
		t.Fatalf("adaptiveParallelism(1 item) = %d, want 1", got)
	}
	if got := adaptiveParallelism(nil); got != 1 {
		t.Fatalf("adaptiveParallelism(nil) = %d, want 1", got)
	}
}

func TestInProcessProgressStoreRoundTrip(t *testing.T) {
	store := NewInProcessProgressStore()
	ctx := context.Background()
	want := Progress{Total: 10, Processed: 5, Pct: 50}
	if err := store.Save(ctx, "batch-1", want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := store.Load(ctx, "batch-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Total != want.Total || got.Processed != want.Processed {
		t.Fatalf("Load() = %+v, want %+v", got, want)
	}
}
