package batch

import (
	"context"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cncaiprojem/projem-sub004/infrastructure/metrics"
	"github.com/cncaiprojem/projem-sub004/infrastructure/resilience"
)

// Processor runs batches of items through a caller-supplied ItemFunc,
// reporting progress as it goes.
type Processor struct {
	progress ProgressStore
	met      *metrics.Metrics
}

// New constructs a Processor. progress may be nil, in which case an
// in-process store is used.
func New(progress ProgressStore, met *metrics.Metrics) *Processor {
	if progress == nil {
		progress = NewInProcessProgressStore()
	}
	return &Processor{progress: progress, met: met}
}

func withDefaults(opts Options) Options {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 10
	}
	if opts.ChunkPause <= 0 {
		opts.ChunkPause = 200 * time.Millisecond
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategySequential
	}
	return opts
}

// Process runs items through fn according to opts.Strategy, aggregating
// per-item outcomes into a Result. Result.Items is in input order for every
// strategy, and each item also carries its original Index.
func (p *Processor) Process(ctx context.Context, items []Item, fn ItemFunc, opts Options) (*Result, error) {
	opts = withDefaults(opts)
	start := time.Now()

	var results []ItemResult
	var err error

	switch opts.Strategy {
	case StrategySequential:
		results, err = p.runSequential(ctx, items, fn, opts)
	case StrategyChunked:
		results, err = p.runChunked(ctx, items, fn, opts)
	case StrategyAdaptive:
		results, err = p.runParallel(ctx, items, fn, opts, adaptiveParallelism(items))
	default: // StrategyParallel
		results, err = p.runParallel(ctx, items, fn, opts, len(items))
	}
	if err != nil {
		return nil, err
	}

	result := aggregate(results)
	result.Duration = time.Since(start)
	if p.met != nil {
		p.met.RecordBatchCompletion(string(opts.Strategy), result.Duration)
		for _, item := range results {
			status := "ok"
			switch {
			case item.Skipped:
				status = "skipped"
			case item.Err != nil:
				status = "error"
			}
			p.met.RecordBatchItem(string(opts.Strategy), status)
		}
	}
	return result, nil
}

func (p *Processor) runSequential(ctx context.Context, items []Item, fn ItemFunc, opts Options) ([]ItemResult, error) {
	results := make([]ItemResult, 0, len(items))
	for _, item := range items {
		res := p.runOne(ctx, item, fn, opts)
		results = append(results, res)
		p.reportProgress(ctx, opts.BatchID, len(items), results)
		if res.Err != nil && !opts.ContinueOnError {
			return results, nil
		}
	}
	return results, nil
}

func (p *Processor) runChunked(ctx context.Context, items []Item, fn ItemFunc, opts Options) ([]ItemResult, error) {
	var all []ItemResult
	for start := 0; start < len(items); start += opts.ChunkSize {
		end := start + opts.ChunkSize
		if end > len(items) {
			end = len(items)
		}
		chunk := items[start:end]
		chunkResults, err := p.runParallel(ctx, chunk, fn, opts, len(chunk))
		if err != nil {
			return nil, err
		}
		all = append(all, chunkResults...)
		p.reportProgress(ctx, opts.BatchID, len(items), all)

		if hasFailure(chunkResults) && !opts.ContinueOnError {
			return all, nil
		}
		if end < len(items) {
			select {
			case <-ctx.Done():
				return all, nil
			case <-time.After(opts.ChunkPause):
			}
		}
	}
	return all, nil
}

func (p *Processor) runParallel(ctx context.Context, items []Item, fn ItemFunc, opts Options, limit int) ([]ItemResult, error) {
	if limit <= 0 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	results := make([]ItemResult, len(items))
	var mu sync.Mutex
	var completed []ItemResult

	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			res := p.runOne(gctx, item, fn, opts)
			results[i] = res

			mu.Lock()
			completed = append(completed, res)
			n := len(completed)
			mu.Unlock()
			if n%5 == 0 || n == len(items) {
				p.reportProgress(ctx, opts.BatchID, len(items), completed)
			}

			if res.Err != nil && !opts.ContinueOnError {
				return res.Err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !opts.ContinueOnError {
		return results, nil
	}
	return results, nil
}

func (p *Processor) runOne(ctx context.Context, item Item, fn ItemFunc, opts Options) ItemResult {
	start := time.Now()
	itemCtx := ctx
	var cancel context.CancelFunc
	if opts.PerItemTimeout > 0 {
		itemCtx, cancel = context.WithTimeout(ctx, opts.PerItemTimeout)
		defer cancel()
	}

	var output []byte
	var lastErr error
	attempts := 0

	retryCfg := resilience.RetryConfig{
		MaxAttempts:  opts.MaxRetries + 1,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
	}

	runErr := resilience.Retry(itemCtx, retryCfg, func() error {
		attempts++
		out, err := fn(itemCtx, item)
		if err != nil {
			lastErr = err
			return err
		}
		output = out
		return nil
	})

	result := ItemResult{Index: item.Index, Retries: attempts - 1, Duration: time.Since(start)}
	if runErr != nil {
		result.Err = lastErr
		if result.Err == nil {
			result.Err = runErr
		}
		return result
	}
	if opts.KeepResults {
		result.Output = output
	}
	return result
}

func (p *Processor) reportProgress(ctx context.Context, batchID string, total int, soFar []ItemResult) {
	if batchID == "" {
		return
	}
	var successful, failed int
	for _, r := range soFar {
		if r.Err != nil {
			failed++
		} else if !r.Skipped {
			successful++
		}
	}
	processed := len(soFar)
	ratio := 0.0
	if total > 0 {
		ratio = float64(processed) / float64(total)
	}
	if p.met != nil {
		p.met.SetBatchProgress(batchID, ratio)
	}
	_ = p.progress.Save(ctx, batchID, Progress{
		Total:       total,
		Processed:   processed,
		Successful:  successful,
		Failed:      failed,
		CurrentItem: processed,
		Pct:         ratio * 100,
		UpdatedAt:   time.Now(),
	})
}

func hasFailure(results []ItemResult) bool {
	for _, r := range results {
		if r.Err != nil {
			return true
		}
	}
	return false
}

func aggregate(results []ItemResult) *Result {
	r := &Result{Total: len(results), Items: results, ByFormat: make(map[string]int)}
	for _, item := range results {
		switch {
		case item.Skipped:
			r.Skipped++
		case item.Err != nil:
			r.Failed++
		default:
			r.Successful++
		}
	}
	return r
}

// adaptiveParallelism derives a worker count from the batch's size and
// average item weight, capped by available CPU so a batch of many tiny
// items does not starve the machine's other goroutines.
func adaptiveParallelism(items []Item) int {
	if len(items) == 0 {
		return 1
	}
	cpus := runtime.NumCPU()
	avgSize := 0
	for _, it := range items {
		avgSize += len(it.Payload)
	}
	avgSize /= len(items)

	workers := cpus * 2
	if avgSize > 1<<20 { // items over 1MB average: favor fewer, larger workers
		workers = cpus
	}
	if workers > len(items) {
		workers = len(items)
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}
