// Package manager orchestrates the engine fingerprint, cache key generator,
// L1 in-process cache, L2 distributed cache and in-flight coalescer behind a
// single get/set/get_or_compute/invalidate_engine surface.
package manager

import (
	"context"
	"time"

	"github.com/cncaiprojem/projem-sub004/infrastructure/errors"
	"github.com/cncaiprojem/projem-sub004/infrastructure/logging"
	"github.com/cncaiprojem/projem-sub004/infrastructure/metrics"
	"github.com/cncaiprojem/projem-sub004/infrastructure/resilience"
	"github.com/cncaiprojem/projem-sub004/internal/cache/coalesce"
	"github.com/cncaiprojem/projem-sub004/internal/cache/l1"
	"github.com/cncaiprojem/projem-sub004/internal/cache/l2"
	"github.com/cncaiprojem/projem-sub004/internal/cachekey"
	"github.com/cncaiprojem/projem-sub004/internal/fingerprint"
)

const defaultArtifact = "data"

// Config tunes the manager's distributed-lock and stale-copy behavior.
type Config struct {
	LockTimeout    time.Duration
	StaleTTLFactor time.Duration // stale copy TTL = primary TTL * factor, minimum 1
	PollInitial    time.Duration
	PollMax        time.Duration
}

// DefaultConfig mirrors the documented lock-timeout and backoff defaults.
func DefaultConfig() Config {
	return Config{
		LockTimeout:    30 * time.Second,
		StaleTTLFactor: 4,
		PollInitial:    50 * time.Millisecond,
		PollMax:        2 * time.Second,
	}
}

// Manager is the cache orchestration surface consumed by the rest of the
// job-orchestration pipeline.
type Manager struct {
	l1    *l1.Cache
	l2    *l2.Cache
	group *coalesce.Group
	cfg   Config
	log   *logging.Logger
	met   *metrics.Metrics
}

// New builds a Manager from already-constructed tiers.
func New(l1c *l1.Cache, l2c *l2.Cache, cfg Config, log *logging.Logger, met *metrics.Metrics) *Manager {
	return &Manager{l1: l1c, l2: l2c, group: coalesce.New(), cfg: cfg, log: log, met: met}
}

// Get performs an L1-then-L2 read-through lookup, populating L1 on an L2 hit.
func (m *Manager) Get(ctx context.Context, flow cachekey.Flow, canonical []byte, artifact string) ([]byte, bool, error) {
	if artifact == "" {
		artifact = defaultArtifact
	}
	key := cachekey.Key(flow, canonical, artifact)
	return m.getByKey(ctx, flow, key)
}

func (m *Manager) getByKey(ctx context.Context, flow cachekey.Flow, key string) ([]byte, bool, error) {
	start := time.Now()

	if v, ok := m.l1.Get(key); ok {
		m.recordCache("l1", string(flow), "hit", time.Since(start))
		return v.([]byte), true, nil
	}

	val, hit, err := m.l2.Get(ctx, key)
	if err != nil {
		m.recordCache("l2", string(flow), "error", time.Since(start))
		return nil, false, err
	}
	if !hit {
		m.recordCache("l2", string(flow), "miss", time.Since(start))
		return nil, false, nil
	}

	m.recordCache("l2", string(flow), "hit", time.Since(start))
	m.l1.Set(key, val, l1.EstimateSize(val))
	return val, true, nil
}

// Set stores value in both tiers and registers it in the current engine's
// tag set for mass invalidation.
func (m *Manager) Set(ctx context.Context, flow cachekey.Flow, canonical, value []byte, artifact string, ttl time.Duration) error {
	if artifact == "" {
		artifact = defaultArtifact
	}
	key := cachekey.Key(flow, canonical, artifact)
	return m.setByKey(ctx, flow, key, value, ttl)
}

func (m *Manager) setByKey(ctx context.Context, flow cachekey.Flow, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = l2.TTLForFlow(string(flow))
	}

	if err := m.l2.Set(ctx, key, value, l2.ContentBytes, ttl); err != nil {
		return err
	}
	if err := m.l2.AddToTag(ctx, cachekey.TagKey(), key); err != nil {
		return err
	}
	m.l1.Set(key, value, l1.EstimateSize(value))
	return nil
}

// ComputeFunc produces the artifact for a cache miss.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// GetOrCompute implements the central single-flight path: coalesce, then
// read-through, then acquire the distributed lock, falling back to a stale
// copy or polling the primary key while the lock is held elsewhere, and
// finally computing and storing the result under the lock.
func (m *Manager) GetOrCompute(ctx context.Context, flow cachekey.Flow, canonical []byte, artifact string, ttl time.Duration, compute ComputeFunc) ([]byte, error) {
	if artifact == "" {
		artifact = defaultArtifact
	}
	key := cachekey.Key(flow, canonical, artifact)

	executed := false
	res, err := m.group.Do(ctx, key, func(ctx context.Context) (interface{}, error) {
		executed = true
		return m.computeUnderLock(ctx, flow, key, ttl, compute)
	})
	if err != nil {
		return nil, err
	}
	if !executed {
		m.met.RecordCoalesceWait(string(flow))
	}
	return res.Value.([]byte), nil
}

func (m *Manager) computeUnderLock(ctx context.Context, flow cachekey.Flow, key string, ttl time.Duration, compute ComputeFunc) ([]byte, error) {
	if v, ok, err := m.getByKey(ctx, flow, key); err != nil {
		return nil, err
	} else if ok {
		return v, nil
	}

	lockKey := cachekey.LockKey(key)
	lockStart := time.Now()
	acquired, err := m.l2.AcquireLock(ctx, lockKey, m.cfg.LockTimeout)
	if err != nil {
		return nil, err
	}

	if !acquired {
		v, err := m.awaitComputation(ctx, flow, key)
		m.met.RecordLockWait(string(flow), outcomeLabel(err), time.Since(lockStart))
		return v, err
	}
	m.met.RecordLockWait(string(flow), "acquired", time.Since(lockStart))
	defer m.l2.ReleaseLock(ctx, lockKey)

	if v, ok, err := m.getByKey(ctx, flow, key); err != nil {
		return nil, err
	} else if ok {
		return v, nil
	}

	value, err := compute(ctx)
	if err != nil {
		return nil, err
	}

	if err := m.setByKey(ctx, flow, key, value, ttl); err != nil {
		return nil, err
	}
	staleTTL := ttl
	if m.cfg.StaleTTLFactor > 0 {
		staleTTL = ttl * m.cfg.StaleTTLFactor
	}
	if ttl <= 0 {
		staleTTL = l2.TTLForFlow(string(flow)) * maxDuration(m.cfg.StaleTTLFactor, 1)
	}
	_ = m.l2.Set(ctx, cachekey.StaleKey(key), value, l2.ContentBytes, staleTTL)

	return value, nil
}

// awaitComputation is invoked when the lock could not be acquired: it first
// tries the stale copy, then polls the primary key with exponential backoff
// and jitter up to the configured lock timeout.
func (m *Manager) awaitComputation(ctx context.Context, flow cachekey.Flow, key string) ([]byte, error) {
	if stale, ok, err := m.l2.Get(ctx, cachekey.StaleKey(key)); err == nil && ok {
		return stale, nil
	}

	pollCtx, cancel := context.WithTimeout(ctx, m.cfg.LockTimeout)
	defer cancel()

	cfg := resilience.RetryConfig{
		MaxAttempts:  0, // unbounded; pollCtx's deadline governs termination
		InitialDelay: m.cfg.PollInitial,
		MaxDelay:     m.cfg.PollMax,
		Multiplier:   2.0,
		Jitter:       0.3,
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 50 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 2 * time.Second
	}
	cfg.MaxAttempts = 1 << 20 // effectively unbounded, deadline-terminated

	var found []byte
	pollErr := resilience.Retry(pollCtx, cfg, func() error {
		v, ok, err := m.getByKey(pollCtx, flow, key)
		if err != nil {
			return err
		}
		if !ok {
			return errPollMiss
		}
		found = v
		return nil
	})

	if pollErr == nil {
		return found, nil
	}
	if pollCtx.Err() != nil || pollErr == errPollMiss {
		return nil, errors.LockTimeout(key)
	}
	return nil, pollErr
}

// InvalidateEngine clears L1 entirely and deletes the named (or current)
// engine fingerprint's tag set in L2, returning the count of keys removed.
func (m *Manager) InvalidateEngine(ctx context.Context, fp *fingerprint.Fingerprint) (int, error) {
	tagKey := cachekey.TagKey()
	if fp != nil {
		tagKey = cachekey.TagKeyFor(*fp)
	}

	m.l1.Clear()
	return m.l2.InvalidateTag(ctx, tagKey)
}

func (m *Manager) recordCache(tier, flow, outcome string, d time.Duration) {
	m.met.RecordCacheEvent(tier, flow, outcome, d)
	if m.log != nil {
		m.log.LogCacheEvent(context.Background(), "get", flow, defaultArtifact, outcome == "hit", d)
	}
}

func outcomeLabel(err error) string {
	if err != nil {
		return "timeout"
	}
	return "stale_or_polled"
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

var errPollMiss = pollMissError{}

type pollMissError struct{}

func (pollMissError) Error() string { return "primary key not yet populated" }
