package batch

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Progress is a point-in-time snapshot of a running batch, suitable for
// polling from another process.
type Progress struct {
	Total       int       `json:"total"`
	Processed   int       `json:"processed"`
	Successful  int       `json:"successful"`
	Failed      int       `json:"failed"`
	Skipped     int       `json:"skipped"`
	CurrentItem int       `json:"current_item"`
	Pct         float64   `json:"pct"`
	ETA         time.Time `json:"eta"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProgressStore persists Progress records keyed by batch ID, either for
// cross-process visibility (Redis) or as an in-process fallback.
type ProgressStore interface {
	Save(ctx context.Context, batchID string, p Progress) error
	Load(ctx context.Context, batchID string) (Progress, error)
}

// InProcessProgressStore keeps progress records in memory, for single-process
// deployments or tests.
type InProcessProgressStore struct {
	mu   sync.RWMutex
	data map[string]Progress
}

// NewInProcessProgressStore constructs an empty store.
func NewInProcessProgressStore() *InProcessProgressStore {
	return &InProcessProgressStore{data: make(map[string]Progress)}
}

func (s *InProcessProgressStore) Save(_ context.Context, batchID string, p Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[batchID] = p
	return nil
}

func (s *InProcessProgressStore) Load(_ context.Context, batchID string) (Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[batchID], nil
}

// RedisProgressStore persists progress records in Redis so a supervisor
// process can poll a batch's status without sharing memory with the worker
// running it.
type RedisProgressStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisProgressStore wraps client. ttl bounds how long a finished batch's
// progress record survives before expiring.
func NewRedisProgressStore(client *redis.Client, ttl time.Duration) *RedisProgressStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisProgressStore{client: client, ttl: ttl, prefix: "batch:progress:"}
}

func (s *RedisProgressStore) Save(ctx context.Context, batchID string, p Progress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.prefix+batchID, data, s.ttl).Err()
}

func (s *RedisProgressStore) Load(ctx context.Context, batchID string) (Progress, error) {
	data, err := s.client.Get(ctx, s.prefix+batchID).Bytes()
	if err == redis.Nil {
		return Progress{}, nil
	}
	if err != nil {
		return Progress{}, err
	}
	var p Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return Progress{}, err
	}
	return p, nil
}
