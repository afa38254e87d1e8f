package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cncaiprojem/projem-sub004/infrastructure/errors"
)

type memObject struct {
	data []byte
	tags map[string]string
}

// MemoryStore is an in-process Store implementation for tests and local
// development, avoiding a live S3 bucket dependency.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*memObject
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]*memObject)}
}

func (m *MemoryStore) UploadStream(ctx context.Context, key string, body io.Reader, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return errors.S3UploadFailed(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = &memObject{data: data, tags: map[string]string{}}
	return nil
}

func (m *MemoryStore) DownloadStream(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, errors.S3DownloadFailed(fmt.Errorf("key not found: %s", key))
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *MemoryStore) PresignGet(ctx context.Context, key string, expires time.Duration) (string, error) {
	m.mu.RLock()
	_, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return "", errors.S3DownloadFailed(fmt.Errorf("key not found: %s", key))
	}
	return fmt.Sprintf("memory://%s?expires=%s", key, expires), nil
}

func (m *MemoryStore) SetTags(ctx context.Context, key string, tags map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return errors.S3UploadFailed(fmt.Errorf("key not found: %s", key))
	}
	for k, v := range tags {
		obj.tags[k] = v
	}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}
