package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// MemoryBackend implements the Backend interface using an in-memory map.
// It exists for tests and ephemeral deployments; nothing survives a restart.
type MemoryBackend struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{objects: make(map[string][]byte)}
}

// Put buffers the reader's content under key.
func (b *MemoryBackend) Put(ctx context.Context, key string, r io.Reader, size int64) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("reading blob data: %w", err)
	}

	b.mu.Lock()
	b.objects[key] = data
	b.mu.Unlock()
	return int64(len(data)), nil
}

// Open returns a reader over the buffered content at key.
func (b *MemoryBackend) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	b.mu.RLock()
	data, ok := b.objects[key]
	b.mu.RUnlock()
	if !ok {
		return nil, 0, fmt.Errorf("blob not found: %s", key)
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

// Promote moves the object from stagingKey to finalKey.
func (b *MemoryBackend) Promote(ctx context.Context, stagingKey, finalKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, ok := b.objects[stagingKey]
	if !ok {
		return fmt.Errorf("staged blob not found: %s", stagingKey)
	}
	b.objects[finalKey] = data
	delete(b.objects, stagingKey)
	return nil
}

// Delete removes the object at key. Idempotent.
func (b *MemoryBackend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	delete(b.objects, key)
	b.mu.Unlock()
	return nil
}

// Exists checks whether an object is stored at key.
func (b *MemoryBackend) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.RLock()
	_, ok := b.objects[key]
	b.mu.RUnlock()
	return ok, nil
}

// CleanStaging drops all objects under the staging prefix.
func (b *MemoryBackend) CleanStaging(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key := range b.objects {
		if strings.HasPrefix(key, stagingPrefix) {
			delete(b.objects, key)
		}
	}
	return nil
}

// HealthCheck always succeeds for the in-memory backend.
func (b *MemoryBackend) HealthCheck(ctx context.Context) error {
	return nil
}
