package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gantry-ci/gantry/internal/ports"
)

type entry struct {
	data      []byte
	expiresAt time.Time
}

// BlobStore implements ports.BlobStore using an in-memory map.
// This is for testing and the one-shot local runner.
type BlobStore struct {
	blobs      map[string]entry
	defaultTTL time.Duration
	mu         sync.RWMutex
}

// NewBlobStore creates a new in-memory blob store
func NewBlobStore(defaultTTL time.Duration) *BlobStore {
	return &BlobStore{
		blobs:      make(map[string]entry),
		defaultTTL: defaultTTL,
	}
}

// Get retrieves a blob; a miss or an expired entry returns ports.ErrNotFound
func (s *BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	e, ok := s.blobs[key]
	s.mu.RUnlock()

	if !ok || time.Now().After(e.expiresAt) {
		return nil, fmt.Errorf("blob %s: %w", key, ports.ErrNotFound)
	}

	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out, nil
}

// Put stores a blob with the given retention TTL
func (s *BlobStore) Put(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	stored := make([]byte, len(data))
	copy(stored, data)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.blobs[key] = entry{data: stored, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Delete removes a blob
func (s *BlobStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.blobs, key)
	return nil
}
