package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gantry-ci/gantry/internal/ports"
)

// BlobStore implements ports.BlobStore using Redis
type BlobStore struct {
	client     *redis.Client
	logger     *zap.Logger
	defaultTTL time.Duration
}

// NewBlobStore creates a new Redis blob store. defaultTTL is applied to
// entries stored with a zero TTL.
func NewBlobStore(client *redis.Client, defaultTTL time.Duration, logger *zap.Logger) *BlobStore {
	return &BlobStore{
		client:     client,
		logger:     logger,
		defaultTTL: defaultTTL,
	}
}

// Get retrieves a blob; a miss returns ports.ErrNotFound
func (s *BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, getBlobKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("blob %s: %w", key, ports.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get blob: %w", err)
	}
	return data, nil
}

// Put stores a blob with the given retention TTL
func (s *BlobStore) Put(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	if err := s.client.Set(ctx, getBlobKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to put blob: %w", err)
	}

	s.logger.Debug("blob stored",
		zap.String("key", key),
		zap.Int("size", len(data)),
		zap.Duration("ttl", ttl))

	return nil
}

// Delete removes a blob
func (s *BlobStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, getBlobKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// getBlobKey returns the Redis key for a blob
func getBlobKey(key string) string {
	return fmt.Sprintf("gantry:blob:%s", key)
}
