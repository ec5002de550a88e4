package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gantry-ci/gantry/internal/domain"
	"github.com/gantry-ci/gantry/internal/ports"
)

// RunStorage implements ports.StateStorage using Redis
type RunStorage struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewRunStorage creates a new Redis run-state storage
func NewRunStorage(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RunStorage {
	return &RunStorage{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// SaveRun persists run state with the configured TTL
func (s *RunStorage) SaveRun(ctx context.Context, state *domain.RunState) error {
	key := getRunKey(state.RunID)

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal run state: %w", err)
	}

	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save run state: %w", err)
	}

	s.logger.Debug("run state saved",
		zap.String("run_id", state.RunID),
		zap.String("status", string(state.Status)))

	return nil
}

// GetRun retrieves run state; a miss returns ports.ErrNotFound
func (s *RunStorage) GetRun(ctx context.Context, runID string) (*domain.RunState, error) {
	key := getRunKey(runID)

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("run %s: %w", runID, ports.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get run state: %w", err)
	}

	var state domain.RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run state: %w", err)
	}

	return &state, nil
}

// DeleteRun removes run state
func (s *RunStorage) DeleteRun(ctx context.Context, runID string) error {
	key := getRunKey(runID)

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete run state: %w", err)
	}

	s.logger.Debug("run state deleted", zap.String("run_id", runID))
	return nil
}

// ListRuns returns all run IDs that have stored state
func (s *RunStorage) ListRuns(ctx context.Context) ([]string, error) {
	pattern := "gantry:run:*"

	var cursor uint64
	var keys []string

	for {
		var batch []string
		var err error

		batch, cursor, err = s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}

		keys = append(keys, batch...)

		if cursor == 0 {
			break
		}
	}

	runIDs := make([]string, 0, len(keys))
	prefix := "gantry:run:"
	for _, key := range keys {
		if len(key) > len(prefix) {
			runIDs = append(runIDs, key[len(prefix):])
		}
	}

	return runIDs, nil
}

// getRunKey returns the Redis key for a run state
func getRunKey(runID string) string {
	return fmt.Sprintf("gantry:run:%s", runID)
}
