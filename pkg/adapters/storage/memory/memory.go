package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gantry-ci/gantry/internal/domain"
	"github.com/gantry-ci/gantry/internal/ports"
)

// RunStorage implements ports.StateStorage using an in-memory map.
// This is for testing and the one-shot local runner.
type RunStorage struct {
	runs map[string][]byte
	mu   sync.RWMutex
}

// NewRunStorage creates a new in-memory run-state storage
func NewRunStorage() *RunStorage {
	return &RunStorage{
		runs: make(map[string][]byte),
	}
}

// SaveRun stores a deep copy of the run state so later mutations by the
// caller do not leak into storage.
func (s *RunStorage) SaveRun(ctx context.Context, state *domain.RunState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal run state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[state.RunID] = data
	return nil
}

// GetRun retrieves run state; a miss returns ports.ErrNotFound
func (s *RunStorage) GetRun(ctx context.Context, runID string) (*domain.RunState, error) {
	s.mu.RLock()
	data, ok := s.runs[runID]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, ports.ErrNotFound)
	}

	var state domain.RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run state: %w", err)
	}
	return &state, nil
}

// DeleteRun removes run state
func (s *RunStorage) DeleteRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.runs, runID)
	return nil
}

// ListRuns returns all run IDs that have stored state
func (s *RunStorage) ListRuns(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runIDs := make([]string, 0, len(s.runs))
	for id := range s.runs {
		runIDs = append(runIDs, id)
	}
	return runIDs, nil
}
