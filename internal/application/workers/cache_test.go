package workers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gantry-ci/gantry/internal/domain"
	"github.com/gantry-ci/gantry/internal/ports"
	memblobs "github.com/gantry-ci/gantry/pkg/adapters/cache/memory"
	memevents "github.com/gantry-ci/gantry/pkg/adapters/events/memory"
	"github.com/gantry-ci/gantry/pkg/adapters/metrics/noop"
	memnotify "github.com/gantry-ci/gantry/pkg/adapters/notify/memory"
	"github.com/gantry-ci/gantry/pkg/adapters/runner/local"
	memstorage "github.com/gantry-ci/gantry/pkg/adapters/storage/memory"
)

// cacheWorker wires a worker with the real shell runner and a shared blob
// store so cache round trips can be observed across executions.
func cacheWorker(t *testing.T, blobs ports.BlobStore) (*worker, *memstorage.RunStorage) {
	t.Helper()

	storage := memstorage.NewRunStorage()
	pool := NewPool(Config{
		Size:                1,
		EventBus:            memevents.NewInMemoryEventBus(),
		Storage:             storage,
		Blobs:               blobs,
		Notifier:            memnotify.NewRecordingNotifier(),
		Runner:              local.NewRunner(zap.NewNop()),
		Metrics:             noop.NewCollector(),
		Logger:              zap.NewNop(),
		NotifyChannel:       "ci",
		Retention:           time.Hour,
		JobTimeout:          time.Minute,
		HealthCheckInterval: time.Minute,
	})

	return &worker{id: "worker-test", pool: pool, status: WorkerStatusIdle}, storage
}

func cacheRun(t *testing.T, storage *memstorage.RunStorage, runID string, inst *domain.JobInstance) domain.Event {
	t.Helper()

	state := &domain.RunState{
		RunID:    runID,
		Pipeline: "ci",
		Status:   domain.StatusRunning,
		Graph:    &domain.Graph{Jobs: map[string]*domain.JobInstance{inst.Name: inst}},
		JobStates: map[string]*domain.JobState{
			inst.Name: {Name: inst.Name, Template: inst.Template, Status: domain.StatusPending},
		},
		SubmittedAt: time.Now(),
	}
	require.NoError(t, storage.SaveRun(context.Background(), state))

	return domain.Event{
		ID:        "evt-" + runID,
		Type:      domain.EventTypeJobDispatched,
		RunID:     runID,
		Job:       inst.Name,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"job": inst.Name},
	}
}

func TestCacheRoundTripAcrossRuns(t *testing.T) {
	blobs := memblobs.NewBlobStore(time.Hour)
	spec := &domain.CacheSpec{
		Paths:     []string{"target"},
		LockFiles: []string{"Cargo.lock"},
		Tool:      "1.74.0",
	}

	// First run populates the cache.
	w1, s1 := cacheWorker(t, blobs)
	ev1 := cacheRun(t, s1, "run-1", &domain.JobInstance{
		Name:     "contracts",
		Template: "contracts",
		Class:    "rust",
		Cache:    spec,
		Steps: []domain.Step{
			{Name: "build", Run: "mkdir -p target && echo compiled > target/marker"},
		},
	})
	w1.executeJob(context.Background(), ev1)

	state, err := s1.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, state.JobStates["contracts"].Status,
		"worker reports outcomes over the bus, not by writing state")

	// Second run restores it; the step fails unless the marker came back.
	w2, s2 := cacheWorker(t, blobs)
	ev2 := cacheRun(t, s2, "run-2", &domain.JobInstance{
		Name:     "contracts",
		Template: "contracts",
		Class:    "rust",
		Cache:    spec,
		Steps: []domain.Step{
			{Name: "verify", Run: "test -f target/marker"},
		},
	})

	var outcome domain.EventType
	require.NoError(t, w2.pool.eventBus.Subscribe(context.Background(), ports.TopicJobEvents,
		func(ctx context.Context, event domain.Event) error {
			if event.Type == domain.EventTypeJobCompleted || event.Type == domain.EventTypeJobFailed {
				outcome = event.Type
			}
			return nil
		}))

	w2.executeJob(context.Background(), ev2)
	assert.Equal(t, domain.EventTypeJobCompleted, outcome)
}

func TestCacheKeyResolvesMatrixAxis(t *testing.T) {
	w, _ := cacheWorker(t, memblobs.NewBlobStore(time.Hour))
	dir := t.TempDir()

	spec := &domain.CacheSpec{
		Paths:     []string{".venv"},
		LockFiles: []string{"requirements.lock"},
		Tool:      "python",
	}

	k310 := w.cacheKey(&domain.JobInstance{
		Name:     "ai (python=3.10)",
		Template: "ai",
		Class:    "python",
		Matrix:   map[string]string{"python": "3.10"},
		Cache:    spec,
	}, dir)
	k311 := w.cacheKey(&domain.JobInstance{
		Name:     "ai (python=3.11)",
		Template: "ai",
		Class:    "python",
		Matrix:   map[string]string{"python": "3.11"},
		Cache:    spec,
	}, dir)

	// Sibling cells resolve the axis to their own binding and never share
	// a cache entry.
	assert.NotEqual(t, k310, k311)
}
