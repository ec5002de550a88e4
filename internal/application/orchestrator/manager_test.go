package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gantry-ci/gantry/internal/application/workers"
	"github.com/gantry-ci/gantry/internal/domain"
	memblobs "github.com/gantry-ci/gantry/pkg/adapters/cache/memory"
	memevents "github.com/gantry-ci/gantry/pkg/adapters/events/memory"
	"github.com/gantry-ci/gantry/pkg/adapters/metrics/noop"
	memnotify "github.com/gantry-ci/gantry/pkg/adapters/notify/memory"
	"github.com/gantry-ci/gantry/pkg/adapters/runner/fake"
	memstorage "github.com/gantry-ci/gantry/pkg/adapters/storage/memory"
)

type managerFixture struct {
	mgr      *Manager
	pool     *workers.Pool
	runner   *fake.Runner
	notifier *memnotify.RecordingNotifier
	storage  *memstorage.RunStorage
}

// newManagerFixture wires a manager and a worker pool over in-memory
// adapters. When startPool is false, dispatched jobs are never executed;
// useful for cancellation tests.
func newManagerFixture(t *testing.T, startPool bool) *managerFixture {
	t.Helper()

	bus := memevents.NewInMemoryEventBus()
	storage := memstorage.NewRunStorage()
	runner := fake.NewRunner()
	notifier := memnotify.NewRecordingNotifier()
	metrics := noop.NewCollector()
	logger := zap.NewNop()

	mgr := NewManager(Config{
		EventBus:      bus,
		Storage:       storage,
		Metrics:       metrics,
		Notifier:      notifier,
		Logger:        logger,
		NotifyChannel: "ci",
		RunTimeout:    time.Minute,
		BaseEnv:       map[string]string{"GO_VERSION": "1.21"},
	})
	require.NoError(t, mgr.Start(context.Background()))

	pool := workers.NewPool(workers.Config{
		Size:                2,
		EventBus:            bus,
		Storage:             storage,
		Blobs:               memblobs.NewBlobStore(time.Hour),
		Notifier:            notifier,
		Runner:              runner,
		Metrics:             metrics,
		Logger:              logger,
		NotifyChannel:       "ci",
		Retention:           time.Hour,
		JobTimeout:          time.Minute,
		HealthCheckInterval: time.Minute,
	})
	if startPool {
		require.NoError(t, pool.Start())
		t.Cleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = pool.Shutdown(ctx)
			_ = mgr.Shutdown(ctx)
		})
	}

	return &managerFixture{
		mgr:      mgr,
		pool:     pool,
		runner:   runner,
		notifier: notifier,
		storage:  storage,
	}
}

func (f *managerFixture) waitTerminal(t *testing.T, runID string) *domain.RunState {
	t.Helper()

	var state *domain.RunState
	require.Eventually(t, func() bool {
		s, err := f.mgr.GetStatus(context.Background(), runID)
		if err != nil {
			return false
		}
		state = s
		return s.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond, "run %s never reached a terminal state", runID)
	return state
}

func ecosystemPipeline() *domain.Pipeline {
	return &domain.Pipeline{
		Name: "monorepo-ci",
		Triggers: domain.TriggerRules{
			Push:   &domain.PushRule{Branches: []string{"main"}},
			Manual: true,
		},
		Env: map[string]string{"CI": "true"},
		Jobs: []domain.Job{
			{
				Name:  "contracts",
				Class: "rust",
				Steps: []domain.Step{{Name: "test", Run: "cargo test"}},
			},
			{
				Name:   "ai",
				Class:  "python",
				Matrix: map[string][]string{"python": {"3.9", "3.10", "3.11"}},
				Steps:  []domain.Step{{Name: "test", Run: "pytest"}},
			},
			{
				Name:  "backend",
				Class: "go",
				Steps: []domain.Step{{Name: "test", Run: "go test ./..."}},
			},
			{
				Name:  "frontend",
				Class: "node",
				Needs: []string{"backend"},
				Steps: []domain.Step{{Name: "test", Run: "npm test"}},
			},
			{
				Name:  "summary",
				Needs: []string{"contracts", "ai", "backend", "frontend"},
				If:    domain.ConditionAlways,
				Steps: []domain.Step{{Name: "report", Run: "echo done"}},
			},
		},
	}
}

func TestRunSuccess(t *testing.T) {
	f := newManagerFixture(t, true)

	runID, err := f.mgr.Submit(context.Background(), ecosystemPipeline(), domain.TriggerEvent{
		Kind:   domain.TriggerManual,
		Branch: "main",
	})
	require.NoError(t, err)

	state := f.waitTerminal(t, runID)
	assert.Equal(t, domain.StatusSuccess, state.Status)

	// Matrix fan-out plus four single jobs.
	assert.Len(t, state.JobStates, 7)
	for name, js := range state.JobStates {
		assert.Equal(t, domain.StatusSuccess, js.Status, "job %s", name)
	}

	// The run env carries pipeline env and toolchain pins.
	assert.Equal(t, "true", state.Env["CI"])
	assert.Equal(t, "1.21", state.Env["GO_VERSION"])

	// Exactly one notification: the aggregator's summary.
	messages := f.notifier.Messages()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0].Text, "success")
	assert.Contains(t, messages[0].Text, runID)
}

func TestRunFailureSkipsDependentsAndRunsAlwaysJobs(t *testing.T) {
	f := newManagerFixture(t, true)
	f.runner.FailWith("go test ./...", 1)

	runID, err := f.mgr.Submit(context.Background(), ecosystemPipeline(), domain.TriggerEvent{
		Kind: domain.TriggerManual,
	})
	require.NoError(t, err)

	state := f.waitTerminal(t, runID)
	assert.Equal(t, domain.StatusFailure, state.Status)

	assert.Equal(t, domain.StatusFailure, state.JobStates["backend"].Status)
	// frontend needs backend and is gated.
	assert.Equal(t, domain.StatusSkipped, state.JobStates["frontend"].Status)
	// summary is declared always and runs despite the failure.
	assert.Equal(t, domain.StatusSuccess, state.JobStates["summary"].Status)
	// Unrelated jobs are unaffected.
	assert.Equal(t, domain.StatusSuccess, state.JobStates["contracts"].Status)
	assert.Equal(t, domain.StatusSuccess, state.JobStates["ai (python=3.10)"].Status)

	// The skipped job never executed.
	assert.NotContains(t, f.runner.Executed(), "npm test")

	// Two notifications: the failing job's own and the aggregator's.
	messages := f.notifier.Messages()
	require.Len(t, messages, 2)
	assert.Contains(t, messages[0].Text, "backend")
	assert.Contains(t, messages[1].Text, "failure")
	assert.Contains(t, messages[1].Text, "failed: backend")
}

func TestMatrixCellFailureFailsRun(t *testing.T) {
	f := newManagerFixture(t, true)
	// Only the 3.10 cell fails; its siblings run the same command.
	f.runner.FailWithEnv("pytest", "MATRIX_PYTHON", "3.10", 1)

	runID, err := f.mgr.Submit(context.Background(), ecosystemPipeline(), domain.TriggerEvent{
		Kind: domain.TriggerManual,
	})
	require.NoError(t, err)

	state := f.waitTerminal(t, runID)
	assert.Equal(t, domain.StatusFailure, state.Status)

	assert.Equal(t, domain.StatusSuccess, state.JobStates["ai (python=3.9)"].Status)
	assert.Equal(t, domain.StatusFailure, state.JobStates["ai (python=3.10)"].Status)
	assert.Equal(t, domain.StatusSuccess, state.JobStates["ai (python=3.11)"].Status)

	// One failed cell fails the whole template.
	assert.Equal(t, domain.StatusFailure, state.TemplateStatus("ai"))

	// Summary depends on the ai template and is gated unless always; in
	// this pipeline it is declared always and still runs.
	assert.Equal(t, domain.StatusSuccess, state.JobStates["summary"].Status)

	// The failing cell's own notification plus the aggregator's summary.
	messages := f.notifier.Messages()
	require.Len(t, messages, 2)
	assert.Contains(t, messages[0].Text, "ai (python=3.10)")
	assert.Contains(t, messages[1].Text, "failed: ai (python=3.10)")
}

func TestRunFailureUnreachableNotifier(t *testing.T) {
	f := newManagerFixture(t, true)
	f.runner.FailWith("cargo test", 1)
	f.notifier.Unreachable = true

	runID, err := f.mgr.Submit(context.Background(), ecosystemPipeline(), domain.TriggerEvent{
		Kind: domain.TriggerManual,
	})
	require.NoError(t, err)

	// Notification failure never changes recorded outcomes.
	state := f.waitTerminal(t, runID)
	assert.Equal(t, domain.StatusFailure, state.Status)
	assert.Equal(t, domain.StatusFailure, state.JobStates["contracts"].Status)
	assert.Equal(t, domain.StatusSuccess, state.JobStates["backend"].Status)
	assert.Empty(t, f.notifier.Messages())
}

func TestHandleTrigger(t *testing.T) {
	t.Run("matching push starts a run", func(t *testing.T) {
		f := newManagerFixture(t, true)

		runID, started, err := f.mgr.HandleTrigger(context.Background(), ecosystemPipeline(), domain.TriggerEvent{
			Kind:   domain.TriggerPush,
			Branch: "main",
		})
		require.NoError(t, err)
		require.True(t, started)

		state := f.waitTerminal(t, runID)
		assert.Equal(t, domain.StatusSuccess, state.Status)
	})

	t.Run("non-matching push is ignored", func(t *testing.T) {
		f := newManagerFixture(t, false)

		runID, started, err := f.mgr.HandleTrigger(context.Background(), ecosystemPipeline(), domain.TriggerEvent{
			Kind:   domain.TriggerPush,
			Branch: "feature/foo",
		})
		require.NoError(t, err)
		assert.False(t, started)
		assert.Empty(t, runID)

		ids, err := f.storage.ListRuns(context.Background())
		require.NoError(t, err)
		assert.Empty(t, ids)
	})
}

func TestSubmitRejectsBrokenGraphs(t *testing.T) {
	f := newManagerFixture(t, false)

	t.Run("cycle", func(t *testing.T) {
		p := &domain.Pipeline{
			Name: "broken",
			Jobs: []domain.Job{
				{Name: "a", Needs: []string{"b"}, Steps: []domain.Step{{Name: "s", Run: "true"}}},
				{Name: "b", Needs: []string{"a"}, Steps: []domain.Step{{Name: "s", Run: "true"}}},
			},
		}
		_, err := f.mgr.Submit(context.Background(), p, domain.TriggerEvent{Kind: domain.TriggerManual})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cycle")
	})

	t.Run("missing dependency", func(t *testing.T) {
		p := &domain.Pipeline{
			Name: "broken",
			Jobs: []domain.Job{
				{Name: "a", Needs: []string{"ghost"}, Steps: []domain.Step{{Name: "s", Run: "true"}}},
			},
		}
		_, err := f.mgr.Submit(context.Background(), p, domain.TriggerEvent{Kind: domain.TriggerManual})
		require.Error(t, err)
	})

	// No partial state is left behind.
	ids, err := f.storage.ListRuns(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCancelRun(t *testing.T) {
	// Pool deliberately not started: dispatched jobs stay pending so the
	// run is still in flight when the cancel arrives.
	f := newManagerFixture(t, false)

	runID, err := f.mgr.Submit(context.Background(), ecosystemPipeline(), domain.TriggerEvent{
		Kind: domain.TriggerManual,
	})
	require.NoError(t, err)

	require.NoError(t, f.mgr.CancelRun(context.Background(), runID))

	state, err := f.mgr.GetStatus(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, state.Status)
	for name, js := range state.JobStates {
		assert.Equal(t, domain.StatusCancelled, js.Status, "job %s", name)
	}

	// Cancelling twice is an error.
	assert.Error(t, f.mgr.CancelRun(context.Background(), runID))
}

func TestSummarize(t *testing.T) {
	now := time.Now()
	later := now.Add(90 * time.Second)
	state := &domain.RunState{
		RunID:       "run-42",
		Pipeline:    "monorepo-ci",
		Status:      domain.StatusFailure,
		StartedAt:   &now,
		CompletedAt: &later,
		JobStates: map[string]*domain.JobState{
			"backend":          {Name: "backend", Status: domain.StatusFailure, Error: "step \"test\" failed"},
			"frontend":         {Name: "frontend", Status: domain.StatusSkipped},
			"ai (python=3.10)": {Name: "ai (python=3.10)", Status: domain.StatusSuccess},
		},
	}

	msg := Summarize(state)
	assert.Contains(t, msg, "monorepo-ci")
	assert.Contains(t, msg, "run-42")
	assert.Contains(t, msg, "failure")
	assert.Contains(t, msg, "failed: backend")
	assert.Contains(t, msg, "frontend: skipped")

	// Jobs are listed in stable order.
	aiIdx := strings.Index(msg, "ai (python=3.10):")
	backendIdx := strings.Index(msg, "backend:")
	assert.True(t, aiIdx >= 0 && backendIdx > aiIdx)
}
