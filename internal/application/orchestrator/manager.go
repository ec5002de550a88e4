package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gantry-ci/gantry/internal/application/graph"
	"github.com/gantry-ci/gantry/internal/application/trigger"
	"github.com/gantry-ci/gantry/internal/domain"
	"github.com/gantry-ci/gantry/internal/ports"
)

// Manager coordinates pipeline run execution
type Manager struct {
	eventBus  ports.EventBus
	storage   ports.StateStorage
	metrics   ports.MetricsCollector
	notifier  ports.Notifier
	evaluator *trigger.Evaluator
	validator *Validator
	logger    *zap.Logger

	notifyChannel string
	runTimeout    time.Duration

	// baseEnv is the immutable run-level environment (toolchain pins);
	// loaded once at startup, copied into every run.
	baseEnv map[string]string

	// Track active executions
	executions sync.Map // map[string]*executionContext

	// Serializes run-state read-modify-write; the manager is the single
	// writer of persisted state.
	mu sync.Mutex
}

// executionContext holds scheduling state for a single run
type executionContext struct {
	runID      string
	startedAt  time.Time
	cancelFunc context.CancelFunc
	dispatched map[string]bool
}

// Config holds the manager's dependencies and tuning.
type Config struct {
	EventBus      ports.EventBus
	Storage       ports.StateStorage
	Metrics       ports.MetricsCollector
	Notifier      ports.Notifier
	Logger        *zap.Logger
	NotifyChannel string
	RunTimeout    time.Duration
	BaseEnv       map[string]string
}

// NewManager creates a new orchestrator manager
func NewManager(cfg Config) *Manager {
	return &Manager{
		eventBus:      cfg.EventBus,
		storage:       cfg.Storage,
		metrics:       cfg.Metrics,
		notifier:      cfg.Notifier,
		evaluator:     trigger.NewEvaluator(cfg.Logger),
		validator:     NewValidator(),
		logger:        cfg.Logger,
		notifyChannel: cfg.NotifyChannel,
		runTimeout:    cfg.RunTimeout,
		baseEnv:       cfg.BaseEnv,
	}
}

// Start subscribes the manager to job outcome events.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.eventBus.Subscribe(ctx, ports.TopicJobEvents, m.handleJobEvent); err != nil {
		return fmt.Errorf("failed to subscribe to job events: %w", err)
	}
	return nil
}

// HandleTrigger evaluates an incoming event against the pipeline's
// trigger rules and submits a run when they match. A mismatch is not an
// error; started reports whether a run was created.
func (m *Manager) HandleTrigger(ctx context.Context, p *domain.Pipeline, event domain.TriggerEvent) (runID string, started bool, err error) {
	if !m.evaluator.ShouldRun(p.Triggers, event) {
		m.logger.Info("trigger did not match, no run created",
			zap.String("kind", string(event.Kind)),
			zap.String("branch", event.Branch),
			zap.String("action", event.Action))
		return "", false, nil
	}

	runID, err = m.Submit(ctx, p, event)
	if err != nil {
		return "", false, err
	}
	return runID, true, nil
}

// Submit builds the job graph, persists the initial run state and
// dispatches the root jobs.
func (m *Manager) Submit(ctx context.Context, p *domain.Pipeline, event domain.TriggerEvent) (string, error) {
	g, err := graph.Build(p)
	if err != nil {
		m.logger.Error("graph build failed",
			zap.String("pipeline", p.Name),
			zap.Error(err))
		m.metrics.RecordRunSubmitted(string(domain.StatusFailure))
		return "", fmt.Errorf("graph build failed: %w", err)
	}

	if err := m.validator.Validate(g); err != nil {
		m.logger.Error("graph validation failed",
			zap.String("pipeline", p.Name),
			zap.Error(err))
		m.metrics.RecordRunSubmitted(string(domain.StatusFailure))
		return "", fmt.Errorf("validation failed: %w", err)
	}

	runID := uuid.New().String()
	now := time.Now()

	env := make(map[string]string, len(m.baseEnv)+len(p.Env))
	for k, v := range m.baseEnv {
		env[k] = v
	}
	for k, v := range p.Env {
		env[k] = v
	}

	state := &domain.RunState{
		RunID:       runID,
		Pipeline:    p.Name,
		Trigger:     event,
		Status:      domain.StatusRunning,
		Env:         env,
		Graph:       g,
		JobStates:   make(map[string]*domain.JobState, len(g.Jobs)),
		SubmittedAt: now,
		StartedAt:   &now,
	}
	for name, inst := range g.Jobs {
		state.JobStates[name] = &domain.JobState{
			Name:     name,
			Template: inst.Template,
			Status:   domain.StatusPending,
		}
	}

	if err := m.storage.SaveRun(ctx, state); err != nil {
		m.logger.Error("failed to save initial run state",
			zap.String("run_id", runID),
			zap.Error(err))
		return "", fmt.Errorf("failed to save state: %w", err)
	}

	m.publishRunEvent(ctx, runID, domain.EventTypeRunSubmitted, map[string]interface{}{
		"pipeline": p.Name,
		"trigger":  string(event.Kind),
		"branch":   event.Branch,
	})

	execCtx, cancel := context.WithTimeout(context.Background(), m.runTimeout)
	m.executions.Store(runID, &executionContext{
		runID:      runID,
		startedAt:  now,
		cancelFunc: cancel,
		dispatched: make(map[string]bool),
	})

	m.metrics.RecordRunSubmitted(string(domain.StatusRunning))
	m.logger.Info("run submitted",
		zap.String("run_id", runID),
		zap.String("pipeline", p.Name),
		zap.Int("jobs", len(g.Jobs)))

	// Start execution monitoring in background
	go m.monitorExecution(execCtx, runID)

	m.advance(ctx, runID)

	return runID, nil
}

// GetStatus retrieves the current state of a run
func (m *Manager) GetStatus(ctx context.Context, runID string) (*domain.RunState, error) {
	state, err := m.storage.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run state: %w", err)
	}
	return state, nil
}

// handleJobEvent processes job lifecycle events published by workers.
func (m *Manager) handleJobEvent(ctx context.Context, event domain.Event) error {
	switch event.Type {
	case domain.EventTypeJobStarted:
		m.markJobRunning(ctx, event)
		return nil
	case domain.EventTypeJobCompleted, domain.EventTypeJobFailed:
		m.applyJobOutcome(ctx, event)
		m.advance(ctx, event.RunID)
		return nil
	default:
		// job.dispatched and job.skipped are the manager's own events.
		return nil
	}
}

// markJobRunning records that a worker picked up a job.
func (m *Manager) markJobRunning(ctx context.Context, event domain.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.storage.GetRun(ctx, event.RunID)
	if err != nil {
		m.logger.Error("failed to get run state",
			zap.String("run_id", event.RunID),
			zap.Error(err))
		return
	}

	js, ok := state.JobStates[event.Job]
	if !ok || js.Status.IsTerminal() {
		return
	}

	now := event.Timestamp
	js.Status = domain.StatusRunning
	js.StartedAt = &now

	if err := m.storage.SaveRun(ctx, state); err != nil {
		m.logger.Error("failed to save run state",
			zap.String("run_id", event.RunID),
			zap.Error(err))
	}
}

// applyJobOutcome merges a worker's reported job state into the run.
func (m *Manager) applyJobOutcome(ctx context.Context, event domain.Event) {
	raw, ok := event.Data["job_state"].(string)
	if !ok {
		m.logger.Error("job outcome event without job state",
			zap.String("run_id", event.RunID),
			zap.String("job", event.Job))
		return
	}

	var js domain.JobState
	if err := json.Unmarshal([]byte(raw), &js); err != nil {
		m.logger.Error("failed to unmarshal job state",
			zap.String("run_id", event.RunID),
			zap.String("job", event.Job),
			zap.Error(err))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.storage.GetRun(ctx, event.RunID)
	if err != nil {
		m.logger.Error("failed to get run state",
			zap.String("run_id", event.RunID),
			zap.Error(err))
		return
	}

	current, ok := state.JobStates[event.Job]
	if !ok {
		m.logger.Error("outcome for unknown job",
			zap.String("run_id", event.RunID),
			zap.String("job", event.Job))
		return
	}
	if current.Status.IsTerminal() {
		// Late result after cancellation or timeout; the recorded
		// terminal status wins.
		m.logger.Debug("ignoring late job outcome",
			zap.String("run_id", event.RunID),
			zap.String("job", event.Job))
		return
	}

	state.JobStates[event.Job] = &js

	if err := m.storage.SaveRun(ctx, state); err != nil {
		m.logger.Error("failed to save run state",
			zap.String("run_id", event.RunID),
			zap.Error(err))
	}
}

// advance is one scheduling pass: skip jobs whose failed dependencies
// gate them, dispatch jobs whose dependencies are all terminal, and
// finalize the run once every job is terminal. State mutation happens
// under the lock; events are published after it is released so a slow
// dispatch queue can never wedge the scheduler.
func (m *Manager) advance(ctx context.Context, runID string) {
	m.mu.Lock()

	state, err := m.storage.GetRun(ctx, runID)
	if err != nil {
		m.mu.Unlock()
		m.logger.Error("failed to get run state",
			zap.String("run_id", runID),
			zap.Error(err))
		return
	}

	// A concurrent pass already finalized or cancelled the run.
	if state.Status.IsTerminal() {
		m.mu.Unlock()
		return
	}

	val, ok := m.executions.Load(runID)
	if !ok {
		m.mu.Unlock()
		return
	}
	execCtx := val.(*executionContext)

	var toDispatch, toSkip []string

	// Examine every job once; a newly skipped job is terminal and may in
	// turn gate or unblock its dependents, so those are re-examined.
	queue := make([]string, 0, len(state.Graph.Jobs))
	for name := range state.Graph.Jobs {
		queue = append(queue, name)
	}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		inst := state.Graph.Jobs[name]
		js := state.JobStates[name]
		if js.Status != domain.StatusPending || execCtx.dispatched[name] {
			continue
		}

		ready, failedDep := depsState(state, inst)
		if !ready {
			continue
		}

		if failedDep && !inst.Always {
			js.Status = domain.StatusSkipped
			toSkip = append(toSkip, name)
			for _, dep := range state.Graph.Dependents(name) {
				queue = append(queue, dep.Name)
			}
			continue
		}

		execCtx.dispatched[name] = true
		toDispatch = append(toDispatch, name)
	}

	finished := state.AllTerminal()
	var finalStatus domain.Status
	var summaryMsg string
	if finished {
		finalStatus = state.Reduce()
		state.Status = finalStatus
		now := time.Now()
		state.CompletedAt = &now
		summaryMsg = Summarize(state)
	}

	if len(toSkip) > 0 || finished {
		if err := m.storage.SaveRun(ctx, state); err != nil {
			m.logger.Error("failed to save run state",
				zap.String("run_id", runID),
				zap.Error(err))
		}
	}

	m.mu.Unlock()

	for _, name := range toSkip {
		m.logger.Info("job skipped, dependency did not succeed",
			zap.String("run_id", runID),
			zap.String("job", name))
		m.publishJobEvent(ctx, runID, name, domain.EventTypeJobSkipped)
	}

	for _, name := range toDispatch {
		m.logger.Info("dispatching job",
			zap.String("run_id", runID),
			zap.String("job", name))
		event := domain.Event{
			ID:        uuid.New().String(),
			Type:      domain.EventTypeJobDispatched,
			RunID:     runID,
			Job:       name,
			Timestamp: time.Now(),
			Data:      map[string]interface{}{"job": name},
		}
		if err := m.eventBus.Publish(ctx, ports.TopicJobDispatch, event); err != nil {
			m.logger.Error("failed to publish dispatch event",
				zap.String("run_id", runID),
				zap.String("job", name),
				zap.Error(err))
		}
	}

	if finished {
		m.finalize(ctx, runID, finalStatus, summaryMsg, execCtx)
	}
}

// finalize reports the reduced run outcome: terminal event, metrics and
// the aggregator's single notification.
func (m *Manager) finalize(ctx context.Context, runID string, status domain.Status, summary string, execCtx *executionContext) {
	duration := time.Since(execCtx.startedAt)

	eventType := domain.EventTypeRunCompleted
	if status != domain.StatusSuccess {
		eventType = domain.EventTypeRunFailed
	}
	m.publishRunEvent(ctx, runID, eventType, map[string]interface{}{
		"status": string(status),
	})

	m.metrics.RecordRunCompleted(string(status), duration)

	delivered := m.notifier.Notify(ctx, m.notifyChannel, summary)
	if !delivered {
		m.logger.Warn("run summary notification not delivered",
			zap.String("run_id", runID))
	}

	execCtx.cancelFunc()
	m.executions.Delete(runID)

	m.logger.Info("run finished",
		zap.String("run_id", runID),
		zap.String("status", string(status)),
		zap.Duration("duration", duration))
}

// CancelRun cancels a running pipeline run. Unstarted jobs are marked
// cancelled; running jobs finish on their own and their late results are
// discarded.
func (m *Manager) CancelRun(ctx context.Context, runID string) error {
	val, ok := m.executions.Load(runID)
	if !ok {
		return fmt.Errorf("run not found or already finished: %s", runID)
	}
	execCtx := val.(*executionContext)

	m.mu.Lock()

	state, err := m.storage.GetRun(ctx, runID)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to get run state: %w", err)
	}

	if state.Status.IsTerminal() {
		m.mu.Unlock()
		return fmt.Errorf("run already in terminal state: %s", state.Status)
	}

	for _, js := range state.JobStates {
		if !js.Status.IsTerminal() {
			js.Status = domain.StatusCancelled
		}
	}

	now := time.Now()
	state.Status = domain.StatusCancelled
	state.CompletedAt = &now

	if err := m.storage.SaveRun(ctx, state); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to save state: %w", err)
	}

	m.mu.Unlock()

	execCtx.cancelFunc()
	m.executions.Delete(runID)

	m.publishRunEvent(ctx, runID, domain.EventTypeRunCancelled, nil)

	// Best-effort: the notifier learns about the cancellation outcome.
	m.notifier.Notify(ctx, m.notifyChannel,
		fmt.Sprintf("run %s cancelled", runID))

	m.metrics.RecordRunCompleted(string(domain.StatusCancelled), time.Since(execCtx.startedAt))
	m.logger.Info("run cancelled", zap.String("run_id", runID))

	return nil
}

// monitorExecution watches a run for timeout.
func (m *Manager) monitorExecution(ctx context.Context, runID string) {
	<-ctx.Done()
	if ctx.Err() == context.DeadlineExceeded {
		m.handleTimeout(runID)
	}
}

// handleTimeout fails a run that exceeded its execution timeout.
func (m *Manager) handleTimeout(runID string) {
	m.logger.Warn("run execution timed out", zap.String("run_id", runID))

	ctx := context.Background()

	m.mu.Lock()

	state, err := m.storage.GetRun(ctx, runID)
	if err != nil {
		m.mu.Unlock()
		m.logger.Error("failed to get run state during timeout",
			zap.String("run_id", runID),
			zap.Error(err))
		return
	}

	if state.Status.IsTerminal() {
		m.mu.Unlock()
		return
	}

	for _, js := range state.JobStates {
		if !js.Status.IsTerminal() {
			js.Status = domain.StatusCancelled
		}
	}

	now := time.Now()
	state.Status = domain.StatusFailure
	state.Error = "execution timeout"
	state.CompletedAt = &now

	if err := m.storage.SaveRun(ctx, state); err != nil {
		m.logger.Error("failed to save run state during timeout",
			zap.String("run_id", runID),
			zap.Error(err))
	}

	m.mu.Unlock()

	m.publishRunEvent(ctx, runID, domain.EventTypeRunFailed, map[string]interface{}{
		"error": "execution timeout",
	})

	m.notifier.Notify(ctx, m.notifyChannel,
		fmt.Sprintf("run %s failed: execution timeout", runID))

	m.executions.Delete(runID)
}

// Shutdown gracefully shuts down the manager
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down orchestrator manager")

	// Cancel all active executions
	m.executions.Range(func(key, value interface{}) bool {
		execCtx := value.(*executionContext)
		execCtx.cancelFunc()
		return true
	})

	m.logger.Info("orchestrator manager shut down complete")
	return nil
}

// publishRunEvent publishes a run lifecycle event
func (m *Manager) publishRunEvent(ctx context.Context, runID string, eventType domain.EventType, data map[string]interface{}) {
	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		RunID:     runID,
		Timestamp: time.Now(),
		Data:      data,
	}

	if err := m.eventBus.Publish(ctx, ports.TopicRunEvents, event); err != nil {
		m.logger.Error("failed to publish run event",
			zap.String("run_id", runID),
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}

// publishJobEvent publishes a manager-side job event (skips).
func (m *Manager) publishJobEvent(ctx context.Context, runID, job string, eventType domain.EventType) {
	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		RunID:     runID,
		Job:       job,
		Timestamp: time.Now(),
	}

	if err := m.eventBus.Publish(ctx, ports.TopicJobEvents, event); err != nil {
		m.logger.Error("failed to publish job event",
			zap.String("run_id", runID),
			zap.String("job", job),
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}

// depsState reports whether every dependency of inst is terminal and
// whether any of them ended in a non-success state.
func depsState(state *domain.RunState, inst *domain.JobInstance) (ready, failedDep bool) {
	for _, need := range inst.Needs {
		dep, ok := state.JobStates[need]
		if !ok || !dep.Status.IsTerminal() {
			return false, false
		}
		if dep.Status != domain.StatusSuccess {
			failedDep = true
		}
	}
	return true, failedDep
}
