package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gantry-ci/gantry/internal/domain"
	"github.com/gantry-ci/gantry/internal/ports"
)

// executeJob runs one dispatched job instance: restore cache, run the
// steps in order, save cache and artifacts, report the outcome.
func (w *worker) executeJob(ctx context.Context, event domain.Event) {
	runID := event.RunID
	jobName, ok := event.Data["job"].(string)
	if !ok {
		w.pool.logger.Error("invalid job name in dispatch event",
			zap.String("worker_id", w.id),
			zap.String("event_id", event.ID))
		return
	}

	state, err := w.pool.storage.GetRun(ctx, runID)
	if err != nil {
		w.pool.logger.Error("failed to get run state",
			zap.String("worker_id", w.id),
			zap.String("run_id", runID),
			zap.Error(err))
		return
	}

	inst, exists := state.Graph.Jobs[jobName]
	if !exists {
		w.pool.logger.Error("job not found in graph",
			zap.String("worker_id", w.id),
			zap.String("run_id", runID),
			zap.String("job", jobName))
		return
	}

	// A cancellation or timeout can land between dispatch and pickup. The
	// recorded terminal status wins; the job must not run.
	if js, ok := state.JobStates[jobName]; state.Status.IsTerminal() || (ok && js.Status.IsTerminal()) {
		w.pool.logger.Info("dropping dispatch for terminal job",
			zap.String("worker_id", w.id),
			zap.String("run_id", runID),
			zap.String("job", jobName),
			zap.String("run_status", string(state.Status)))
		return
	}

	w.pool.logger.Info("executing job",
		zap.String("worker_id", w.id),
		zap.String("run_id", runID),
		zap.String("job", jobName))

	startedAt := time.Now()
	js := &domain.JobState{
		Name:      inst.Name,
		Template:  inst.Template,
		Status:    domain.StatusRunning,
		StartedAt: &startedAt,
	}

	w.publishJobEvent(ctx, runID, inst.Name, domain.EventTypeJobStarted, nil)

	w.runSteps(ctx, state, inst, js)

	completedAt := time.Now()
	js.CompletedAt = &completedAt
	duration := completedAt.Sub(startedAt)

	eventType := domain.EventTypeJobCompleted
	if js.Status == domain.StatusFailure {
		eventType = domain.EventTypeJobFailed

		// The failing job reports itself; the aggregator sends its own
		// terminal notification separately.
		delivered := w.pool.notifier.Notify(ctx, w.pool.notifyChannel,
			fmt.Sprintf("job %s failed in run %s: %s", inst.Name, runID, js.Error))
		if !delivered {
			w.pool.logger.Warn("job failure notification not delivered",
				zap.String("run_id", runID),
				zap.String("job", inst.Name))
		}
	}

	w.pool.metrics.RecordJobExecuted(inst.Class, string(js.Status), duration)

	data, err := json.Marshal(js)
	if err != nil {
		w.pool.logger.Error("failed to marshal job state",
			zap.String("run_id", runID),
			zap.String("job", inst.Name),
			zap.Error(err))
		return
	}
	w.publishJobEvent(ctx, runID, inst.Name, eventType, map[string]interface{}{
		"job_state": string(data),
	})

	w.pool.logger.Info("job execution completed",
		zap.String("worker_id", w.id),
		zap.String("run_id", runID),
		zap.String("job", inst.Name),
		zap.String("status", string(js.Status)),
		zap.Duration("duration", duration))
}

// runSteps executes the job's step sequence with the predicate and
// best-effort semantics applied, then performs the trailing best-effort
// phases (cache save, artifact upload, coverage upload).
func (w *worker) runSteps(ctx context.Context, state *domain.RunState, inst *domain.JobInstance, js *domain.JobState) {
	baseDir, err := os.MkdirTemp("", "gantry-job-")
	if err != nil {
		js.Status = domain.StatusFailure
		js.Error = fmt.Sprintf("failed to create workspace: %v", err)
		return
	}
	defer os.RemoveAll(baseDir)

	dir := baseDir
	if inst.Workdir != "" {
		dir = filepath.Join(baseDir, inst.Workdir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			js.Status = domain.StatusFailure
			js.Error = fmt.Sprintf("failed to create working directory: %v", err)
			return
		}
	}

	env := mergeEnv(state.Env, inst.Env, map[string]string{
		"GANTRY_RUN_ID": state.RunID,
		"GANTRY_JOB":    inst.Name,
	})

	cacheHit := false
	var cacheKey string
	if inst.Cache != nil {
		cacheKey = w.cacheKey(inst, dir)
		cacheHit = w.restoreCache(ctx, inst, cacheKey, dir)
	}

	failed := false
	for _, step := range inst.Steps {
		accumulated := domain.StatusRunning
		if failed {
			accumulated = domain.StatusFailure
		}

		ss := domain.StepState{Name: step.Name, Status: domain.StatusSkipped}
		if !step.ShouldRun(accumulated) {
			js.Steps = append(js.Steps, ss)
			continue
		}

		stepStart := time.Now()
		stepErr := w.executeStep(ctx, step, dir, env)
		ss.Duration = time.Since(stepStart)

		if stepErr != nil {
			ss.Status = domain.StatusFailure
			ss.Error = stepErr.Error()
			if !step.BestEffort {
				failed = true
				if js.Error == "" {
					js.Error = fmt.Sprintf("step %q failed: %v", step.Name, stepErr)
				}
			} else {
				w.pool.logger.Warn("best-effort step failed",
					zap.String("run_id", state.RunID),
					zap.String("job", inst.Name),
					zap.String("step", step.Name),
					zap.Error(stepErr))
			}
		} else {
			ss.Status = domain.StatusSuccess
		}

		w.pool.metrics.RecordStepExecuted(string(ss.Status), ss.Duration)
		js.Steps = append(js.Steps, ss)
	}

	if failed {
		js.Status = domain.StatusFailure
	} else {
		js.Status = domain.StatusSuccess
	}

	// Trailing best-effort phases. None of these may change the status.
	if inst.Cache != nil && !cacheHit && !failed {
		w.saveCache(ctx, inst, cacheKey, dir)
	}
	w.uploadArtifacts(ctx, state.RunID, inst, js, dir)
	w.uploadCoverage(ctx, inst, dir)
}

// executeStep runs one step command, falling back to the step's alternate
// command when the primary fails. The primary's failure is logged, not
// silently discarded.
func (w *worker) executeStep(ctx context.Context, step domain.Step, dir string, env map[string]string) error {
	spec := ports.RunSpec{
		Command: step.Run,
		Dir:     dir,
		Env:     mergeEnv(env, step.Env, nil),
	}

	result, err := w.pool.runner.Run(ctx, spec)
	if err != nil {
		return fmt.Errorf("failed to start command: %w", err)
	}
	if result.ExitCode == 0 {
		return nil
	}

	if step.Fallback == "" {
		return fmt.Errorf("command exited with code %d", result.ExitCode)
	}

	w.pool.logger.Debug("primary command failed, running fallback",
		zap.String("step", step.Name),
		zap.Int("exit_code", result.ExitCode))

	spec.Command = step.Fallback
	result, err = w.pool.runner.Run(ctx, spec)
	if err != nil {
		return fmt.Errorf("failed to start fallback command: %w", err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("fallback command exited with code %d", result.ExitCode)
	}
	return nil
}

// cacheKey derives the instance's cache key. The tool version comes from
// the matrix binding when the cache's tool names an axis, otherwise the
// declared value is used verbatim.
func (w *worker) cacheKey(inst *domain.JobInstance, dir string) string {
	tool := inst.Cache.Tool
	if v, ok := inst.Matrix[tool]; ok {
		tool = v
	}

	locks := append([]string(nil), inst.Cache.LockFiles...)
	sort.Strings(locks)

	hashes := make([]string, 0, len(locks))
	for _, lf := range locks {
		h, err := domain.HashFile(filepath.Join(dir, lf))
		if err != nil {
			// No checkout or missing lock file: fall back to hashing the
			// path so the key stays deterministic.
			w.pool.logger.Debug("lock file not readable, hashing path",
				zap.String("job", inst.Name),
				zap.String("lock_file", lf))
			h = domain.HashString(lf)
		}
		hashes = append(hashes, h)
	}

	return domain.CacheKeyInput{
		Class:         classOf(inst),
		Platform:      runtime.GOOS,
		ToolVersion:   tool,
		SchemaVersion: domain.CacheSchemaVersion,
		LockHashes:    hashes,
	}.Key()
}

// restoreCache tries to restore the cached paths; a miss degrades to an
// uncached execution.
func (w *worker) restoreCache(ctx context.Context, inst *domain.JobInstance, key, dir string) bool {
	blob, err := w.pool.blobs.Get(ctx, "cache:"+key)
	if err != nil {
		w.pool.metrics.RecordCacheLookup(classOf(inst), false)
		w.pool.logger.Debug("cache miss",
			zap.String("job", inst.Name),
			zap.String("key", key))
		return false
	}

	if err := unpackArchive(dir, blob); err != nil {
		w.pool.logger.Warn("failed to unpack cache, continuing uncached",
			zap.String("job", inst.Name),
			zap.String("key", key),
			zap.Error(err))
		w.pool.metrics.RecordCacheLookup(classOf(inst), false)
		return false
	}

	w.pool.metrics.RecordCacheLookup(classOf(inst), true)
	w.pool.logger.Debug("cache restored",
		zap.String("job", inst.Name),
		zap.String("key", key))
	return true
}

// saveCache packs the cached paths and stores them under the derived key.
// One writer per key per run; failures are best-effort.
func (w *worker) saveCache(ctx context.Context, inst *domain.JobInstance, key, dir string) {
	blob, err := packArchive(dir, inst.Cache.Paths)
	if err != nil {
		w.pool.logger.Warn("failed to pack cache",
			zap.String("job", inst.Name),
			zap.Error(err))
		return
	}

	if err := w.pool.blobs.Put(ctx, "cache:"+key, blob, w.pool.retention); err != nil {
		w.pool.logger.Warn("failed to save cache",
			zap.String("job", inst.Name),
			zap.String("key", key),
			zap.Error(err))
	}
}

// uploadArtifacts stores declared build outputs, namespaced by run and
// job. Failures are best-effort.
func (w *worker) uploadArtifacts(ctx context.Context, runID string, inst *domain.JobInstance, js *domain.JobState, dir string) {
	for _, spec := range inst.Artifacts {
		data, err := os.ReadFile(filepath.Join(dir, spec.Path))
		if err != nil {
			w.pool.logger.Warn("artifact not found",
				zap.String("run_id", runID),
				zap.String("job", inst.Name),
				zap.String("artifact", spec.Name),
				zap.Error(err))
			continue
		}

		ttl := w.pool.retention
		if spec.RetentionDays > 0 {
			ttl = time.Duration(spec.RetentionDays) * 24 * time.Hour
		}

		key := fmt.Sprintf("artifact:%s:%s:%s", runID, inst.Name, spec.Name)
		if err := w.pool.blobs.Put(ctx, key, data, ttl); err != nil {
			w.pool.logger.Warn("failed to upload artifact",
				zap.String("run_id", runID),
				zap.String("job", inst.Name),
				zap.String("artifact", spec.Name),
				zap.Error(err))
			continue
		}

		js.Artifacts = append(js.Artifacts, spec.Name)
	}
}

// uploadCoverage ships the coverage report to the ingestion endpoint.
// Failure never affects the job outcome.
func (w *worker) uploadCoverage(ctx context.Context, inst *domain.JobInstance, dir string) {
	if inst.Coverage == "" || w.pool.coverage == nil {
		return
	}

	data, err := os.ReadFile(filepath.Join(dir, inst.Coverage))
	if err != nil {
		w.pool.logger.Debug("no coverage report produced",
			zap.String("job", inst.Name),
			zap.String("path", inst.Coverage))
		return
	}

	if err := w.pool.coverage.Upload(ctx, inst.Name, data); err != nil {
		w.pool.logger.Warn("coverage upload failed",
			zap.String("job", inst.Name),
			zap.Error(err))
	}
}

// publishJobEvent publishes a job lifecycle event to the event bus
func (w *worker) publishJobEvent(ctx context.Context, runID, job string, eventType domain.EventType, data map[string]interface{}) {
	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		RunID:     runID,
		Job:       job,
		Timestamp: time.Now(),
		Data:      data,
	}

	if err := w.pool.eventBus.Publish(ctx, ports.TopicJobEvents, event); err != nil {
		w.pool.logger.Error("failed to publish event",
			zap.String("worker_id", w.id),
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}

// classOf returns the metrics/cache namespace for an instance.
func classOf(inst *domain.JobInstance) string {
	if inst.Class != "" {
		return inst.Class
	}
	return inst.Template
}

// mergeEnv layers maps left to right; later maps win on collision.
func mergeEnv(maps ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}
