// Package ports defines the interfaces between the application core and
// its adapters: event bus, run-state storage, blob store, notifier,
// step runner, coverage sink and metrics.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/gantry-ci/gantry/internal/domain"
)

// ErrNotFound is returned by StateStorage and BlobStore lookups that miss.
// For the cache store a miss is not a failure; the caller degrades to an
// uncached execution.
var ErrNotFound = errors.New("not found")

// EventHandler processes one event delivered by the bus.
type EventHandler func(ctx context.Context, event domain.Event) error

// EventBus publishes and subscribes run/job events by topic.
type EventBus interface {
	Publish(ctx context.Context, topic string, event domain.Event) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Unsubscribe(ctx context.Context, topic string) error
	Close() error
}

// Topics used on the event bus.
const (
	TopicRunEvents   = "run.events"
	TopicJobEvents   = "job.events"
	TopicJobDispatch = "job.dispatch"
)

// StateStorage persists run state between transitions.
type StateStorage interface {
	SaveRun(ctx context.Context, state *domain.RunState) error
	GetRun(ctx context.Context, runID string) (*domain.RunState, error)
	DeleteRun(ctx context.Context, runID string) error
	ListRuns(ctx context.Context) ([]string, error)
}

// BlobStore is keyed storage for dependency caches and build artifacts.
// Entries expire after the given TTL; a zero TTL means the store default.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Notifier dispatches a message to an external channel. The returned bool
// reports delivery; failures are observed via logs and metrics only and
// must never propagate into job or run outcomes.
type Notifier interface {
	Notify(ctx context.Context, channel, message string) bool
}

// CoverageSink ingests a coverage report for a job. Upload failure is
// non-fatal by contract.
type CoverageSink interface {
	Upload(ctx context.Context, job string, report []byte) error
}

// RunSpec describes one command execution for a StepRunner.
type RunSpec struct {
	Command string
	Dir     string
	Env     map[string]string
}

// RunResult is the outcome of a single command execution.
type RunResult struct {
	ExitCode int
	Output   string
}

// StepRunner executes a step command inside an isolated environment with
// the job's working directory and environment overrides applied.
type StepRunner interface {
	Run(ctx context.Context, spec RunSpec) (*RunResult, error)
}

// MetricsCollector records orchestrator metrics.
type MetricsCollector interface {
	RecordRunSubmitted(status string)
	RecordRunCompleted(status string, duration time.Duration)
	RecordJobExecuted(class, status string, duration time.Duration)
	RecordStepExecuted(status string, duration time.Duration)
	RecordCacheLookup(class string, hit bool)
	RecordNotification(delivered bool)
	RecordWorkerPoolStatus(idle, busy, stopped int)
}
