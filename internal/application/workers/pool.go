package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gantry-ci/gantry/internal/domain"
	"github.com/gantry-ci/gantry/internal/ports"
)

// Pool manages a pool of worker goroutines executing dispatched jobs.
type Pool struct {
	size     int
	eventBus ports.EventBus
	storage  ports.StateStorage
	blobs    ports.BlobStore
	coverage ports.CoverageSink
	notifier ports.Notifier
	runner   ports.StepRunner
	metrics  ports.MetricsCollector
	logger   *zap.Logger
	health   *HealthMonitor

	notifyChannel string
	retention     time.Duration
	jobTimeout    time.Duration

	queue   chan domain.Event
	workers []*worker
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// worker represents a single worker goroutine
type worker struct {
	id      string
	pool    *Pool
	status  WorkerStatus
	mu      sync.RWMutex
	lastJob time.Time
}

// WorkerStatus represents worker status
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusStopped WorkerStatus = "stopped"
)

// Config holds the pool's dependencies and tuning.
type Config struct {
	Size                int
	QueueDepth          int
	EventBus            ports.EventBus
	Storage             ports.StateStorage
	Blobs               ports.BlobStore
	Coverage            ports.CoverageSink
	Notifier            ports.Notifier
	Runner              ports.StepRunner
	Metrics             ports.MetricsCollector
	Logger              *zap.Logger
	NotifyChannel       string
	Retention           time.Duration
	JobTimeout          time.Duration
	HealthCheckInterval time.Duration
}

// NewPool creates a new worker pool
func NewPool(cfg Config) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 64
	}

	pool := &Pool{
		size:          cfg.Size,
		eventBus:      cfg.EventBus,
		storage:       cfg.Storage,
		blobs:         cfg.Blobs,
		coverage:      cfg.Coverage,
		notifier:      cfg.Notifier,
		runner:        cfg.Runner,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		notifyChannel: cfg.NotifyChannel,
		retention:     cfg.Retention,
		jobTimeout:    cfg.JobTimeout,
		queue:         make(chan domain.Event, cfg.QueueDepth),
		workers:       make([]*worker, cfg.Size),
		ctx:           ctx,
		cancel:        cancel,
	}

	pool.health = NewHealthMonitor(pool, cfg.HealthCheckInterval, cfg.Logger)

	return pool
}

// Start starts the worker pool. The pool subscribes to the dispatch topic
// exactly once and fans events out over an internal queue so each dispatch
// is executed by a single worker.
func (p *Pool) Start() error {
	p.logger.Info("starting worker pool", zap.Int("size", p.size))

	if err := p.eventBus.Subscribe(p.ctx, ports.TopicJobDispatch, p.enqueue); err != nil {
		return fmt.Errorf("failed to subscribe to dispatch events: %w", err)
	}

	for i := 0; i < p.size; i++ {
		w := &worker{
			id:      fmt.Sprintf("worker-%d", i),
			pool:    p,
			status:  WorkerStatusIdle,
			lastJob: time.Now(),
		}
		p.workers[i] = w

		p.wg.Add(1)
		go w.run(p.ctx)
	}

	// Start health monitor
	p.health.Start()

	p.logger.Info("worker pool started", zap.Int("workers", p.size))
	return nil
}

// enqueue queues a dispatch event for execution.
func (p *Pool) enqueue(ctx context.Context, event domain.Event) error {
	select {
	case p.queue <- event:
		return nil
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

// Shutdown gracefully shuts down the worker pool
func (p *Pool) Shutdown(ctx context.Context) error {
	p.logger.Info("shutting down worker pool")

	// Stop health monitor
	p.health.Stop()

	// Cancel context to signal workers to stop
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout")
	}
}

// GetStatus returns the status of all workers
func (p *Pool) GetStatus() map[string]WorkerStatus {
	status := make(map[string]WorkerStatus)
	for _, w := range p.workers {
		w.mu.RLock()
		status[w.id] = w.status
		w.mu.RUnlock()
	}
	return status
}

// run is the main worker loop
func (w *worker) run(ctx context.Context) {
	defer w.pool.wg.Done()

	w.pool.logger.Info("worker started", zap.String("worker_id", w.id))

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.status = WorkerStatusStopped
			w.mu.Unlock()
			w.pool.logger.Info("worker stopped", zap.String("worker_id", w.id))
			return

		case event := <-w.pool.queue:
			w.mu.Lock()
			w.status = WorkerStatusBusy
			w.lastJob = time.Now()
			w.mu.Unlock()

			jobCtx, cancel := context.WithTimeout(ctx, w.pool.jobTimeout)
			w.executeJob(jobCtx, event)
			cancel()

			w.mu.Lock()
			w.status = WorkerStatusIdle
			w.mu.Unlock()
		}
	}
}
