package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gantry-ci/gantry/internal/application/orchestrator"
	"github.com/gantry-ci/gantry/internal/application/workers"
	"github.com/gantry-ci/gantry/internal/config"
	"github.com/gantry-ci/gantry/internal/domain"
	"github.com/gantry-ci/gantry/internal/pipeline"
	memblobs "github.com/gantry-ci/gantry/pkg/adapters/cache/memory"
	"github.com/gantry-ci/gantry/pkg/adapters/coverage/report"
	memevents "github.com/gantry-ci/gantry/pkg/adapters/events/memory"
	"github.com/gantry-ci/gantry/pkg/adapters/metrics/prometheus"
	"github.com/gantry-ci/gantry/pkg/adapters/notify/webhook"
	"github.com/gantry-ci/gantry/pkg/adapters/runner/local"
	memstorage "github.com/gantry-ci/gantry/pkg/adapters/storage/memory"
)

// newRunCommand returns the one-shot local execution command.
func newRunCommand() *cobra.Command {
	var (
		file   string
		branch string
		commit string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a pipeline once, locally",
		Long: `Run executes a pipeline definition to completion on this machine using
in-memory state, then prints the run summary. Trigger rules are
bypassed; the run behaves like a manual trigger.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(file, branch, commit)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "pipeline.yml", "pipeline definition file")
	cmd.Flags().StringVar(&branch, "branch", "", "branch to report in the trigger event")
	cmd.Flags().StringVar(&commit, "commit", "", "commit to report in the trigger event")

	return cmd
}

func runOnce(file, branch, commit string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	p, err := pipeline.Load(file)
	if err != nil {
		return fmt.Errorf("failed to load pipeline: %w", err)
	}

	eventBus := memevents.NewInMemoryEventBus()
	stateStorage := memstorage.NewRunStorage()
	blobStore := memblobs.NewBlobStore(cfg.Retention())
	metricsCollector := prometheus.NewCollector()
	notifier := webhook.NewNotifier(cfg.Notify.WebhookURL, cfg.Notify.Timeout, metricsCollector, logger)
	coverageSink := report.NewUploader(cfg.Notify.CoverageURL, cfg.Notify.Timeout, logger)
	runner := local.NewRunner(logger)

	ctx := context.Background()

	mgr := orchestrator.NewManager(orchestrator.Config{
		EventBus:      eventBus,
		Storage:       stateStorage,
		Metrics:       metricsCollector,
		Notifier:      notifier,
		Logger:        logger,
		NotifyChannel: cfg.Notify.Channel,
		RunTimeout:    cfg.Timeouts.RunExecutionTimeout,
		BaseEnv:       cfg.ToolchainEnv(),
	})
	if err := mgr.Start(ctx); err != nil {
		return err
	}

	pool := workers.NewPool(workers.Config{
		Size:                cfg.Workers.PoolSize,
		QueueDepth:          cfg.Workers.QueueDepth,
		EventBus:            eventBus,
		Storage:             stateStorage,
		Blobs:               blobStore,
		Coverage:            coverageSink,
		Notifier:            notifier,
		Runner:              runner,
		Metrics:             metricsCollector,
		Logger:              logger,
		NotifyChannel:       cfg.Notify.Channel,
		Retention:           cfg.Retention(),
		JobTimeout:          cfg.Timeouts.JobExecutionTimeout,
		HealthCheckInterval: cfg.Workers.HealthCheckInterval,
	})
	if err := pool.Start(); err != nil {
		return err
	}

	runID, err := mgr.Submit(ctx, p, domain.TriggerEvent{
		Kind:       domain.TriggerManual,
		Branch:     branch,
		Commit:     commit,
		ReceivedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to submit run: %w", err)
	}

	logger.Info("run submitted", zap.String("run_id", runID))

	state, err := waitForRun(ctx, mgr, runID, cfg.Timeouts.RunExecutionTimeout)
	if err != nil {
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker pool shutdown error", zap.Error(err))
	}
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown error", zap.Error(err))
	}

	fmt.Println(orchestrator.Summarize(state))

	if state.Status != domain.StatusSuccess {
		return fmt.Errorf("run %s finished with status %s", runID, state.Status)
	}
	return nil
}

// waitForRun polls run state until it reaches a terminal status.
func waitForRun(ctx context.Context, mgr *orchestrator.Manager, runID string, timeout time.Duration) (*domain.RunState, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		state, err := mgr.GetStatus(ctx, runID)
		if err != nil {
			return nil, err
		}
		if state.Status.IsTerminal() {
			return state, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for run %s", runID)
		}
		<-ticker.C
	}
}
