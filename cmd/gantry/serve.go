package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gantry-ci/gantry/internal/application/orchestrator"
	"github.com/gantry-ci/gantry/internal/application/workers"
	"github.com/gantry-ci/gantry/internal/config"
	"github.com/gantry-ci/gantry/internal/pipeline"
	redisblobs "github.com/gantry-ci/gantry/pkg/adapters/cache/redis"
	"github.com/gantry-ci/gantry/pkg/adapters/coverage/report"
	redisevents "github.com/gantry-ci/gantry/pkg/adapters/events/redis"
	"github.com/gantry-ci/gantry/pkg/adapters/metrics/prometheus"
	"github.com/gantry-ci/gantry/pkg/adapters/notify/webhook"
	"github.com/gantry-ci/gantry/pkg/adapters/runner/local"
	redisstorage "github.com/gantry-ci/gantry/pkg/adapters/storage/redis"
	grpcapi "github.com/gantry-ci/gantry/pkg/api/grpc"
	httpapi "github.com/gantry-ci/gantry/pkg/api/http"
	"github.com/gantry-ci/gantry/pkg/api/websocket"
)

// newServeCommand returns the long-running orchestrator server command.
func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator server",
		Long: `Serve starts the Gantry orchestrator: it loads the pipeline definition,
connects to Redis for state, events and blob storage, starts the worker
pool and exposes the HTTP, WebSocket and gRPC APIs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting Gantry orchestrator",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	// Load the pipeline definition
	p, err := pipeline.Load(cfg.PipelineFile)
	if err != nil {
		logger.Error("failed to load pipeline", zap.String("file", cfg.PipelineFile), zap.Error(err))
		return err
	}
	logger.Info("pipeline loaded",
		zap.String("file", cfg.PipelineFile),
		zap.String("pipeline", p.Name),
		zap.Int("jobs", len(p.Jobs)))

	// Initialize Redis client
	redisClient := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to Redis", zap.Error(err))
		return err
	}
	logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

	// Initialize adapters
	eventBus, err := redisevents.NewStreamsEventBus(
		redisClient,
		"gantry-workers",
		fmt.Sprintf("gantry-%d", os.Getpid()),
		logger,
	)
	if err != nil {
		logger.Error("failed to create event bus", zap.Error(err))
		return err
	}

	stateStorage := redisstorage.NewRunStorage(redisClient, cfg.StateTTL(), logger)
	blobStore := redisblobs.NewBlobStore(redisClient, cfg.Retention(), logger)
	metricsCollector := prometheus.NewCollector()
	notifier := webhook.NewNotifier(cfg.Notify.WebhookURL, cfg.Notify.Timeout, metricsCollector, logger)
	coverageSink := report.NewUploader(cfg.Notify.CoverageURL, cfg.Notify.Timeout, logger)
	runner := local.NewRunner(logger)

	// Initialize application components
	orchestratorMgr := orchestrator.NewManager(orchestrator.Config{
		EventBus:      eventBus,
		Storage:       stateStorage,
		Metrics:       metricsCollector,
		Notifier:      notifier,
		Logger:        logger,
		NotifyChannel: cfg.Notify.Channel,
		RunTimeout:    cfg.Timeouts.RunExecutionTimeout,
		BaseEnv:       cfg.ToolchainEnv(),
	})

	if err := orchestratorMgr.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", zap.Error(err))
		return err
	}

	workerPool := workers.NewPool(workers.Config{
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

	// Start worker pool
	if err := workerPool.Start(); err != nil {
		logger.Error("failed to start worker pool", zap.Error(err))
		return err
	}

	// Initialize API servers
	httpServer := httpapi.NewServer(&httpapi.Config{
		Port:         cfg.HTTPPort,
		Orchestrator: orchestratorMgr,
		Pipeline:     p,
		Storage:      stateStorage,
		Logger:       logger,
	})

	// Add WebSocket handler to HTTP server. The stream tap needs a full
	// copy of every event, so it reads through a consumer group of its
	// own: members of the workers' group split the stream between them.
	wsBus, err := redisevents.NewStreamsEventBus(
		redisClient,
		fmt.Sprintf("gantry-ws-%d", os.Getpid()),
		fmt.Sprintf("gantry-ws-%d", os.Getpid()),
		logger,
	)
	if err != nil {
		logger.Error("failed to create websocket event bus", zap.Error(err))
		return err
	}
	wsHandler := websocket.NewHandler(wsBus, logger)
	httpServer.SetupWebSocket(wsHandler)

	grpcServer, err := grpcapi.NewServer(&grpcapi.Config{
		Port:         cfg.GRPCPort,
		Orchestrator: orchestratorMgr,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("failed to create gRPC server", zap.Error(err))
		return err
	}

	// Start servers
	var g errgroup.Group
	g.Go(func() error {
		if err := httpServer.Start(); err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := grpcServer.Start(); err != nil {
			return fmt.Errorf("gRPC server failed: %w", err)
		}
		return nil
	})

	logger.Info("Gantry orchestrator started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("worker_pool_size", cfg.Workers.PoolSize))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	if err := workerPool.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker pool shutdown error", zap.Error(err))
	}

	if err := orchestratorMgr.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown error", zap.Error(err))
	}

	if err := redisClient.Close(); err != nil {
		logger.Error("Redis close error", zap.Error(err))
	}

	if err := g.Wait(); err != nil {
		logger.Error("server error", zap.Error(err))
	}

	logger.Info("Gantry orchestrator shut down complete")
	return nil
}
