package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for the Gantry orchestrator
type Config struct {
	// Server configuration
	HTTPPort int    `env:"GANTRY_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"GANTRY_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Pipeline definition served by this instance
	PipelineFile string `env:"GANTRY_PIPELINE_FILE" envDefault:"pipeline.yml"`

	// Redis configuration
	Redis RedisConfig

	// Worker configuration
	Workers WorkerConfig

	// Notification configuration
	Notify NotifyConfig

	// Artifact and cache retention
	Store StoreConfig

	// Pinned toolchain versions injected into job environments
	Toolchains ToolchainConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	PoolSize            int           `env:"WORKER_POOL_SIZE" envDefault:"4"`
	QueueDepth          int           `env:"WORKER_QUEUE_DEPTH" envDefault:"64"`
	HealthCheckInterval time.Duration `env:"WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// NotifyConfig holds the chat-notification and coverage endpoints.
// Delivery failures are never fatal; an empty URL disables delivery.
type NotifyConfig struct {
	WebhookURL  string        `env:"NOTIFY_WEBHOOK_URL"`
	Channel     string        `env:"NOTIFY_CHANNEL" envDefault:"ci"`
	CoverageURL string        `env:"COVERAGE_INGEST_URL"`
	Timeout     time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"10s"`
}

// StoreConfig holds cache/artifact retention configuration
type StoreConfig struct {
	RetentionDays int `env:"STORE_RETENTION_DAYS" envDefault:"7"`
	StateTTLHours int `env:"STORE_STATE_TTL_HOURS" envDefault:"24"`
}

// ToolchainConfig pins the per-ecosystem toolchain versions. These are
// loaded once at startup and passed to jobs as read-only environment.
type ToolchainConfig struct {
	RustVersion    string   `env:"TOOLCHAIN_RUST" envDefault:"1.74.0"`
	GoVersion      string   `env:"TOOLCHAIN_GO" envDefault:"1.21"`
	NodeVersion    string   `env:"TOOLCHAIN_NODE" envDefault:"20"`
	PythonVersions []string `env:"TOOLCHAIN_PYTHON" envSeparator:"," envDefault:"3.9,3.10,3.11"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	RunExecutionTimeout time.Duration `env:"TIMEOUT_RUN_EXECUTION" envDefault:"3600s"` // 1 hour
	JobExecutionTimeout time.Duration `env:"TIMEOUT_JOB_EXECUTION" envDefault:"1800s"` // 30 minutes
	ShutdownTimeout     time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	// Validate Redis config
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}

	// Validate worker config
	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("worker pool size must be at least 1")
	}

	// Validate retention
	if c.Store.RetentionDays < 1 {
		return fmt.Errorf("retention must be at least one day")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// Retention returns the artifact/cache retention window as a duration.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Store.RetentionDays) * 24 * time.Hour
}

// StateTTL returns the run-state TTL as a duration.
func (c *Config) StateTTL() time.Duration {
	return time.Duration(c.Store.StateTTLHours) * time.Hour
}

// ToolchainEnv returns the pinned toolchain versions as environment
// variables shared by every job of a run.
func (c *Config) ToolchainEnv() map[string]string {
	return map[string]string{
		"RUST_VERSION": c.Toolchains.RustVersion,
		"GO_VERSION":   c.Toolchains.GoVersion,
		"NODE_VERSION": c.Toolchains.NodeVersion,
	}
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
