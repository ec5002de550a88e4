package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9090, cfg.GRPCPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "pipeline.yml", cfg.PipelineFile)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 4, cfg.Workers.PoolSize)
	assert.Equal(t, "ci", cfg.Notify.Channel)
	assert.Equal(t, 7, cfg.Store.RetentionDays)
	assert.Equal(t, []string{"3.9", "3.10", "3.11"}, cfg.Toolchains.PythonVersions)
	assert.Equal(t, time.Hour, cfg.Timeouts.RunExecutionTimeout)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("GANTRY_HTTP_PORT", "18080")
	t.Setenv("GANTRY_PIPELINE_FILE", "/etc/gantry/pipeline.yml")
	t.Setenv("WORKER_POOL_SIZE", "16")
	t.Setenv("STORE_RETENTION_DAYS", "3")
	t.Setenv("TOOLCHAIN_GO", "1.22")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 18080, cfg.HTTPPort)
	assert.Equal(t, "/etc/gantry/pipeline.yml", cfg.PipelineFile)
	assert.Equal(t, 16, cfg.Workers.PoolSize)
	assert.Equal(t, 3, cfg.Store.RetentionDays)
	assert.Equal(t, "1.22", cfg.Toolchains.GoVersion)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid http port", func(c *Config) { c.HTTPPort = 0 }, "HTTP port"},
		{"invalid grpc port", func(c *Config) { c.GRPCPort = 70000 }, "gRPC port"},
		{"missing redis addr", func(c *Config) { c.Redis.Addr = "" }, "redis address"},
		{"zero worker pool", func(c *Config) { c.Workers.PoolSize = 0 }, "pool size"},
		{"zero retention", func(c *Config) { c.Store.RetentionDays = 0 }, "retention"},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDerivedValues(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7*24*time.Hour, cfg.Retention())
	assert.Equal(t, 24*time.Hour, cfg.StateTTL())
	assert.Equal(t, ":8080", cfg.GetHTTPAddr())
	assert.Equal(t, ":9090", cfg.GetGRPCAddr())

	env := cfg.ToolchainEnv()
	assert.Equal(t, "1.74.0", env["RUST_VERSION"])
	assert.Equal(t, "1.21", env["GO_VERSION"])
	assert.Equal(t, "20", env["NODE_VERSION"])
}
