package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentmesh/store"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, store.TypeMemory, cfg.Store.Type)
	assert.Equal(t, 100, cfg.Pool.MaxWorkers)
	assert.Equal(t, 256, cfg.Agent.QueueSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Agent.CyclicInterval)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
  development: true
store:
  type: sqlite
  dsn: /tmp/vars.db
pool:
  max_workers: 8
  queue_size: 32
agent:
  queue_size: 16
  cyclic_interval: 250ms
metrics:
  enabled: true
  addr: ":9999"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Development)
	assert.Equal(t, store.TypeSQLite, cfg.Store.Type)
	assert.Equal(t, "/tmp/vars.db", cfg.Store.DSN)
	assert.Equal(t, 8, cfg.Pool.MaxWorkers)
	assert.Equal(t, 32, cfg.Pool.QueueSize)
	assert.Equal(t, 16, cfg.Agent.QueueSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Agent.CyclicInterval)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9999", cfg.Metrics.Addr)

	// Keys the file omits keep their defaults.
	assert.Equal(t, 5*time.Second, cfg.Agent.StopTimeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log: [unterminated"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AGENTMESH_LOG_LEVEL", "warn")
	t.Setenv("AGENTMESH_STORE_TYPE", "redis")
	t.Setenv("AGENTMESH_REDIS_ADDR", "localhost:6380")
	t.Setenv("AGENTMESH_POOL_MAX_WORKERS", "42")
	t.Setenv("AGENTMESH_METRICS_ADDR", ":7777")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, store.TypeRedis, cfg.Store.Type)
	assert.Equal(t, "localhost:6380", cfg.Store.Redis.Addr)
	assert.Equal(t, 42, cfg.Pool.MaxWorkers)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":7777", cfg.Metrics.Addr)
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644))
	t.Setenv("AGENTMESH_LOG_LEVEL", "error")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestBuildLogger(t *testing.T) {
	logger, err := LogConfig{Level: "debug", Development: true}.BuildLogger()
	require.NoError(t, err)
	logger.Sync()

	_, err = LogConfig{Level: "loud"}.BuildLogger()
	require.Error(t, err)
}
