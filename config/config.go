// Package config provides YAML configuration loading with environment
// variable overrides.
//
// Precedence: defaults, then the YAML file, then environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/agentmesh/internal/pool"
	"github.com/BaSui01/agentmesh/store"
)

// Config is the complete runtime configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Store   store.Config  `yaml:"store"`
	Pool    pool.Config   `yaml:"pool"`
	Agent   AgentConfig   `yaml:"agent"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Development switches to the console encoder with stacktraces.
	Development bool `yaml:"development"`
}

// AgentConfig carries per-agent runtime knobs.
type AgentConfig struct {
	QueueSize      int           `yaml:"queue_size"`
	CyclicInterval time.Duration `yaml:"cyclic_interval"`
	StopTimeout    time.Duration `yaml:"stop_timeout"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Store: store.Config{
			Type: store.TypeMemory,
		},
		Pool: pool.DefaultConfig(),
		Agent: AgentConfig{
			QueueSize:      256,
			CyclicInterval: 500 * time.Millisecond,
			StopTimeout:    5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Addr:      ":9464",
			Namespace: "agentmesh",
		},
	}
}

// Load reads path (optional) on top of the defaults and applies
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overrides selected keys from AGENTMESH_* variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("AGENTMESH_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("AGENTMESH_STORE_TYPE"); v != "" {
		c.Store.Type = store.Type(v)
	}
	if v := os.Getenv("AGENTMESH_STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv("AGENTMESH_REDIS_ADDR"); v != "" {
		c.Store.Redis.Addr = v
	}
	if v := os.Getenv("AGENTMESH_POOL_MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pool.MaxWorkers = n
		}
	}
	if v := os.Getenv("AGENTMESH_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
		c.Metrics.Enabled = true
	}
}

// BuildLogger constructs a zap logger from the log configuration.
func (c LogConfig) BuildLogger() (*zap.Logger, error) {
	var zc zap.Config
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	level, err := zap.ParseAtomicLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}
	zc.Level = level
	return zc.Build()
}
