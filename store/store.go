// Package store provides the variable store the graph runtime uses to pass
// node outputs downstream and to keep per-execution scratch state.
//
// Run variables are keyed by (graph id, execution id) and live only for the
// duration of one execution; ClearAgentVars drops everything the graph has
// accumulated when an agent stops.
//
// Supported backends:
// - Memory: for development and testing (default)
// - SQLite: GORM-backed, for single-node deployments
// - Redis: for deployments that share state across processes
package store

import (
	"context"
	"errors"
	"fmt"
)

// Common errors
var (
	ErrNotFound    = errors.New("not found")
	ErrStoreClosed = errors.New("store is closed")
)

// VarStore is the persistence collaborator contract required by the graph
// runtime. Values must survive JSON round-tripping; backends are free to
// store them however they like.
type VarStore interface {
	// GetRunVar returns the value stored under key for (graphID,
	// executionID), or ErrNotFound.
	GetRunVar(ctx context.Context, graphID, executionID, key string) (any, error)

	// SetRunVar stores value under key for (graphID, executionID).
	SetRunVar(ctx context.Context, graphID, executionID, key string, value any) error

	// ClearRunVars removes every variable for (graphID, executionID) and
	// returns the number removed.
	ClearRunVars(ctx context.Context, graphID, executionID string) (int, error)

	// ClearAgentVars removes every variable the graph has accumulated
	// across all executions. Called when the owning agent stops.
	ClearAgentVars(ctx context.Context, graphID, agentID string) (int, error)

	// Close releases backend resources.
	Close() error
}

// Type selects a storage backend.
type Type string

const (
	TypeMemory Type = "memory"
	TypeSQLite Type = "sqlite"
	TypeRedis  Type = "redis"
)

// Config configures store creation.
type Config struct {
	Type Type `json:"type" yaml:"type"`

	// SQLite DSN, e.g. "file:agentmesh.db" or "file::memory:?cache=shared".
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`

	Redis RedisConfig `json:"redis,omitempty" yaml:"redis,omitempty"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password,omitempty" yaml:"password,omitempty"`
	DB        int    `json:"db" yaml:"db"`
	KeyPrefix string `json:"key_prefix,omitempty" yaml:"key_prefix,omitempty"`
}

// New creates a VarStore based on the configuration.
func New(config Config) (VarStore, error) {
	switch config.Type {
	case TypeMemory, "":
		return NewMemoryStore(), nil
	case TypeSQLite:
		return NewSQLiteStore(config.DSN)
	case TypeRedis:
		return NewRedisStore(config.Redis)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}
