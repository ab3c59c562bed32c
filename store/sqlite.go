package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// runVar is the GORM model backing the SQLite store. Values are stored as
// JSON so arbitrary handler outputs round-trip.
type runVar struct {
	ID          uint   `gorm:"primaryKey"`
	GraphID     string `gorm:"index:idx_run_var,unique;index:idx_graph"`
	ExecutionID string `gorm:"index:idx_run_var,unique"`
	VarKey      string `gorm:"index:idx_run_var,unique"`
	Value       []byte
}

func (runVar) TableName() string { return "run_vars" }

// SQLiteStore is a GORM-backed VarStore using the pure-Go SQLite driver.
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore opens (or creates) the database at dsn and migrates the
// schema. An empty dsn uses a shared in-memory database.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = "file::memory:?cache=shared"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	if err := db.AutoMigrate(&runVar{}); err != nil {
		return nil, fmt.Errorf("failed to migrate run_vars: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetRunVar(ctx context.Context, graphID, executionID, key string) (any, error) {
	var rec runVar
	err := s.db.WithContext(ctx).
		Where("graph_id = ? AND execution_id = ? AND var_key = ?", graphID, executionID, key).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var value any
	if err := json.Unmarshal(rec.Value, &value); err != nil {
		return nil, fmt.Errorf("failed to decode run var %q: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) SetRunVar(ctx context.Context, graphID, executionID, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode run var %q: %w", key, err)
	}
	rec := runVar{
		GraphID:     graphID,
		ExecutionID: executionID,
		VarKey:      key,
		Value:       data,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "graph_id"}, {Name: "execution_id"}, {Name: "var_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&rec).Error
}

func (s *SQLiteStore) ClearRunVars(ctx context.Context, graphID, executionID string) (int, error) {
	res := s.db.WithContext(ctx).
		Where("graph_id = ? AND execution_id = ?", graphID, executionID).
		Delete(&runVar{})
	return int(res.RowsAffected), res.Error
}

func (s *SQLiteStore) ClearAgentVars(ctx context.Context, graphID, _ string) (int, error) {
	res := s.db.WithContext(ctx).
		Where("graph_id = ?", graphID).
		Delete(&runVar{})
	return int(res.RowsAffected), res.Error
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
