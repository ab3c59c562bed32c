package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis-backed VarStore. Each (graph, execution) scope maps
// to one hash so run-var cleanup is a single DEL.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(config RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keyPrefix := config.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "agentmesh:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix + "vars:"}, nil
}

// scopeKey returns the hash key for one (graph, execution) scope.
func (s *RedisStore) scopeKey(graphID, executionID string) string {
	return s.keyPrefix + graphID + ":" + executionID
}

func (s *RedisStore) GetRunVar(ctx context.Context, graphID, executionID, key string) (any, error) {
	data, err := s.client.HGet(ctx, s.scopeKey(graphID, executionID), key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("failed to decode run var %q: %w", key, err)
	}
	return value, nil
}

func (s *RedisStore) SetRunVar(ctx context.Context, graphID, executionID, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode run var %q: %w", key, err)
	}
	return s.client.HSet(ctx, s.scopeKey(graphID, executionID), key, data).Err()
}

func (s *RedisStore) ClearRunVars(ctx context.Context, graphID, executionID string) (int, error) {
	key := s.scopeKey(graphID, executionID)
	count, err := s.client.HLen(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *RedisStore) ClearAgentVars(ctx context.Context, graphID, _ string) (int, error) {
	pattern := s.keyPrefix + graphID + ":*"
	total := 0
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		count, err := s.client.HLen(ctx, key).Result()
		if err != nil {
			return total, err
		}
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return total, err
		}
		total += int(count)
	}
	return total, iter.Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
