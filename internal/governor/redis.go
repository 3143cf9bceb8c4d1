package governor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BradenHooton/tokenlink/internal/models"
)

// RedisStore keeps lockout state in redis so every API instance sees the
// same counters. Keys expire after the retention period of inactivity.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg *RedisConfig, retention time.Duration) (*RedisStore, error) {
	if cfg == nil || cfg.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisStoreWithClient(client, cfg.Prefix, retention), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string, retention time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "lockout:"
	}
	if retention <= 0 {
		retention = time.Hour
	}
	return &RedisStore{client: client, prefix: prefix, retention: retention}
}

func (s *RedisStore) LoadKey(ctx context.Context, key string) (*models.LockoutState, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return &models.LockoutState{}, nil
	}
	if err != nil {
		return nil, err
	}

	var state models.LockoutState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode lockout state: %w", err)
	}
	return &state, nil
}

func (s *RedisStore) SaveKey(ctx context.Context, key string, state *models.LockoutState) error {
	if state.LockedUntil == nil && len(state.Window) == 0 {
		return s.client.Del(ctx, s.prefix+key).Err()
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.prefix+key, raw, s.retention).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
