package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"nicorelay/internal/eventlog"
)

const (
	redisEventsKey = "nicorelay:client_logs"
	redisTokenKey  = "nicorelay:auth_token"
)

// RedisStore keeps the client state in redis, for clients that share a
// machine-local redis instead of a state file.
type RedisStore struct {
	redis *redis.Client
}

var _ eventlog.Store = (*RedisStore)(nil)
var _ TokenStore = (*RedisStore)(nil)

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{redis: rdb}
}

func (r *RedisStore) Load(ctx context.Context) ([]eventlog.Entry, error) {
	items, err := r.redis.LRange(ctx, redisEventsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	out := make([]eventlog.Entry, 0, len(items))
	for _, raw := range items {
		var e eventlog.Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("parse event: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *RedisStore) Save(ctx context.Context, entries []eventlog.Entry) error {
	payloads := make([]any, 0, len(entries))
	for _, e := range entries {
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		payloads = append(payloads, b)
	}

	pipe := r.redis.TxPipeline()
	pipe.Del(ctx, redisEventsKey)
	if len(payloads) > 0 {
		pipe.RPush(ctx, redisEventsKey, payloads...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save events: %w", err)
	}
	return nil
}

func (r *RedisStore) GetToken(ctx context.Context) (string, error) {
	val, err := r.redis.Get(ctx, redisTokenKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("get token: %w", err)
	}
	return val, nil
}

func (r *RedisStore) SetToken(ctx context.Context, token string) error {
	if err := r.redis.Set(ctx, redisTokenKey, token, 0).Err(); err != nil {
		return fmt.Errorf("set token: %w", err)
	}
	return nil
}

func (r *RedisStore) ClearToken(ctx context.Context) error {
	if err := r.redis.Del(ctx, redisTokenKey).Err(); err != nil {
		return fmt.Errorf("clear token: %w", err)
	}
	return nil
}
