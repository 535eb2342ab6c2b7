package form

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	errx "github.com/facturio-bot/server/internal/core/error"
	logx "github.com/facturio-bot/server/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// RedisStore persists accumulations in Redis so a restart does not lose
// half-filled forms. Each state lives under its own key with the idle
// timeout as TTL, refreshed on every touch; expiry then needs no sweep.
type RedisStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisStore(rdb redis.Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (r *RedisStore) stateKey(key Key) string {
	return fmt.Sprintf("form:%s:%s", key.Actor, key.FormID)
}

func (r *RedisStore) Get(ctx context.Context, key Key) (State, bool, error) {
	raw, err := r.rdb.Get(ctx, r.stateKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return State{}, false, nil
		}
		logx.Error().Err(err).Str("key", r.stateKey(key)).Msg("failed to load form state from redis")
		return State{}, false, errx.WrapRedis(err)
	}

	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		logx.Error().Err(err).Str("key", r.stateKey(key)).Msg("failed to unmarshal form state")
		return State{}, false, fmt.Errorf("unmarshal form state: %w", err)
	}
	return st, true, nil
}

func (r *RedisStore) Put(ctx context.Context, key Key, st State) error {
	b, err := json.Marshal(st)
	if err != nil {
		logx.Error().Err(err).Str("actor", key.Actor).Str("form", key.FormID).Msg("failed to marshal form state")
		return fmt.Errorf("marshal form state: %w", err)
	}

	if err := r.rdb.Set(ctx, r.stateKey(key), b, r.ttl).Err(); err != nil {
		logx.Error().Err(err).Str("key", r.stateKey(key)).Msg("failed to write form state to redis")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key Key) error {
	if err := r.rdb.Del(ctx, r.stateKey(key)).Err(); err != nil {
		logx.Error().Err(err).Str("key", r.stateKey(key)).Msg("failed to delete form state from redis")
		return errx.WrapRedis(err)
	}
	return nil
}

// Sweep is a no-op: the per-key TTL already bounds idle state.
func (r *RedisStore) Sweep(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

var _ Store = (*RedisStore)(nil)
