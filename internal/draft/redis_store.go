package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tutorslots/internal/domain"
)

const redisKeyPrefix = "draft:"

// RedisStore keeps drafts as JSON strings with a sliding TTL.
type RedisStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewRedisStore creates a store. A non-positive ttl keeps keys forever.
func NewRedisStore(rdb redis.Cmdable, ttl time.Duration) *RedisStore {
	if ttl < 0 {
		ttl = 0
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]domain.Slot, bool, error) {
	val, err := s.rdb.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	var out []domain.Slot
	if err := json.Unmarshal(val, &out); err != nil {
		return nil, false, fmt.Errorf("decode draft %s: %w", key, err)
	}
	return out, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, selection []domain.Slot) error {
	if selection == nil {
		selection = []domain.Slot{}
	}
	data, err := json.Marshal(selection)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, redisKeyPrefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Ping checks the connection, used by readiness probes.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
