package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ojcore/internal/common/cache"
	"ojcore/internal/judge/model"
)

const (
	parkedKeyPrefix  = "judge:parked:"
	defaultParkedTTL = time.Hour
)

// RedisParkedResultStore parks early results in Redis until their executions are persisted.
type RedisParkedResultStore struct {
	cache cache.BasicOps
	ttl   time.Duration
}

func NewRedisParkedResultStore(cacheClient cache.BasicOps, ttl time.Duration) *RedisParkedResultStore {
	if ttl <= 0 {
		ttl = defaultParkedTTL
	}
	return &RedisParkedResultStore{cache: cacheClient, ttl: ttl}
}

func (s *RedisParkedResultStore) Park(ctx context.Context, handle string, out model.Outcome) error {
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal parked result failed: %w", err)
	}
	return s.cache.Set(ctx, parkedKeyPrefix+handle, string(data), s.ttl)
}

// Take removes the parked result with GETDEL so only one caller receives it.
func (s *RedisParkedResultStore) Take(ctx context.Context, handle string) (*model.Outcome, error) {
	val, err := s.cache.GetDel(ctx, parkedKeyPrefix+handle)
	if err != nil || val == "" {
		return nil, err
	}
	var out model.Outcome
	if err := json.Unmarshal([]byte(val), &out); err != nil {
		return nil, fmt.Errorf("decode parked result failed: %w", err)
	}
	return &out, nil
}

var _ ParkedResultStore = (*RedisParkedResultStore)(nil)
