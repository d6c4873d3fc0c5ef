package cache

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"ojcore/pkg/utils/logger"

	"go.uber.org/zap"
)

// NullCacheValue is a sentinel value to represent null/empty data in cache
// This prevents cache penetration by caching the absence of data
const NullCacheValue = "$NULL$"

// CacheOptions configures GetWithCached.
type CacheOptions[T any] struct {
	TTL      time.Duration
	EmptyTTL time.Duration // 0 disables null caching

	IsEmpty func(T) bool
	// Cacheable filters values that may change later; nil caches every value.
	Cacheable func(T) bool

	Marshal   func(T) (string, error)
	Unmarshal func(string) (T, error)
}

// GetWithCached implements cache-aside with null value caching.
// Cache failures degrade to reading from fn.
func GetWithCached[T any](
	ctx context.Context,
	cache BasicOps,
	key string,
	opts CacheOptions[T],
	fn func(context.Context) (T, error),
) (T, error) {
	var zero T

	if cached, err := cache.Get(ctx, key); err != nil {
		logger.Warn(ctx, "cache get failed", zap.String("key", key), zap.Error(err))
	} else if cached != "" {
		if cached == NullCacheValue {
			return zero, nil
		}
		if result, err := opts.Unmarshal(cached); err == nil {
			return result, nil
		}
	}

	data, err := fn(ctx)
	if err != nil {
		return zero, err
	}

	if opts.IsEmpty != nil && opts.IsEmpty(data) {
		if opts.EmptyTTL > 0 {
			_ = cache.Set(ctx, key, NullCacheValue, JitterTTL(opts.EmptyTTL))
		}
		return data, nil
	}
	if opts.Cacheable != nil && !opts.Cacheable(data) {
		return data, nil
	}

	raw, err := opts.Marshal(data)
	if err != nil {
		return data, nil
	}
	if err := cache.Set(ctx, key, raw, JitterTTL(opts.TTL)); err != nil {
		logger.Warn(ctx, "cache set failed", zap.String("key", key), zap.Error(err))
	}
	return data, nil
}

// JitterTTL shortens ttl by up to 10% so entries written together do not expire together.
func JitterTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ttl
	}
	maxJitter := int64(ttl / 10)
	if maxJitter <= 0 {
		return ttl
	}
	n, err := rand.Int(rand.Reader, big.NewInt(maxJitter+1))
	if err != nil {
		return ttl
	}
	return ttl - time.Duration(n.Int64())
}
