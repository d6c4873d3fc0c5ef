package cache

import (
	"context"
	"time"
)

// Cache is the full Redis surface used by the engine.
type Cache interface {
	BasicOps
	LockOps
	Ping(ctx context.Context) error
	Close() error
}

// BasicOps covers string keys. Get returns "" with a nil error on a missing key.
type BasicOps interface {
	Get(ctx context.Context, key string) (string, error)
	// GetDel is Get that also removes the key atomically.
	GetDel(ctx context.Context, key string) (string, error)
	// Set with ttl 0 keeps the key forever.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, keys ...string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
}

// LockOps is a token-owned mutual exclusion lock. Only the token returned by
// TryLock releases it; an expired lock may be taken by someone else.
type LockOps interface {
	// TryLock does not wait; ok is false when another owner holds key.
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, key, token string) error
}
