// Package cache provides the key-value layer behind the read API: memory,
// Redis, or a layered combination of both.
package cache

import (
	"context"
	"errors"
	"time"
)

var ErrCacheMiss = errors.New("cache: key not found")

// Service is the minimal cache surface the read side needs. Values are
// opaque strings; callers own serialization.
type Service interface {
	Set(ctx context.Context, key, value string, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, keys ...string) error
	Close() error
}
