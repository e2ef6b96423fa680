package cache

import (
	"context"
	"errors"
	"time"
)

// LayeredCache fronts a remote cache with an in-process one. Writes go
// through to both layers; reads try memory first and backfill it on a
// remote hit.
type LayeredCache struct {
	memory *MemoryCache
	remote Service
}

// NewLayeredCache layers an in-process cache over remote.
func NewLayeredCache(remote Service, memOpts ...MemoryOption) *LayeredCache {
	return &LayeredCache{
		memory: NewMemoryCache(memOpts...),
		remote: remote,
	}
}

func (lc *LayeredCache) Set(ctx context.Context, key, value string, expiration time.Duration) error {
	if err := lc.remote.Set(ctx, key, value, expiration); err != nil {
		return err
	}
	return lc.memory.Set(ctx, key, value, expiration)
}

func (lc *LayeredCache) Get(ctx context.Context, key string) (string, error) {
	val, err := lc.memory.Get(ctx, key)
	if err == nil {
		return val, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		return "", err
	}

	val, err = lc.remote.Get(ctx, key)
	if err != nil {
		return "", err
	}
	_ = lc.memory.Set(ctx, key, val, time.Minute)
	return val, nil
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	if err := lc.remote.Delete(ctx, keys...); err != nil {
		return err
	}
	return lc.memory.Delete(ctx, keys...)
}

// Close closes both layers.
func (lc *LayeredCache) Close() error {
	memErr := lc.memory.Close()
	if err := lc.remote.Close(); err != nil {
		return err
	}
	return memErr
}
