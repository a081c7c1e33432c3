// Copyright 2026 The Panel Engine Authors
package reqchan

import (
	"context"
	"errors"
	"time"

	"github.com/ledwall/panelengine/internal/config"
	"github.com/redis/go-redis/v9"
)

// Redis is the production RequestChannel, backed by go-redis v9. Connection
// construction follows a standard pooled-client pattern, adapted from a
// work-queue client to a small KV client.
type Redis struct {
	client *redis.Client
}

func NewRedis(cfg config.RequestChannelConfig) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	return &Redis{client: client}
}

// NewRedisFromClient wraps an already-constructed client, used by tests to
// point the channel at a miniredis instance.
func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

func (r *Redis) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Receive short-polls key at a fixed cadence until it appears, the timeout
// elapses, or ctx is cancelled. Redis has no KV-shaped blocking read with a
// timeout (BRPOPLPUSH and friends are queue-shaped), so a bounded poll loop
// is the correct primitive here, not a missing feature.
func (r *Redis) Receive(ctx context.Context, key string, timeout time.Duration) (string, bool, error) {
	const pollInterval = 50 * time.Millisecond

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	if val, ok, err := r.Get(ctx, key); err != nil || ok {
		return val, ok, err
	}
	for {
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return "", false, nil
			}
			val, ok, err := r.Get(ctx, key)
			if err != nil || ok {
				return val, ok, err
			}
		}
	}
}
