// Package ratelimit throttles repeated actions per caller using Redis keys
// with an expiry.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter reports whether key may perform its action now.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Waiter is implemented by limiters that know when a denied key may retry.
type Waiter interface {
	Remaining(ctx context.Context, key string) (time.Duration, error)
}

// Store is the subset of redis.Cmdable used by Redis.
type Store interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	TTL(ctx context.Context, key string) *redis.DurationCmd
}

// Redis allows one action per key per window. A nil store allows
// everything.
type Redis struct {
	store  Store
	action string
	window time.Duration
}

var _ Waiter = (*Redis)(nil)

func NewRedis(store Store, action string, window time.Duration) *Redis {
	return &Redis{store: store, action: action, window: window}
}

func (r *Redis) key(id string) string {
	return fmt.Sprintf("rate_limit:user:%s:%s", id, r.action)
}

func (r *Redis) Allow(ctx context.Context, id string) (bool, error) {
	if r == nil || r.store == nil || r.window <= 0 {
		return true, nil
	}
	ok, err := r.store.SetNX(ctx, r.key(id), "locked", r.window).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit check: %w", err)
	}
	return ok, nil
}

// Remaining returns how long id has to wait before Allow succeeds again.
func (r *Redis) Remaining(ctx context.Context, id string) (time.Duration, error) {
	if r == nil || r.store == nil {
		return 0, nil
	}
	d, err := r.store.TTL(ctx, r.key(id)).Result()
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

// Unlimited allows every action.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }
