package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// WindowConfig holds the tuning parameters of one counter tier.
type WindowConfig struct {
	Prefix        string        // key prefix, including trailing colon
	Window        time.Duration // rolling window length
	Limit         int           // attempts allowed inside the window; <=0 means track-only
	BlockDuration time.Duration // block applied once the limit is exhausted; 0 = no hard block
}

// Result is the outcome of a single consume.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration // zero when allowed
	Consumed   int
}

// Counter is a Redis rolling-window attempt counter with an optional
// block state once the limit is exhausted.
type Counter struct {
	redis redis.UniversalClient
	cfg   WindowConfig
}

// NewCounter creates a counter backed by the given Redis client.
func NewCounter(redisClient redis.UniversalClient, cfg WindowConfig) *Counter {
	return &Counter{redis: redisClient, cfg: cfg}
}

func (c *Counter) key(id string) string {
	return c.cfg.Prefix + id
}

func (c *Counter) blockKey(id string) string {
	return c.cfg.Prefix + id + ":block"
}

// Consume increments the identifier's counter and refreshes its window TTL
// in a single MULTI/EXEC round trip. Exhausting the limit flips the
// identifier into a blocked state until BlockDuration lapses.
func (c *Counter) Consume(ctx context.Context, id string) (Result, error) {
	if blocked, retryAfter, err := c.blockedFor(ctx, id); err != nil {
		return Result{}, err
	} else if blocked {
		return Result{Allowed: false, Remaining: 0, RetryAfter: retryAfter, Consumed: c.cfg.Limit + 1}, nil
	}

	var incr *redis.IntCmd
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, c.key(id))
		pipe.Expire(ctx, c.key(id), c.cfg.Window)
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	consumed := int(incr.Val())
	if c.cfg.Limit > 0 && consumed > c.cfg.Limit {
		retryAfter := c.cfg.Window
		if c.cfg.BlockDuration > 0 {
			retryAfter = c.cfg.BlockDuration
			if err := c.redis.Set(ctx, c.blockKey(id), "1", c.cfg.BlockDuration).Err(); err != nil {
				return Result{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
		}
		return Result{Allowed: false, Remaining: 0, RetryAfter: retryAfter, Consumed: consumed}, nil
	}

	remaining := 0
	if c.cfg.Limit > 0 {
		remaining = c.cfg.Limit - consumed
	}
	return Result{Allowed: true, Remaining: remaining, Consumed: consumed}, nil
}

func (c *Counter) blockedFor(ctx context.Context, id string) (bool, time.Duration, error) {
	if c.cfg.BlockDuration <= 0 {
		return false, 0, nil
	}

	ttl, err := c.redis.PTTL(ctx, c.blockKey(id)).Result()
	if err != nil {
		return false, 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if ttl > 0 {
		return true, ttl, nil
	}
	return false, 0, nil
}

// Get returns the current consumed count. Missing keys read as zero and do
// not reveal whether the identifier has ever been seen.
func (c *Counter) Get(ctx context.Context, id string) (int, error) {
	count, err := c.redis.Get(ctx, c.key(id)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

// Increment bumps the counter without enforcing the limit. Used by the
// track-only tiers (progressive delay, captcha gate).
func (c *Counter) Increment(ctx context.Context, id string) (int, error) {
	var incr *redis.IntCmd
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, c.key(id))
		pipe.Expire(ctx, c.key(id), c.cfg.Window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return int(incr.Val()), nil
}

// Reset deletes the counter and any block state. Resetting an absent
// identifier is a no-op.
func (c *Counter) Reset(ctx context.Context, id string) error {
	if err := c.redis.Del(ctx, c.key(id), c.blockKey(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
