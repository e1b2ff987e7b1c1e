package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// admitScript prunes, checks and records in one atomic step. It uses the
// Redis server clock so that every process shares a single time source.
// Returns 0 on admission, otherwise the milliseconds until the oldest entry expires.
var admitScript = redis.NewScript(`
local key = KEYS[1]
local window = tonumber(ARGV[1])
local cap = tonumber(ARGV[2])
local member = ARGV[3]
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < cap then
  redis.call('ZADD', key, now, member)
  redis.call('PEXPIRE', key, window)
  return 0
end
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local wait = window - (now - tonumber(oldest[2]))
if wait < 1 then
  wait = 1
end
return wait
`)

// stateScript returns {count, retry_after_ms} without admitting.
var stateScript = redis.NewScript(`
local key = KEYS[1]
local window = tonumber(ARGV[1])
local cap = tonumber(ARGV[2])
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < cap then
  return {count, 0}
end
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
return {count, window - (now - tonumber(oldest[2]))}
`)

// RedisWindow is a sliding-window limiter whose window lives in a Redis
// sorted set, so several annotator processes sharing one API key also share
// one per-second cap.
type RedisWindow struct {
	redis  *redis.Client
	key    string
	cap    int
	logger zerolog.Logger
}

// NewRedisWindow creates a Redis-backed limiter. An empty key selects RedisKeyDefault.
func NewRedisWindow(redisClient *redis.Client, key string, cap int, logger zerolog.Logger) (*RedisWindow, error) {
	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cap <= 0 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidCap, cap)
	}
	if key == "" {
		key = RedisKeyDefault
	}

	return &RedisWindow{
		redis:  redisClient,
		key:    key,
		cap:    cap,
		logger: logger.With().Str("limiter", "redis").Str("key", key).Logger(),
	}, nil
}

// Admit blocks until the shared window has a free slot.
// Redis errors are returned to the caller; the worker treats them as an item failure.
func (r *RedisWindow) Admit(ctx context.Context) error {
	start := time.Now()
	waited := false
	member := uuid.NewString()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		waitMs, err := admitScript.Run(ctx, r.redis, []string{r.key},
			WindowSize.Milliseconds(), r.cap, member).Int64()
		if err != nil {
			return fmt.Errorf("redis admit: %w", err)
		}

		if waitMs == 0 {
			observeAdmission("redis", waited, time.Since(start).Seconds())
			return nil
		}

		wait := time.Duration(waitMs) * time.Millisecond
		if !waited {
			r.logger.Debug().
				Dur("wait", wait).
				Int("cap", r.cap).
				Msg("Shared rate window full, waiting for slot")
		}
		waited = true

		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

// State retrieves the current shared window state.
func (r *RedisWindow) State(ctx context.Context) (State, error) {
	vals, err := stateScript.Run(ctx, r.redis, []string{r.key},
		WindowSize.Milliseconds(), r.cap).Int64Slice()
	if err != nil {
		return State{}, fmt.Errorf("redis state: %w", err)
	}
	if len(vals) != 2 {
		return State{}, fmt.Errorf("redis state: unexpected reply length %d", len(vals))
	}

	return State{
		InWindow:   int(vals[0]),
		Cap:        r.cap,
		RetryAfter: time.Duration(vals[1]) * time.Millisecond,
		ObservedAt: time.Now(),
	}, nil
}

// Reset deletes the shared window.
func (r *RedisWindow) Reset(ctx context.Context) error {
	if err := r.redis.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Cap returns the configured admissions-per-second ceiling.
func (r *RedisWindow) Cap() int {
	return r.cap
}
