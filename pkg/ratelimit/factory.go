package ratelimit

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Strategy selects a limiter implementation.
type Strategy string

const (
	// StrategyWindow is the in-process sliding window (default).
	StrategyWindow Strategy = "window"

	// StrategyPaced is the burst-1 token bucket.
	StrategyPaced Strategy = "paced"

	// StrategyRedis is the sliding window shared through Redis.
	StrategyRedis Strategy = "redis"
)

// Valid reports whether s names a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyWindow, StrategyPaced, StrategyRedis:
		return true
	default:
		return false
	}
}

// New builds the limiter for strategy. redisClient and redisKey are only used
// by StrategyRedis; an empty key selects RedisKeyDefault.
func New(strategy Strategy, cap int, redisClient *redis.Client, redisKey string, logger zerolog.Logger) (Admitter, error) {
	var (
		admitter Admitter
		err      error
	)

	switch strategy {
	case StrategyWindow, "":
		var w *Window
		w, err = NewWindow(cap, logger)
		admitter = w
	case StrategyPaced:
		var p *Paced
		p, err = NewPaced(cap, logger)
		admitter = p
	case StrategyRedis:
		var r *RedisWindow
		r, err = NewRedisWindow(redisClient, redisKey, cap, logger)
		admitter = r
	default:
		return nil, fmt.Errorf("unknown rate limit strategy %q", strategy)
	}

	if err != nil {
		return nil, err
	}
	return admitter, nil
}
