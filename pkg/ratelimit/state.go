// Package ratelimit implements admission gating for outbound annotation calls.
// Every limiter enforces the same bound: at most Cap admissions in any
// trailing one-second window, shared by all workers of a batch.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// WindowSize is the span of the rolling admission window.
const WindowSize = 1000 * time.Millisecond

// Redis keys for the shared admission window.
const (
	RedisKeyPrefix  = "annotator:rate_limit:"
	RedisKeyDefault = RedisKeyPrefix + "window"
)

// ErrInvalidCap is returned by every constructor when the per-second cap is not positive.
var ErrInvalidCap = errors.New("rate cap must be positive")

// Admitter suspends the caller until one more outbound call may proceed.
// Admit returns an error when ctx is done before admission or when a
// shared backend cannot be reached; no admission is recorded in either case.
type Admitter interface {
	Admit(ctx context.Context) error
}

// State is a point-in-time snapshot of an admission window.
type State struct {
	// InWindow is the number of admissions recorded in the trailing window.
	InWindow int `json:"in_window"`

	// Cap is the configured admissions-per-second ceiling.
	Cap int `json:"cap"`

	// RetryAfter is how long a new caller would wait right now. Zero when a slot is free.
	RetryAfter time.Duration `json:"retry_after"`

	// ObservedAt is when the snapshot was taken.
	ObservedAt time.Time `json:"observed_at"`
}

// Saturated reports whether the window is full.
func (s State) Saturated() bool {
	return s.InWindow >= s.Cap
}

// Headroom returns the number of admissions still available in the current window.
func (s State) Headroom() int {
	if s.InWindow >= s.Cap {
		return 0
	}
	return s.Cap - s.InWindow
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
