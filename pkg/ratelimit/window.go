package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Window is an in-process sliding-window limiter. It keeps the timestamps of
// admitted calls in admission order and prunes everything at least
// WindowSize old before each decision.
type Window struct {
	mu     sync.Mutex
	cap    int
	stamps []time.Time

	now    func() time.Time
	logger zerolog.Logger
}

// NewWindow creates a sliding-window limiter admitting at most cap calls per second.
func NewWindow(cap int, logger zerolog.Logger) (*Window, error) {
	if cap <= 0 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidCap, cap)
	}

	return &Window{
		cap:    cap,
		stamps: make([]time.Time, 0, cap),
		now:    time.Now,
		logger: logger.With().Str("limiter", "window").Logger(),
	}, nil
}

// Admit blocks until a slot in the trailing window is free and records the admission.
// A single wait is not assumed to be enough: concurrent callers may take the
// freed slot first, so the check is retried after every sleep.
func (w *Window) Admit(ctx context.Context) error {
	start := time.Now()
	waited := false

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		wait, ok := w.tryAdmit()
		if ok {
			observeAdmission("window", waited, time.Since(start).Seconds())
			return nil
		}

		if !waited {
			w.logger.Debug().
				Dur("wait", wait).
				Int("cap", w.cap).
				Msg("Rate window full, waiting for slot")
		}
		waited = true

		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

// tryAdmit is the prune-check-append critical section. It returns the time
// until the oldest admission leaves the window when no slot is free.
func (w *Window) tryAdmit() (time.Duration, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.prune(now)

	if len(w.stamps) < w.cap {
		w.stamps = append(w.stamps, now)
		return 0, true
	}

	return WindowSize - now.Sub(w.stamps[0]), false
}

// prune drops the prefix of admissions that are at least WindowSize old.
// Caller must hold mu.
func (w *Window) prune(now time.Time) {
	i := 0
	for i < len(w.stamps) && now.Sub(w.stamps[i]) >= WindowSize {
		i++
	}
	if i == 0 {
		return
	}
	n := copy(w.stamps, w.stamps[i:])
	w.stamps = w.stamps[:n]
}

// State returns a snapshot of the window.
func (w *Window) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.prune(now)

	state := State{
		InWindow:   len(w.stamps),
		Cap:        w.cap,
		ObservedAt: now,
	}
	if len(w.stamps) >= w.cap {
		state.RetryAfter = WindowSize - now.Sub(w.stamps[0])
	}
	return state
}

// Cap returns the configured admissions-per-second ceiling.
func (w *Window) Cap() int {
	return w.cap
}
