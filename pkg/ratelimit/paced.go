package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Paced is a token-bucket limiter with a burst of one. Admissions are spread
// evenly, 1/cap seconds apart, which never puts more than cap reservations
// in a trailing window.
type Paced struct {
	limiter *rate.Limiter
	cap     int
	logger  zerolog.Logger
}

// NewPaced creates a paced limiter admitting at most cap calls per second.
func NewPaced(cap int, logger zerolog.Logger) (*Paced, error) {
	if cap <= 0 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidCap, cap)
	}

	return &Paced{
		limiter: rate.NewLimiter(rate.Limit(cap), 1),
		cap:     cap,
		logger:  logger.With().Str("limiter", "paced").Logger(),
	}, nil
}

// Admit waits for the next token.
func (p *Paced) Admit(ctx context.Context) error {
	start := time.Now()
	if err := p.limiter.Wait(ctx); err != nil {
		p.logger.Debug().Err(err).Msg("Admission abandoned")
		return err
	}

	waited := time.Since(start)
	observeAdmission("paced", waited > time.Millisecond, waited.Seconds())
	return nil
}

// Cap returns the configured admissions-per-second ceiling.
func (p *Paced) Cap() int {
	return p.cap
}
