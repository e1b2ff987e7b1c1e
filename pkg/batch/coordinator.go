package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dquang-mevn/purchase-search-ui/pkg/ratelimit"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidConfig is returned by New for configuration that cannot run a batch.
var ErrInvalidConfig = errors.New("invalid batch configuration")

// Config holds coordinator configuration.
type Config struct {
	// Workers is the number of concurrent workers.
	// The analyzer runs 8, which keeps a 16 req/s cap saturated.
	Workers int

	// CallTimeout bounds a single annotation call (0 means no timeout).
	CallTimeout time.Duration
}

// DefaultConfig returns the analyzer defaults.
func DefaultConfig() Config {
	return Config{
		Workers:     8,
		CallTimeout: 60 * time.Second,
	}
}

// Func annotates a single item.
type Func[T, R any] func(ctx context.Context, item T) (R, error)

// ProgressFunc observes (completed, total) after every slot write.
type ProgressFunc func(completed, total int)

// Option customizes a Coordinator.
type Option func(*options)

type options struct {
	progress ProgressFunc
	fallback any
	lookup   any
}

// WithProgress registers a progress observer. Calls are serialized and
// completed never decreases between calls.
func WithProgress(fn ProgressFunc) Option {
	return func(o *options) {
		o.progress = fn
	}
}

// WithFallback sets the value stored for failed or unprocessed items.
// Without it those slots hold the zero R.
func WithFallback[T, R any](fn func(item T) R) Option {
	return func(o *options) {
		o.fallback = fn
	}
}

// WithLookup sets a function consulted before admission. A hit becomes the
// item's result without an admission or an annotate call, so answers served
// from a cache do not spend the call budget.
func WithLookup[T, R any](fn func(ctx context.Context, item T) (R, bool)) Option {
	return func(o *options) {
		o.lookup = fn
	}
}

// Stats summarizes one batch run.
type Stats struct {
	BatchID   string
	Total     int
	Succeeded int
	Cached    int // succeeded items answered by the lookup
	Failed    int
	Skipped   int
	Workers   int
	Duration  time.Duration
}

// Coordinator drives a worker pool over a batch of items. It keeps no
// per-batch state, so Run may be called concurrently.
type Coordinator[T, R any] struct {
	config   Config
	admitter ratelimit.Admitter
	annotate Func[T, R]
	fallback func(T) R
	lookup   func(context.Context, T) (R, bool)
	progress ProgressFunc
	logger   zerolog.Logger

	mu   sync.Mutex
	last Stats
}

// New validates the configuration and creates a Coordinator.
func New[T, R any](cfg Config, admitter ratelimit.Admitter, annotate Func[T, R], opts ...Option) (*Coordinator[T, R], error) {
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("%w: workers must be at least 1 (got %d)", ErrInvalidConfig, cfg.Workers)
	}
	if cfg.CallTimeout < 0 {
		return nil, fmt.Errorf("%w: call timeout must not be negative", ErrInvalidConfig)
	}
	if admitter == nil {
		return nil, fmt.Errorf("%w: rate limiter is required", ErrInvalidConfig)
	}
	if annotate == nil {
		return nil, fmt.Errorf("%w: annotate function is required", ErrInvalidConfig)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	c := &Coordinator[T, R]{
		config:   cfg,
		admitter: admitter,
		annotate: annotate,
		progress: o.progress,
		logger:   log.With().Str("component", "batch-coordinator").Logger(),
	}

	if o.fallback != nil {
		fn, ok := o.fallback.(func(T) R)
		if !ok {
			return nil, fmt.Errorf("%w: fallback has type %T", ErrInvalidConfig, o.fallback)
		}
		c.fallback = fn
	} else {
		c.fallback = func(T) R {
			var zero R
			return zero
		}
	}

	if o.lookup != nil {
		fn, ok := o.lookup.(func(context.Context, T) (R, bool))
		if !ok {
			return nil, fmt.Errorf("%w: lookup has type %T", ErrInvalidConfig, o.lookup)
		}
		c.lookup = fn
	}

	return c, nil
}

// Run is a convenience for New followed by Coordinator.Run.
func Run[T, R any](ctx context.Context, items []T, annotate Func[T, R], admitter ratelimit.Admitter, cfg Config, opts ...Option) ([]R, error) {
	c, err := New(cfg, admitter, annotate, opts...)
	if err != nil {
		return nil, err
	}
	return c.Run(ctx, items)
}

// LastStats returns the summary of the most recently finished run.
func (c *Coordinator[T, R]) LastStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Run annotates every item and returns results index-aligned with items.
//
// The returned slice always has len(items) elements. Item failures are
// logged and replaced by the fallback; they are never returned. If ctx is
// cancelled, workers stop claiming, unprocessed slots get the fallback, and
// ctx.Err() is returned alongside the full-length slice.
func (c *Coordinator[T, R]) Run(ctx context.Context, items []T) ([]R, error) {
	start := time.Now()
	total := len(items)
	results := make([]R, total)

	batchID := uuid.NewString()
	logger := c.logger.With().Str("batch_id", batchID).Logger()

	if total == 0 {
		c.finish(logger, Stats{BatchID: batchID}, nil)
		return results, nil
	}

	workers := c.config.Workers
	if workers > total {
		workers = total
	}

	logger.Info().
		Int("total", total).
		Int("workers", workers).
		Msg("Starting batch")

	var (
		cursor    atomic.Int64
		succeeded atomic.Int64
		cached    atomic.Int64
		failed    atomic.Int64

		// filled[i] is written only by the worker that claimed i and read
		// after Wait.
		filled = make([]bool, total)

		progressMu sync.Mutex
		completed  int
	)

	report := func() {
		progressMu.Lock()
		defer progressMu.Unlock()
		completed++
		if c.progress != nil {
			c.progress(completed, total)
		}
	}

	var g errgroup.Group
	for workerID := range workers {
		g.Go(func() error {
			processed := 0
			for {
				idx := int(cursor.Add(1) - 1)
				if idx >= total {
					if processed > 0 {
						logger.Debug().
							Int("worker_id", workerID).
							Int("items_processed", processed).
							Msg("Worker completed")
					}
					return nil
				}
				if err := ctx.Err(); err != nil {
					logger.Debug().
						Int("worker_id", workerID).
						Int("items_processed", processed).
						Msg("Worker stopping (context cancelled)")
					return err
				}

				item := items[idx]
				value, hit, err := c.process(ctx, item)
				if err != nil && ctx.Err() != nil {
					// Abandoned mid-call; filled with the fallback below.
					return ctx.Err()
				}

				if err != nil {
					results[idx] = c.fallback(item)
					failed.Add(1)
					logger.Warn().
						Err(err).
						Int("worker_id", workerID).
						Int("index", idx).
						Interface("item", item).
						Msg("Item annotation failed")
				} else {
					results[idx] = value
					succeeded.Add(1)
					if hit {
						cached.Add(1)
					}
				}
				filled[idx] = true
				processed++

				report()
			}
		})
	}

	runErr := g.Wait()

	skipped := 0
	if runErr != nil {
		for i := range results {
			if !filled[i] {
				results[i] = c.fallback(items[i])
				skipped++
			}
		}
	}

	stats := Stats{
		BatchID:   batchID,
		Total:     total,
		Succeeded: int(succeeded.Load()),
		Cached:    int(cached.Load()),
		Failed:    int(failed.Load()),
		Skipped:   skipped,
		Workers:   workers,
		Duration:  time.Since(start),
	}
	c.finish(logger, stats, runErr)

	return results, runErr
}

// process answers item from the lookup, or admits one call and runs it.
// hit reports a lookup answer. A panic in annotate is an item failure.
func (c *Coordinator[T, R]) process(ctx context.Context, item T) (value R, hit bool, err error) {
	if c.lookup != nil {
		if v, ok := c.lookup(ctx, item); ok {
			return v, true, nil
		}
	}

	if err := c.admitter.Admit(ctx); err != nil {
		return value, false, fmt.Errorf("admission: %w", err)
	}

	callCtx := ctx
	if c.config.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.config.CallTimeout)
		defer cancel()
	}

	inFlight.Inc()
	defer inFlight.Dec()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("annotate panicked: %v", r)
		}
	}()

	value, err = c.annotate(callCtx, item)
	return value, false, err
}

func (c *Coordinator[T, R]) finish(logger zerolog.Logger, stats Stats, runErr error) {
	c.mu.Lock()
	c.last = stats
	c.mu.Unlock()

	itemsTotal.WithLabelValues("succeeded").Add(float64(stats.Succeeded - stats.Cached))
	itemsTotal.WithLabelValues("cached").Add(float64(stats.Cached))
	itemsTotal.WithLabelValues("failed").Add(float64(stats.Failed))
	itemsTotal.WithLabelValues("skipped").Add(float64(stats.Skipped))
	runDuration.Observe(stats.Duration.Seconds())

	if runErr != nil {
		runsTotal.WithLabelValues("cancelled").Inc()
		logger.Warn().
			Err(runErr).
			Int("succeeded", stats.Succeeded).
			Int("failed", stats.Failed).
			Int("skipped", stats.Skipped).
			Int("total", stats.Total).
			Dur("duration", stats.Duration).
			Msg("Batch cancelled - returning partial results")
		return
	}

	runsTotal.WithLabelValues("completed").Inc()
	logger.Info().
		Int("succeeded", stats.Succeeded).
		Int("cached", stats.Cached).
		Int("failed", stats.Failed).
		Int("total", stats.Total).
		Dur("duration", stats.Duration).
		Msg("Batch complete")
}
