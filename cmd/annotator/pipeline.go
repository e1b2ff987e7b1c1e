package main

import (
	"context"
	"fmt"

	"github.com/dquang-mevn/purchase-search-ui/internal/config"
	"github.com/dquang-mevn/purchase-search-ui/pkg/annotate"
	"github.com/dquang-mevn/purchase-search-ui/pkg/batch"
	"github.com/dquang-mevn/purchase-search-ui/pkg/cache"
	"github.com/dquang-mevn/purchase-search-ui/pkg/ratelimit"
	"github.com/dquang-mevn/purchase-search-ui/pkg/result"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// pipeline wires limiter, annotator and assembler for repeated batch runs.
// One limiter is shared by every run, so concurrent runs share the cap.
type pipeline struct {
	cfg       *config.Config
	schema    result.Schema
	assembler *result.Assembler
	limiter   ratelimit.Admitter
	annotator annotate.Annotator
	cached    *annotate.Cached
	redis     *redis.Client
}

// newPipeline builds a pipeline from a validated configuration.
func newPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	schema, err := cfg.Schema()
	if err != nil {
		return nil, err
	}

	p := &pipeline{
		cfg:       cfg,
		schema:    schema,
		assembler: result.NewAssembler(schema),
	}

	if cfg.NeedsRedis() {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		p.redis = redis.NewClient(opts)
		if err := p.redis.Ping(ctx).Err(); err != nil {
			p.redis.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		log.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
	}

	p.limiter, err = ratelimit.New(cfg.RateLimit.Strategy, cfg.RateLimit.MaxCallsPerSecond, p.redis, cfg.RateLimit.RedisKey, log.Logger)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("create rate limiter: %w", err)
	}

	ac, err := cfg.AnnotateConfig()
	if err != nil {
		p.Close()
		return nil, err
	}
	gemini, err := annotate.NewGeminiClient(ctx, ac)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	p.annotator = gemini

	if cfg.Cache.Enabled {
		// The coordinator reads the cache before admission, so the
		// per-item call only fetches and stores.
		p.cached = annotate.NewCached(gemini, cache.NewManager(p.redis),
			gemini.Model(), gemini.PromptTemplate(), schema, cfg.Cache.TTL)
		p.annotator = annotate.AnnotatorFunc(p.cached.Fetch)
	}

	return p, nil
}

// annotate is the per-item function handed to the coordinator.
func (p *pipeline) annotate(ctx context.Context, item string) (result.Record, error) {
	fields, err := p.annotator.Annotate(ctx, item)
	if err != nil {
		return result.Record{}, err
	}
	return p.assembler.FromAny(item, fields), nil
}

// lookup answers item from the response cache without a rate-limit admission.
func (p *pipeline) lookup(ctx context.Context, item string) (result.Record, bool) {
	fields, ok := p.cached.Lookup(ctx, item)
	if !ok {
		return result.Record{}, false
	}
	return p.assembler.FromAny(item, fields), true
}

// run annotates items. Records are index-aligned with items even when err
// reports a cancelled run.
func (p *pipeline) run(ctx context.Context, items []string, progress batch.ProgressFunc) ([]result.Record, batch.Stats, error) {
	opts := []batch.Option{batch.WithFallback(p.assembler.Empty)}
	if progress != nil {
		opts = append(opts, batch.WithProgress(progress))
	}
	if p.cached != nil {
		opts = append(opts, batch.WithLookup(p.lookup))
	}

	coord, err := batch.New(batch.Config{
		Workers:     p.cfg.Batch.MaxConcurrentWorkers,
		CallTimeout: p.cfg.Gemini.CallTimeout,
	}, p.limiter, p.annotate, opts...)
	if err != nil {
		return nil, batch.Stats{}, err
	}

	records, err := coord.Run(ctx, items)
	return records, coord.LastStats(), err
}

// limiterState reports the limiter's window when the strategy exposes one.
func (p *pipeline) limiterState(ctx context.Context) (ratelimit.State, bool, error) {
	switch l := p.limiter.(type) {
	case *ratelimit.Window:
		return l.State(), true, nil
	case *ratelimit.RedisWindow:
		st, err := l.State(ctx)
		return st, true, err
	default:
		return ratelimit.State{}, false, nil
	}
}

// Close releases the Redis connection if one was opened.
func (p *pipeline) Close() error {
	if p.redis != nil {
		return p.redis.Close()
	}
	return nil
}
