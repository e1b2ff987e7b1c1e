package annotate

import (
	"context"
	"errors"
	"time"

	"github.com/dquang-mevn/purchase-search-ui/pkg/cache"
	"github.com/dquang-mevn/purchase-search-ui/pkg/result"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultCacheTTL is how long a successful response is reused.
const DefaultCacheTTL = 24 * time.Hour

// Cached serves repeated items from Redis and only calls the wrapped
// Annotator on a miss. Failures are never cached.
type Cached struct {
	inner   Annotator
	cache   *cache.Manager
	model   string
	variant string
	ttl     time.Duration
	logger  zerolog.Logger
}

// NewCached wraps inner. model, prompt and schema scope the cache keys so
// that editing the prompt never serves answers produced by the old one.
func NewCached(inner Annotator, manager *cache.Manager, model, prompt string, schema result.Schema, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cached{
		inner:   inner,
		cache:   manager,
		model:   model,
		variant: cache.Digest(prompt, schema.String()),
		ttl:     ttl,
		logger:  log.With().Str("component", "annotation-cache").Logger(),
	}
}

// Annotate returns the cached response for item or delegates to the wrapped Annotator.
// Cache errors degrade to a direct call.
func (c *Cached) Annotate(ctx context.Context, item string) (map[string]any, error) {
	if fields, ok := c.Lookup(ctx, item); ok {
		return fields, nil
	}
	return c.Fetch(ctx, item)
}

// Lookup returns the cached response for item. Misses and cache errors
// both report false.
func (c *Cached) Lookup(ctx context.Context, item string) (map[string]any, bool) {
	entry, err := c.cache.Get(ctx, c.key(item))
	switch {
	case err == nil:
		c.logger.Debug().Str("item", item).Msg("Cache hit")
		return entry.Fields, true
	case !errors.Is(err, cache.ErrCacheMiss):
		c.logger.Warn().Err(err).Str("item", item).Msg("Cache get error")
	}
	return nil, false
}

// Fetch calls the wrapped Annotator without reading the cache and stores
// a successful response.
func (c *Cached) Fetch(ctx context.Context, item string) (map[string]any, error) {
	fields, err := c.inner.Annotate(ctx, item)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Set(ctx, c.key(item), cache.NewEntry(fields, c.ttl)); err != nil {
		c.logger.Warn().Err(err).Str("item", item).Msg("Failed to cache response")
	}

	return fields, nil
}

func (c *Cached) key(item string) cache.CacheKey {
	return cache.CacheKey{Model: c.model, Variant: c.variant, Item: item}
}
