// Package cache stores annotation responses in Redis so that re-running a
// batch over the same keywords does not spend API quota twice.
//
// Entries are keyed by model, a digest of the prompt template and output
// schema, and the item text. A change to any of those yields a new key, so
// stale answers for an edited prompt are never served.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	manager := cache.NewManager(redisClient)
//
//	key := cache.NewKey("gemini-flash-lite-latest", prompt, schema.String(), "sony a7")
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// call the service, then
//		_ = manager.Set(ctx, key, cache.NewEntry(fields, 24*time.Hour))
//	}
//
// Purge drops every entry of one model, or the whole cache:
//
//	n, err := manager.Purge(ctx, "gemini-flash-lite-latest")
//
// # Metrics
//
//   - annotator_cache_hits_total - Cache hits
//   - annotator_cache_misses_total - Cache misses
//   - annotator_cache_errors_total{operation} - Cache operation errors
package cache
