// Package batch runs an annotation function over an ordered list of items
// with a fixed pool of workers, each call gated by a shared rate limiter.
//
// Workers claim indexes from a shared atomic cursor, so every item is
// claimed exactly once and the result slice is always index-aligned with the
// input, whatever order the calls complete in. A failed call never aborts the
// batch: its slot holds the fallback value and the failure is logged.
//
// Example usage:
//
//	limiter, _ := ratelimit.NewWindow(16, log.Logger)
//	coord, err := batch.New(batch.DefaultConfig(), limiter, annotateFn,
//		batch.WithFallback(assembler.Empty),
//		batch.WithProgress(func(done, total int) { bar.Set(done) }),
//	)
//	records, err := coord.Run(ctx, keywords)
//
// The coordinator:
//   - Spawns min(Workers, len(items)) workers
//   - Answers items from WithLookup first; hits take no admission
//   - Admits every call through the limiter before annotating
//   - Reports progress after every slot write, never decreasing
//   - On cancellation stops claiming and fills unprocessed slots with the fallback
//
// Duplicate suppression is the caller's job; see tabular.Dedupe.
package batch
