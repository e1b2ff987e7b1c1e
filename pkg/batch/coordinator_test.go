package batch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dquang-mevn/purchase-search-ui/pkg/ratelimit"
	"github.com/rs/zerolog"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// newLimiter returns an in-process window limiter for tests.
func newLimiter(t *testing.T, cap int) *ratelimit.Window {
	t.Helper()
	w, err := ratelimit.NewWindow(cap, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewWindow(%d) error: %v", cap, err)
	}
	return w
}

// recordingAdmitter records the instant of every admission.
type recordingAdmitter struct {
	inner ratelimit.Admitter

	mu    sync.Mutex
	times []time.Time
}

func (r *recordingAdmitter) Admit(ctx context.Context) error {
	if err := r.inner.Admit(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	r.times = append(r.times, time.Now())
	r.mu.Unlock()
	return nil
}

func (r *recordingAdmitter) admissions() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Time, len(r.times))
	copy(out, r.times)
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

type admitterFunc func(ctx context.Context) error

func (f admitterFunc) Admit(ctx context.Context) error { return f(ctx) }

func upper(_ context.Context, item string) (string, error) {
	return strings.ToUpper(item), nil
}

func TestNew_Validation(t *testing.T) {
	limiter := newLimiter(t, 10)

	tests := []struct {
		name     string
		config   Config
		admitter ratelimit.Admitter
		annotate Func[string, string]
		opts     []Option
		errorMsg string
	}{
		{
			name:     "zero workers",
			config:   Config{Workers: 0},
			admitter: limiter,
			annotate: upper,
			errorMsg: "workers must be at least 1",
		},
		{
			name:     "negative timeout",
			config:   Config{Workers: 1, CallTimeout: -time.Second},
			admitter: limiter,
			annotate: upper,
			errorMsg: "call timeout",
		},
		{
			name:     "nil admitter",
			config:   DefaultConfig(),
			admitter: nil,
			annotate: upper,
			errorMsg: "rate limiter is required",
		},
		{
			name:     "nil annotate",
			config:   DefaultConfig(),
			admitter: limiter,
			annotate: nil,
			errorMsg: "annotate function is required",
		},
		{
			name:     "fallback of wrong type",
			config:   DefaultConfig(),
			admitter: limiter,
			annotate: upper,
			opts:     []Option{WithFallback(func(int) int { return 0 })},
			errorMsg: "fallback has type",
		},
		{
			name:     "lookup of wrong type",
			config:   DefaultConfig(),
			admitter: limiter,
			annotate: upper,
			opts:     []Option{WithLookup(func(context.Context, int) (string, bool) { return "", false })},
			errorMsg: "lookup has type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.config, tt.admitter, tt.annotate, tt.opts...)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error %v does not wrap ErrInvalidConfig", err)
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("error = %q, want substring %q", err.Error(), tt.errorMsg)
			}
		})
	}
}

func TestRun_ConfigErrorStartsNoWork(t *testing.T) {
	var calls atomic.Int32
	annotate := func(_ context.Context, item string) (string, error) {
		calls.Add(1)
		return item, nil
	}

	results, err := Run(context.Background(), []string{"a"}, annotate, newLimiter(t, 10), Config{Workers: 0})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Run() error = %v, want ErrInvalidConfig", err)
	}
	if results != nil {
		t.Errorf("Run() results = %v, want nil", results)
	}
	if calls.Load() != 0 {
		t.Errorf("annotate called %d times, want 0", calls.Load())
	}
}

func TestRun_FiveItemScenario(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}

	annotate := func(_ context.Context, item string) (map[string]string, error) {
		if item == "c" {
			return nil, errors.New("service rejected c")
		}
		return map[string]string{"category": strings.ToUpper(item)}, nil
	}
	empty := func(string) map[string]string {
		return map[string]string{"category": ""}
	}

	results, err := Run(context.Background(), items, annotate, newLimiter(t, 100),
		Config{Workers: 2}, WithFallback(empty))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	want := []string{"A", "B", "", "D", "E"}
	if len(results) != len(want) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(want))
	}
	for i, w := range want {
		got, ok := results[i]["category"]
		if !ok || got != w {
			t.Errorf("results[%d] = %v, want category %q", i, results[i], w)
		}
	}
}

func TestRun_LengthForAnyWorkerCount(t *testing.T) {
	for _, k := range []int{0, 1, 7, 50} {
		for _, w := range []int{1, 3, 8, 100} {
			t.Run(fmt.Sprintf("K=%d/W=%d", k, w), func(t *testing.T) {
				items := make([]int, k)
				for i := range items {
					items[i] = i
				}

				annotate := func(_ context.Context, n int) (int, error) { return n + 1, nil }

				results, err := Run(context.Background(), items, annotate, newLimiter(t, 1000), Config{Workers: w})
				if err != nil {
					t.Fatalf("Run() error: %v", err)
				}
				if len(results) != k {
					t.Fatalf("len(results) = %d, want %d", len(results), k)
				}
				for i, r := range results {
					if r != i+1 {
						t.Errorf("results[%d] = %d, want %d", i, r, i+1)
					}
				}
			})
		}
	}
}

func TestRun_IndexAlignmentUnderRandomLatency(t *testing.T) {
	const k = 120
	items := make([]string, k)
	for i := range items {
		items[i] = fmt.Sprintf("item-%03d", i)
	}

	var mu sync.Mutex
	rng := rand.New(rand.NewSource(42))
	jitter := func() time.Duration {
		mu.Lock()
		defer mu.Unlock()
		return time.Duration(rng.Intn(5000)) * time.Microsecond
	}

	annotate := func(ctx context.Context, item string) (string, error) {
		select {
		case <-time.After(jitter()):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return "done:" + item, nil
	}

	results, err := Run(context.Background(), items, annotate, newLimiter(t, 10000), Config{Workers: 8})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	for i, item := range items {
		if results[i] != "done:"+item {
			t.Errorf("results[%d] = %q, want %q", i, results[i], "done:"+item)
		}
	}
}

func TestRun_NeverExceedsRateCap(t *testing.T) {
	const rateCap = 5
	admitter := &recordingAdmitter{inner: newLimiter(t, rateCap)}

	items := make([]int, 3*rateCap)
	annotate := func(_ context.Context, n int) (int, error) { return n, nil }

	if _, err := Run(context.Background(), items, annotate, admitter, Config{Workers: 8}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	times := admitter.admissions()
	if len(times) != len(items) {
		t.Fatalf("admissions = %d, want %d", len(times), len(items))
	}

	// Any cap+1 consecutive admissions must span at least one window.
	// 20ms slack absorbs the gap between admission and recording.
	for i := 0; i+rateCap < len(times); i++ {
		span := times[i+rateCap].Sub(times[i])
		if span < ratelimit.WindowSize-20*time.Millisecond {
			t.Errorf("admissions %d..%d span %v, want >= %v", i, i+rateCap, span, ratelimit.WindowSize)
		}
	}
}

func TestRun_TwoPerSecondTiming(t *testing.T) {
	admitter := &recordingAdmitter{inner: newLimiter(t, 2)}

	annotate := func(_ context.Context, item string) (string, error) {
		time.Sleep(10 * time.Millisecond)
		return item, nil
	}

	start := time.Now()
	results, err := Run(context.Background(), []string{"1", "2", "3", "4", "5"}, annotate, admitter, Config{Workers: 2})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("len(results) = %d, want 5", len(results))
	}

	if elapsed < 1990*time.Millisecond {
		t.Errorf("elapsed = %v, want >= ~2s", elapsed)
	}

	times := admitter.admissions()
	if gap := times[2].Sub(times[0]); gap < 990*time.Millisecond {
		t.Errorf("3rd admission %v after the 1st, want >= ~1s", gap)
	}
}

func TestRun_FailureSubsetYieldsFallback(t *testing.T) {
	const k = 30
	items := make([]int, k)
	for i := range items {
		items[i] = i
	}
	failing := func(n int) bool { return n%3 == 0 }

	annotate := func(_ context.Context, n int) (string, error) {
		if failing(n) {
			return "partial", fmt.Errorf("item %d failed", n)
		}
		return fmt.Sprintf("ok-%d", n), nil
	}
	fallback := func(int) string { return "" }

	c, err := New(Config{Workers: 4}, newLimiter(t, 1000), annotate, WithFallback(fallback))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	results, err := c.Run(context.Background(), items)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	for i, r := range results {
		want := fmt.Sprintf("ok-%d", i)
		if failing(i) {
			want = ""
		}
		if r != want {
			t.Errorf("results[%d] = %q, want %q", i, r, want)
		}
	}

	stats := c.LastStats()
	if stats.Failed != 10 || stats.Succeeded != 20 || stats.Skipped != 0 || stats.Total != k {
		t.Errorf("stats = %+v, want 20 succeeded / 10 failed of %d", stats, k)
	}
	if stats.BatchID == "" {
		t.Error("stats.BatchID should be set")
	}
}

func TestRun_ProgressMonotonic(t *testing.T) {
	const k = 64

	var mu sync.Mutex
	var seen []int
	var totals []int
	progress := func(completed, total int) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, completed)
		totals = append(totals, total)
	}

	annotate := func(_ context.Context, n int) (int, error) {
		if n%7 == 0 {
			return 0, errors.New("fail")
		}
		return n, nil
	}

	items := make([]int, k)
	for i := range items {
		items[i] = i
	}

	if _, err := Run(context.Background(), items, annotate, newLimiter(t, 10000), Config{Workers: 8}, WithProgress(progress)); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	if len(seen) != k {
		t.Fatalf("progress called %d times, want %d", len(seen), k)
	}

	reachedTotal := 0
	for i, n := range seen {
		if i > 0 && n < seen[i-1] {
			t.Errorf("progress decreased: %d after %d", n, seen[i-1])
		}
		if n > k {
			t.Errorf("progress %d exceeds total %d", n, k)
		}
		if n == k {
			reachedTotal++
		}
		if totals[i] != k {
			t.Errorf("total = %d, want %d", totals[i], k)
		}
	}
	if reachedTotal != 1 {
		t.Errorf("completed == total reported %d times, want exactly 1", reachedTotal)
	}
	if seen[len(seen)-1] != k {
		t.Errorf("final progress = %d, want %d", seen[len(seen)-1], k)
	}
}

func TestRun_Idempotent(t *testing.T) {
	items := []string{"sony a7", "東芝 炊飯器", "airpods", "", "canon eos"}

	annotate := func(_ context.Context, item string) (string, error) {
		if item == "" {
			return "", errors.New("empty item")
		}
		return strings.ToUpper(item), nil
	}

	c, err := New(Config{Workers: 3}, newLimiter(t, 100), annotate)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	first, err := c.Run(context.Background(), items)
	if err != nil {
		t.Fatalf("first Run() error: %v", err)
	}
	second, err := c.Run(context.Background(), items)
	if err != nil {
		t.Fatalf("second Run() error: %v", err)
	}

	for i := range items {
		if first[i] != second[i] {
			t.Errorf("results[%d]: first %q, second %q", i, first[i], second[i])
		}
	}
}

func TestRun_ConcurrencyBound(t *testing.T) {
	const workers = 3

	var current, peak atomic.Int32
	annotate := func(_ context.Context, n int) (int, error) {
		now := current.Add(1)
		for {
			p := peak.Load()
			if now <= p || peak.CompareAndSwap(p, now) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		current.Add(-1)
		return n, nil
	}

	items := make([]int, 40)
	if _, err := Run(context.Background(), items, annotate, newLimiter(t, 10000), Config{Workers: workers}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if p := peak.Load(); p > workers {
		t.Errorf("peak in-flight = %d, want <= %d", p, workers)
	}
}

func TestRun_MoreWorkersThanItems(t *testing.T) {
	c, err := New(Config{Workers: 10}, newLimiter(t, 100), upper)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	results, err := c.Run(context.Background(), []string{"x", "y", "z"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if strings.Join(results, ",") != "X,Y,Z" {
		t.Errorf("results = %v", results)
	}
	if w := c.LastStats().Workers; w != 3 {
		t.Errorf("workers = %d, want 3", w)
	}
}

func TestRun_Cancellation(t *testing.T) {
	const k = 20
	items := make([]int, k)
	for i := range items {
		items[i] = i + 1
	}

	var calls atomic.Int32
	annotate := func(_ context.Context, n int) (int, error) {
		calls.Add(1)
		return n, nil
	}
	fallback := func(int) int { return -1 }

	// At 2/s the batch would need ~10s.
	c, err := New(Config{Workers: 4}, newLimiter(t, 2), annotate, WithFallback(fallback))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	results, err := c.Run(ctx, items)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want context.DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Run() took %v after cancellation, want prompt return", elapsed)
	}
	if len(results) != k {
		t.Fatalf("len(results) = %d, want %d", len(results), k)
	}

	processed := 0
	for i, r := range results {
		switch r {
		case i + 1:
			processed++
		case -1:
		default:
			t.Errorf("results[%d] = %d, want %d or fallback", i, r, i+1)
		}
	}

	if processed != int(calls.Load()) {
		t.Errorf("processed slots = %d, annotate calls = %d", processed, calls.Load())
	}
	if processed != 2 {
		t.Errorf("processed = %d, want 2 (the first window only)", processed)
	}

	stats := c.LastStats()
	if stats.Skipped != k-processed {
		t.Errorf("stats.Skipped = %d, want %d", stats.Skipped, k-processed)
	}
}

func TestRun_AnnotatePanicIsItemFailure(t *testing.T) {
	annotate := func(_ context.Context, item string) (string, error) {
		if item == "boom" {
			panic("unexpected response shape")
		}
		return item, nil
	}

	results, err := Run(context.Background(), []string{"a", "boom", "b"}, annotate, newLimiter(t, 100), Config{Workers: 2},
		WithFallback(func(string) string { return "-" }))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if strings.Join(results, ",") != "a,-,b" {
		t.Errorf("results = %v, want [a - b]", results)
	}
}

func TestRun_AdmissionFailureIsItemFailure(t *testing.T) {
	var calls atomic.Int32
	annotate := func(_ context.Context, item string) (string, error) {
		calls.Add(1)
		return item, nil
	}
	broken := admitterFunc(func(context.Context) error {
		return errors.New("limiter backend unavailable")
	})

	results, err := Run(context.Background(), []string{"a", "b"}, annotate, broken, Config{Workers: 2},
		WithFallback(func(string) string { return "" }))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(results) != 2 || results[0] != "" || results[1] != "" {
		t.Errorf("results = %q, want two empty slots", results)
	}
	if calls.Load() != 0 {
		t.Errorf("annotate called %d times without admission", calls.Load())
	}
}

func TestRun_CallTimeout(t *testing.T) {
	annotate := func(ctx context.Context, item string) (string, error) {
		if item == "slow" {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return item, nil
	}

	c, err := New(Config{Workers: 2, CallTimeout: 20 * time.Millisecond}, newLimiter(t, 100), annotate)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	results, err := c.Run(context.Background(), []string{"fast", "slow"})
	if err != nil {
		t.Fatalf("Run() error = %v, a per-call timeout must not abort the batch", err)
	}
	if results[0] != "fast" || results[1] != "" {
		t.Errorf("results = %q", results)
	}
	if stats := c.LastStats(); stats.Failed != 1 {
		t.Errorf("stats.Failed = %d, want 1", stats.Failed)
	}
}

func TestRun_LookupHitsSkipAdmission(t *testing.T) {
	items := make([]string, 12)
	for i := range items {
		if i%3 == 0 {
			items[i] = fmt.Sprintf("miss-%d", i)
		} else {
			items[i] = fmt.Sprintf("hit-%d", i)
		}
	}

	var calls atomic.Int32
	annotate := func(ctx context.Context, item string) (string, error) {
		calls.Add(1)
		return upper(ctx, item)
	}
	lookup := func(_ context.Context, item string) (string, bool) {
		if strings.HasPrefix(item, "hit-") {
			return "stored:" + item, true
		}
		return "", false
	}

	rec := &recordingAdmitter{inner: newLimiter(t, 100)}
	c, err := New(Config{Workers: 4}, rec, annotate, WithLookup(lookup))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	results, err := c.Run(context.Background(), items)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	for i, item := range items {
		want := strings.ToUpper(item)
		if strings.HasPrefix(item, "hit-") {
			want = "stored:" + item
		}
		if results[i] != want {
			t.Errorf("results[%d] = %q, want %q", i, results[i], want)
		}
	}
	if got := len(rec.admissions()); got != 4 {
		t.Errorf("admissions = %d, want 4 (misses only)", got)
	}
	if calls.Load() != 4 {
		t.Errorf("annotate called %d times, want 4", calls.Load())
	}
	stats := c.LastStats()
	if stats.Succeeded != 12 || stats.Cached != 8 || stats.Failed != 0 {
		t.Errorf("stats = %+v, want 12 succeeded with 8 cached", stats)
	}
}

func TestRun_AllLookupHitsIgnoreRateCap(t *testing.T) {
	items := make([]string, 20)
	for i := range items {
		items[i] = fmt.Sprintf("kw-%d", i)
	}
	lookup := func(_ context.Context, item string) (string, bool) {
		return item, true
	}

	// At one admission per second, 20 admitted calls would take 19s.
	rec := &recordingAdmitter{inner: newLimiter(t, 1)}
	start := time.Now()
	results, err := Run(context.Background(), items, upper, rec, Config{Workers: 4}, WithLookup(lookup))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("all-hit batch took %v", elapsed)
	}
	if got := len(rec.admissions()); got != 0 {
		t.Errorf("admissions = %d, want 0", got)
	}
	for i := range items {
		if results[i] != items[i] {
			t.Errorf("results[%d] = %q, want %q", i, results[i], items[i])
		}
	}
}
