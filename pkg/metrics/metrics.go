// Package metrics provides the Prometheus registry and HTTP handler for the annotator.
// All metrics are defined in their respective packages (batch, ratelimit,
// annotate, cache) to maintain modularity and avoid circular dependencies.
//
// This package exposes them and documents every available metric.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the annotator.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the source Handler serves from.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the /metrics handler for Gatherer.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Batch Metrics (pkg/batch):
//   - annotator_batch_runs_total{outcome} (Counter): Batch runs by outcome (completed, cancelled)
//   - annotator_batch_items_total{outcome} (Counter): Items by outcome (succeeded, cached, failed, skipped)
//   - annotator_batch_duration_seconds (Histogram): Batch run duration
//   - annotator_batch_inflight_calls (Gauge): Annotation calls currently in flight
//
// Rate Limit Metrics (pkg/ratelimit):
//   - annotator_ratelimit_admissions_total{limiter} (Counter): Admitted calls by limiter (window, paced, redis)
//   - annotator_ratelimit_waits_total{limiter} (Counter): Admissions that had to wait
//   - annotator_ratelimit_wait_seconds{limiter} (Histogram): Time spent waiting for admission
//
// Annotation Metrics (pkg/annotate):
//   - annotator_requests_total{model, status} (Counter): Calls by model and outcome (ok or error class)
//   - annotator_request_duration_seconds{model} (Histogram): Call duration by model
//   - annotator_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, parse, empty)
//
// Cache Metrics (pkg/cache):
//   - annotator_cache_hits_total (Counter): Cache hits
//   - annotator_cache_misses_total (Counter): Cache misses
//   - annotator_cache_errors_total{operation} (Counter): Cache operation errors
//
// Example Prometheus Queries:
//
//   # Item Failure Rate
//   sum(rate(annotator_batch_items_total{outcome="failed"}[5m])) /
//   sum(rate(annotator_batch_items_total[5m]))
//
//   # Effective Call Rate (should stay under the configured cap)
//   sum(rate(annotator_ratelimit_admissions_total[1m]))
//
//   # Cache Hit Rate
//   sum(rate(annotator_cache_hits_total[5m])) /
//   (sum(rate(annotator_cache_hits_total[5m])) + sum(rate(annotator_cache_misses_total[5m])))
//
//   # P95 Call Latency
//   histogram_quantile(0.95, rate(annotator_request_duration_seconds_bucket[5m]))
