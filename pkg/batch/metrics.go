package batch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for batch runs.
var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "annotator_batch_runs_total",
		Help: "Total batch runs by outcome",
	}, []string{"outcome"})

	itemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "annotator_batch_items_total",
		Help: "Total batch items by outcome (succeeded, cached, failed, skipped)",
	}, []string{"outcome"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "annotator_batch_duration_seconds",
		Help:    "Batch run duration in seconds",
		Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	})

	inFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "annotator_batch_inflight_calls",
		Help: "Annotation calls currently in flight",
	})
)
