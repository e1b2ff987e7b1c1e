package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for admission gating.
var (
	admissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "annotator_ratelimit_admissions_total",
		Help: "Total number of calls admitted by the rate limiter",
	}, []string{"limiter"})

	waitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "annotator_ratelimit_waits_total",
		Help: "Total number of admissions that had to wait for a free slot",
	}, []string{"limiter"})

	waitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "annotator_ratelimit_wait_seconds",
		Help:    "Time spent waiting for admission",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"limiter"})
)

func observeAdmission(limiter string, waited bool, seconds float64) {
	admissionsTotal.WithLabelValues(limiter).Inc()
	if waited {
		waitsTotal.WithLabelValues(limiter).Inc()
		waitSeconds.WithLabelValues(limiter).Observe(seconds)
	}
}
