package syncengine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OutcomesTotal counts per-project outcomes.
	// Labels: result (applied-local, applied-remote, conflict-resolved, unchanged, failed)
	OutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "projectd",
			Subsystem: "sync",
			Name:      "outcomes_total",
			Help:      "Total number of per-project sync outcomes by result",
		},
		[]string{"result"},
	)

	// PassesTotal counts passes.
	// Labels: status (completed, cancelled, remote_unavailable)
	PassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "projectd",
			Subsystem: "sync",
			Name:      "passes_total",
			Help:      "Total number of sync passes by status",
		},
		[]string{"status"},
	)

	// PassDuration tracks how long passes take.
	PassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "projectd",
			Subsystem: "sync",
			Name:      "pass_duration_seconds",
			Help:      "Duration of sync passes in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// CircuitOpen is 1 while the remote circuit breaker is open.
	CircuitOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "projectd",
			Subsystem: "sync",
			Name:      "circuit_open",
			Help:      "Remote circuit breaker state (1=open or half-open, 0=closed)",
		},
	)
)

// RecordReport updates metrics from a finished pass.
func RecordReport(r *Report, status string) {
	if r == nil {
		return
	}
	for _, o := range r.Outcomes {
		OutcomesTotal.WithLabelValues(string(o.Result)).Inc()
	}
	PassesTotal.WithLabelValues(status).Inc()
	PassDuration.Observe(r.Duration().Seconds())
}

func recordBreakerState(cb *CircuitBreaker) {
	if cb == nil {
		return
	}
	if cb.State() == "closed" {
		CircuitOpen.Set(0)
	} else {
		CircuitOpen.Set(1)
	}
}
