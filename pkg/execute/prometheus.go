package execute

import "github.com/prometheus/client_golang/prometheus"

// Metrics used in request execution.
var (
	attempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Help:      "Number of request attempts by outcome",
			Name:      "attempts_total",
			Namespace: "ledger_go",
			Subsystem: "execute",
		},
		[]string{"outcome"},
	)
	executionTime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Help:      "Request execution time by result",
			Name:      "duration_seconds",
			Namespace: "ledger_go",
			Subsystem: "execute",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		attempts,
		executionTime,
	)
}
