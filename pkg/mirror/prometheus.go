package mirror

import "github.com/prometheus/client_golang/prometheus"

// Metrics used in mirror subscriptions.
var (
	reconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Help:      "Number of mirror stream reconnections by reason",
			Name:      "reconnects_total",
			Namespace: "ledger_go",
			Subsystem: "mirror",
		},
		[]string{"reason"},
	)
	delivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Help:      "Number of items delivered by mirror streams",
			Name:      "delivered_total",
			Namespace: "ledger_go",
			Subsystem: "mirror",
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(
		reconnects,
		delivered,
	)
}
