package network

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics used in monitoring service.
var (
	healthyNodes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Help:      "Number of healthy consensus nodes seen on the last node selection",
			Name:      "healthy_nodes",
			Namespace: "ledger_go",
		},
	)
	unhealthyMarks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of times consensus nodes were marked unhealthy",
			Name:      "node_unhealthy_marks_total",
			Namespace: "ledger_go",
		},
	)
	probes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Help:      "Number of connection probes by the resulting state",
			Name:      "probes_total",
			Namespace: "ledger_go",
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(
		healthyNodes,
		unhealthyMarks,
		probes,
	)
}
