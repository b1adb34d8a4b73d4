package metrics

import (
	"net/http"
	"runtime"
	"sync"

	"github.com/nspcc-dev/ledger-go/pkg/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Help:      "Client version, always 1",
			Name:      "build_info",
			Namespace: "ledger_go",
		},
		[]string{"version", "go_version"},
	)
	buildInfoOnce sync.Once
)

// NewPrometheusService creates a new service exposing client metrics on
// /metrics. Request, node and subscription metrics are registered by their
// packages in the default registry, the service adds build information.
func NewPrometheusService(cfg config.BasicService, log *zap.Logger) *Service {
	if log == nil {
		return nil
	}
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
		buildInfo.WithLabelValues(config.Version, runtime.Version()).Set(1)
	})

	// All servers share the handler and the metrics it serves.
	handler := http.NewServeMux()
	handler.Handle("/metrics", promhttp.InstrumentMetricHandler(
		prometheus.DefaultRegisterer,
		promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
			ErrorLog:      zap.NewStdLog(log.With(zap.String("service", "Prometheus"))),
			ErrorHandling: promhttp.ContinueOnError,
		}),
	))
	return NewService("Prometheus", newServers(cfg.GetAddresses(), handler), cfg, log)
}
