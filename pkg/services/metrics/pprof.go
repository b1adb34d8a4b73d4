package metrics

import (
	"net/http"
	"net/http/pprof"

	"github.com/nspcc-dev/ledger-go/pkg/config"
	"go.uber.org/zap"
)

// pprofHandlers maps the paths served by the pprof service, named profiles
// are served by the index.
var pprofHandlers = map[string]http.HandlerFunc{
	"/debug/pprof/":        pprof.Index,
	"/debug/pprof/cmdline": pprof.Cmdline,
	"/debug/pprof/profile": pprof.Profile,
	"/debug/pprof/symbol":  pprof.Symbol,
	"/debug/pprof/trace":   pprof.Trace,
}

// NewPprofService creates a new service for profiling a long-running
// command, see https://golang.org/pkg/net/http/pprof/.
func NewPprofService(cfg config.BasicService, log *zap.Logger) *Service {
	if log == nil {
		return nil
	}

	handler := http.NewServeMux()
	for path, h := range pprofHandlers {
		handler.HandleFunc(path, h)
	}
	return NewService("Pprof", newServers(cfg.GetAddresses(), handler), cfg, log)
}
