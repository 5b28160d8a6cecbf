package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type MuxOptions struct {
	// DB is pinged by /healthz when set; nil means the in-memory backend.
	DB      Pinger
	Backend string
	// Gatherer backs /metrics, prometheus.DefaultGatherer when nil.
	Gatherer prometheus.Gatherer
}

// NewMux returns a mux with the operational routes. Feature modules add
// their own routes afterwards.
func NewMux(opts MuxOptions) *http.ServeMux {
	if opts.Backend == "" {
		opts.Backend = "memory"
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	hc := &healthchecker{db: opts.DB, backend: opts.Backend}
	mux.HandleFunc("GET /healthz", hc.handleHealthz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	return mux
}
