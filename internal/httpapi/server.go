package httpapi

import (
	"net/http"
	"time"

	"climatecloud/internal/metrics"
)

type ServerOptions struct {
	Addr               string
	CORSAllowedOrigins []string
	Metrics            *metrics.Metrics
}

// Handler wraps mux with recovery, CORS and request logging.
func Handler(opts ServerOptions, mux http.Handler) http.Handler {
	return recoverer(cors(opts.CORSAllowedOrigins, requestLogger(opts.Metrics, mux)))
}

func NewServer(opts ServerOptions, mux http.Handler) *http.Server {
	return &http.Server{
		Addr:              opts.Addr,
		Handler:           Handler(opts, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
