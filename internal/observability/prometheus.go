package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusHandler returns an [http.Handler] serving the /metrics scrape
// endpoint for the given registry. The registry must be the one wired into
// the meter provider by Init (Providers.PromRegistry); a nil registry yields
// a handler that always responds 503.
func PrometheusHandler(registry *prometheus.Registry) http.Handler {
	if registry == nil {
		return http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
			http.Error(rw, "metrics collection disabled", http.StatusServiceUnavailable)
		})
	}

	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
