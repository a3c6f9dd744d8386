package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/scourlab/scour/internal/config"
	"github.com/scourlab/scour/internal/observability"
)

const corsMaxAgeSeconds = 300

// RouterDeps carries the pieces the API router wires together. Registry
// may be nil when the Prometheus endpoint is disabled; Ready checks gate
// the readiness probe.
type RouterDeps struct {
	Handlers    *Handlers
	CORSOrigins []string
	Tracer      trace.Tracer
	RED         *observability.REDMetrics
	Registry    *prometheus.Registry
	Ready       []observability.ReadyCheck
}

// NewRouter assembles the full HTTP surface: CORS, tracing and RED
// metrics middleware, the pipeline endpoints, and the probe endpoints.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         corsMaxAgeSeconds,
	}))
	r.Use(observability.HTTPMiddleware(deps.Tracer, deps.RED, chiPattern))

	r.Post("/analyze", deps.Handlers.Analyze)
	r.Get("/status/{request_id}", deps.Handlers.Status)
	r.Get("/api/requests", deps.Handlers.List)
	r.Get("/api/requests/{request_id}", deps.Handlers.Detail)
	r.Get("/api/metrics", deps.Handlers.Metrics)
	r.Get("/api/metrics/chart", deps.Handlers.Chart)

	r.Method(http.MethodGet, "/healthz", observability.HealthHandler())
	r.Method(http.MethodGet, "/readyz", observability.ReadyHandler(deps.Ready...))

	if deps.Registry != nil {
		r.Method(http.MethodGet, "/metrics", observability.PrometheusHandler(deps.Registry))
	}

	return r
}

// chiPattern resolves the matched route template for metric labels,
// falling back to the raw path for unmatched requests.
func chiPattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}

	return r.URL.Path
}

// Server wraps the HTTP listener with graceful shutdown.
type Server struct {
	http            *http.Server
	log             *slog.Logger
	shutdownTimeout time.Duration
}

// NewServer builds the listener from config. The handler is usually a
// NewRouter result.
func NewServer(cfg config.HTTPConfig, handler http.Handler, log *slog.Logger) *Server {
	return &Server{
		http: &http.Server{
			Addr:         cfg.Addr,
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		log:             log,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
}

// Run serves until ctx is canceled, then drains in-flight requests for
// at most the configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("api server listening", slog.String("addr", s.http.Addr))

		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("serve api: %w", err)

			return
		}

		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown api server: %w", err)
	}

	s.log.Info("api server stopped")

	return <-errCh
}
