package observability

import (
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// httpStatusServerError is the threshold for HTTP server errors.
const httpStatusServerError = 500

// statusWriter wraps [http.ResponseWriter] to capture the status code.
type statusWriter struct {
	http.ResponseWriter

	statusCode int
	written    bool
}

// WriteHeader captures the status code before delegating to the wrapped writer.
func (sw *statusWriter) WriteHeader(code int) {
	if !sw.written {
		sw.statusCode = code
		sw.written = true
	}

	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(buf []byte) (int, error) {
	if !sw.written {
		sw.statusCode = http.StatusOK
		sw.written = true
	}

	n, err := sw.ResponseWriter.Write(buf)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}

	return n, nil
}

// RoutePatternFunc resolves the route template for a served request
// (e.g. "/status/{request_id}"). Called after the handler runs, so
// router-populated patterns are available. May return "".
type RoutePatternFunc func(hr *http.Request) string

// HTTPMiddleware returns a middleware that creates a span per request and
// records RED metrics. The metrics op label uses the route template from
// patternOf when available, keeping label cardinality bounded.
func HTTPMiddleware(tracer trace.Tracer, red *REDMetrics, patternOf RoutePatternFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, hr *http.Request) {
			start := time.Now()

			// Extract W3C traceparent/tracestate/baggage from incoming headers.
			parentCtx := otel.GetTextMapPropagator().Extract(hr.Context(), propagation.HeaderCarrier(hr.Header))

			ctx, span := tracer.Start(parentCtx, hr.Method+" "+hr.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(hr.Method),
					attribute.String("http.target", hr.URL.Path),
				),
			)
			defer span.End()

			sw := &statusWriter{ResponseWriter: rw}
			next.ServeHTTP(sw, hr.WithContext(ctx))

			if !sw.written {
				sw.statusCode = http.StatusOK
			}

			span.SetAttributes(semconv.HTTPResponseStatusCode(sw.statusCode))

			if sw.statusCode >= httpStatusServerError {
				span.SetStatus(codes.Error, http.StatusText(sw.statusCode))
			}

			if red == nil {
				return
			}

			op := hr.URL.Path
			if patternOf != nil {
				if pattern := patternOf(hr); pattern != "" {
					op = pattern
				}
			}

			red.RecordRequest(ctx, hr.Method+" "+op, redStatus(sw.statusCode), time.Since(start))
		})
	}
}

func redStatus(code int) string {
	if code >= httpStatusServerError {
		return statusError
	}

	return "ok"
}
