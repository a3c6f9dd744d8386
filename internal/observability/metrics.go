package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricRequestsTotal    = "scour.requests.total"
	metricRequestDuration  = "scour.request.duration.seconds"
	metricErrorsTotal      = "scour.errors.total"
	metricInflightRequests = "scour.inflight.requests"

	metricTasksConsumed     = "scour.tasks.consumed.total"
	metricClaimsLost        = "scour.claims.lost.total"
	metricPipelineFailed    = "scour.pipeline.failed.total"
	metricStageDuration     = "scour.stage.duration.seconds"
	metricInferenceDuration = "scour.inference.duration.ms"

	attrOp      = "op"
	attrStatus  = "status"
	attrStage   = "stage"
	attrOutcome = "outcome"

	statusError = "error"
)

// Task outcomes recorded on the consumed-tasks counter.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeLost    = "lost"
	OutcomeDropped = "dropped"
)

// durationBucketBoundaries covers 10ms to 600s: HTTP handlers are sub-second,
// a search stage with politeness delays runs seconds, an analysis stage with
// a folded corpus can run minutes.
var durationBucketBoundaries = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// inferenceBucketBoundaries covers 100ms to 5min of summarizer wall time.
var inferenceBucketBoundaries = []float64{100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000, 300000}

// REDMetrics holds the OTel instruments for Rate, Error, Duration metrics
// on the HTTP and MCP surfaces.
type REDMetrics struct {
	requestsTotal    metric.Int64Counter
	requestDuration  metric.Float64Histogram
	errorsTotal      metric.Int64Counter
	inflightRequests metric.Int64UpDownCounter
}

// NewREDMetrics creates RED metric instruments from the given meter.
func NewREDMetrics(mt metric.Meter) (*REDMetrics, error) {
	b := newMetricBuilder(mt)

	rm := &REDMetrics{
		requestsTotal:    b.counter(metricRequestsTotal, "Total number of requests", "{request}"),
		requestDuration:  b.histogram(metricRequestDuration, "Request duration in seconds", "s", durationBucketBoundaries...),
		errorsTotal:      b.counter(metricErrorsTotal, "Total number of errors", "{error}"),
		inflightRequests: b.upDownCounter(metricInflightRequests, "Number of in-flight requests", "{request}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return rm, nil
}

// RecordRequest records a completed request with its operation, status, and duration.
func (rm *REDMetrics) RecordRequest(ctx context.Context, op, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(attrOp, op),
		attribute.String(attrStatus, status),
	)

	rm.requestsTotal.Add(ctx, 1, attrs)
	rm.requestDuration.Record(ctx, duration.Seconds(), attrs)

	if status == statusError {
		rm.errorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String(attrOp, op),
		))
	}
}

// TrackInflight increments the in-flight gauge and returns a function to decrement it.
func (rm *REDMetrics) TrackInflight(ctx context.Context, op string) func() {
	attrs := metric.WithAttributes(attribute.String(attrOp, op))
	rm.inflightRequests.Add(ctx, 1, attrs)

	return func() {
		rm.inflightRequests.Add(ctx, -1, attrs)
	}
}

// PipelineMetrics holds the OTel instruments for stage worker processing.
type PipelineMetrics struct {
	tasksConsumed     metric.Int64Counter
	claimsLost        metric.Int64Counter
	pipelineFailed    metric.Int64Counter
	stageDuration     metric.Float64Histogram
	inferenceDuration metric.Float64Histogram
}

// NewPipelineMetrics creates stage worker instruments from the given meter.
func NewPipelineMetrics(mt metric.Meter) (*PipelineMetrics, error) {
	b := newMetricBuilder(mt)

	pm := &PipelineMetrics{
		tasksConsumed:     b.counter(metricTasksConsumed, "Total bus tasks consumed", "{task}"),
		claimsLost:        b.counter(metricClaimsLost, "Total claims lost to another replica", "{claim}"),
		pipelineFailed:    b.counter(metricPipelineFailed, "Total requests marked failed", "{request}"),
		stageDuration:     b.histogram(metricStageDuration, "Stage handling duration in seconds", "s", durationBucketBoundaries...),
		inferenceDuration: b.histogram(metricInferenceDuration, "Summarizer inference wall time in milliseconds", "ms", inferenceBucketBoundaries...),
	}

	if b.err != nil {
		return nil, b.err
	}

	return pm, nil
}

// RecordTask records one consumed task with its stage, outcome, and handling duration.
func (pm *PipelineMetrics) RecordTask(ctx context.Context, stage, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(attrStage, stage),
		attribute.String(attrOutcome, outcome),
	)

	pm.tasksConsumed.Add(ctx, 1, attrs)
	pm.stageDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String(attrStage, stage)))

	switch outcome {
	case OutcomeLost:
		pm.claimsLost.Add(ctx, 1, metric.WithAttributes(attribute.String(attrStage, stage)))
	case OutcomeFailed:
		pm.pipelineFailed.Add(ctx, 1, metric.WithAttributes(attribute.String(attrStage, stage)))
	}
}

// RecordInference records one summarizer call's wall time in milliseconds.
func (pm *PipelineMetrics) RecordInference(ctx context.Context, elapsed time.Duration) {
	pm.inferenceDuration.Record(ctx, float64(elapsed.Milliseconds()))
}
