package archive

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/google/uuid"

	"github.com/scourlab/scour/internal/bus"
	"github.com/scourlab/scour/internal/ledger"
	"github.com/scourlab/scour/internal/observability"
	"github.com/scourlab/scour/internal/pipeline"
)

// Ledger is the read surface the archiver needs.
type Ledger interface {
	Detail(ctx context.Context, id uuid.UUID) (ledger.RequestDetail, error)
}

// Consumer yields bus messages and commits them once handled.
type Consumer interface {
	Next(ctx context.Context) (*bus.Message, error)
	Commit(ctx context.Context, msg *bus.Message) error
}

// WorkerDeps carries the worker's collaborators.
type WorkerDeps struct {
	Consumer Consumer
	Ledger   Ledger
	Sink     *Sink
	Metrics  *observability.PipelineMetrics
	Tracer   trace.Tracer
	Log      *slog.Logger
}

// Worker consumes ArchiveTasks and writes each request's projection to
// the sink. Archiving is read-only and the sink is idempotent, so the
// worker takes no claim: concurrent replicas converge on the same file.
type Worker struct {
	deps WorkerDeps
}

// NewWorker wires an archive worker.
func NewWorker(deps WorkerDeps) *Worker {
	return &Worker{deps: deps}
}

// Run consumes until the context ends or the consumer closes. Archiving
// is best-effort: write failures are logged and the offset committed, so
// a broken disk never wedges the queue behind one message.
func (w *Worker) Run(ctx context.Context) error {
	w.deps.Log.InfoContext(ctx, "archive worker started")

	for {
		msg, err := w.deps.Consumer.Next(ctx)
		if errors.Is(err, bus.ErrClosed) || errors.Is(err, context.Canceled) {
			w.deps.Log.InfoContext(ctx, "archive worker stopped")

			return nil
		}

		if err != nil {
			return err
		}

		w.handle(ctx, msg)
	}
}

func (w *Worker) handle(ctx context.Context, msg *bus.Message) {
	start := time.Now()
	outcome := observability.OutcomeOK

	ctx, span := w.deps.Tracer.Start(ctx, "archive.handle", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	defer func() {
		span.SetAttributes(attribute.String("outcome", outcome))
		w.deps.Metrics.RecordTask(ctx, pipeline.StageArchive, outcome, time.Since(start))
	}()

	task, err := pipeline.DecodeArchiveTask(msg.Value)
	if err != nil {
		outcome = observability.OutcomeDropped

		w.deps.Log.WarnContext(ctx, "dropping malformed archive task", slog.Any("error", err))
		w.commit(ctx, msg)

		return
	}

	span.SetAttributes(attribute.String("request_id", task.RequestID.String()))
	log := w.deps.Log.With(slog.String("request_id", task.RequestID.String()))

	detail, err := w.deps.Ledger.Detail(ctx, task.RequestID)
	if errors.Is(err, ledger.ErrRequestNotFound) {
		outcome = observability.OutcomeDropped

		log.WarnContext(ctx, "dropping archive task for unknown request")
		w.commit(ctx, msg)

		return
	}

	if err != nil {
		// Ledger unreachable: leave the offset uncommitted so the task is
		// redelivered once the store is back.
		outcome = observability.OutcomeFailed

		span.SetStatus(codes.Error, err.Error())
		log.ErrorContext(ctx, "load request projection failed", slog.Any("error", err))

		return
	}

	path, err := w.deps.Sink.Write(detail)
	if err != nil {
		outcome = observability.OutcomeFailed

		span.SetStatus(codes.Error, err.Error())
		log.ErrorContext(ctx, "archive write failed", slog.Any("error", err))
		w.commit(ctx, msg)

		return
	}

	log.InfoContext(ctx, "request archived",
		slog.String("path", path),
		slog.Int("results", len(detail.SearchResults)))
	w.commit(ctx, msg)
}

func (w *Worker) commit(ctx context.Context, msg *bus.Message) {
	if err := w.deps.Consumer.Commit(ctx, msg); err != nil {
		w.deps.Log.ErrorContext(ctx, "offset commit failed", slog.Any("error", err))
	}
}
