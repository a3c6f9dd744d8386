package analysis

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

// ErrNoSearchResults fails a request whose corpus never materialized.
var ErrNoSearchResults = errors.New("no search results to analyze")

// Ledger is the slice of the store the analysis worker needs.
type Ledger interface {
	Claim(ctx context.Context, id uuid.UUID, from ledger.Status) (ledger.Request, error)
	MarkFailed(ctx context.Context, id uuid.UUID, message string) error
	SearchResultsFor(ctx context.Context, id uuid.UUID) ([]ledger.SearchResult, error)
	CompleteAnalysis(ctx context.Context, id uuid.UUID, summary string, inferenceMS, tokensUsed int64) error
}

// Producer publishes the archive hand-off.
type Producer interface {
	Publish(ctx context.Context, topic, key string, payload any) error
}

// Consumer yields bus messages and commits them once fully handled.
type Consumer interface {
	Next(ctx context.Context) (*bus.Message, error)
	Commit(ctx context.Context, msg *bus.Message) error
}

// WorkerDeps carries the worker's collaborators.
type WorkerDeps struct {
	Consumer   Consumer
	Ledger     Ledger
	Producer   Producer
	Folder     *Folder
	Summarizer Summarizer
	Metrics    *observability.PipelineMetrics
	Tracer     trace.Tracer
	Log        *slog.Logger
}

// Worker consumes AnalyzeTasks, claims each request, folds its corpus
// through the summarizer, and records the final summary. One message is
// in flight at a time; replicas scale by running more processes.
type Worker struct {
	deps           WorkerDeps
	archiveTopic   string
	archiveEnabled bool
}

// NewWorker wires an analysis worker. When archiving is disabled the
// archive hand-off is skipped entirely.
func NewWorker(deps WorkerDeps, archiveTopic string, archiveEnabled bool) *Worker {
	return &Worker{deps: deps, archiveTopic: archiveTopic, archiveEnabled: archiveEnabled}
}

// Run consumes until the context ends or the consumer closes. Message-level
// failures never stop the loop; they mark the request failed and move on.
func (w *Worker) Run(ctx context.Context) error {
	w.deps.Log.InfoContext(ctx, "analysis worker started")

	for {
		msg, err := w.deps.Consumer.Next(ctx)
		if errors.Is(err, bus.ErrClosed) || errors.Is(err, context.Canceled) {
			w.deps.Log.InfoContext(ctx, "analysis worker stopped")

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

	ctx, span := w.deps.Tracer.Start(ctx, "analysis.handle", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	defer func() {
		span.SetAttributes(attribute.String("outcome", outcome))
		w.deps.Metrics.RecordTask(ctx, pipeline.StageAnalysis, outcome, time.Since(start))
	}()

	task, err := pipeline.DecodeAnalyzeTask(msg.Value)
	if err != nil {
		outcome = observability.OutcomeDropped

		w.deps.Log.WarnContext(ctx, "dropping malformed analyze task", slog.Any("error", err))
		w.commit(ctx, msg)

		return
	}

	span.SetAttributes(attribute.String("request_id", task.RequestID.String()))
	log := w.deps.Log.With(slog.String("request_id", task.RequestID.String()))

	// Phases this worker does not implement fail the request explicitly
	// instead of being silently treated as a plain analyze.
	if err := task.Phase.Validate(); err != nil {
		outcome = observability.OutcomeFailed

		span.SetStatus(codes.Error, err.Error())
		w.fail(ctx, log, msg, task.RequestID, err.Error())

		return
	}

	if _, err := w.deps.Ledger.Claim(ctx, task.RequestID, ledger.StatusAnalyzing); err != nil {
		if errors.Is(err, ledger.ErrClaimLost) {
			outcome = observability.OutcomeLost

			log.DebugContext(ctx, "claim lost, dropping duplicate delivery")
			w.commit(ctx, msg)

			return
		}

		// Ledger unreachable: leave the offset uncommitted so the task is
		// redelivered once the store is back.
		outcome = observability.OutcomeFailed

		span.SetStatus(codes.Error, err.Error())
		log.ErrorContext(ctx, "claim failed", slog.Any("error", err))

		return
	}

	log.InfoContext(ctx, "claimed analyze task", slog.String("topic", task.Topic))

	// The recorded inference time spans the whole analysis: corpus load,
	// folding, and the final pass.
	analysisStart := time.Now()

	results, err := w.deps.Ledger.SearchResultsFor(ctx, task.RequestID)
	if err != nil {
		outcome = observability.OutcomeFailed

		span.SetStatus(codes.Error, err.Error())
		w.fail(ctx, log, msg, task.RequestID, err.Error())

		return
	}

	if len(results) == 0 {
		outcome = observability.OutcomeFailed

		w.fail(ctx, log, msg, task.RequestID, ErrNoSearchResults.Error())

		return
	}

	fold, err := w.deps.Folder.BuildContext(ctx, task.Topic, results)
	if err != nil {
		outcome = observability.OutcomeFailed

		span.SetStatus(codes.Error, err.Error())
		w.fail(ctx, log, msg, task.RequestID, err.Error())

		return
	}

	span.SetAttributes(
		attribute.Bool("folded", fold.Folded),
		attribute.Int("map_calls", fold.MapCalls),
	)

	if fold.Folded {
		log.InfoContext(ctx, "corpus folded", slog.Int("map_calls", fold.MapCalls))
	}

	final, err := w.deps.Summarizer.Summarize(ctx, finalPrompt(task.Topic, fold.Context))
	if err != nil {
		outcome = observability.OutcomeFailed

		span.SetStatus(codes.Error, err.Error())
		w.fail(ctx, log, msg, task.RequestID, err.Error())

		return
	}

	inferenceMS := time.Since(analysisStart).Milliseconds()
	tokensUsed := int64(fold.TokensUsed + final.TokensUsed)

	if err := w.deps.Ledger.CompleteAnalysis(ctx, task.RequestID, final.Text, inferenceMS, tokensUsed); err != nil {
		outcome = observability.OutcomeFailed

		span.SetStatus(codes.Error, err.Error())
		w.fail(ctx, log, msg, task.RequestID, err.Error())

		return
	}

	w.publishArchive(ctx, log, task.RequestID)

	log.InfoContext(ctx, "analysis stage complete",
		slog.Int("results", len(results)),
		slog.Int64("inference_ms", inferenceMS),
		slog.Int64("tokens_used", tokensUsed))
	w.commit(ctx, msg)
}

// publishArchive hands the completed request to the archiver. The request
// is already completed, so publish errors are logged and swallowed rather
// than failing a finished analysis.
func (w *Worker) publishArchive(ctx context.Context, log *slog.Logger, id uuid.UUID) {
	if !w.archiveEnabled {
		return
	}

	next := pipeline.ArchiveTask{RequestID: id}

	if err := w.deps.Producer.Publish(ctx, w.archiveTopic, id.String(), next); err != nil {
		log.WarnContext(ctx, "archive hand-off failed", slog.Any("error", err))
	}
}

// fail marks the request failed and commits the offset: the message is
// consumed even though the request did not advance.
func (w *Worker) fail(ctx context.Context, log *slog.Logger, msg *bus.Message, id uuid.UUID, reason string) {
	log.ErrorContext(ctx, "analysis stage failed", slog.String("reason", reason))

	if err := w.deps.Ledger.MarkFailed(ctx, id, reason); err != nil {
		log.ErrorContext(ctx, "mark failed errored", slog.Any("error", err))
	}

	w.commit(ctx, msg)
}

func (w *Worker) commit(ctx context.Context, msg *bus.Message) {
	if err := w.deps.Consumer.Commit(ctx, msg); err != nil {
		w.deps.Log.ErrorContext(ctx, "offset commit failed", slog.Any("error", err))
	}
}
