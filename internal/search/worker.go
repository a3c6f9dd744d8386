package search

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/google/uuid"

	"github.com/scourlab/scour/internal/bus"
	"github.com/scourlab/scour/internal/config"
	"github.com/scourlab/scour/internal/ledger"
	"github.com/scourlab/scour/internal/observability"
	"github.com/scourlab/scour/internal/pipeline"
)

// Ledger is the slice of the store the search worker needs.
type Ledger interface {
	Claim(ctx context.Context, id uuid.UUID, from ledger.Status) (ledger.Request, error)
	MarkFailed(ctx context.Context, id uuid.UUID, message string) error
	InsertResultsAdvance(ctx context.Context, id uuid.UUID, results []ledger.NewSearchResult) error
}

// Producer publishes the next-stage task.
type Producer interface {
	Publish(ctx context.Context, topic, key string, payload any) error
}

// Consumer yields bus messages and commits them once fully handled.
type Consumer interface {
	Next(ctx context.Context) (*bus.Message, error)
	Commit(ctx context.Context, msg *bus.Message) error
}

// PageExtractor crawls one URL into text.
type PageExtractor interface {
	Extract(ctx context.Context, pageURL string) (Page, error)
}

// WorkerDeps carries the worker's collaborators.
type WorkerDeps struct {
	Consumer  Consumer
	Ledger    Ledger
	Producer  Producer
	Engine    Engine
	Extractor PageExtractor
	Metrics   *observability.PipelineMetrics
	Tracer    trace.Tracer
	Log       *slog.Logger
}

// Worker consumes SearchTasks, claims each request, crawls the engine hits,
// persists the corpus, and hands the request to the analysis stage. One
// message is in flight at a time; replicas scale by running more processes.
type Worker struct {
	deps         WorkerDeps
	cfg          config.SearchConfig
	analyzeTopic string
}

// NewWorker wires a search worker.
func NewWorker(deps WorkerDeps, cfg config.SearchConfig, analyzeTopic string) *Worker {
	return &Worker{deps: deps, cfg: cfg, analyzeTopic: analyzeTopic}
}

// Run consumes until the context ends or the consumer closes. Message-level
// failures never stop the loop; they mark the request failed and move on.
func (w *Worker) Run(ctx context.Context) error {
	w.deps.Log.InfoContext(ctx, "search worker started",
		slog.String("engine", w.cfg.Engine),
		slog.Int("max_results", w.cfg.MaxResults))

	for {
		msg, err := w.deps.Consumer.Next(ctx)
		if errors.Is(err, bus.ErrClosed) || errors.Is(err, context.Canceled) {
			w.deps.Log.InfoContext(ctx, "search worker stopped")

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

	ctx, span := w.deps.Tracer.Start(ctx, "search.handle", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	defer func() {
		span.SetAttributes(attribute.String("outcome", outcome))
		w.deps.Metrics.RecordTask(ctx, pipeline.StageSearch, outcome, time.Since(start))
	}()

	task, err := pipeline.DecodeSearchTask(msg.Value)
	if err != nil {
		outcome = observability.OutcomeDropped

		w.deps.Log.WarnContext(ctx, "dropping malformed search task", slog.Any("error", err))
		w.commit(ctx, msg)

		return
	}

	span.SetAttributes(attribute.String("request_id", task.RequestID.String()))
	log := w.deps.Log.With(slog.String("request_id", task.RequestID.String()))

	if _, err := w.deps.Ledger.Claim(ctx, task.RequestID, ledger.StatusSearching); err != nil {
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

	log.InfoContext(ctx, "claimed search task", slog.String("topic", task.Topic))

	hits, err := w.deps.Engine.Search(ctx, task.Topic, w.cfg.MaxResults)
	if err != nil {
		outcome = observability.OutcomeFailed

		span.SetStatus(codes.Error, err.Error())
		w.fail(ctx, log, msg, task.RequestID, err.Error())

		return
	}

	if len(hits) == 0 {
		outcome = observability.OutcomeFailed

		w.fail(ctx, log, msg, task.RequestID, ErrNoResults.Error())

		return
	}

	rows, err := w.crawl(ctx, log, task.RequestID, hits)
	if err != nil {
		// Only context cancellation aborts a crawl. The request stays in
		// processing_search; operator tooling recovers orphans.
		outcome = observability.OutcomeFailed

		log.WarnContext(ctx, "crawl aborted by shutdown", slog.Any("error", err))

		return
	}

	if err := w.deps.Ledger.InsertResultsAdvance(ctx, task.RequestID, rows); err != nil {
		outcome = observability.OutcomeFailed

		span.SetStatus(codes.Error, err.Error())
		w.fail(ctx, log, msg, task.RequestID, err.Error())

		return
	}

	next := pipeline.AnalyzeTask{RequestID: task.RequestID, Topic: task.Topic, Phase: pipeline.PhaseAnalyze}

	if err := w.deps.Producer.Publish(ctx, w.analyzeTopic, task.RequestID.String(), next); err != nil {
		outcome = observability.OutcomeFailed

		span.SetStatus(codes.Error, err.Error())
		w.fail(ctx, log, msg, task.RequestID, err.Error())

		return
	}

	log.InfoContext(ctx, "search stage complete",
		slog.Int("results", len(rows)),
		slog.Duration("elapsed", time.Since(start)))
	w.commit(ctx, msg)
}

// crawl fetches every hit with a politeness delay between fetches, keeps
// bodies above the viability threshold, and falls back to the first few hits
// when everything came back thin.
func (w *Worker) crawl(ctx context.Context, log *slog.Logger, id uuid.UUID, hits []Result) ([]ledger.NewSearchResult, error) {
	candidates := make([]ledger.NewSearchResult, 0, len(hits))

	for i, hit := range hits {
		if i > 0 {
			if err := sleepContext(ctx, w.cfg.PolitenessDelay); err != nil {
				return nil, err
			}
		}

		row := ledger.NewSearchResult{RequestID: id, URL: hit.URL, Title: hit.Title}

		page, err := w.deps.Extractor.Extract(ctx, hit.URL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			log.WarnContext(ctx, "extraction failed, keeping empty content",
				slog.String("url", hit.URL),
				slog.Any("error", err))
		} else {
			row.Content = page.Text
			if row.Title == "" {
				row.Title = page.Title
			}
		}

		candidates = append(candidates, row)
	}

	viable := make([]ledger.NewSearchResult, 0, len(candidates))

	for _, c := range candidates {
		if utf8.RuneCountInString(c.Content) >= w.cfg.MinContentLength {
			viable = append(viable, c)
		}
	}

	if len(viable) > 0 {
		return viable, nil
	}

	floor := w.cfg.RetainFloor
	if floor <= 0 {
		floor = 3
	}

	if floor > len(candidates) {
		floor = len(candidates)
	}

	log.WarnContext(ctx, "all extracted bodies below threshold, retaining floor",
		slog.Int("retained", floor))

	return candidates[:floor], nil
}

// fail marks the request failed and commits the offset: the message is
// consumed even though the request did not advance.
func (w *Worker) fail(ctx context.Context, log *slog.Logger, msg *bus.Message, id uuid.UUID, reason string) {
	log.ErrorContext(ctx, "search stage failed", slog.String("reason", reason))

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
