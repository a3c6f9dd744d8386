package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/scourlab/scour/internal/analysis"
	"github.com/scourlab/scour/internal/bus"
	"github.com/scourlab/scour/internal/ledger"
	"github.com/scourlab/scour/internal/observability"
)

// NewAnalysisWorkerCommand creates the analysis stage worker command.
func NewAnalysisWorkerCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "analysis-worker",
		Short: "Run an analysis stage worker",
		Long: `Consume the analyze queue: claim each request, fold its persisted search
corpus into the model's context budget, run the summarizer, and record the
final summary. The model is picked from the GPU memory tier table unless
pinned in configuration.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := initRuntime(configPath, observability.ModeWorker)
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			log := rt.providers.Logger.With(slog.String("worker", "analysis"))

			store, err := ledger.Open(ctx, rt.cfg.Ledger.URL, rt.cfg.Ledger.MaxOpenConns, rt.cfg.Ledger.MaxIdleConns)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			consumer, err := bus.NewConsumer(ctx, rt.cfg.Bus, rt.cfg.Bus.AnalyzeTopic, rt.cfg.Bus.AnalysisGroup, log)
			if err != nil {
				return err
			}
			defer consumer.Close()

			producer, err := bus.NewProducer(ctx, rt.cfg.Bus, log)
			if err != nil {
				return err
			}
			defer producer.Close()

			metrics, err := observability.NewPipelineMetrics(rt.providers.Meter)
			if err != nil {
				return err
			}

			tok := analysis.NewTokenizer()
			tier := analysis.ResolveModel(rt.cfg.Summarizer)

			log.InfoContext(ctx, "summarizer resolved",
				slog.String("model", tier.Model),
				slog.Int("max_model_len", tier.MaxModelLen))

			summarizer, err := analysis.NewVLLM(rt.cfg.Summarizer, tier.Model, tok, metrics)
			if err != nil {
				return err
			}

			worker := analysis.NewWorker(analysis.WorkerDeps{
				Consumer:   consumer,
				Ledger:     store,
				Producer:   producer,
				Folder:     analysis.NewFolder(tok, summarizer, tier.MaxModelLen),
				Summarizer: summarizer,
				Metrics:    metrics,
				Tracer:     rt.providers.Tracer,
				Log:        log,
			}, rt.cfg.Bus.ArchiveTopic, rt.cfg.Archive.Enabled)

			return worker.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", configFlagUsage)

	return cmd
}
