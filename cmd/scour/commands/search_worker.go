package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/scourlab/scour/internal/bus"
	"github.com/scourlab/scour/internal/ledger"
	"github.com/scourlab/scour/internal/observability"
	"github.com/scourlab/scour/internal/search"
)

// NewSearchWorkerCommand creates the search stage worker command.
func NewSearchWorkerCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "search-worker",
		Short: "Run a search stage worker",
		Long: `Consume the search queue: claim each request, resolve the topic through
the configured engine, crawl the hits into plain text, persist the corpus,
and hand the request to the analysis stage. Replicas scale by running more
processes under the same consumer group.`,
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

			log := rt.providers.Logger.With(slog.String("worker", "search"))

			store, err := ledger.Open(ctx, rt.cfg.Ledger.URL, rt.cfg.Ledger.MaxOpenConns, rt.cfg.Ledger.MaxIdleConns)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			consumer, err := bus.NewConsumer(ctx, rt.cfg.Bus, rt.cfg.Bus.SearchTopic, rt.cfg.Bus.SearchGroup, log)
			if err != nil {
				return err
			}
			defer consumer.Close()

			producer, err := bus.NewProducer(ctx, rt.cfg.Bus, log)
			if err != nil {
				return err
			}
			defer producer.Close()

			engine, err := search.NewEngine(rt.cfg.Search)
			if err != nil {
				return err
			}

			metrics, err := observability.NewPipelineMetrics(rt.providers.Meter)
			if err != nil {
				return err
			}

			worker := search.NewWorker(search.WorkerDeps{
				Consumer:  consumer,
				Ledger:    store,
				Producer:  producer,
				Engine:    engine,
				Extractor: search.NewExtractor(rt.cfg.Search.FetchTimeout, rt.cfg.Search.PolitenessDelay),
				Metrics:   metrics,
				Tracer:    rt.providers.Tracer,
				Log:       log,
			}, rt.cfg.Search, rt.cfg.Bus.AnalyzeTopic)

			return worker.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", configFlagUsage)

	return cmd
}
