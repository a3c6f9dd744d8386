package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/scourlab/scour/internal/archive"
	"github.com/scourlab/scour/internal/bus"
	"github.com/scourlab/scour/internal/config"
	"github.com/scourlab/scour/internal/ledger"
	"github.com/scourlab/scour/internal/observability"
)

// NewArchiverCommand creates the completed-request archiver command.
func NewArchiverCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "archiver",
		Short: "Run the completed-request archiver",
		Long: `Consume the archive queue and write each completed request's full
projection as an lz4-compressed JSON document under a date-partitioned
directory tree. Archiving is best-effort and idempotent under redelivery.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := initRuntime(configPath, observability.ModeWorker)
			if err != nil {
				return err
			}
			defer rt.close()

			if rt.cfg.Archive.Dir == "" {
				return config.ErrNoArchiveDir
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			log := rt.providers.Logger.With(slog.String("worker", "archive"))

			store, err := ledger.Open(ctx, rt.cfg.Ledger.URL, rt.cfg.Ledger.MaxOpenConns, rt.cfg.Ledger.MaxIdleConns)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			consumer, err := bus.NewConsumer(ctx, rt.cfg.Bus, rt.cfg.Bus.ArchiveTopic, rt.cfg.Bus.ArchiveGroup, log)
			if err != nil {
				return err
			}
			defer consumer.Close()

			metrics, err := observability.NewPipelineMetrics(rt.providers.Meter)
			if err != nil {
				return err
			}

			worker := archive.NewWorker(archive.WorkerDeps{
				Consumer: consumer,
				Ledger:   store,
				Sink:     archive.NewSink(rt.cfg.Archive.Dir),
				Metrics:  metrics,
				Tracer:   rt.providers.Tracer,
				Log:      log,
			})

			return worker.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", configFlagUsage)

	return cmd
}
