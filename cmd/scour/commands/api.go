package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/scourlab/scour/internal/api"
	"github.com/scourlab/scour/internal/bus"
	"github.com/scourlab/scour/internal/ledger"
	"github.com/scourlab/scour/internal/observability"
)

// NewAPICommand creates the HTTP API server command.
func NewAPICommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "api",
		Short: "Run the HTTP intake and read API",
		Long: `Run the HTTP API server: topic intake (POST /analyze), status polling,
the paged request listing, aggregate metrics, and the probe endpoints.
Submissions are published to the search queue; everything else is a read
over the ledger.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := initRuntime(configPath, observability.ModeAPI)
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			log := rt.providers.Logger

			store, err := ledger.Open(ctx, rt.cfg.Ledger.URL, rt.cfg.Ledger.MaxOpenConns, rt.cfg.Ledger.MaxIdleConns)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if rt.cfg.Ledger.MigrateOnStart {
				if err := store.Migrate(ctx); err != nil {
					return err
				}

				log.InfoContext(ctx, "ledger migrations applied")
			}

			producer, err := bus.NewProducer(ctx, rt.cfg.Bus, log)
			if err != nil {
				return err
			}
			defer producer.Close()

			red, err := observability.NewREDMetrics(rt.providers.Meter)
			if err != nil {
				return err
			}

			handlers := api.NewHandlers(store, producer, rt.cfg.Bus.SearchTopic, log)

			router := api.NewRouter(api.RouterDeps{
				Handlers:    handlers,
				CORSOrigins: rt.cfg.HTTP.CORSOrigins,
				Tracer:      rt.providers.Tracer,
				RED:         red,
				Registry:    rt.providers.PromRegistry,
				Ready:       []observability.ReadyCheck{store.Ping},
			})

			log.InfoContext(ctx, "starting api server",
				slog.String("addr", rt.cfg.HTTP.Addr),
				slog.String("search_topic", rt.cfg.Bus.SearchTopic))

			return api.NewServer(rt.cfg.HTTP, router, log).Run(ctx)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", configFlagUsage)

	return cmd
}
