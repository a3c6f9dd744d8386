package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/scourlab/scour/internal/bus"
	"github.com/scourlab/scour/internal/config"
	"github.com/scourlab/scour/internal/ledger"
	"github.com/scourlab/scour/internal/mcp"
	"github.com/scourlab/scour/internal/observability"
	"github.com/scourlab/scour/pkg/version"
)

// NewMCPCommand creates the MCP server command.
func NewMCPCommand() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start MCP server for AI agent integration",
		Long: `Start a Model Context Protocol (MCP) server on stdio transport.

The MCP server exposes the research pipeline as tools that AI agents can
discover and invoke:
  - research_submit: submit a topic and start the pipeline
  - research_status: poll a request, with the summary once completed
  - research_list:   list recent requests by lifecycle status

Logs go to stderr; stdout carries the protocol.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			rt, err := initMCPRuntime(configPath, debug)
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, stop := signalContext(cobraCmd.Context())
			defer stop()

			store, err := ledger.Open(ctx, rt.cfg.Ledger.URL, rt.cfg.Ledger.MaxOpenConns, rt.cfg.Ledger.MaxIdleConns)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			producer, err := bus.NewProducer(ctx, rt.cfg.Bus, rt.providers.Logger)
			if err != nil {
				return err
			}
			defer producer.Close()

			red, err := observability.NewREDMetrics(rt.providers.Meter)
			if err != nil {
				return err
			}

			srv := mcp.NewServer(mcp.ServerDeps{
				Logger:      rt.providers.Logger,
				Store:       store,
				Producer:    producer,
				SearchTopic: rt.cfg.Bus.SearchTopic,
				Version:     version.Version,
				Metrics:     red,
				Tracer:      rt.providers.Tracer,
			})

			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", configFlagUsage)
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging to stderr")

	return cmd
}

// initMCPRuntime is initRuntime with stdio-transport adjustments: logs are
// always JSON on stderr and --debug forces full trace sampling.
func initMCPRuntime(configPath string, debug bool) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version.Version
	obsCfg.Environment = cfg.Environment
	obsCfg.Mode = observability.ModeMCP
	obsCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	obsCfg.OTLPHeaders = observability.ParseOTLPHeaders(cfg.Telemetry.OTLPHeaders)
	obsCfg.OTLPInsecure = cfg.Telemetry.OTLPInsecure
	obsCfg.SampleRatio = cfg.Telemetry.SampleRatio
	obsCfg.LogLevel = cfg.Telemetry.SlogLevel()
	obsCfg.LogJSON = true

	if debug {
		obsCfg.LogLevel = slog.LevelDebug
		obsCfg.DebugTrace = true
	}

	providers, err := observability.Init(obsCfg)
	if err != nil {
		return nil, err
	}

	return &runtime{cfg: cfg, providers: providers}, nil
}
