// Package commands implements CLI command handlers for scour.
package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/scourlab/scour/internal/config"
	"github.com/scourlab/scour/internal/observability"
	"github.com/scourlab/scour/pkg/version"
)

const configFlagUsage = "path to a YAML config file (optional; environment variables always apply)"

// runtime bundles the loaded configuration and initialized observability
// providers shared by every long-running command.
type runtime struct {
	cfg       *config.Config
	providers observability.Providers
}

// initRuntime loads configuration and brings up tracing, metrics, and the
// structured logger for one process mode.
func initRuntime(configPath string, mode observability.AppMode) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version.Version
	obsCfg.Environment = cfg.Environment
	obsCfg.Mode = mode
	obsCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	obsCfg.OTLPHeaders = observability.ParseOTLPHeaders(cfg.Telemetry.OTLPHeaders)
	obsCfg.OTLPInsecure = cfg.Telemetry.OTLPInsecure
	obsCfg.Prometheus = cfg.Telemetry.Prometheus
	obsCfg.SampleRatio = cfg.Telemetry.SampleRatio
	obsCfg.LogLevel = cfg.Telemetry.SlogLevel()
	obsCfg.LogJSON = cfg.Telemetry.LogJSON

	providers, err := observability.Init(obsCfg)
	if err != nil {
		return nil, err
	}

	return &runtime{cfg: cfg, providers: providers}, nil
}

// close flushes pending telemetry. Flush failures are logged, not returned;
// the process is exiting either way.
func (rt *runtime) close() {
	err := rt.providers.Shutdown(context.Background())
	if err != nil {
		rt.providers.Logger.Warn("observability shutdown failed", slog.Any("error", err))
	}
}

// signalContext derives a context that ends on SIGINT or SIGTERM, so bus
// consumers finish the in-flight message and stop cleanly.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
