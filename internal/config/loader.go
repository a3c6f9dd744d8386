package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for scour settings.
const envPrefix = "SCOUR"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// Load reads configuration from defaults, an optional config file, and
// environment variables, in ascending precedence. If configPath is empty no
// file is read; a missing explicit file is an error.
func Load(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)

		readErr := viperCfg.ReadInConfig()
		if readErr != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(readErr, &notFound) {
				return nil, fmt.Errorf("read config: %w", readErr)
			}
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("environment", "dev")

	viperCfg.SetDefault("http.addr", ":8000")
	viperCfg.SetDefault("http.cors_origins", []string{"http://localhost:3000", "http://localhost:8080"})
	viperCfg.SetDefault("http.read_timeout", "15s")
	viperCfg.SetDefault("http.write_timeout", "30s")
	viperCfg.SetDefault("http.shutdown_timeout", "10s")

	viperCfg.SetDefault("bus.brokers", []string{"localhost:9092"})
	viperCfg.SetDefault("bus.search_topic", "search-queue")
	viperCfg.SetDefault("bus.analyze_topic", "analyze-queue")
	viperCfg.SetDefault("bus.archive_topic", "archive-queue")
	viperCfg.SetDefault("bus.search_group", "search-workers")
	viperCfg.SetDefault("bus.analysis_group", "analysis-workers")
	viperCfg.SetDefault("bus.archive_group", "archive-workers")
	viperCfg.SetDefault("bus.connect_attempts", 10)
	viperCfg.SetDefault("bus.connect_backoff", "2s")

	viperCfg.SetDefault("ledger.url", "")
	viperCfg.SetDefault("ledger.max_open_conns", 10)
	viperCfg.SetDefault("ledger.max_idle_conns", 5)
	viperCfg.SetDefault("ledger.migrate_on_start", false)

	viperCfg.SetDefault("search.engine", EngineDuckDuckGo)
	viperCfg.SetDefault("search.searxng_url", "")
	viperCfg.SetDefault("search.max_results", 8)
	viperCfg.SetDefault("search.min_content_length", 100)
	viperCfg.SetDefault("search.retain_floor", 3)
	viperCfg.SetDefault("search.fetch_timeout", "10s")
	viperCfg.SetDefault("search.politeness_delay", "500ms")

	viperCfg.SetDefault("summarizer.base_url", "http://localhost:8080/v1")
	viperCfg.SetDefault("summarizer.api_key", "EMPTY")
	viperCfg.SetDefault("summarizer.model", "")
	viperCfg.SetDefault("summarizer.max_model_len", 0)
	viperCfg.SetDefault("summarizer.gpu_memory_gb", 0)
	viperCfg.SetDefault("summarizer.temperature", 0.7)
	viperCfg.SetDefault("summarizer.top_p", 0.9)
	viperCfg.SetDefault("summarizer.max_tokens", 1536)
	viperCfg.SetDefault("summarizer.map_max_tokens", 1024)
	viperCfg.SetDefault("summarizer.request_timeout", "120s")

	viperCfg.SetDefault("archive.enabled", false)
	viperCfg.SetDefault("archive.dir", "")

	viperCfg.SetDefault("telemetry.otlp_endpoint", "")
	viperCfg.SetDefault("telemetry.otlp_headers", "")
	viperCfg.SetDefault("telemetry.otlp_insecure", false)
	viperCfg.SetDefault("telemetry.prometheus", true)
	viperCfg.SetDefault("telemetry.log_level", "info")
	viperCfg.SetDefault("telemetry.log_json", true)
	viperCfg.SetDefault("telemetry.sample_ratio", 0.0)
}
