// Package config loads and validates scour configuration from defaults,
// an optional YAML file, and SCOUR_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Search engine identifiers accepted by Search.Engine.
const (
	EngineSearXNG    = "searxng"
	EngineDuckDuckGo = "duckduckgo"
)

// Validation sentinel errors.
var (
	ErrNoBrokers         = errors.New("bus.brokers must not be empty")
	ErrNoLedgerURL       = errors.New("ledger.url must not be empty")
	ErrUnknownEngine     = errors.New("search.engine must be searxng or duckduckgo")
	ErrNoSearXNGURL      = errors.New("search.searxng_url required when search.engine is searxng")
	ErrBadSampling       = errors.New("summarizer.temperature and top_p must be in [0, 2] and [0, 1]")
	ErrNoArchiveDir      = errors.New("archive.dir required when archive.enabled is true")
	ErrBadMaxResults     = errors.New("search.max_results must be positive")
	ErrBadMaxModelLen    = errors.New("summarizer.max_model_len must be non-negative")
	ErrBadConnectRetries = errors.New("bus.connect_attempts must be positive")
)

// Config is the root configuration for all scour processes.
type Config struct {
	// Environment is the deployment environment label (dev, staging, production).
	Environment string `mapstructure:"environment"`

	HTTP       HTTPConfig       `mapstructure:"http"`
	Bus        BusConfig        `mapstructure:"bus"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Search     SearchConfig     `mapstructure:"search"`
	Summarizer SummarizerConfig `mapstructure:"summarizer"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	// Addr is the listen address, e.g. ":8000".
	Addr string `mapstructure:"addr"`

	// CORSOrigins are the browser origins allowed by the CORS middleware.
	CORSOrigins []string `mapstructure:"cors_origins"`

	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// BusConfig configures the message bus connection and topology.
type BusConfig struct {
	// Brokers are the bootstrap broker addresses.
	Brokers []string `mapstructure:"brokers"`

	SearchTopic  string `mapstructure:"search_topic"`
	AnalyzeTopic string `mapstructure:"analyze_topic"`
	ArchiveTopic string `mapstructure:"archive_topic"`

	SearchGroup   string `mapstructure:"search_group"`
	AnalysisGroup string `mapstructure:"analysis_group"`
	ArchiveGroup  string `mapstructure:"archive_group"`

	// ConnectAttempts bounds the startup connect probe; exhaustion is fatal.
	ConnectAttempts int `mapstructure:"connect_attempts"`

	// ConnectBackoff is the initial probe backoff; it doubles per attempt.
	ConnectBackoff time.Duration `mapstructure:"connect_backoff"`
}

// LedgerConfig configures the Postgres store of record.
type LedgerConfig struct {
	// URL is the Postgres DSN.
	URL string `mapstructure:"url"`

	MaxOpenConns int `mapstructure:"max_open_conns"`
	MaxIdleConns int `mapstructure:"max_idle_conns"`

	// MigrateOnStart applies embedded migrations during API startup.
	MigrateOnStart bool `mapstructure:"migrate_on_start"`
}

// SearchConfig configures the search stage.
type SearchConfig struct {
	// Engine selects the search backend: searxng or duckduckgo.
	Engine string `mapstructure:"engine"`

	// SearXNGURL is the SearXNG instance base URL.
	SearXNGURL string `mapstructure:"searxng_url"`

	// MaxResults bounds engine hits per topic.
	MaxResults int `mapstructure:"max_results"`

	// MinContentLength is the viability threshold for extracted bodies.
	MinContentLength int `mapstructure:"min_content_length"`

	// RetainFloor is how many results to keep when all fall below the threshold.
	RetainFloor int `mapstructure:"retain_floor"`

	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
	PolitenessDelay time.Duration `mapstructure:"politeness_delay"`
}

// SummarizerConfig configures the LLM summarizer endpoint and sampling.
type SummarizerConfig struct {
	// BaseURL is the OpenAI-compatible endpoint, e.g. "http://vllm:8000/v1".
	BaseURL string `mapstructure:"base_url"`

	// APIKey authenticates against the endpoint. vLLM accepts any value.
	APIKey string `mapstructure:"api_key"`

	// Model overrides the GPU-tier model choice when non-empty.
	Model string `mapstructure:"model"`

	// MaxModelLen overrides the tier context ceiling when positive.
	MaxModelLen int `mapstructure:"max_model_len"`

	// GPUMemoryGB selects the model tier when Model is empty.
	GPUMemoryGB int `mapstructure:"gpu_memory_gb"`

	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`

	// MaxTokens caps the final summary output.
	MaxTokens int `mapstructure:"max_tokens"`

	// MapMaxTokens caps each map-phase chunk summary output.
	MapMaxTokens int `mapstructure:"map_max_tokens"`

	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ArchiveConfig configures the completed-request archiver.
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// TelemetryConfig configures logging and telemetry export.
type TelemetryConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	OTLPHeaders  string  `mapstructure:"otlp_headers"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure"`
	Prometheus   bool    `mapstructure:"prometheus"`
	LogLevel     string  `mapstructure:"log_level"`
	LogJSON      bool    `mapstructure:"log_json"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

// SlogLevel maps the configured level name to an slog.Level.
// Unknown names fall back to info.
func (t *TelemetryConfig) SlogLevel() slog.Level {
	switch strings.ToLower(t.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Validate checks cross-field constraints. It returns the first violation.
func (c *Config) Validate() error {
	if len(c.Bus.Brokers) == 0 {
		return ErrNoBrokers
	}

	if c.Bus.ConnectAttempts <= 0 {
		return ErrBadConnectRetries
	}

	if c.Ledger.URL == "" {
		return ErrNoLedgerURL
	}

	if err := c.Search.validate(); err != nil {
		return err
	}

	if err := c.Summarizer.validate(); err != nil {
		return err
	}

	if c.Archive.Enabled && c.Archive.Dir == "" {
		return ErrNoArchiveDir
	}

	return nil
}

func (s *SearchConfig) validate() error {
	switch s.Engine {
	case EngineSearXNG:
		if s.SearXNGURL == "" {
			return ErrNoSearXNGURL
		}
	case EngineDuckDuckGo:
	default:
		return fmt.Errorf("%w: got %q", ErrUnknownEngine, s.Engine)
	}

	if s.MaxResults <= 0 {
		return ErrBadMaxResults
	}

	return nil
}

func (s *SummarizerConfig) validate() error {
	if s.Temperature < 0 || s.Temperature > 2 || s.TopP < 0 || s.TopP > 1 {
		return ErrBadSampling
	}

	if s.MaxModelLen < 0 {
		return ErrBadMaxModelLen
	}

	return nil
}
