// Package search implements the first pipeline stage: resolving a research
// topic into web hits through a pluggable engine, crawling each hit into
// plain text, and handing the stored corpus to the analysis stage.
package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/scourlab/scour/internal/config"
)

// ErrNoResults means the engine answered but had no hits for the topic.
var ErrNoResults = errors.New("no search results found")

// Result is one engine hit before crawling.
type Result struct {
	URL     string
	Title   string
	Snippet string
}

// Engine resolves a query into at most limit results.
type Engine interface {
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}

// NewEngine selects the configured engine backend.
func NewEngine(cfg config.SearchConfig) (Engine, error) {
	switch cfg.Engine {
	case config.EngineSearXNG:
		if cfg.SearXNGURL == "" {
			return nil, config.ErrNoSearXNGURL
		}

		return NewSearXNG(cfg.SearXNGURL, cfg.FetchTimeout), nil
	case config.EngineDuckDuckGo, "":
		return NewDuckDuckGo(cfg.FetchTimeout), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownEngine, cfg.Engine)
	}
}
