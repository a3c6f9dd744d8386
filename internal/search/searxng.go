package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const engineUserAgent = "scour-search/1.0"

// SearXNG queries a self-hosted SearXNG instance over its JSON API. The
// instance must have the json format enabled in its settings.
type SearXNG struct {
	endpoint string
	client   *http.Client
}

// NewSearXNG builds an adapter for the instance at endpoint.
func NewSearXNG(endpoint string, timeout time.Duration) *SearXNG {
	return &SearXNG{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

// Search runs one general-category query and returns at most limit hits.
func (s *SearXNG) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	params := url.Values{
		"q":          {query},
		"format":     {"json"},
		"categories": {"general"},
		"language":   {"auto"},
		"safesearch": {"0"},
		"pageno":     {"1"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("searxng request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", engineUserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searxng query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("searxng query: unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		Results []struct {
			URL     string `json:"url"`
			Title   string `json:"title"`
			Content string `json:"content"`
		} `json:"results"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("searxng response: %w", err)
	}

	results := make([]Result, 0, limit)

	for _, r := range payload.Results {
		if len(results) == limit {
			break
		}

		if r.URL == "" {
			continue
		}

		results = append(results, Result{URL: r.URL, Title: r.Title, Snippet: r.Content})
	}

	return results, nil
}
