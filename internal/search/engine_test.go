package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scourlab/scour/internal/config"
)

func TestNewEngineSelection(t *testing.T) {
	t.Parallel()

	searxng, err := NewEngine(config.SearchConfig{Engine: config.EngineSearXNG, SearXNGURL: "http://searxng:8080"})
	require.NoError(t, err)
	assert.IsType(t, &SearXNG{}, searxng)

	ddg, err := NewEngine(config.SearchConfig{Engine: config.EngineDuckDuckGo})
	require.NoError(t, err)
	assert.IsType(t, &DuckDuckGo{}, ddg)

	_, err = NewEngine(config.SearchConfig{Engine: config.EngineSearXNG})
	require.ErrorIs(t, err, config.ErrNoSearXNGURL)

	_, err = NewEngine(config.SearchConfig{Engine: "bing"})
	require.ErrorIs(t, err, config.ErrUnknownEngine)
}

func TestSearXNGSearch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "solid state batteries", r.URL.Query().Get("q"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "general", r.URL.Query().Get("categories"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[
			{"url":"https://a.example/post","title":"A","content":"snippet a"},
			{"url":"https://b.example/post","title":"B","content":"snippet b"},
			{"url":"https://c.example/post","title":"C","content":"snippet c"}
		]}`))
	}))
	defer srv.Close()

	engine := NewSearXNG(srv.URL+"/", time.Second)

	results, err := engine.Search(context.Background(), "solid state batteries", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "https://a.example/post", results[0].URL)
	assert.Equal(t, "A", results[0].Title)
	assert.Equal(t, "snippet a", results[0].Snippet)
}

func TestSearXNGSearchRejectsErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	engine := NewSearXNG(srv.URL, time.Second)

	_, err := engine.Search(context.Background(), "anything", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestSearXNGSearchSkipsEmptyURLs(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"url":"","title":"ghost"},{"url":"https://a.example","title":"A"}]}`))
	}))
	defer srv.Close()

	engine := NewSearXNG(srv.URL, time.Second)

	results, err := engine.Search(context.Background(), "q", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "https://a.example", results[0].URL)
}

const ddgFixture = `<html><body>
<div class="result">
  <h2><a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.org%2Fpost&amp;rut=abc">Example Post</a></h2>
  <a class="result__snippet" href="#">First snippet text</a>
</div>
<div class="result">
  <h2><a class="result__a" href="https://direct.example/page">Direct Link</a></h2>
  <a class="result__snippet" href="#">Second snippet text</a>
</div>
</body></html>`

func TestDuckDuckGoSearch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "dark matter detection", r.PostForm.Get("q"))
		assert.NotContains(t, r.Header.Get("User-Agent"), "Go-http-client")

		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(ddgFixture))
	}))
	defer srv.Close()

	engine := &DuckDuckGo{endpoint: srv.URL, client: &http.Client{Timeout: time.Second}}

	results, err := engine.Search(context.Background(), "dark matter detection", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "https://example.org/post", results[0].URL)
	assert.Equal(t, "Example Post", results[0].Title)
	assert.Equal(t, "First snippet text", results[0].Snippet)
	assert.Equal(t, "https://direct.example/page", results[1].URL)
}

func TestDuckDuckGoSearchHonorsLimit(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(ddgFixture))
	}))
	defer srv.Close()

	engine := &DuckDuckGo{endpoint: srv.URL, client: &http.Client{Timeout: time.Second}}

	results, err := engine.Search(context.Background(), "q", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestUnwrapDDGLink(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "redirect link",
			raw:  "//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.org%2Fa%20b&rut=x",
			want: "https://example.org/a b",
		},
		{
			name: "direct link",
			raw:  "https://direct.example/page",
			want: "https://direct.example/page",
		},
		{
			name: "unparsable stays raw",
			raw:  "http://[::1]:bad",
			want: "http://[::1]:bad",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, unwrapDDGLink(tt.raw))
		})
	}
}
