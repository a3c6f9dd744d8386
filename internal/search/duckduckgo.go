package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const ddgEndpoint = "https://html.duckduckgo.com/html/"

// DuckDuckGo scrapes the HTML (no-JS) search endpoint. It needs a
// browser-like User-Agent or the endpoint answers with a challenge page.
type DuckDuckGo struct {
	endpoint string
	client   *http.Client
}

// NewDuckDuckGo builds the adapter against the public HTML endpoint.
func NewDuckDuckGo(timeout time.Duration) *DuckDuckGo {
	return &DuckDuckGo{
		endpoint: ddgEndpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Search posts the query form and parses result anchors out of the response.
func (d *DuckDuckGo) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	form := url.Values{"q": {query}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("duckduckgo request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept-Language", acceptLanguage)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo query: unexpected status %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo response: %w", err)
	}

	return parseDDGResults(doc, limit), nil
}

// parseDDGResults walks the document collecting result anchors and their
// snippets. Anchors and snippets appear in matching document order, so they
// are zipped by index.
func parseDDGResults(doc *html.Node, limit int) []Result {
	var (
		results  []Result
		snippets []string
	)

	for n := range doc.Descendants() {
		if n.Type != html.ElementNode {
			continue
		}

		switch {
		case n.Data == "a" && hasClass(n, "result__a"):
			href := unwrapDDGLink(attrVal(n, "href"))
			if href == "" {
				continue
			}

			results = append(results, Result{URL: href, Title: strings.TrimSpace(nodeText(n))})
		case hasClass(n, "result__snippet"):
			snippets = append(snippets, strings.TrimSpace(nodeText(n)))
		}
	}

	for i := range results {
		if i < len(snippets) {
			results[i].Snippet = snippets[i]
		}
	}

	if len(results) > limit {
		results = results[:limit]
	}

	return results
}

// unwrapDDGLink resolves the redirect links the HTML endpoint serves:
// //duckduckgo.com/l/?uddg=<encoded target>&rut=... becomes the target URL.
func unwrapDDGLink(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	if target := u.Query().Get("uddg"); target != "" {
		return target
	}

	return raw
}

func attrVal(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}

	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attrVal(n, "class")) {
		if c == class {
			return true
		}
	}

	return false
}

func nodeText(n *html.Node) string {
	var sb strings.Builder

	for c := range n.Descendants() {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}

	return sb.String()
}
