package search

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/scourlab/scour/pkg/textutil"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// alternateUserAgent is the fallback identity for hosts that reject the
	// primary one with 403 or 429.
	alternateUserAgent = "Mozilla/5.0 (X11; Linux x86_64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/85.0.4183.121 Safari/537.36"

	acceptLanguage = "en-US,en;q=0.9"

	// maxBodyBytes caps how much of a page is read; anything past 2 MiB is
	// dropped rather than failing the fetch.
	maxBodyBytes = 2 << 20
)

// Page is the crawled form of one search hit.
type Page struct {
	URL   string
	Title string
	Text  string
}

// Extractor fetches a URL and reduces its HTML to plain text. Script, style,
// and noscript subtrees are skipped and whitespace is collapsed.
type Extractor struct {
	client     *http.Client
	retryDelay time.Duration
}

// NewExtractor builds an extractor with a per-fetch timeout and the delay
// observed before the alternate-identity retry.
func NewExtractor(timeout, retryDelay time.Duration) *Extractor {
	return &Extractor{
		client:     &http.Client{Timeout: timeout},
		retryDelay: retryDelay,
	}
}

// Extract fetches pageURL and returns its text content. Blocked responses
// (403, 429) get one retry with the alternate User-Agent after the
// configured delay.
func (e *Extractor) Extract(ctx context.Context, pageURL string) (Page, error) {
	resp, err := e.fetch(ctx, pageURL, defaultUserAgent)
	if err != nil {
		return Page{}, err
	}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()

		if err := sleepContext(ctx, e.retryDelay); err != nil {
			return Page{}, err
		}

		resp, err = e.fetch(ctx, pageURL, alternateUserAgent)
		if err != nil {
			return Page{}, err
		}
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("fetch %s: unexpected status %d", pageURL, resp.StatusCode)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return Page{}, fmt.Errorf("fetch %s: unsupported content type %q", pageURL, ct)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Page{}, fmt.Errorf("read %s: %w", pageURL, err)
	}

	if textutil.IsBinary(body) {
		return Page{}, fmt.Errorf("fetch %s: binary response", pageURL)
	}

	title, text := htmlToText(bytes.NewReader(body))

	return Page{
		URL:   pageURL,
		Title: textutil.CollapseSpace(title),
		Text:  textutil.CollapseSpace(text),
	}, nil
}

func (e *Extractor) fetch(ctx context.Context, pageURL, userAgent string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", pageURL, err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", acceptLanguage)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}

	return resp, nil
}

// htmlToText tokenizes markup into title text and body text. It never fails:
// malformed HTML yields whatever text the tokenizer saw before giving up.
func htmlToText(r io.Reader) (title, text string) {
	var (
		titleSB, textSB strings.Builder
		skipDepth       int
		inTitle         bool
	)

	z := html.NewTokenizer(r)

	for {
		switch z.Next() {
		case html.ErrorToken:
			return titleSB.String(), textSB.String()
		case html.StartTagToken:
			name, _ := z.TagName()

			switch string(name) {
			case "script", "style", "noscript":
				skipDepth++
			case "title":
				inTitle = true
			}
		case html.EndTagToken:
			name, _ := z.TagName()

			switch string(name) {
			case "script", "style", "noscript":
				if skipDepth > 0 {
					skipDepth--
				}
			case "title":
				inTitle = false
			}
		case html.TextToken:
			if skipDepth > 0 {
				continue
			}

			if inTitle {
				titleSB.Write(z.Text())

				continue
			}

			textSB.Write(z.Text())
			textSB.WriteByte(' ')
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
