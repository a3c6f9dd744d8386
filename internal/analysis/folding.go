// Package analysis claims analyze tasks, folds persisted search results
// into a bounded prompt, and records the final summary in the ledger.
//
// Folding is Map-Reduce over token budgets: when the formatted corpus
// fits within the model window minus a reserved envelope it passes
// through untouched; otherwise it is packed into chunks, each chunk is
// summarized in one batch call, and the labeled chunk summaries become
// the reduced context.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/scourlab/scour/internal/ledger"
	"github.com/scourlab/scour/pkg/textutil"
)

const (
	// ReservedTokens is held back from the model window for prompt
	// scaffolding and the output buffer.
	ReservedTokens = 1800

	// MapChunkTokens is the target chunk size for the map phase.
	MapChunkTokens = 3000

	// itemContentCap hard-caps a single result body, in runes.
	itemContentCap = 10000

	itemSeparator   = "\n---\n"
	reduceSeparator = "\n\n---\n\n"
)

// ErrContextOverflow reports a context that still exceeds the model
// budget after the reduce phase.
var ErrContextOverflow = errors.New("folded context exceeds model budget")

// FoldResult is the bounded context handed to the final summarization
// pass, plus accounting for the work it took to get there.
type FoldResult struct {
	Context    string
	Folded     bool
	MapCalls   int
	TokensUsed int
}

// Folder reduces arbitrarily large search corpora to within a model's
// context window.
type Folder struct {
	tok        Tokenizer
	summarizer Summarizer
	ctxMax     int
}

// NewFolder derives the usable context budget from the model window.
func NewFolder(tok Tokenizer, summarizer Summarizer, maxModelLen int) *Folder {
	return &Folder{tok: tok, summarizer: summarizer, ctxMax: maxModelLen - ReservedTokens}
}

// BuildContext folds the results for topic into a context that fits the
// budget. Corpora already within budget are returned verbatim; anything
// larger goes through one batched map pass. A reduce output that still
// exceeds the budget fails with ErrContextOverflow rather than letting
// an oversized prompt reach the model.
func (f *Folder) BuildContext(ctx context.Context, topic string, results []ledger.SearchResult) (FoldResult, error) {
	items := formatItems(results)
	full := strings.Join(items, itemSeparator)

	if f.tok.Count(full) <= f.ctxMax {
		return FoldResult{Context: full}, nil
	}

	chunks := f.packChunks(items)

	prompts := make([]string, len(chunks))
	for i, chunk := range chunks {
		prompts[i] = mapPrompt(topic, i+1, len(chunks), chunk)
	}

	outputs, err := f.summarizer.SummarizeBatch(ctx, prompts)
	if err != nil {
		return FoldResult{}, fmt.Errorf("map summarize: %w", err)
	}

	if len(outputs) != len(prompts) {
		return FoldResult{}, fmt.Errorf("map summarize: %d summaries for %d chunks", len(outputs), len(prompts))
	}

	parts := make([]string, len(outputs))
	tokensUsed := 0

	for i, out := range outputs {
		parts[i] = fmt.Sprintf("Summary Part %d:\n%s", i+1, out.Text)
		tokensUsed += out.TokensUsed
	}

	reduced := strings.Join(parts, reduceSeparator)
	if count := f.tok.Count(reduced); count > f.ctxMax {
		return FoldResult{}, fmt.Errorf("%w: reduced context is %d tokens, limit %d", ErrContextOverflow, count, f.ctxMax)
	}

	return FoldResult{Context: reduced, Folded: true, MapCalls: len(chunks), TokensUsed: tokensUsed}, nil
}

// packChunks partitions items in order into chunks of at most
// MapChunkTokens. An item that alone exceeds the chunk budget is
// proportionally truncated with a visible marker and budgeted at the
// full chunk size.
func (f *Folder) packChunks(items []string) []string {
	var (
		chunks  []string
		current []string
	)

	currentTokens := 0

	for _, item := range items {
		itemTokens := f.tok.Count(item)

		if itemTokens > MapChunkTokens {
			ratio := float64(MapChunkTokens) / float64(itemTokens)
			cut := int(float64(utf8.RuneCountInString(item)) * ratio)
			item = textutil.Truncate(item, cut)
			itemTokens = MapChunkTokens
		}

		if currentTokens+itemTokens > MapChunkTokens && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, itemSeparator))
			current = []string{item}
			currentTokens = itemTokens

			continue
		}

		current = append(current, item)
		currentTokens += itemTokens
	}

	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, itemSeparator))
	}

	return chunks
}

// formatItems renders each result as a numbered block. Bodies are
// hard-capped; the cap is a guard against pathological pages, not part
// of the token budget.
func formatItems(results []ledger.SearchResult) []string {
	items := make([]string, 0, len(results))

	for i, res := range results {
		items = append(items, fmt.Sprintf("[result %d]\nTitle: %s\nURL: %s\nContent: %s\n",
			i+1, res.Title, res.URL, capRunes(res.Content, itemContentCap)))
	}

	return items
}

func capRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}

	return string([]rune(s)[:max])
}
