package analysis

import (
	"github.com/pkoukk/tiktoken-go"
)

// cl100kEncoding is the vocabulary used for budget accounting. It is not
// the deployed model's exact vocabulary; the reserved envelope in the
// folding budget absorbs the difference.
const cl100kEncoding = "cl100k_base"

// Tokenizer counts tokens for context-budget accounting.
type Tokenizer interface {
	Count(text string) int
}

// NewTokenizer returns a cl100k_base tokenizer. When the encoding cannot
// be loaded (offline hosts), it falls back to a deterministic bytes/4
// heuristic, which overestimates CJK text and keeps budgets safe.
func NewTokenizer() Tokenizer {
	enc, err := tiktoken.GetEncoding(cl100kEncoding)
	if err != nil {
		return heuristicTokenizer{}
	}

	return &bpeTokenizer{enc: enc}
}

type bpeTokenizer struct {
	enc *tiktoken.Tiktoken
}

func (t *bpeTokenizer) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// heuristicTokenizer approximates tokens as ceil(bytes/4), the usual
// rule of thumb for English prose.
type heuristicTokenizer struct{}

func (heuristicTokenizer) Count(text string) int {
	return (len(text) + 3) / 4
}
