package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeuristicTokenizerRoundsUp(t *testing.T) {
	t.Parallel()

	tok := heuristicTokenizer{}

	assert.Zero(t, tok.Count(""))
	assert.Equal(t, 1, tok.Count("abcd"))
	assert.Equal(t, 2, tok.Count("abcde"))
	assert.Equal(t, 3, tok.Count("twelve chars"))
}
