package chunker

import (
	"strings"
	"testing"

	apperrors "github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordTokenizer counts whitespace-separated words, which keeps expectations
// easy to reason about.
type wordTokenizer struct{}

func (wordTokenizer) Count(text string) int { return len(strings.Fields(text)) }

func words(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = "w" + string(rune('a'+i%26))
	}
	return strings.Join(w, " ")
}

func TestSplitRespectsTargetAndOverlap(t *testing.T) {
	c, err := New(wordTokenizer{}, 10, 3)
	require.NoError(t, err)

	pieces, err := c.Split(words(25))
	require.NoError(t, err)
	require.Len(t, pieces, 4)

	for i, p := range pieces {
		assert.Equal(t, i, p.Index)
		assert.LessOrEqual(t, p.TokenCount, 10)
		assert.Equal(t, strings.TrimSpace(p.Text), p.Text)
	}

	// Windows are [0,10) [7,17) [14,24) [21,25).
	first := strings.Fields(pieces[0].Text)
	second := strings.Fields(pieces[1].Text)
	assert.Equal(t, first[7:], second[:3], "consecutive chunks share the overlap")
	assert.Equal(t, 4, pieces[3].TokenCount)
	assert.True(t, strings.HasSuffix(pieces[3].Text, "wy"))
}

func TestSplitIsDeterministic(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 12; i++ {
		b.WriteString("Paragraph ")
		b.WriteString(string(rune('A' + i)))
		b.WriteString(" opens with a sentence. ")
		b.WriteString(words(40))
		b.WriteString("\n\n")
	}
	text := b.String()

	type key struct {
		Index int
		Text  string
	}
	split := func() []key {
		c, err := New(EstimateTokenizer{}, 60, 15)
		require.NoError(t, err)
		pieces, err := c.Split(text)
		require.NoError(t, err)
		out := make([]key, len(pieces))
		for i, p := range pieces {
			out[i] = key{p.Index, p.Text}
		}
		return out
	}

	first := split()
	require.Greater(t, len(first), 1)
	assert.Equal(t, first, split())
}

func TestSplitSingleShortText(t *testing.T) {
	c, err := New(EstimateTokenizer{}, 500, 50)
	require.NoError(t, err)

	pieces, err := c.Split("  The quick brown fox.\r\n\r\n\r\n\r\nJumps   over.  ")
	require.NoError(t, err)
	require.Len(t, pieces, 1)
	assert.Equal(t, "The quick brown fox.\n\nJumps over.", pieces[0].Text)
	assert.Equal(t, 0, pieces[0].Index)
	assert.Positive(t, pieces[0].TokenCount)
}

func TestSplitEmptyContent(t *testing.T) {
	c, err := New(EstimateTokenizer{}, 500, 50)
	require.NoError(t, err)

	for _, in := range []string{"", "   ", "\n\n\t\r\n"} {
		_, err := c.Split(in)
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrEmptyContent)
	}
}

func TestOversizedUnitIsSplit(t *testing.T) {
	c, err := New(EstimateTokenizer{}, 4, 0)
	require.NoError(t, err)

	// 64 runes with no whitespace is 16 estimated tokens.
	pieces, err := c.Split(strings.Repeat("x", 64))
	require.NoError(t, err)
	require.Len(t, pieces, 4)
	var joined strings.Builder
	for _, p := range pieces {
		assert.LessOrEqual(t, p.TokenCount, 4)
		joined.WriteString(p.Text)
	}
	assert.Equal(t, strings.Repeat("x", 64), joined.String())
}

func TestNewRejectsBadWindow(t *testing.T) {
	_, err := New(EstimateTokenizer{}, 0, 0)
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
	_, err = New(EstimateTokenizer{}, 10, 10)
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
	_, err = New(EstimateTokenizer{}, 10, -1)
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestEstimateTokenizer(t *testing.T) {
	var tok EstimateTokenizer
	assert.Equal(t, 0, tok.Count(""))
	assert.Equal(t, 1, tok.Count("a"))
	assert.Equal(t, 1, tok.Count("abcd"))
	assert.Equal(t, 2, tok.Count("abcde"))
	assert.Equal(t, 1, tok.Count("日本語"), "counts runes, not bytes")
}

func TestNewTokenizerEstimateFallback(t *testing.T) {
	assert.IsType(t, EstimateTokenizer{}, NewTokenizer("estimate"))
	assert.IsType(t, EstimateTokenizer{}, NewTokenizer(""))
}
