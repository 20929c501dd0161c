package chunker

import (
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer counts tokens the way the embedding model will.
type Tokenizer interface {
	Count(text string) int
}

// EstimateTokenizer approximates one token per four runes.
type EstimateTokenizer struct{}

func (EstimateTokenizer) Count(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return max(1, (n+3)/4)
}

// Tiktoken counts with a BPE encoding such as cl100k_base.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads encoding. The first call may download the BPE ranks.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("loading encoding %s: %w", encoding, err)
	}
	return &Tiktoken{enc: enc}, nil
}

func (t *Tiktoken) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// NewTokenizer prefers tiktoken and falls back to the estimate when the
// encoding is unavailable.
func NewTokenizer(encoding string) Tokenizer {
	if encoding == "" || encoding == "estimate" {
		return EstimateTokenizer{}
	}
	tk, err := NewTiktoken(encoding)
	if err != nil {
		slog.Warn("tokenizer unavailable, using estimate", "encoding", encoding, "error", err)
		return EstimateTokenizer{}
	}
	return tk
}
