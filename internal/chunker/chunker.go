// Package chunker splits extracted text into overlapping, token-bounded
// windows ready for embedding.
package chunker

import (
	"regexp"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/errors"
)

var (
	units         = regexp.MustCompile(`\S+\s*`)
	blankRuns     = regexp.MustCompile(`\n(?:[ \t]*\n){2,}`)
	horizontalRun = regexp.MustCompile(`[ \t\f\v]+`)
)

// Piece is one chunk of text. Index is dense from 0 in document order.
type Piece struct {
	Index      int
	Text       string
	TokenCount int
}

// Chunker builds windows of at most Target tokens where consecutive windows
// share roughly Overlap tokens.
type Chunker struct {
	tok     Tokenizer
	target  int
	overlap int
}

// New validates the window parameters.
func New(tok Tokenizer, target, overlap int) (*Chunker, error) {
	if target <= 0 {
		return nil, apperrors.Wrap(apperrors.ErrConfiguration, "chunk target must be positive, got %d", target)
	}
	if overlap < 0 || overlap >= target {
		return nil, apperrors.Wrap(apperrors.ErrConfiguration, "chunk overlap %d must be in [0, %d)", overlap, target)
	}
	return &Chunker{tok: tok, target: target, overlap: overlap}, nil
}

// Normalize unifies line endings, collapses runs of blank lines to a single
// paragraph break and collapses horizontal whitespace.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = horizontalRun.ReplaceAllString(text, " ")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Split returns the chunks of text. Whitespace-only input yields
// ErrEmptyContent.
func (c *Chunker) Split(text string) ([]Piece, error) {
	text = Normalize(text)
	if text == "" {
		return nil, apperrors.Wrap(apperrors.ErrEmptyContent, "no text to chunk")
	}

	type unit struct {
		text   string
		tokens int
	}
	var us []unit
	for _, u := range units.FindAllString(text, -1) {
		for _, part := range c.fit(u) {
			us = append(us, unit{text: part, tokens: c.tok.Count(part)})
		}
	}

	var pieces []Piece
	start := 0
	for start < len(us) {
		end, total := start, 0
		for end < len(us) && (end == start || total+us[end].tokens <= c.target) {
			total += us[end].tokens
			end++
		}

		var b strings.Builder
		for _, u := range us[start:end] {
			b.WriteString(u.text)
		}
		chunk := strings.TrimSpace(b.String())
		if chunk != "" {
			pieces = append(pieces, Piece{Index: len(pieces), Text: chunk, TokenCount: c.tok.Count(chunk)})
		}
		if end >= len(us) {
			break
		}

		// Step back over trailing units worth about overlap tokens, always
		// moving at least one unit forward.
		next, back := end, 0
		for next > start+1 && back+us[next-1].tokens <= c.overlap {
			back += us[next-1].tokens
			next--
		}
		start = next
	}

	if len(pieces) == 0 {
		return nil, apperrors.Wrap(apperrors.ErrEmptyContent, "no text to chunk")
	}
	return pieces, nil
}

// fit halves a unit by runes until every part is within target.
func (c *Chunker) fit(u string) []string {
	if c.tok.Count(u) <= c.target {
		return []string{u}
	}
	r := []rune(u)
	if len(r) < 2 {
		return []string{u}
	}
	mid := len(r) / 2
	return append(c.fit(string(r[:mid])), c.fit(string(r[mid:]))...)
}
