package extract

import (
	"context"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/media"
)

// Text returns a document's own content. It costs nothing.
type Text struct {
	maxBytes int64
}

// NewText creates the document extractor. Reads stop at maxBytes.
func NewText(maxBytes int64) *Text {
	return &Text{maxBytes: maxBytes}
}

func (t *Text) MediaType() media.Type { return media.TypeDocument }

func (t *Text) Extract(ctx context.Context, in Input) (Result, error) {
	data, err := readLimited(ctx, in, t.maxBytes)
	if err != nil {
		return Result{}, err
	}
	text := strings.ToValidUTF8(string(data), "")
	text = strings.TrimPrefix(text, "\ufeff")
	return Result{Text: text}, nil
}
