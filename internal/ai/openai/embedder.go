package openai

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
)

// Embedder implements embedding.Client.
type Embedder struct {
	embedder embeddings.Embedder
}

// Embed returns one vector per text in input order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("creating embeddings: %w", err)
	}
	return vectors, nil
}
