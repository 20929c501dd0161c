package retrieval_test

import (
	"context"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/embedding"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/media"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/retrieval"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/store/memory"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type unitEmbedder struct{}

func (unitEmbedder) Generate(_ context.Context, _ string, _ []string) (embedding.Result, error) {
	return embedding.Result{Vectors: []embedding.Vector{{Values: []float32{1, 0}, TokenCount: 1}}, TotalTokens: 1, Model: "unit"}, nil
}
func (unitEmbedder) Model() string  { return "unit" }
func (unitEmbedder) Dimension() int { return 2 }

func TestRetrieveOnlySeesCallersDocuments(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := memory.New()

	doc := media.Document{ID: "doc-alice", OwnerID: "alice", MediaType: media.TypeDocument, Status: media.DocumentUploaded, CreatedAt: now}
	job := media.ProcessingJob{ID: "job-alice", DocumentID: doc.ID, OwnerID: "alice", CreatedAt: now}
	require.NoError(t, s.CreateDocument(ctx, doc, job))
	_, _, err := s.ClaimJob(ctx, job.ID, now)
	require.NoError(t, err)
	chunk := media.Chunk{ID: "c0", DocumentID: doc.ID, Text: "alice's notes", Embedding: []float32{1, 0}}
	require.NoError(t, s.CommitChunks(ctx, job.ID, doc.ID, []media.Chunk{chunk}, media.JobStats{ChunksCreated: 1}, now))

	cfg := config.RetrievalConfig{DefaultTopK: 10, MaxTopK: 50, DefaultThreshold: 0.1}
	r := retrieval.New(unitEmbedder{}, s, nil, cfg, metrics.NewWithRegistry(prometheus.NewRegistry()))

	res, err := r.Retrieve(ctx, retrieval.Query{UserID: "mallory", Text: "notes"})
	require.NoError(t, err)
	assert.Empty(t, res.Chunks)

	res, err = r.Retrieve(ctx, retrieval.Query{UserID: "alice", Text: "notes"})
	require.NoError(t, err)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, "c0", res.Chunks[0].ID)
}
