package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/media"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, s *Store, id string, mt media.Type) {
	t.Helper()
	doc := media.Document{ID: "doc-" + id, OwnerID: "user-1", MediaType: mt, Status: media.DocumentUploaded, CreatedAt: t0}
	job := media.ProcessingJob{ID: "job-" + id, DocumentID: doc.ID, OwnerID: "user-1", CreatedAt: t0}
	require.NoError(t, s.CreateDocument(context.Background(), doc, job))
}

func TestClaimIsExclusive(t *testing.T) {
	s := New()
	seed(t, s, "1", media.TypeDocument)

	var wg sync.WaitGroup
	var mu sync.Mutex
	claimed := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.ClaimJob(context.Background(), "job-1", t0)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				claimed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, claimed)

	doc, err := s.GetDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, media.DocumentProcessing, doc.Status)
}

func TestClaimNextFollowsInsertionOrder(t *testing.T) {
	s := New()
	seed(t, s, "a", media.TypeDocument)
	seed(t, s, "b", media.TypeDocument)

	job, ok, err := s.ClaimNext(context.Background(), t0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "job-a", job.ID)

	job, ok, err = s.ClaimNext(context.Background(), t0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "job-b", job.ID)

	_, ok, err = s.ClaimNext(context.Background(), t0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClaimUnknownJob(t *testing.T) {
	_, _, err := New().ClaimJob(context.Background(), "missing", t0)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestTerminalJobsAreImmutable(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, "1", media.TypeAudio)
	_, _, err := s.ClaimJob(ctx, "job-1", t0)
	require.NoError(t, err)
	require.NoError(t, s.FailJob(ctx, "job-1", "ExtractionFailed: boom", t0))

	assert.ErrorIs(t, s.FailJob(ctx, "job-1", "again", t0), apperrors.ErrConflict)
	assert.ErrorIs(t, s.CommitChunks(ctx, "job-1", "doc-1", nil, media.JobStats{}, t0), apperrors.ErrConflict)
	assert.ErrorIs(t, s.UpdateProgress(ctx, "job-1", 50), apperrors.ErrConflict)

	view, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, media.JobFailed, view.Status)
	assert.Equal(t, "ExtractionFailed: boom", view.Error)

	doc, _ := s.Document("doc-1")
	assert.Equal(t, media.DocumentFailed, doc.Status)
}

func TestFailedTextDocumentReturnsToUploaded(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, "1", media.TypeDocument)
	_, _, err := s.ClaimJob(ctx, "job-1", t0)
	require.NoError(t, err)
	require.NoError(t, s.FailJob(ctx, "job-1", "EmptyContentError: nothing", t0))

	doc, _ := s.Document("doc-1")
	assert.Equal(t, media.DocumentUploaded, doc.Status)
}

func TestCommitChunksCompletesJob(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, "1", media.TypeDocument)
	_, _, err := s.ClaimJob(ctx, "job-1", t0)
	require.NoError(t, err)
	require.NoError(t, s.UpdateProgress(ctx, "job-1", 75))
	assert.ErrorIs(t, s.UpdateProgress(ctx, "job-1", 101), apperrors.ErrValidation)

	view, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 75, view.Progress)

	chunks := []media.Chunk{
		{ID: "c1", DocumentID: "doc-1", Index: 1, Text: "second", Embedding: []float32{0, 1}},
		{ID: "c0", DocumentID: "doc-1", Index: 0, Text: "first", Embedding: []float32{1, 0}},
	}
	stats := media.JobStats{ChunksCreated: 2, EmbeddingsGenerated: 2, ProcessingCost: 0.01}
	require.NoError(t, s.CommitChunks(ctx, "job-1", "doc-1", chunks, stats, t0.Add(time.Minute)))

	view, err = s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, media.JobCompleted, view.Status)
	assert.Equal(t, 100, view.Progress)
	assert.Equal(t, 2, view.ChunksCreated)
	require.NotNil(t, view.CompletedAt)

	got := s.Chunks("doc-1")
	require.Len(t, got, 2)
	assert.Equal(t, "c0", got[0].ID)

	found, err := s.SearchChunks(ctx, []float32{1, 0}, "user-1", "", 0.5, 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "c0", found[0].ID)
	assert.InDelta(t, 1.0, found[0].Similarity, 1e-9)
}

func TestOneActiveJobPerDocument(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, "1", media.TypeDocument)

	next := media.ProcessingJob{ID: "job-2", DocumentID: "doc-1", OwnerID: "user-1", CreatedAt: t0}
	assert.ErrorIs(t, s.Reprocess(ctx, next), apperrors.ErrConflict)

	_, _, err := s.ClaimJob(ctx, "job-1", t0)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Reprocess(ctx, next), apperrors.ErrConflict)

	require.NoError(t, s.FailJob(ctx, "job-1", "boom", t0))
	require.NoError(t, s.Reprocess(ctx, next))

	depth, err := s.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, media.QueueDepth{Queued: 1, Total: 1}, depth)
}

func TestReprocessRequiresFailedLatestJob(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, "1", media.TypeDocument)
	_, _, err := s.ClaimJob(ctx, "job-1", t0)
	require.NoError(t, err)
	chunk := media.Chunk{ID: "c0", DocumentID: "doc-1", Embedding: []float32{1, 0}}
	require.NoError(t, s.CommitChunks(ctx, "job-1", "doc-1", []media.Chunk{chunk}, media.JobStats{ChunksCreated: 1}, t0))

	next := media.ProcessingJob{ID: "job-2", DocumentID: "doc-1", OwnerID: "user-1", CreatedAt: t0}
	assert.ErrorIs(t, s.Reprocess(ctx, next), apperrors.ErrConflict)

	_, err = s.GetJob(ctx, "job-2")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	doc, _ := s.Document("doc-1")
	assert.Equal(t, media.DocumentReady, doc.Status)
	assert.Len(t, s.Chunks("doc-1"), 1)
}

func TestDeleteFailsQueuedJobAndHidesDocument(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, "1", media.TypeDocument)

	_, err := s.DeleteDocument(ctx, "doc-1", t0)
	require.NoError(t, err)

	_, err = s.GetDocument(ctx, "doc-1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	deleted, err := s.IsDeleted(ctx, "doc-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	view, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, media.JobFailed, view.Status)
	assert.Equal(t, store.DeletedMessage, view.Error)

	_, err = s.DeleteDocument(ctx, "doc-1", t0)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestDeleteLeavesProcessingJobToWorker(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, "1", media.TypeVideo)
	_, _, err := s.ClaimJob(ctx, "job-1", t0)
	require.NoError(t, err)

	_, err = s.DeleteDocument(ctx, "doc-1", t0)
	require.NoError(t, err)

	view, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, media.JobProcessing, view.Status)

	err = s.CommitChunks(ctx, "job-1", "doc-1", nil, media.JobStats{}, t0)
	assert.ErrorIs(t, err, apperrors.ErrCancelled)
	assert.ErrorIs(t, s.SaveTranscription(ctx, "doc-1", "text", 0.1), apperrors.ErrCancelled)
}

func TestReapStale(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, "old", media.TypeAudio)
	seed(t, s, "new", media.TypeAudio)
	_, _, err := s.ClaimJob(ctx, "job-old", t0)
	require.NoError(t, err)
	_, _, err = s.ClaimJob(ctx, "job-new", t0.Add(time.Hour))
	require.NoError(t, err)

	n, err := s.ReapStale(ctx, t0.Add(30*time.Minute), t0.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	view, err := s.GetJob(ctx, "job-old")
	require.NoError(t, err)
	assert.Equal(t, media.JobFailed, view.Status)
	assert.Equal(t, store.LostMessage, view.Error)

	view, err = s.GetJob(ctx, "job-new")
	require.NoError(t, err)
	assert.Equal(t, media.JobProcessing, view.Status)
}

func TestSearchChunksScopeFilter(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, id := range []string{"a", "b"} {
		seed(t, s, id, media.TypeDocument)
		_, _, err := s.ClaimJob(ctx, "job-"+id, t0)
		require.NoError(t, err)
		chunk := media.Chunk{ID: "c-" + id, DocumentID: "doc-" + id, ScopeID: "scope-" + id, Embedding: []float32{1, 1}}
		require.NoError(t, s.CommitChunks(ctx, "job-"+id, "doc-"+id, []media.Chunk{chunk}, media.JobStats{ChunksCreated: 1}, t0))
	}

	found, err := s.SearchChunks(ctx, []float32{1, 1}, "user-1", "scope-b", 0.1, 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "c-b", found[0].ID)

	found, err = s.SearchChunks(ctx, []float32{1, 1}, "user-1", "", 0.1, 10)
	require.NoError(t, err)
	assert.Len(t, found, 2)

	found, err = s.SearchChunks(ctx, []float32{1, 1, 1}, "user-1", "", 0.1, 10)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestSearchChunksOwnerFilter(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, "1", media.TypeDocument)
	_, _, err := s.ClaimJob(ctx, "job-1", t0)
	require.NoError(t, err)
	chunk := media.Chunk{ID: "c0", DocumentID: "doc-1", Embedding: []float32{1, 0}}
	require.NoError(t, s.CommitChunks(ctx, "job-1", "doc-1", []media.Chunk{chunk}, media.JobStats{ChunksCreated: 1}, t0))

	found, err := s.SearchChunks(ctx, []float32{1, 0}, "user-2", "", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, found)

	found, err = s.SearchChunks(ctx, []float32{1, 0}, "user-1", "", 0, 10)
	require.NoError(t, err)
	assert.Len(t, found, 1)
}
