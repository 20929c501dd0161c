package retrieval

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/embedding"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/media"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	vec   []float32
	dim   int
}

func (f *fakeEmbedder) Generate(_ context.Context, _ string, texts []string) (embedding.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return embedding.Result{
		Vectors:     []embedding.Vector{{Values: f.vec, TokenCount: 3}},
		TotalTokens: 3,
		Cost:        0.00006,
		Model:       "embed-test",
	}, nil
}
func (f *fakeEmbedder) Model() string  { return "embed-test" }
func (f *fakeEmbedder) Dimension() int { return f.dim }

// fixedSearcher returns its chunks as-is, ignoring threshold and limit, so
// the retriever's own filtering and ordering are what is under test.
type fixedSearcher struct {
	chunks []media.ScoredChunk
	owner  string
	scope  string
}

func (s *fixedSearcher) SearchChunks(_ context.Context, _ []float32, ownerID, scopeID string, _ float64, _ int) ([]media.ScoredChunk, error) {
	s.owner = ownerID
	s.scope = scopeID
	return s.chunks, nil
}

func scored(id string, index int, sim float64) media.ScoredChunk {
	return media.ScoredChunk{Chunk: media.Chunk{ID: id, DocumentID: "d1", Index: index}, Similarity: sim}
}

var retrievalCfg = config.RetrievalConfig{DefaultTopK: 10, MaxTopK: 50, DefaultThreshold: 0.1}

func newRetriever(e Embedder, s Searcher, cache *QueryCache) *Retriever {
	return New(e, s, cache, retrievalCfg, metrics.NewWithRegistry(prometheus.NewRegistry()))
}

func ptr(f float64) *float64 { return &f }

func TestRetrieveOrderingAndThreshold(t *testing.T) {
	s := &fixedSearcher{chunks: []media.ScoredChunk{
		scored("low", 0, 0.05),
		scored("b", 7, 0.8),
		scored("a", 2, 0.8),
		scored("top", 9, 0.93),
		scored("mid", 1, 0.5),
	}}
	r := newRetriever(&fakeEmbedder{vec: []float32{1, 0}, dim: 2}, s, nil)

	res, err := r.Retrieve(context.Background(), Query{UserID: "u", Text: "what?", ScopeID: "tutor-1"})
	require.NoError(t, err)

	ids := make([]string, len(res.Chunks))
	for i, c := range res.Chunks {
		ids[i] = c.ID
	}
	assert.Equal(t, []string{"top", "a", "b", "mid"}, ids)
	assert.Equal(t, "u", s.owner)
	assert.Equal(t, "tutor-1", s.scope)
	assert.InDelta(t, 0.00006, res.Cost, 1e-12)
}

func TestRetrieveTopKTruncates(t *testing.T) {
	s := &fixedSearcher{chunks: []media.ScoredChunk{scored("a", 0, 0.9), scored("b", 1, 0.8), scored("c", 2, 0.7)}}
	r := newRetriever(&fakeEmbedder{vec: []float32{1}, dim: 1}, s, nil)

	res, err := r.Retrieve(context.Background(), Query{UserID: "u", Text: "q", TopK: 2})
	require.NoError(t, err)
	require.Len(t, res.Chunks, 2)
	assert.Equal(t, "b", res.Chunks[1].ID)
}

func TestRetrieveHighThresholdIsEmptyNotError(t *testing.T) {
	s := &fixedSearcher{chunks: []media.ScoredChunk{scored("a", 0, 0.4), scored("b", 1, 0.2)}}
	r := newRetriever(&fakeEmbedder{vec: []float32{1}, dim: 1}, s, nil)

	res, err := r.Retrieve(context.Background(), Query{UserID: "u", Text: "q", Threshold: ptr(0.95)})
	require.NoError(t, err)
	assert.Empty(t, res.Chunks)
}

func TestRetrieveDimensionMismatch(t *testing.T) {
	r := newRetriever(&fakeEmbedder{vec: []float32{1, 2, 3}, dim: 4}, &fixedSearcher{}, nil)
	_, err := r.Retrieve(context.Background(), Query{UserID: "u", Text: "q"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestRetrieveValidation(t *testing.T) {
	r := newRetriever(&fakeEmbedder{vec: []float32{1}, dim: 1}, &fixedSearcher{}, nil)

	_, err := r.Retrieve(context.Background(), Query{UserID: "u", Text: "   "})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = r.Retrieve(context.Background(), Query{Text: "q"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = r.Retrieve(context.Background(), Query{UserID: "u", Text: "q", Threshold: ptr(1.5)})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-3, 0}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 1}))
}

type mapKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *mapKV) GetBytes(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, redis.Nil
	}
	return v, nil
}

func (m *mapKV) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value.([]byte)
	return nil
}

func (m *mapKV) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.data {
		if strings.HasPrefix(k, strings.TrimSuffix(pattern, "*")) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func TestQueryCacheReusesVector(t *testing.T) {
	kv := &mapKV{data: map[string][]byte{}}
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	emb := &fakeEmbedder{vec: []float32{0.6, 0.8}, dim: 2}
	r := New(emb, &fixedSearcher{}, NewQueryCache(kv, time.Minute, m), retrievalCfg, m)

	first, err := r.Retrieve(context.Background(), Query{UserID: "u", Text: "What is RAG?"})
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.Positive(t, first.Cost)

	second, err := r.Retrieve(context.Background(), Query{UserID: "u", Text: "  what is   rag?"})
	require.NoError(t, err)
	assert.True(t, second.CacheHit, "normalized question hits the cache")
	assert.Zero(t, second.Cost)
	assert.Equal(t, 1, emb.calls)

	n, err := r.cache.Invalidate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
