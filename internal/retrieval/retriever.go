// Package retrieval finds the stored chunks most similar to a question.
package retrieval

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/embedding"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/media"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/metrics"
)

// Embedder embeds query text with the corpus model.
type Embedder interface {
	Generate(ctx context.Context, userID string, texts []string) (embedding.Result, error)
	Model() string
	Dimension() int
}

// Searcher runs similarity search over the chunks of ownerID's documents.
// Results need not be ordered; the retriever sorts and truncates them.
type Searcher interface {
	SearchChunks(ctx context.Context, query []float32, ownerID, scopeID string, threshold float64, limit int) ([]media.ScoredChunk, error)
}

// Query is one retrieval request over UserID's documents. Zero TopK and nil
// Threshold take the configured defaults.
type Query struct {
	UserID    string
	Text      string
	ScopeID   string
	TopK      int
	Threshold *float64
}

// Result holds chunks in descending similarity, ties by ascending index.
type Result struct {
	Chunks          []media.ScoredChunk
	EmbeddingTokens int
	Cost            float64
	CacheHit        bool
}

// Retriever is safe for concurrent use.
type Retriever struct {
	embedder Embedder
	store    Searcher
	cache    *QueryCache
	cfg      config.RetrievalConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a Retriever. cache may be nil.
func New(e Embedder, store Searcher, cache *QueryCache, cfg config.RetrievalConfig, m *metrics.Metrics) *Retriever {
	return &Retriever{
		embedder: e,
		store:    store,
		cache:    cache,
		cfg:      cfg,
		metrics:  m,
		logger:   logger.WithComponent("retriever"),
	}
}

// Retrieve embeds the question and returns at most TopK chunks at or above
// the threshold. No matches is a valid empty result.
func (r *Retriever) Retrieve(ctx context.Context, q Query) (Result, error) {
	q.UserID = strings.TrimSpace(q.UserID)
	if q.UserID == "" {
		return Result{}, apperrors.Wrap(apperrors.ErrValidation, "user id is required")
	}
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return Result{}, apperrors.Wrap(apperrors.ErrValidation, "question is required")
	}
	topK := q.TopK
	if topK <= 0 {
		topK = r.cfg.DefaultTopK
	}
	if r.cfg.MaxTopK > 0 && topK > r.cfg.MaxTopK {
		topK = r.cfg.MaxTopK
	}
	threshold := r.cfg.DefaultThreshold
	if q.Threshold != nil {
		threshold = *q.Threshold
	}
	if threshold < 0 || threshold > 1 || math.IsNaN(threshold) {
		return Result{}, apperrors.Wrap(apperrors.ErrValidation, "threshold must be between 0 and 1")
	}

	emb, hit, err := r.embedQuery(ctx, q)
	if err != nil {
		return Result{}, err
	}
	if len(emb.Vector) != r.embedder.Dimension() {
		return Result{}, apperrors.Wrap(apperrors.ErrConfiguration,
			"query vector has %d dimensions, corpus uses %d", len(emb.Vector), r.embedder.Dimension())
	}

	found, err := r.store.SearchChunks(ctx, emb.Vector, q.UserID, q.ScopeID, threshold, topK)
	if err != nil {
		return Result{}, apperrors.Wrap(apperrors.ErrInternal, "similarity search: %v", err)
	}
	chunks := Rank(found, threshold, topK)
	r.metrics.RetrievalResults.Observe(float64(len(chunks)))
	r.logger.Debug("retrieved chunks",
		"scope_id", q.ScopeID,
		"count", len(chunks),
		"threshold", threshold,
		"cache_hit", hit,
	)
	return Result{Chunks: chunks, EmbeddingTokens: emb.Tokens, Cost: emb.Cost, CacheHit: hit}, nil
}

func (r *Retriever) embedQuery(ctx context.Context, q Query) (Embedded, bool, error) {
	embed := func(ctx context.Context) (Embedded, error) {
		res, err := r.embedder.Generate(ctx, q.UserID, []string{q.Text})
		if err != nil {
			return Embedded{}, err
		}
		return Embedded{Vector: res.Vectors[0].Values, Tokens: res.TotalTokens, Cost: res.Cost}, nil
	}
	if r.cache == nil {
		e, err := embed(ctx)
		return e, false, err
	}
	return r.cache.GetOrEmbed(ctx, r.embedder.Model(), q.Text, embed)
}

// Rank drops entries below threshold, orders by descending similarity with
// ties broken by ascending chunk index, and keeps at most topK.
func Rank(chunks []media.ScoredChunk, threshold float64, topK int) []media.ScoredChunk {
	out := make([]media.ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		if c.Similarity >= threshold {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		if out[i].Index != out[j].Index {
			return out[i].Index < out[j].Index
		}
		return out[i].DocumentID < out[j].DocumentID
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector. Lengths must match.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
