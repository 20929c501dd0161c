package rag

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/media"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/pricing"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/retrieval"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/usage"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/resilience"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type completerFunc func(ctx context.Context, p Prompt) (Completion, error)

func (f completerFunc) Complete(ctx context.Context, p Prompt) (Completion, error) { return f(ctx, p) }

type retrieverFunc func(ctx context.Context, q retrieval.Query) (retrieval.Result, error)

func (f retrieverFunc) Retrieve(ctx context.Context, q retrieval.Query) (retrieval.Result, error) {
	return f(ctx, q)
}

var prices = pricing.New([]config.PriceEntry{
	{Service: "completion", Model: "gpt-4", PerThousandInput: 0.03, PerThousandOutput: 0.06},
})

func newLedger(plan config.PlanLimits) (*usage.Ledger, *usage.MemoryStore) {
	cfg := config.QuotaConfig{DefaultPlan: "free", Plans: map[string]config.PlanLimits{"free": plan}}
	store := usage.NewMemoryStore(cfg)
	return usage.NewLedger(store, cfg, metrics.NewWithRegistry(prometheus.NewRegistry())), store
}

func newSynth(t *testing.T, c Completer, ledger *usage.Ledger) *Synthesizer {
	t.Helper()
	s, err := NewSynthesizer(c, prices, ledger, SynthesizerConfig{
		Model:       "gpt-4",
		MaxTokens:   1000,
		Temperature: 0.7,
		Policy:      resilience.Policy{Retry: resilience.RetryConfig{MaxAttempts: 1}},
	})
	require.NoError(t, err)
	return s
}

func chunk(id string, index int, text string, sim float64) media.ScoredChunk {
	return media.ScoredChunk{Chunk: media.Chunk{ID: id, DocumentID: "doc", Index: index, Text: text}, Similarity: sim}
}

func TestEmptyRetrievalMakesNoCall(t *testing.T) {
	ledger, store := newLedger(config.PlanLimits{})
	var calls atomic.Int32
	s := newSynth(t, completerFunc(func(context.Context, Prompt) (Completion, error) {
		calls.Add(1)
		return Completion{}, nil
	}), ledger)

	ans, err := s.Synthesize(context.Background(), "u", "anything?", nil, "")
	require.NoError(t, err)
	assert.Equal(t, NoInformationAnswer, ans.Text)
	assert.Empty(t, ans.Sources)
	assert.NotNil(t, ans.Sources)
	assert.Zero(t, ans.Cost)
	assert.Zero(t, calls.Load())
	assert.Empty(t, store.Entries())
}

func TestSynthesizeNumbersSourcesAndMeters(t *testing.T) {
	ledger, store := newLedger(config.PlanLimits{})
	var got Prompt
	s := newSynth(t, completerFunc(func(_ context.Context, p Prompt) (Completion, error) {
		got = p
		return Completion{Text: "Paris [Source 1]", PromptTokens: 1000, CompletionTokens: 500}, nil
	}), ledger)

	chunks := []media.ScoredChunk{
		chunk("c1", 0, "Paris is the capital of France.", 0.9),
		chunk("c2", 3, "France is in Europe.", 0.7),
	}
	ans, err := s.Synthesize(context.Background(), "u", "Capital of France?", chunks, "Course: geography")
	require.NoError(t, err)

	assert.Contains(t, got.System, "[Source 1]: Paris is the capital of France.")
	assert.Contains(t, got.System, "[Source 2]: France is in Europe.")
	assert.Contains(t, got.System, "Course: geography")
	assert.Less(t, strings.Index(got.System, "[Source 1]"), strings.Index(got.System, "[Source 2]"))
	assert.Equal(t, "Capital of France?", got.User)
	assert.Equal(t, 1000, got.MaxTokens)
	assert.InDelta(t, 0.7, got.Temperature, 1e-9)

	assert.Equal(t, 1500, ans.TokensUsed)
	assert.InDelta(t, 0.03+0.03, ans.Cost, 1e-12)
	assert.Equal(t, "gpt-4", ans.Model)
	require.Len(t, ans.Sources, 2)
	assert.Equal(t, Source{ChunkID: "c1", DocumentID: "doc", ChunkIndex: 0, Similarity: 0.9}, ans.Sources[0])
	assert.Equal(t, "c2", ans.Sources[1].ChunkID)

	entries := store.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, pricing.Completion, entries[0].Service)
	assert.Equal(t, int64(1500), entries[0].Usage.Tokens)
}

func TestSynthesizeQuotaBlocksNextCall(t *testing.T) {
	ledger, _ := newLedger(config.PlanLimits{MaxCost: 0.05})
	var calls atomic.Int32
	s := newSynth(t, completerFunc(func(context.Context, Prompt) (Completion, error) {
		calls.Add(1)
		return Completion{Text: "ok", PromptTokens: 1000, CompletionTokens: 500}, nil
	}), ledger)
	chunks := []media.ScoredChunk{chunk("c1", 0, "text", 0.5)}

	_, err := s.Synthesize(context.Background(), "u", "q", chunks, "")
	require.NoError(t, err, "the call that crosses the limit still returns")

	_, err = s.Synthesize(context.Background(), "u", "q", chunks, "")
	assert.ErrorIs(t, err, apperrors.ErrQuotaExceeded)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSynthesizeProviderError(t *testing.T) {
	ledger, _ := newLedger(config.PlanLimits{})
	s := newSynth(t, completerFunc(func(context.Context, Prompt) (Completion, error) {
		return Completion{}, errors.New("upstream 500")
	}), ledger)

	_, err := s.Synthesize(context.Background(), "u", "q", []media.ScoredChunk{chunk("c", 0, "t", 1)}, "")
	assert.ErrorIs(t, err, apperrors.ErrInternal)
}

func TestNewSynthesizerRequiresPrice(t *testing.T) {
	ledger, _ := newLedger(config.PlanLimits{})
	_, err := NewSynthesizer(completerFunc(nil), prices, ledger, SynthesizerConfig{Model: "unknown"})
	assert.Error(t, err)
}

func TestServiceHighThresholdGetsCannedAnswer(t *testing.T) {
	ledger, _ := newLedger(config.PlanLimits{})
	var completions atomic.Int32
	s := newSynth(t, completerFunc(func(context.Context, Prompt) (Completion, error) {
		completions.Add(1)
		return Completion{}, nil
	}), ledger)
	r := retrieverFunc(func(_ context.Context, q retrieval.Query) (retrieval.Result, error) {
		require.NotNil(t, q.Threshold)
		assert.InDelta(t, 0.95, *q.Threshold, 1e-9)
		assert.Equal(t, "kb-1", q.ScopeID)
		return retrieval.Result{Cost: 0.00002}, nil
	})

	th := 0.95
	resp, err := NewService(r, s).Query(context.Background(), Request{UserID: "u", Question: "q", ScopeID: "kb-1", Threshold: &th})
	require.NoError(t, err)
	assert.Equal(t, NoInformationAnswer, resp.Answer)
	assert.Zero(t, resp.Cost)
	assert.InDelta(t, 0.00002, resp.RetrievalCost, 1e-12)
	assert.Zero(t, completions.Load())
}

func TestServiceValidation(t *testing.T) {
	ledger, _ := newLedger(config.PlanLimits{})
	svc := NewService(retrieverFunc(nil), newSynth(t, completerFunc(nil), ledger))

	_, err := svc.Query(context.Background(), Request{Question: "  "})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = svc.Query(context.Background(), Request{Question: "q", MaxChunks: -1})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}
