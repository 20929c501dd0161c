// Package embedding turns ordered chunk texts into vectors through an
// external embedding service, splitting work into sub-batches that run
// concurrently and are reassembled by input index.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/chunker"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/pricing"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/usage"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/resilience"
	"github.com/panjf2000/ants/v2"
)

// Client is the external embedding service. It must return one vector per
// input text, in input order.
type Client interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, texts []string) ([][]float32, error)

func (f ClientFunc) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return f(ctx, texts)
}

// Vector is one embedding with the token count of its input text.
type Vector struct {
	Values     []float32
	TokenCount int
}

// Result is the output of Generate. Vectors[i] belongs to the i-th input.
type Result struct {
	Vectors     []Vector
	TotalTokens int
	Cost        float64
	Model       string
}

// Generator is safe for concurrent use.
type Generator struct {
	client    Client
	tok       chunker.Tokenizer
	prices    *pricing.Table
	ledger    *usage.Ledger
	model     string
	dimension int
	batchSize int
	pool      *ants.Pool
	policy    resilience.Policy
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewGenerator validates the model is priced and starts the sub-batch pool.
// ledger may be nil, in which case calls are not metered.
func NewGenerator(client Client, tok chunker.Tokenizer, prices *pricing.Table, ledger *usage.Ledger, cfg config.AIConfig, m *metrics.Metrics) (*Generator, error) {
	if _, err := prices.Lookup(pricing.Embedding, cfg.EmbeddingModel); err != nil {
		return nil, err
	}
	if cfg.EmbeddingDimension <= 0 || cfg.EmbeddingBatchSize <= 0 {
		return nil, apperrors.Wrap(apperrors.ErrConfiguration, "embedding dimension and batch size must be positive")
	}
	workers := max(cfg.EmbeddingWorkers, 1)
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("creating embedding pool: %w", err)
	}

	breaker := resilience.NewCircuitBreaker("embedding", resilience.CircuitBreakerConfig{
		OnStateChange: func(name string, s resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(s))
		},
		IsFailure: func(err error) bool { return !resilience.IsPermanent(err) },
	})
	return &Generator{
		client:    client,
		tok:       tok,
		prices:    prices,
		ledger:    ledger,
		model:     cfg.EmbeddingModel,
		dimension: cfg.EmbeddingDimension,
		batchSize: cfg.EmbeddingBatchSize,
		pool:      pool,
		policy: resilience.Policy{
			Name:    "embedding",
			Timeout: cfg.RequestTimeout,
			Retry:   resilience.RetryConfig{MaxAttempts: max(cfg.MaxRetries, 1)},
			Breaker: breaker,
		},
		metrics: m,
		logger:  logger.WithComponent("embedding-generator"),
	}, nil
}

// Model returns the embedding model name.
func (g *Generator) Model() string { return g.model }

// Dimension returns the vector length every embedding must have.
func (g *Generator) Dimension() int { return g.dimension }

// Close releases the pool.
func (g *Generator) Close() {
	g.pool.Release()
}

// Generate embeds texts on behalf of userID. The quota is checked once before
// any call; each sub-batch is recorded as it completes. Any sub-batch failure
// fails the whole call and no vectors are returned.
func (g *Generator) Generate(ctx context.Context, userID string, texts []string) (Result, error) {
	res := Result{Model: g.model}
	if len(texts) == 0 {
		return res, nil
	}
	if g.ledger != nil {
		if err := g.ledger.Check(ctx, userID); err != nil {
			return Result{}, err
		}
	}
	vectors := make([]Vector, len(texts))
	for i, t := range texts {
		vectors[i].TokenCount = g.tok.Count(t)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
	}

	for lo := 0; lo < len(texts); lo += g.batchSize {
		hi := min(lo+g.batchSize, len(texts))
		wg.Add(1)
		err := g.pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			if err := g.embedBatch(ctx, userID, texts[lo:hi], vectors[lo:hi]); err != nil {
				fail(err)
			}
		})
		if err != nil {
			wg.Done()
			fail(fmt.Errorf("submitting embedding batch: %w", err))
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		if errors.Is(firstErr, apperrors.ErrConfiguration) {
			return Result{}, firstErr
		}
		return Result{}, apperrors.Wrap(apperrors.ErrEmbeddingFailed, "embedding %d texts: %v", len(texts), firstErr)
	}

	for _, v := range vectors {
		res.TotalTokens += v.TokenCount
	}
	cost, err := g.prices.EmbeddingCost(g.model, res.TotalTokens)
	if err != nil {
		return Result{}, err
	}
	res.Vectors = vectors
	res.Cost = cost
	return res, nil
}

// embedBatch fills out, which aliases the caller's slice at the batch offset.
func (g *Generator) embedBatch(ctx context.Context, userID string, texts []string, out []Vector) error {
	var values [][]float32
	err := g.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		values, err = g.client.Embed(ctx, texts)
		return err
	})
	g.countCall(err)
	if err != nil {
		return err
	}
	if len(values) != len(texts) {
		return fmt.Errorf("provider returned %d vectors for %d texts", len(values), len(texts))
	}
	if err := g.record(ctx, userID, out); err != nil {
		return err
	}
	for i, v := range values {
		if len(v) != g.dimension {
			return apperrors.Wrap(apperrors.ErrConfiguration,
				"model %s returned %d dimensions, store expects %d", g.model, len(v), g.dimension)
		}
		out[i].Values = v
	}
	return nil
}

func (g *Generator) record(ctx context.Context, userID string, batch []Vector) error {
	if g.ledger == nil {
		return nil
	}
	tokens := 0
	for _, v := range batch {
		tokens += v.TokenCount
	}
	cost, err := g.prices.EmbeddingCost(g.model, tokens)
	if err != nil {
		return err
	}
	// The provider has billed this batch even if a sibling batch failed.
	g.ledger.Record(context.WithoutCancel(ctx), usage.Entry{
		UserID:   userID,
		Service:  pricing.Embedding,
		Model:    g.model,
		Action:   "embed",
		Usage:    usage.Usage{APICalls: 1, Tokens: int64(tokens), Cost: cost},
		Metadata: map[string]any{"texts": len(batch)},
	})
	return nil
}

func (g *Generator) countCall(err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	g.metrics.ExternalCallsTotal.WithLabelValues(string(pricing.Embedding), outcome).Inc()
}
