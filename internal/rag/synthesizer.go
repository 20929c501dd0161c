// Package rag answers questions from retrieved chunks with a completion
// model, citing the chunks it was given.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/media"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/pricing"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/usage"
	apperrors "github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/resilience"
)

// NoInformationAnswer is returned without calling the model when nothing
// was retrieved.
const NoInformationAnswer = "I couldn't find any relevant information to answer your question. " +
	"Please try rephrasing your question or upload more documents."

const systemInstructions = `You are a helpful assistant that answers questions using only the context provided below.

Rules:
- Answer strictly from the context. Do not use outside knowledge.
- Cite the sources you rely on as [Source N].
- If the context does not contain enough information to answer, say so explicitly.`

// Prompt is one chat completion request.
type Prompt struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// Completion is the model's answer and its token usage.
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	Model            string
}

// Completer is the external text completion service.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (Completion, error)
}

// Source identifies a chunk the answer was grounded on.
type Source struct {
	ChunkID    string  `json:"chunkId"`
	DocumentID string  `json:"documentId"`
	ChunkIndex int     `json:"chunkIndex"`
	Similarity float64 `json:"similarity"`
}

// Answer is a synthesized response. Sources keep retrieval order.
type Answer struct {
	Text       string
	Sources    []Source
	TokensUsed int
	Cost       float64
	Model      string
}

// SynthesizerConfig bounds the completion call.
type SynthesizerConfig struct {
	Model       string
	MaxTokens   int
	Temperature float64
	Policy      resilience.Policy
}

// Synthesizer is safe for concurrent use.
type Synthesizer struct {
	completer Completer
	prices    *pricing.Table
	ledger    *usage.Ledger
	cfg       SynthesizerConfig
	logger    *slog.Logger
}

// NewSynthesizer creates a Synthesizer. The model must be priced.
func NewSynthesizer(c Completer, prices *pricing.Table, ledger *usage.Ledger, cfg SynthesizerConfig) (*Synthesizer, error) {
	if _, err := prices.Lookup(pricing.Completion, cfg.Model); err != nil {
		return nil, err
	}
	if cfg.Policy.Name == "" {
		cfg.Policy.Name = "completion"
	}
	return &Synthesizer{
		completer: c,
		prices:    prices,
		ledger:    ledger,
		cfg:       cfg,
		logger:    logger.WithComponent("synthesizer"),
	}, nil
}

// Synthesize answers question from chunks. With no chunks it returns
// NoInformationAnswer at zero cost and makes no call.
func (s *Synthesizer) Synthesize(ctx context.Context, userID, question string, chunks []media.ScoredChunk, extra string) (Answer, error) {
	if len(chunks) == 0 {
		return Answer{Text: NoInformationAnswer, Sources: []Source{}}, nil
	}

	prompt := Prompt{
		System:      BuildSystemPrompt(chunks, extra),
		User:        question,
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
	}
	entry := usage.Entry{
		UserID:   userID,
		Service:  pricing.Completion,
		Model:    s.cfg.Model,
		Action:   "answer",
		Metadata: map[string]any{"sources": len(chunks)},
	}
	out, res, err := usage.Metered(ctx, s.ledger, entry, func(ctx context.Context) (Answer, usage.Usage, error) {
		var c Completion
		err := s.cfg.Policy.Do(ctx, func(ctx context.Context) error {
			var err error
			c, err = s.completer.Complete(ctx, prompt)
			return err
		})
		if err != nil {
			return Answer{}, usage.Usage{}, err
		}
		tokens := c.PromptTokens + c.CompletionTokens
		cost, err := s.prices.TokenCost(pricing.Completion, s.cfg.Model, c.PromptTokens, c.CompletionTokens)
		if err != nil {
			return Answer{}, usage.Usage{APICalls: 1, Tokens: int64(tokens)}, err
		}
		model := c.Model
		if model == "" {
			model = s.cfg.Model
		}
		return Answer{Text: c.Text, TokensUsed: tokens, Cost: cost, Model: model},
			usage.Usage{APICalls: 1, Tokens: int64(tokens), Cost: cost}, nil
	})
	if err != nil {
		return Answer{}, classify(err)
	}
	if res.Exceeded {
		s.logger.Warn("answer delivered past quota", "user_id", userID, "dimension", res.Dimension)
	}

	out.Sources = make([]Source, len(chunks))
	for i, c := range chunks {
		out.Sources[i] = Source{ChunkID: c.ID, DocumentID: c.DocumentID, ChunkIndex: c.Index, Similarity: c.Similarity}
	}
	return out, nil
}

// BuildSystemPrompt numbers chunks from 1 in the order given.
func BuildSystemPrompt(chunks []media.ScoredChunk, extra string) string {
	var b strings.Builder
	b.WriteString(systemInstructions)
	b.WriteString("\n\nContext:\n")
	for i, c := range chunks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[Source %d]: %s", i+1, c.Text)
	}
	if extra = strings.TrimSpace(extra); extra != "" {
		b.WriteString("\n\nAdditional context:\n")
		b.WriteString(extra)
	}
	return b.String()
}

func classify(err error) error {
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr), errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.Wrap(apperrors.ErrTimeout, "completion: %v", err)
	default:
		return apperrors.Wrap(apperrors.ErrInternal, "completion: %v", err)
	}
}
