package rag

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/retrieval"
	apperrors "github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/tracing"
)

// Retriever finds chunks for a question.
type Retriever interface {
	Retrieve(ctx context.Context, q retrieval.Query) (retrieval.Result, error)
}

// Request is a question from a user, optionally scoped to one knowledge base.
type Request struct {
	UserID    string   `json:"-"`
	Question  string   `json:"question"`
	ScopeID   string   `json:"scopeId,omitempty"`
	MaxChunks int      `json:"maxChunks,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
	Context   string   `json:"context,omitempty"`
}

// Response is the query endpoint's body. Cost covers the completion;
// RetrievalCost covers embedding the question.
type Response struct {
	Answer        string   `json:"answer"`
	Sources       []Source `json:"sources"`
	TokensUsed    int      `json:"tokensUsed"`
	Cost          float64  `json:"cost"`
	Model         string   `json:"model,omitempty"`
	RetrievalCost float64  `json:"retrievalCost"`
}

// Service runs retrieval then synthesis.
type Service struct {
	retriever   Retriever
	synthesizer *Synthesizer
	logger      *slog.Logger
}

// NewService creates a Service.
func NewService(r Retriever, s *Synthesizer) *Service {
	return &Service{
		retriever:   r,
		synthesizer: s,
		logger:      logger.WithComponent("rag"),
	}
}

// Query answers req. An empty retrieval is answered with NoInformationAnswer.
func (s *Service) Query(ctx context.Context, req Request) (resp Response, err error) {
	ctx, span := tracing.Start(ctx, "rag.query")
	defer func() { span.End(err) }()

	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		return Response{}, apperrors.Wrap(apperrors.ErrValidation, "question is required")
	}
	if req.MaxChunks < 0 {
		return Response{}, apperrors.Wrap(apperrors.ErrValidation, "maxChunks must not be negative")
	}
	log := logger.FromContext(ctx)
	start := time.Now()

	rctx, rspan := tracing.Start(ctx, "retrieve")
	found, err := s.retriever.Retrieve(rctx, retrieval.Query{
		UserID:    req.UserID,
		Text:      req.Question,
		ScopeID:   req.ScopeID,
		TopK:      req.MaxChunks,
		Threshold: req.Threshold,
	})
	rspan.Set("chunks", len(found.Chunks))
	rspan.Set("cache_hit", found.CacheHit)
	rspan.End(err)
	if err != nil {
		return Response{}, err
	}

	sctx, sspan := tracing.Start(ctx, "synthesize")
	answer, err := s.synthesizer.Synthesize(sctx, req.UserID, req.Question, found.Chunks, req.Context)
	sspan.Set("tokens", answer.TokensUsed)
	sspan.End(err)
	if err != nil {
		return Response{}, err
	}

	log.Info("query answered",
		"user_id", req.UserID,
		"scope_id", req.ScopeID,
		"sources", len(answer.Sources),
		"tokens", answer.TokensUsed,
		"cost", answer.Cost+found.Cost,
		"cache_hit", found.CacheHit,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return Response{
		Answer:        answer.Text,
		Sources:       answer.Sources,
		TokensUsed:    answer.TokensUsed,
		Cost:          answer.Cost,
		Model:         answer.Model,
		RetrievalCost: found.Cost,
	}, nil
}
