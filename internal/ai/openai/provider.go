// Package openai adapts OpenAI-compatible services to the platform's
// extraction, embedding and answer-synthesis interfaces. Chat, vision and
// embeddings go through langchaingo; speech-to-text uses the REST endpoint
// directly because langchaingo has no audio client.
package openai

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/logger"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Provider owns one client per capability so each can target its own model.
type Provider struct {
	cfg         config.AIConfig
	completion  *openai.LLM
	vision      *openai.LLM
	embedder    embeddings.Embedder
	transcriber *Transcriber
	logger      *slog.Logger
}

// NewProvider builds every client from cfg.
func NewProvider(cfg config.AIConfig) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, apperrors.Wrap(apperrors.ErrConfiguration, "ai.apiKey is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	httpClient := &http.Client{Timeout: cfg.RequestTimeout}

	completion, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.CompletionModel),
		openai.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("creating completion client: %w", err)
	}
	vision, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.VisionModel),
		openai.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("creating vision client: %w", err)
	}
	embedClient, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(cfg.APIKey),
		openai.WithEmbeddingModel(cfg.EmbeddingModel),
		openai.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("creating embedding client: %w", err)
	}
	// Sub-batching is done by the embedding generator; the langchaingo
	// batch size only has to be at least as large.
	embedder, err := embeddings.NewEmbedder(embedClient,
		embeddings.WithBatchSize(max(cfg.EmbeddingBatchSize, 1)),
		embeddings.WithStripNewLines(false),
	)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &Provider{
		cfg:         cfg,
		completion:  completion,
		vision:      vision,
		embedder:    embedder,
		transcriber: NewTranscriber(cfg.BaseURL, cfg.APIKey, cfg.TranscriptionModel, httpClient),
		logger:      logger.WithComponent("openai-provider"),
	}, nil
}

// Embedder returns the embedding client.
func (p *Provider) Embedder() *Embedder {
	return &Embedder{embedder: p.embedder}
}

// Completer returns the chat completion client.
func (p *Provider) Completer() *Completer {
	return &Completer{llm: p.completion, model: p.cfg.CompletionModel}
}

// Describer returns the vision client.
func (p *Provider) Describer() *Describer {
	return &Describer{llm: p.vision, model: p.cfg.VisionModel, maxTokens: p.cfg.VisionMaxTokens}
}

// Transcriber returns the speech-to-text client.
func (p *Provider) Transcriber() *Transcriber {
	return p.transcriber
}
