package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/rag"
	"github.com/tmc/langchaingo/llms"
)

var errNoChoices = errors.New("model returned no choices")

// Completer implements rag.Completer.
type Completer struct {
	llm   llms.Model
	model string
}

func (c *Completer) Complete(ctx context.Context, p rag.Prompt) (rag.Completion, error) {
	content := []llms.MessageContent{
		{Role: llms.ChatMessageTypeSystem, Parts: []llms.ContentPart{llms.TextPart(p.System)}},
		{Role: llms.ChatMessageTypeHuman, Parts: []llms.ContentPart{llms.TextPart(p.User)}},
	}
	resp, err := c.llm.GenerateContent(ctx, content,
		llms.WithModel(c.model),
		llms.WithMaxTokens(p.MaxTokens),
		llms.WithTemperature(p.Temperature),
	)
	if err != nil {
		return rag.Completion{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return rag.Completion{}, errNoChoices
	}
	choice := resp.Choices[0]
	return rag.Completion{
		Text:             choice.Content,
		PromptTokens:     infoInt(choice.GenerationInfo, "PromptTokens"),
		CompletionTokens: infoInt(choice.GenerationInfo, "CompletionTokens"),
		Model:            c.model,
	}, nil
}

// Describer implements extract.ImageDescriber.
type Describer struct {
	llm       llms.Model
	model     string
	maxTokens int
}

func (d *Describer) Describe(ctx context.Context, image []byte, contentType, prompt string) (extract.Description, error) {
	content := []llms.MessageContent{{
		Role: llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{
			llms.TextPart(prompt),
			llms.BinaryPart(contentType, image),
		},
	}}
	resp, err := d.llm.GenerateContent(ctx, content,
		llms.WithModel(d.model),
		llms.WithMaxTokens(d.maxTokens),
	)
	if err != nil {
		return extract.Description{}, fmt.Errorf("vision analysis: %w", err)
	}
	if len(resp.Choices) == 0 {
		return extract.Description{}, errNoChoices
	}
	choice := resp.Choices[0]
	return extract.Description{
		Text:             choice.Content,
		PromptTokens:     infoInt(choice.GenerationInfo, "PromptTokens"),
		CompletionTokens: infoInt(choice.GenerationInfo, "CompletionTokens"),
		Model:            d.model,
	}, nil
}

// infoInt reads a token count from langchaingo generation info, whose value
// type depends on the backend.
func infoInt(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
