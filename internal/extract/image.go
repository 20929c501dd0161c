package extract

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/media"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/pricing"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/usage"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/resilience"
)

// VisionPrompt asks for a description a reader could use instead of the
// image, including any text in it.
const VisionPrompt = `Analyze this image in detail. Describe:
1. The main content of the image
2. Any visible text (transcribe completely)
3. Relevant elements for understanding
4. Context and meaning

Provide a complete and structured description that allows understanding the content without seeing the image.`

// Description is a vision model's answer and its token usage.
type Description struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	Model            string
}

// ImageDescriber is the external vision-language service.
type ImageDescriber interface {
	Describe(ctx context.Context, image []byte, contentType, prompt string) (Description, error)
}

// Image describes images with a vision model.
type Image struct {
	describer ImageDescriber
	prices    *pricing.Table
	ledger    *usage.Ledger
	model     string
	maxBytes  int64
	policy    resilience.Policy
}

// NewImage creates the image extractor.
func NewImage(d ImageDescriber, prices *pricing.Table, ledger *usage.Ledger, model string, maxBytes int64, policy PolicyConfig) *Image {
	return &Image{
		describer: d,
		prices:    prices,
		ledger:    ledger,
		model:     model,
		maxBytes:  maxBytes,
		policy:    newPolicy("vision", policy),
	}
}

func (i *Image) MediaType() media.Type { return media.TypeImage }

func (i *Image) Extract(ctx context.Context, in Input) (Result, error) {
	data, err := readLimited(ctx, in, i.maxBytes)
	if err != nil {
		return Result{}, err
	}
	entry := usage.Entry{
		UserID:   in.OwnerID,
		Service:  pricing.Vision,
		Model:    i.model,
		Action:   "describe_image",
		Metadata: map[string]any{"document_id": in.DocumentID},
	}
	out, _, err := usage.Metered(ctx, i.ledger, entry, func(ctx context.Context) (billed, usage.Usage, error) {
		var d Description
		err := i.policy.Do(ctx, func(ctx context.Context) error {
			var err error
			d, err = i.describer.Describe(ctx, data, in.ContentType, VisionPrompt)
			return err
		})
		if err != nil {
			return billed{}, usage.Usage{}, err
		}
		tokens := int64(d.PromptTokens + d.CompletionTokens)
		cost, err := i.prices.TokenCost(pricing.Vision, i.model, d.PromptTokens, d.CompletionTokens)
		if err != nil {
			return billed{}, usage.Usage{APICalls: 1, Tokens: tokens}, err
		}
		return billed{text: d.Text, cost: cost}, usage.Usage{APICalls: 1, Tokens: tokens, Cost: cost}, nil
	})
	if err != nil {
		return Result{}, classify("vision", err)
	}
	return Result{Text: out.text, Cost: out.cost, Model: i.model}, nil
}
