package extract

import (
	"bytes"
	"context"
	"io"
	"path"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/media"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/pricing"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/usage"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/resilience"
)

// Transcription is a speech-to-text response. DurationSeconds comes from the
// provider and is the billing basis.
type Transcription struct {
	Text            string
	Language        string
	DurationSeconds float64
	Model           string
}

// Transcriber is the external speech-to-text service.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, fileName string) (Transcription, error)
}

// Audio transcribes audio files.
type Audio struct {
	transcriber Transcriber
	demuxer     AudioDemuxer
	prices      *pricing.Table
	ledger      *usage.Ledger
	model       string
	maxUpload   int64
	maxInput    int64
	policy      resilience.Policy
}

// AudioConfig sizes the audio extractor.
type AudioConfig struct {
	Model string
	// MaxUpload bounds how much of the stored file is read.
	MaxUpload int64
	// MaxInput is the speech-to-text service's own input ceiling. Larger
	// files are re-encoded through the demuxer when one is set.
	MaxInput int64
	Policy   PolicyConfig
}

// NewAudio creates the audio extractor. demuxer may be nil.
func NewAudio(t Transcriber, demuxer AudioDemuxer, prices *pricing.Table, ledger *usage.Ledger, cfg AudioConfig) *Audio {
	return &Audio{
		transcriber: t,
		demuxer:     demuxer,
		prices:      prices,
		ledger:      ledger,
		model:       cfg.Model,
		maxUpload:   cfg.MaxUpload,
		maxInput:    cfg.MaxInput,
		policy:      newPolicy("transcription", cfg.Policy),
	}
}

func (a *Audio) MediaType() media.Type { return media.TypeAudio }

func (a *Audio) Extract(ctx context.Context, in Input) (Result, error) {
	data, err := readLimited(ctx, in, a.maxUpload)
	if err != nil {
		return Result{}, err
	}
	name := in.FileName
	if a.maxInput > 0 && int64(len(data)) > a.maxInput && a.demuxer != nil {
		if data, err = a.demuxer.ExtractAudio(ctx, bytes.NewReader(data), a.maxInput); err != nil {
			return Result{}, err
		}
		name = strings.TrimSuffix(name, path.Ext(name)) + ".mp3"
	}
	return a.transcribe(ctx, in, data, name)
}

// transcribe sends audio bytes to the provider under the ledger. It is also
// the second half of video extraction.
func (a *Audio) transcribe(ctx context.Context, in Input, audio []byte, fileName string) (Result, error) {
	if a.maxInput > 0 && int64(len(audio)) > a.maxInput {
		return Result{}, tooLarge(fileName, int64(len(audio)), a.maxInput)
	}
	entry := usage.Entry{
		UserID:   in.OwnerID,
		Service:  pricing.Transcription,
		Model:    a.model,
		Action:   "transcribe",
		Metadata: map[string]any{"document_id": in.DocumentID, "bytes": len(audio)},
	}
	out, _, err := usage.Metered(ctx, a.ledger, entry, func(ctx context.Context) (billed, usage.Usage, error) {
		var tr Transcription
		err := a.policy.Do(ctx, func(ctx context.Context) error {
			var err error
			tr, err = a.transcriber.Transcribe(ctx, bytes.NewReader(audio), fileName)
			return err
		})
		if err != nil {
			return billed{}, usage.Usage{}, err
		}
		cost, err := a.prices.TranscriptionCost(a.model, tr.DurationSeconds)
		if err != nil {
			return billed{}, usage.Usage{APICalls: 1}, err
		}
		return billed{text: tr.Text, cost: cost}, usage.Usage{APICalls: 1, Cost: cost}, nil
	})
	if err != nil {
		return Result{}, classify("transcription", err)
	}
	return Result{Text: out.text, Cost: out.cost, Model: a.model}, nil
}

// billed is what a metered extraction call hands back.
type billed struct {
	text string
	cost float64
}
