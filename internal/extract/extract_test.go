package extract

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/media"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/pricing"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/usage"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transcriberFunc func(ctx context.Context, audio io.Reader, name string) (Transcription, error)

func (f transcriberFunc) Transcribe(ctx context.Context, audio io.Reader, name string) (Transcription, error) {
	return f(ctx, audio, name)
}

type describerFunc func(ctx context.Context, image []byte, ct, prompt string) (Description, error)

func (f describerFunc) Describe(ctx context.Context, image []byte, ct, prompt string) (Description, error) {
	return f(ctx, image, ct, prompt)
}

type demuxerFunc func(ctx context.Context, src io.Reader, max int64) ([]byte, error)

func (f demuxerFunc) ExtractAudio(ctx context.Context, src io.Reader, max int64) ([]byte, error) {
	return f(ctx, src, max)
}

var prices = pricing.New([]config.PriceEntry{
	{Service: "transcription", Model: "whisper-1", PerMinute: 0.006},
	{Service: "vision", Model: "gpt-4o", PerThousandInput: 0.005, PerThousandOutput: 0.015},
})

func newLedger(plan config.PlanLimits) (*usage.Ledger, *usage.MemoryStore) {
	cfg := config.QuotaConfig{DefaultPlan: "free", Plans: map[string]config.PlanLimits{"free": plan}}
	store := usage.NewMemoryStore(cfg)
	return usage.NewLedger(store, cfg, metrics.NewWithRegistry(prometheus.NewRegistry())), store
}

func input(t media.Type, name, ct string, data []byte) Input {
	return Input{
		DocumentID:  "doc-1",
		OwnerID:     "user-1",
		MediaType:   t,
		FileName:    name,
		ContentType: ct,
		Open: func(context.Context) (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

func TestRegistryRejectsUnknownType(t *testing.T) {
	r := NewRegistry(NewText(0))
	_, err := r.Extract(context.Background(), input(media.TypeImage, "a.png", "image/png", nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedMediaType)
}

func TestTextIsIdentityAndFree(t *testing.T) {
	r := NewRegistry(NewText(1 << 20))
	res, err := r.Extract(context.Background(), input(media.TypeDocument, "a.txt", "text/plain", []byte("\ufeffhello\xffworld")))
	require.NoError(t, err)
	assert.Equal(t, "helloworld", res.Text)
	assert.Zero(t, res.Cost)
}

func TestTextOverLimit(t *testing.T) {
	_, err := NewText(4).Extract(context.Background(), input(media.TypeDocument, "a.txt", "text/plain", []byte("hello")))
	assert.ErrorIs(t, err, apperrors.ErrExtractionTooLarge)
}

func TestAudioCostFromReportedDuration(t *testing.T) {
	ledger, store := newLedger(config.PlanLimits{MaxCost: 10})
	tr := transcriberFunc(func(_ context.Context, audio io.Reader, name string) (Transcription, error) {
		data, _ := io.ReadAll(audio)
		assert.Equal(t, "abc", string(data))
		assert.Equal(t, "talk.wav", name)
		return Transcription{Text: "spoken words", DurationSeconds: 150}, nil
	})
	a := NewAudio(tr, nil, prices, ledger, AudioConfig{Model: "whisper-1"})

	res, err := a.Extract(context.Background(), input(media.TypeAudio, "talk.wav", "audio/wav", []byte("abc")))
	require.NoError(t, err)
	assert.Equal(t, "spoken words", res.Text)
	assert.InDelta(t, 2.5*0.006, res.Cost, 1e-12)

	entries := store.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, pricing.Transcription, entries[0].Service)
	assert.InDelta(t, res.Cost, entries[0].Usage.Cost, 1e-12)
}

func TestAudioProviderFailure(t *testing.T) {
	ledger, _ := newLedger(config.PlanLimits{})
	tr := transcriberFunc(func(context.Context, io.Reader, string) (Transcription, error) {
		return Transcription{}, errors.New("connection reset")
	})
	a := NewAudio(tr, nil, prices, ledger, AudioConfig{Model: "whisper-1"})

	_, err := a.Extract(context.Background(), input(media.TypeAudio, "a.mp3", "audio/mpeg", []byte("x")))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrExtractionFailed)
}

func TestAudioQuotaExceededSkipsProvider(t *testing.T) {
	ledger, _ := newLedger(config.PlanLimits{MaxAPICalls: 1})
	ledger.Record(context.Background(), usage.Entry{UserID: "user-1", Usage: usage.Usage{APICalls: 5}})
	called := false
	tr := transcriberFunc(func(context.Context, io.Reader, string) (Transcription, error) {
		called = true
		return Transcription{}, nil
	})
	a := NewAudio(tr, nil, prices, ledger, AudioConfig{Model: "whisper-1"})

	_, err := a.Extract(context.Background(), input(media.TypeAudio, "a.mp3", "audio/mpeg", []byte("x")))
	assert.ErrorIs(t, err, apperrors.ErrQuotaExceeded)
	assert.False(t, called)
}

func TestVideoExtractedAudioCeiling(t *testing.T) {
	ledger, _ := newLedger(config.PlanLimits{})
	called := false
	tr := transcriberFunc(func(context.Context, io.Reader, string) (Transcription, error) {
		called = true
		return Transcription{}, nil
	})
	demux := demuxerFunc(func(context.Context, io.Reader, int64) ([]byte, error) {
		return make([]byte, 2048), nil
	})
	a := NewAudio(tr, demux, prices, ledger, AudioConfig{Model: "whisper-1", MaxInput: 1024})
	v := NewVideo(a, demux, 0)

	_, err := v.Extract(context.Background(), input(media.TypeVideo, "clip.mp4", "video/mp4", []byte("video")))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrExtractionTooLarge)
	assert.False(t, called, "nothing is sent once the ceiling is exceeded")
}

func TestVideoTranscribesDemuxedAudio(t *testing.T) {
	ledger, _ := newLedger(config.PlanLimits{})
	tr := transcriberFunc(func(_ context.Context, _ io.Reader, name string) (Transcription, error) {
		assert.Equal(t, "clip.mp3", name)
		return Transcription{Text: "narration", DurationSeconds: 60}, nil
	})
	demux := demuxerFunc(func(_ context.Context, src io.Reader, max int64) ([]byte, error) {
		assert.Equal(t, int64(1024), max)
		return []byte("mp3"), nil
	})
	v := NewVideo(NewAudio(tr, demux, prices, ledger, AudioConfig{Model: "whisper-1", MaxInput: 1024}), demux, 0)

	res, err := v.Extract(context.Background(), input(media.TypeVideo, "clip.mp4", "video/mp4", []byte("video")))
	require.NoError(t, err)
	assert.Equal(t, "narration", res.Text)
	assert.InDelta(t, 0.006, res.Cost, 1e-12)
}

func TestVideoOverSourceLimitIsNotTruncated(t *testing.T) {
	ledger, _ := newLedger(config.PlanLimits{})
	called := false
	tr := transcriberFunc(func(context.Context, io.Reader, string) (Transcription, error) {
		called = true
		return Transcription{Text: "narration", DurationSeconds: 30}, nil
	})
	var staged int
	demux := demuxerFunc(func(_ context.Context, src io.Reader, _ int64) ([]byte, error) {
		data, err := io.ReadAll(src)
		staged = len(data)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrExtractionFailed, "staging input: %v", err)
		}
		return []byte("mp3"), nil
	})
	v := NewVideo(NewAudio(tr, demux, prices, ledger, AudioConfig{Model: "whisper-1", MaxInput: 1024}), demux, 8)

	_, err := v.Extract(context.Background(), input(media.TypeVideo, "clip.mp4", "video/mp4", []byte("0123456789")))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrExtractionTooLarge)
	assert.False(t, called)
	assert.LessOrEqual(t, staged, 8)

	res, err := v.Extract(context.Background(), input(media.TypeVideo, "clip.mp4", "video/mp4", []byte("01234567")))
	require.NoError(t, err)
	assert.Equal(t, 8, staged, "a source exactly at the limit is read whole")
	assert.Equal(t, "narration", res.Text)
}

func TestImageCostFromTokens(t *testing.T) {
	ledger, store := newLedger(config.PlanLimits{})
	d := describerFunc(func(_ context.Context, image []byte, ct, prompt string) (Description, error) {
		assert.Equal(t, "image/png", ct)
		assert.True(t, strings.Contains(prompt, "visible text"))
		return Description{Text: "A chart titled Q3", PromptTokens: 1000, CompletionTokens: 200}, nil
	})
	img := NewImage(d, prices, ledger, "gpt-4o", 1<<20, PolicyConfig{})

	res, err := img.Extract(context.Background(), input(media.TypeImage, "c.png", "image/png", []byte{0x89, 'P'}))
	require.NoError(t, err)
	assert.Equal(t, "A chart titled Q3", res.Text)
	assert.InDelta(t, 0.005+0.2*0.015, res.Cost, 1e-12)
	require.Len(t, store.Entries(), 1)
	assert.Equal(t, int64(1200), store.Entries()[0].Usage.Tokens)
}
