package pricing

import (
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTable() *Table {
	return New([]config.PriceEntry{
		{Service: "transcription", Model: "whisper-1", PerMinute: 0.006},
		{Service: "vision", Model: "gpt-4o", PerThousandInput: 0.005, PerThousandOutput: 0.015},
		{Service: "embedding", Model: "text-embedding-3-small", PerThousandInput: 0.00002},
		{Service: "completion", Model: "gpt-4", PerThousandInput: 0.03, PerThousandOutput: 0.06},
	})
}

func TestTranscriptionCost(t *testing.T) {
	cost, err := testTable().TranscriptionCost("whisper-1", 90)
	require.NoError(t, err)
	assert.InDelta(t, 0.009, cost, 1e-12)
}

func TestTokenCost(t *testing.T) {
	cost, err := testTable().TokenCost(Vision, "gpt-4o", 1000, 2000)
	require.NoError(t, err)
	assert.InDelta(t, 0.005+0.03, cost, 1e-12)

	cost, err = testTable().EmbeddingCost("text-embedding-3-small", 50_000)
	require.NoError(t, err)
	assert.InDelta(t, 0.001, cost, 1e-12)
}

func TestUnknownModelIsConfigurationError(t *testing.T) {
	_, err := testTable().TokenCost(Completion, "mystery", 1, 1)
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}
