// Package pricing is the single source of per-unit rates for every paid
// external service, keyed by (service, model).
package pricing

import (
	"fmt"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/errors"
)

// Service names a paid external capability.
type Service string

const (
	Transcription Service = "transcription"
	Vision        Service = "vision"
	Embedding     Service = "embedding"
	Completion    Service = "completion"
)

// Rate holds USD prices. Token rates are per thousand tokens.
type Rate struct {
	PerMinute         float64
	PerThousandInput  float64
	PerThousandOutput float64
}

type key struct {
	service Service
	model   string
}

// Table is safe for concurrent use.
type Table struct {
	mu    sync.RWMutex
	rates map[key]Rate
}

// New builds a table from configured entries.
func New(entries []config.PriceEntry) *Table {
	t := &Table{rates: make(map[key]Rate, len(entries))}
	for _, e := range entries {
		t.Set(Service(e.Service), e.Model, Rate{
			PerMinute:         e.PerMinute,
			PerThousandInput:  e.PerThousandInput,
			PerThousandOutput: e.PerThousandOutput,
		})
	}
	return t
}

// Set adds or replaces a rate.
func (t *Table) Set(service Service, model string, r Rate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rates[key{service, model}] = r
}

// Lookup returns the rate for (service, model). A missing entry is a
// configuration error; callers must not guess a price.
func (t *Table) Lookup(service Service, model string) (Rate, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.rates[key{service, model}]
	if !ok {
		return Rate{}, apperrors.Wrap(apperrors.ErrConfiguration, "no price for %s model %q", service, model)
	}
	return r, nil
}

// TranscriptionCost prices seconds of audio as reported by the provider.
func (t *Table) TranscriptionCost(model string, seconds float64) (float64, error) {
	r, err := t.Lookup(Transcription, model)
	if err != nil {
		return 0, err
	}
	if seconds < 0 {
		return 0, fmt.Errorf("negative duration %v", seconds)
	}
	return seconds / 60 * r.PerMinute, nil
}

// TokenCost prices a call billed on prompt and completion tokens.
func (t *Table) TokenCost(service Service, model string, promptTokens, completionTokens int) (float64, error) {
	r, err := t.Lookup(service, model)
	if err != nil {
		return 0, err
	}
	return float64(promptTokens)/1000*r.PerThousandInput + float64(completionTokens)/1000*r.PerThousandOutput, nil
}

// EmbeddingCost prices total input tokens sent to an embedding model.
func (t *Table) EmbeddingCost(model string, tokens int) (float64, error) {
	return t.TokenCost(Embedding, model, tokens, 0)
}
