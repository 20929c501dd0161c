// Package extract turns stored media into plain text. There is one strategy
// per media type; each reports the cost of any paid service it used.
package extract

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/media"
	apperrors "github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/resilience"
)

// Input identifies the media to extract. Open may be called more than once.
type Input struct {
	DocumentID  string
	OwnerID     string
	MediaType   media.Type
	FileName    string
	ContentType string
	Open        func(ctx context.Context) (io.ReadCloser, error)
}

// Result is extracted text and what producing it cost.
type Result struct {
	Text  string
	Cost  float64
	Model string
}

// Extractor handles one media type.
type Extractor interface {
	MediaType() media.Type
	Extract(ctx context.Context, in Input) (Result, error)
}

// Registry dispatches on media type.
type Registry struct {
	byType map[media.Type]Extractor
}

// NewRegistry registers extractors; a later one replaces an earlier one for
// the same type.
func NewRegistry(extractors ...Extractor) *Registry {
	r := &Registry{byType: make(map[media.Type]Extractor, len(extractors))}
	for _, e := range extractors {
		r.byType[e.MediaType()] = e
	}
	return r
}

// Extract fails fast with ErrUnsupportedMediaType when no strategy exists.
func (r *Registry) Extract(ctx context.Context, in Input) (Result, error) {
	e, ok := r.byType[in.MediaType]
	if !ok {
		return Result{}, apperrors.Wrap(apperrors.ErrUnsupportedMediaType, "no extractor for media type %q", in.MediaType)
	}
	return e.Extract(ctx, in)
}

// readLimited reads at most limit bytes and reports ErrExtractionTooLarge
// when the source is longer.
func readLimited(ctx context.Context, in Input, limit int64) ([]byte, error) {
	rc, err := in.Open(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExtractionFailed, "opening %s: %v", in.FileName, err)
	}
	defer rc.Close()
	var r io.Reader = rc
	if limit > 0 {
		r = io.LimitReader(rc, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExtractionFailed, "reading %s: %v", in.FileName, err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, apperrors.Wrap(apperrors.ErrExtractionTooLarge, "%s exceeds %d bytes", in.FileName, limit)
	}
	return data, nil
}

// classify keeps taxonomy errors as they are and files everything else
// under ErrExtractionFailed.
func classify(service string, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(apperrors.ErrTimeout, "%s: %v", service, err)
	}
	return apperrors.Wrap(apperrors.ErrExtractionFailed, "%s: %v", service, err)
}

func newPolicy(name string, cfg PolicyConfig) resilience.Policy {
	return resilience.Policy{
		Name:    name,
		Timeout: cfg.Timeout,
		Retry:   resilience.RetryConfig{MaxAttempts: max(cfg.MaxAttempts, 1)},
		Breaker: cfg.Breaker,
	}
}

// PolicyConfig bounds each paid call an extractor makes.
type PolicyConfig struct {
	Timeout     time.Duration
	MaxAttempts int
	Breaker     *resilience.CircuitBreaker
}
