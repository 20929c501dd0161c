// Package tracing records timed spans through a context. A root span adopts
// the request id as its trace id and, when ended, logs the whole tree at
// debug level.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/logger"
	"github.com/google/uuid"
)

type contextKey struct{}

// Span is one timed step of a query or a processing job.
type Span struct {
	Name     string
	TraceID  string
	Start    time.Time
	Duration time.Duration
	Err      error

	parent   *Span
	mu       sync.Mutex
	attrs    []any
	children []*Span
}

// Start opens a span under the one already in ctx, or a root span when there
// is none.
func Start(ctx context.Context, name string) (context.Context, *Span) {
	s := &Span{Name: name, Start: time.Now()}
	if parent := FromContext(ctx); parent != nil {
		s.parent = parent
		s.TraceID = parent.TraceID
		parent.mu.Lock()
		parent.children = append(parent.children, s)
		parent.mu.Unlock()
	} else {
		s.TraceID = logger.RequestID(ctx)
		if s.TraceID == "" {
			s.TraceID = uuid.NewString()
		}
	}
	return context.WithValue(ctx, contextKey{}, s), s
}

// FromContext returns the current span, or nil.
func FromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(contextKey{}).(*Span)
	return s
}

// Set attaches an attribute logged with the span.
func (s *Span) Set(key string, value any) {
	s.mu.Lock()
	s.attrs = append(s.attrs, key, value)
	s.mu.Unlock()
}

// End stops the clock. Ending a root span logs the tree.
func (s *Span) End(err error) {
	s.mu.Lock()
	s.Duration = time.Since(s.Start)
	s.Err = err
	s.mu.Unlock()
	if s.parent == nil {
		s.log(slog.Default(), 0)
	}
}

// Children returns the direct child spans in start order.
func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Span(nil), s.children...)
}

func (s *Span) log(l *slog.Logger, depth int) {
	if !l.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	s.mu.Lock()
	args := []any{
		"trace_id", s.TraceID,
		"span", s.Name,
		"depth", depth,
		"duration_ms", s.Duration.Milliseconds(),
	}
	args = append(args, s.attrs...)
	if s.Err != nil {
		args = append(args, "error", s.Err)
	}
	children := append([]*Span(nil), s.children...)
	s.mu.Unlock()

	l.Debug("span", args...)
	for _, c := range children {
		c.log(l, depth+1)
	}
}
