// Package tracing records a tree of timed spans for one pipeline run: a root
// span for the job and a child per stage and sink. The finished tree is
// written to slog, one line per span.
package tracing

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type contextKey struct{}

// Span is one timed operation.
type Span struct {
	Name      string
	TraceID   string
	StartTime time.Time
	Duration  time.Duration
	Err       error

	mu       sync.Mutex
	children []*Span
	attrs    map[string]any
}

// StartSpan creates a root span. The trace ID is normally the job ID.
func StartSpan(ctx context.Context, name, traceID string) (context.Context, *Span) {
	span := &Span{
		Name:      name,
		TraceID:   traceID,
		StartTime: time.Now(),
		attrs:     make(map[string]any),
	}
	return context.WithValue(ctx, contextKey{}, span), span
}

// StartChildSpan creates a span under the one in ctx. Without a parent it
// starts a detached span with no trace ID.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	child := &Span{
		Name:      name,
		StartTime: time.Now(),
		attrs:     make(map[string]any),
	}
	if parent := SpanFromContext(ctx); parent != nil {
		child.TraceID = parent.TraceID
		parent.mu.Lock()
		parent.children = append(parent.children, child)
		parent.mu.Unlock()
	}
	return context.WithValue(ctx, contextKey{}, child), child
}

// End closes the span, recording err as its outcome.
func (s *Span) End(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Duration = time.Since(s.StartTime)
	s.Err = err
}

func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs[key] = value
	s.mu.Unlock()
}

// Children returns the child spans in start order.
func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Span, len(s.children))
	copy(out, s.children)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func SpanFromContext(ctx context.Context) *Span {
	if span, ok := ctx.Value(contextKey{}).(*Span); ok {
		return span
	}
	return nil
}

// Log writes the span tree depth first.
func (s *Span) Log(logger *slog.Logger) {
	s.log(logger, 0)
}

func (s *Span) log(logger *slog.Logger, depth int) {
	s.mu.Lock()
	attrs := []any{
		"trace_id", s.TraceID,
		"span", s.Name,
		"duration_ms", s.Duration.Milliseconds(),
		"depth", depth,
	}
	keys := make([]string, 0, len(s.attrs))
	for k := range s.attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, k, s.attrs[k])
	}
	level := slog.LevelInfo
	if s.Err != nil {
		attrs = append(attrs, "error", s.Err)
		level = slog.LevelError
	}
	s.mu.Unlock()

	logger.Log(context.Background(), level, "span", attrs...)
	for _, child := range s.Children() {
		child.log(logger, depth+1)
	}
}
