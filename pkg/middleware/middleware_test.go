package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/vango-dev/seqline/pkg/server"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type stubSink struct{ id uint64 }

func (s stubSink) ID() uint64                  { return s.id }
func (s stubSink) Write(p []byte) (int, error) { return len(p), nil }
func (s stubSink) Closed() bool                { return false }

func newRequest(word string) server.Request {
	return server.Request{
		Conn:       stubSink{id: 7},
		Text:       word,
		Word:       word,
		ReceivedAt: time.Now().Add(-time.Millisecond),
	}
}

// handlerReturning is the innermost handler for middleware tests.
func handlerReturning(err error) server.Handler {
	return server.HandlerFunc(func(context.Context, server.Request) error {
		return err
	})
}

// recordingProvider captures spans on top of the no-op implementation.
type recordingProvider struct {
	noop.TracerProvider

	mu    sync.Mutex
	spans []*recordingSpan
}

func (p *recordingProvider) Tracer(string, ...trace.TracerOption) trace.Tracer {
	return &recordingTracer{provider: p}
}

func (p *recordingProvider) recorded() []*recordingSpan {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*recordingSpan(nil), p.spans...)
}

type recordingTracer struct {
	noop.Tracer
	provider *recordingProvider
}

func (t *recordingTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	cfg := trace.NewSpanStartConfig(opts...)
	span := &recordingSpan{
		name:  name,
		kind:  cfg.SpanKind(),
		attrs: append([]attribute.KeyValue(nil), cfg.Attributes()...),
	}
	t.provider.mu.Lock()
	t.provider.spans = append(t.provider.spans, span)
	t.provider.mu.Unlock()
	return trace.ContextWithSpan(ctx, span), span
}

type recordingSpan struct {
	noop.Span

	name   string
	kind   trace.SpanKind
	attrs  []attribute.KeyValue
	status codes.Code
	errs   []error
	ended  bool
}

func (s *recordingSpan) SetStatus(code codes.Code, _ string)          { s.status = code }
func (s *recordingSpan) RecordError(err error, _ ...trace.EventOption) { s.errs = append(s.errs, err) }
func (s *recordingSpan) SetAttributes(kv ...attribute.KeyValue)        { s.attrs = append(s.attrs, kv...) }
func (s *recordingSpan) End(...trace.SpanEndOption)                    { s.ended = true }
func (s *recordingSpan) IsRecording() bool                             { return !s.ended }

func (s *recordingSpan) attr(key string) (attribute.Value, bool) {
	for _, kv := range s.attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}
