package middleware

import (
	"context"
	"strconv"

	"github.com/vango-dev/seqline/pkg/server"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Default tracer name for seqline.
const defaultTracerName = "seqline"

// OTelConfig configures the OpenTelemetry middleware.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: "seqline").
	TracerName string

	// TracerProvider overrides the global tracer provider.
	TracerProvider trace.TracerProvider

	// IncludeWord records the extracted word on the span.
	// Client text may be sensitive - disabled by default.
	IncludeWord bool

	// Filter determines which requests to trace.
	// Return true to trace the request, false to skip.
	// If nil, all requests are traced.
	Filter func(req server.Request) bool

	// AttributeExtractor extracts custom attributes from the request.
	AttributeExtractor func(req server.Request) []attribute.KeyValue

	// tracer is the resolved tracer instance.
	tracer trace.Tracer
}

// OTelOption configures the OpenTelemetry middleware.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) OTelOption {
	return func(c *OTelConfig) {
		c.TracerProvider = tp
	}
}

// WithIncludeWord enables recording the request word in traces.
func WithIncludeWord(include bool) OTelOption {
	return func(c *OTelConfig) {
		c.IncludeWord = include
	}
}

// WithRequestFilter sets a filter function for requests.
func WithRequestFilter(filter func(req server.Request) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

// WithAttributeExtractor sets a custom attribute extractor.
func WithAttributeExtractor(extractor func(req server.Request) []attribute.KeyValue) OTelOption {
	return func(c *OTelConfig) {
		c.AttributeExtractor = extractor
	}
}

// defaultOTelConfig returns the default OpenTelemetry configuration.
func defaultOTelConfig() OTelConfig {
	return OTelConfig{
		TracerName: defaultTracerName,
	}
}

// OpenTelemetry creates writer middleware that traces every request.
//
// The middleware:
//   - Creates a span per request with connection id, attempt and reset
//   - Passes the span context to the wrapped handler
//   - Records errors and sets span status
//
// The tracer uses the global OpenTelemetry tracer provider unless
// WithTracerProvider is given. Configure it in main() before starting the
// server:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
func OpenTelemetry(opts ...OTelOption) server.Middleware {
	config := defaultOTelConfig()
	for _, opt := range opts {
		opt(&config)
	}

	if config.TracerProvider != nil {
		config.tracer = config.TracerProvider.Tracer(config.TracerName)
	} else {
		config.tracer = otel.Tracer(config.TracerName)
	}

	return func(next server.Handler) server.Handler {
		return server.HandlerFunc(func(ctx context.Context, req server.Request) error {
			if config.Filter != nil && !config.Filter(req) {
				return next.Handle(ctx, req)
			}

			attrs := []attribute.KeyValue{
				attribute.Int64("seqline.conn_id", int64(req.Conn.ID())),
				attribute.Int("seqline.attempt", req.Attempt),
				attribute.Int("seqline.word_length", len(req.Word)),
			}
			if req.HasReset {
				attrs = append(attrs, attribute.String("seqline.counter_reset", strconv.FormatUint(req.Reset, 10)))
			}
			if config.IncludeWord {
				attrs = append(attrs, attribute.String("seqline.word", req.Word))
			}
			if config.AttributeExtractor != nil {
				attrs = append(attrs, config.AttributeExtractor(req)...)
			}

			spanOpts := []trace.SpanStartOption{
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attrs...),
			}
			if !req.ReceivedAt.IsZero() {
				spanOpts = append(spanOpts, trace.WithTimestamp(req.ReceivedAt))
			}

			spanCtx, span := config.tracer.Start(ctx, "seqline.respond", spanOpts...)
			defer span.End()

			err := next.Handle(spanCtx, req)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				span.SetAttributes(attribute.String("seqline.error_type", categorizeError(err)))
			} else {
				span.SetStatus(codes.Ok, "")
			}

			return err
		})
	}
}

// SpanFromContext returns the request span inside a wrapped handler.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}
