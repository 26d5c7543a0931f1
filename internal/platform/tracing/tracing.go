// Package tracing wraps OpenTelemetry behind a small Tracer interface.
//
// Services depend on Tracer, not on otel directly, so tests can pass Noop()
// and the server can pass an otel-backed tracer bound to the global provider.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "keepsake"

// Tracer starts spans.
type Tracer interface {
	Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, Span)
}

// Span is ended exactly once with the operation's error, if any.
type Span interface {
	End(err error)
	SetAttributes(attrs ...attribute.KeyValue)
}

type otelTracer struct {
	tracer trace.Tracer
}

// New returns a tracer backed by the global otel provider. A nil provider
// argument uses otel.GetTracerProvider().
func New(provider trace.TracerProvider) Tracer {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &otelTracer{tracer: provider.Tracer(instrumentationName)}
}

func (t *otelTracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, &otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
	s.span.End()
}

func (s *otelSpan) SetAttributes(attrs ...attribute.KeyValue) {
	s.span.SetAttributes(attrs...)
}

type noopTracer struct{}

type noopSpan struct{}

// Noop returns a tracer that records nothing.
func Noop() Tracer { return noopTracer{} }

func (noopTracer) Start(ctx context.Context, _ string, _ ...attribute.KeyValue) (context.Context, Span) {
	return ctx, noopSpan{}
}

func (noopSpan) End(error) {}

func (noopSpan) SetAttributes(...attribute.KeyValue) {}

// OrNoop returns t, or the no-op tracer when t is nil.
func OrNoop(t Tracer) Tracer {
	if t == nil {
		return Noop()
	}
	return t
}
