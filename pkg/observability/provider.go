// Package observability defines the tracing capability the core engine
// consumes, kept independent of any concrete tracing SDK so the
// scheduler and executor never import OpenTelemetry types directly.
package observability

import "context"

// TracerProvider creates tracers and owns their lifecycle.
type TracerProvider interface {
	// Tracer returns a tracer for the given instrumentation scope, e.g.
	// "rushti.scheduler".
	Tracer(name string) Tracer

	// Shutdown flushes any pending spans and releases resources.
	Shutdown(ctx context.Context) error

	// ForceFlush exports all pending spans synchronously, used before a
	// checkpoint or process exit.
	ForceFlush(ctx context.Context) error
}

// Tracer creates spans within one instrumentation scope.
type Tracer interface {
	// Start begins a new span as a child of the context's current span.
	Start(ctx context.Context, name string, opts ...SpanOption) (context.Context, SpanHandle)
}

// SpanHandle is a handle to an in-flight span.
type SpanHandle interface {
	// End marks the span complete. Calling End more than once is a no-op.
	End()

	// SetStatus sets the span's final status.
	SetStatus(code StatusCode, message string)

	// SetAttributes adds key-value metadata to the span.
	SetAttributes(attrs map[string]any)

	// RecordError records an error encountered during the span.
	RecordError(err error)
}

// SpanKind categorizes the work a span represents.
type SpanKind int

const (
	SpanKindInternal SpanKind = iota
	SpanKindClient
	SpanKindServer
)

// StatusCode is a span's outcome.
type StatusCode int

const (
	StatusCodeUnset StatusCode = iota
	StatusCodeOK
	StatusCodeError
)

// SpanConfig holds span creation options, exported so TracerProvider
// implementations outside this package can read them.
type SpanConfig struct {
	SpanKind   SpanKind
	Attributes map[string]any
}

// SpanOption configures span creation.
type SpanOption interface {
	apply(*SpanConfig)
}

type spanOptionFunc func(*SpanConfig)

func (f spanOptionFunc) apply(c *SpanConfig) { f(c) }

// WithSpanKind sets the span kind.
func WithSpanKind(kind SpanKind) SpanOption {
	return spanOptionFunc(func(c *SpanConfig) { c.SpanKind = kind })
}

// WithAttributes sets initial span attributes.
func WithAttributes(attrs map[string]any) SpanOption {
	return spanOptionFunc(func(c *SpanConfig) {
		if c.Attributes == nil {
			c.Attributes = make(map[string]any, len(attrs))
		}
		for k, v := range attrs {
			c.Attributes[k] = v
		}
	})
}

// ApplySpanOption lets external packages build a SpanConfig the same way
// Start does, without exposing spanOptionFunc.
func ApplySpanOption(cfg *SpanConfig, opts ...SpanOption) {
	for _, o := range opts {
		o.apply(cfg)
	}
}

// NoopProvider is a TracerProvider that discards every span, used when
// tracing is disabled (the default — §4 carries tracing as ambient
// infrastructure, not a required-on feature).
type NoopProvider struct{}

func (NoopProvider) Tracer(string) Tracer                 { return noopTracer{} }
func (NoopProvider) Shutdown(context.Context) error        { return nil }
func (NoopProvider) ForceFlush(context.Context) error      { return nil }

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string, _ ...SpanOption) (context.Context, SpanHandle) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End()                                 {}
func (noopSpan) SetStatus(StatusCode, string)         {}
func (noopSpan) SetAttributes(map[string]any)         {}
func (noopSpan) RecordError(error)                    {}
