// Package tracing wraps the OpenTelemetry SDK behind
// pkg/observability's TracerProvider/Tracer/SpanHandle interfaces, the
// way the teacher's internal/tracing package wraps otel behind
// pkg/observability without leaking concrete SDK types into the
// engine packages that consume it.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/cubewise-code/rushti/pkg/observability"
)

// Exporter selects where spans are sent.
type Exporter string

const (
	ExporterNone       Exporter = ""
	ExporterStdout     Exporter = "stdout"
	ExporterOTLPGRPC   Exporter = "otlp-grpc"
	ExporterOTLPHTTP   Exporter = "otlp-http"
)

// Config configures the OpenTelemetry provider.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Exporter       Exporter
	// Endpoint is the OTLP collector address, used when Exporter is
	// ExporterOTLPGRPC or ExporterOTLPHTTP. Ignored otherwise.
	Endpoint string
}

// Provider wraps an OpenTelemetry SDK TracerProvider.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// New builds a Provider per cfg. ExporterNone yields a provider with no
// span processor attached — spans are created but never exported,
// useful for local development without a collector.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	exporter, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	return &Provider{tp: tp}, nil
}

func newSpanExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case ExporterNone:
		return nil, nil
	case ExporterStdout:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case ExporterOTLPGRPC:
		return otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure())
	case ExporterOTLPHTTP:
		return otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure())
	default:
		return nil, fmt.Errorf("unknown exporter %q", cfg.Exporter)
	}
}

// Tracer returns a tracer for the given instrumentation scope.
func (p *Provider) Tracer(name string) observability.Tracer {
	return &otelTracer{tracer: p.tp.Tracer(name)}
}

// Shutdown flushes and releases the underlying SDK provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

// ForceFlush exports all pending spans synchronously.
func (p *Provider) ForceFlush(ctx context.Context) error {
	return p.tp.ForceFlush(ctx)
}

var _ observability.TracerProvider = (*Provider)(nil)

type otelTracer struct {
	tracer trace.Tracer
}

func (t *otelTracer) Start(ctx context.Context, name string, opts ...observability.SpanOption) (context.Context, observability.SpanHandle) {
	cfg := &observability.SpanConfig{}
	observability.ApplySpanOption(cfg, opts...)

	var otelOpts []trace.SpanStartOption
	switch cfg.SpanKind {
	case observability.SpanKindClient:
		otelOpts = append(otelOpts, trace.WithSpanKind(trace.SpanKindClient))
	case observability.SpanKindServer:
		otelOpts = append(otelOpts, trace.WithSpanKind(trace.SpanKindServer))
	default:
		otelOpts = append(otelOpts, trace.WithSpanKind(trace.SpanKindInternal))
	}
	if len(cfg.Attributes) > 0 {
		otelOpts = append(otelOpts, trace.WithAttributes(toAttributes(cfg.Attributes)...))
	}

	ctx, span := t.tracer.Start(ctx, name, otelOpts...)
	return ctx, &otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetStatus(code observability.StatusCode, message string) {
	var oc codes.Code
	switch code {
	case observability.StatusCodeOK:
		oc = codes.Ok
	case observability.StatusCodeError:
		oc = codes.Error
	default:
		oc = codes.Unset
	}
	s.span.SetStatus(oc, message)
}

func (s *otelSpan) SetAttributes(attrs map[string]any) {
	s.span.SetAttributes(toAttributes(attrs)...)
}

func (s *otelSpan) RecordError(err error) {
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

func toAttributes(attrs map[string]any) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		switch tv := v.(type) {
		case string:
			out = append(out, attribute.String(k, tv))
		case int:
			out = append(out, attribute.Int(k, tv))
		case int64:
			out = append(out, attribute.Int64(k, tv))
		case float64:
			out = append(out, attribute.Float64(k, tv))
		case bool:
			out = append(out, attribute.Bool(k, tv))
		default:
			out = append(out, attribute.String(k, fmt.Sprintf("%v", tv)))
		}
	}
	return out
}
