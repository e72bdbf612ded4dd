package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// TracingConfig controls the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled        bool
	OTLPEndpoint   string // host:port, e.g. "localhost:4318"
	SampleRate     float64
	ServiceName    string
	ServiceVersion string
}

// TracerProvider wraps the SDK provider so callers can shut it down
// cleanly at exit; when tracing is disabled it holds no provider (otel's
// global default no-op provider is left in place) and Shutdown is a no-op.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
}

// SetupTracing installs a tracer provider as the global default and
// returns a handle whose Shutdown flushes pending spans. Exporter
// construction failure degrades to a disabled tracer rather than
// failing sandboxd startup.
func SetupTracing(ctx context.Context, cfg TracingConfig, logger interface {
	Warn(format string, args ...any)
}) *TracerProvider {
	if !cfg.Enabled {
		return &TracerProvider{}
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint), otlptracehttp.WithInsecure())
	if err != nil {
		logger.Warn("otlp exporter setup failed, tracing disabled: %v", err)
		return &TracerProvider{}
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		res = resource.Default()
	}

	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 1.0
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate))),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return &TracerProvider{provider: provider}
}

// Shutdown flushes and stops the tracer provider, if one was started.
func (t *TracerProvider) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return t.provider.Shutdown(shutdownCtx)
}
