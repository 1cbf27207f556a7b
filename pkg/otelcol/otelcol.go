package otelcol

import (
	"context"

	"agency-engine/pkg/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
)

func defaultTraceProviderOption() []trace.TracerProviderOption {
	return []trace.TracerProviderOption{
		trace.WithResource(resource.Default()),
	}
}

func ProvideTrace(exporter trace.SpanExporter, opts ...trace.TracerProviderOption) *trace.TracerProvider {
	if len(opts) == 0 {
		opts = defaultTraceProviderOption()
	}

	opts = append(opts, trace.WithBatcher(exporter))

	return trace.NewTracerProvider(opts...)
}

// Setup wires the OTLP gRPC exporter into the global tracer provider when an
// OTEL collector address is configured; otherwise tracing stays a no-op.
func Setup(ctx context.Context, cfg *config.Config) error {
	if cfg.Otel.Addr == "" {
		return nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Otel.Addr),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return err
	}

	otel.SetTracerProvider(ProvideTrace(exporter))
	return nil
}
