// Package telemetry configures OpenTelemetry tracing and W3C trace context
// propagation for the relay, the dice upstream and the game client.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"dice-relay-go/internal/config"
)

// Provider bundles the tracer provider and propagator used by one process.
type Provider struct {
	TracerProvider trace.TracerProvider
	Propagator     propagation.TextMapPropagator

	shutdown func(context.Context) error
}

// New builds a Provider for the named service and installs it as the otel
// global. When tracing is disabled spans are no-ops but trace context headers
// received from callers are still forwarded.
func New(ctx context.Context, cfg config.TracingConfig, service string, logger *slog.Logger) (*Provider, error) {
	prop := propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
	otel.SetTextMapPropagator(prop)

	if !cfg.Enabled {
		return &Provider{
			TracerProvider: noop.NewTracerProvider(),
			Propagator:     prop,
			shutdown:       func(context.Context) error { return nil },
		}, nil
	}

	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", service),
		)),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing enabled",
		"component", "telemetry",
		"exporter", cfg.Exporter,
		"endpoint", cfg.Endpoint,
		"service", service,
	)

	return &Provider{
		TracerProvider: tp,
		Propagator:     prop,
		shutdown:       tp.Shutdown,
	}, nil
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.shutdown(ctx)
}

func newExporter(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	var (
		exp sdktrace.SpanExporter
		err error
	)
	switch cfg.Exporter {
	case config.ExporterStdout:
		exp, err = stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
	case config.ExporterOTLPGRPC:
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithHeaders(exportHeaders(cfg)),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err = otlptracegrpc.New(ctx, opts...)
	default:
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithHeaders(exportHeaders(cfg)),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err = otlptracehttp.New(ctx, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s exporter: %w", cfg.Exporter, err)
	}
	return exp, nil
}

// exportHeaders merges static headers with the API key header, if the key is set.
func exportHeaders(cfg config.TracingConfig) map[string]string {
	h := make(map[string]string, len(cfg.Headers)+1)
	maps.Copy(h, cfg.Headers)
	if key := cfg.APIKey(); key != "" && cfg.APIKeyHeader != "" {
		h[cfg.APIKeyHeader] = key
	}
	return h
}
