// Package telemetry configures OpenTelemetry tracing.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"

	"github.com/vnmchuo/usage-governor/config"
)

const serviceVersion = "0.1.0"

// InitTracer installs a global tracer provider exporting to the backend named
// by cfg.OTELExporterType ("stdout", "otlp" or "none") and returns its
// shutdown function.
func InitTracer(serviceName string, cfg *config.Config, log *zap.Logger) (func(), error) {
	exporter, err := newExporter(context.Background(), cfg, os.Stdout)
	if err != nil {
		return nil, err
	}
	if exporter == nil {
		log.Info("tracing disabled")
		return func() {}, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"", // empty schema URL avoids a conflict with resource.Default()
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	log.Info("tracing enabled", zap.String("exporter", cfg.OTELExporterType))

	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Warn("failed to shutdown tracer provider", zap.Error(err))
		}
	}
	return shutdown, nil
}

// newExporter returns nil, nil when tracing is disabled.
func newExporter(ctx context.Context, cfg *config.Config, stdout io.Writer) (sdktrace.SpanExporter, error) {
	switch cfg.OTELExporterType {
	case "none":
		return nil, nil
	case "otlp":
		exp, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTELExporterEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
		}
		return exp, nil
	case "stdout", "":
		exp, err := stdouttrace.New(stdouttrace.WithWriter(stdout), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}
		return exp, nil
	}
	return nil, fmt.Errorf("unknown OTEL_EXPORTER_TYPE %q", cfg.OTELExporterType)
}
