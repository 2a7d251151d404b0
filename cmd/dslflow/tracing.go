package main

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/cschleiden/go-dslflow/internal/config"
)

func newTracerProvider(ctx context.Context, cfg config.Tracing) (trace.TracerProvider, func(context.Context) error, error) {
	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.Exporter {
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())

	case "otlp":
		exporter, err = otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithInsecure(),
		)

	default:
		return noop.NewTracerProvider(), func(context.Context) error { return nil }, nil
	}

	if err != nil {
		return nil, nil, fmt.Errorf("creating %s trace exporter: %w", cfg.Exporter, err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))

	return tp, tp.Shutdown, nil
}
