// Package otel wires OpenTelemetry tracing for the service and ties zap log
// lines to the active span.
package otel

import (
	"context"
	"os"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	otlptracegrpc "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// InitTracer sets up a TracerProvider using OTEL_EXPORTER_OTLP_ENDPOINT;
// if unset, falls back to a pretty-printed console exporter unless
// OTEL_TRACES_STDOUT is false, in which case spans are sampled but dropped.
// It also installs the W3C trace-context propagator so spans continue across
// the relay's upstream requests.
func InitTracer(ctx context.Context, serviceName string) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
		)),
	}

	exp, err := newExporter(ctx)
	if err != nil {
		return nil, err
	}
	if exp != nil {
		opts = append(opts, sdktrace.WithBatcher(exp))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp, nil
}

func newExporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		client := otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		)
		return otlptrace.New(ctx, client)
	}

	if v, err := strconv.ParseBool(os.Getenv("OTEL_TRACES_STDOUT")); err == nil && !v {
		return nil, nil
	}
	return stdouttrace.New(stdouttrace.WithPrettyPrint())
}

// LoggerWithSpan returns logger annotated with the span's trace_id and
// span_id. Spans that are not recording a valid context leave it unchanged.
func LoggerWithSpan(logger *zap.Logger, span trace.Span) *zap.Logger {
	sc := span.SpanContext()
	if !sc.IsValid() {
		return logger
	}
	return logger.With(
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}
