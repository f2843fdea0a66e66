package otel

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogs exports log records over OTLP gRPC when
// OTEL_EXPORTER_OTLP_ENDPOINT is set. It returns a nil provider otherwise.
func InitLogs(ctx context.Context, serviceName string) (*sdklog.LoggerProvider, error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return nil, nil
	}
	exp, err := otlploggrpc.New(ctx,
		otlploggrpc.WithEndpoint(endpoint),
		otlploggrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("otlp log exporter: %w", err)
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
		)),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
	)
	global.SetLoggerProvider(lp)
	return lp, nil
}

// WithLogBridge tees logger into lp so every zap entry is also an OTel log
// record. A nil lp returns logger unchanged.
func WithLogBridge(logger *zap.Logger, lp *sdklog.LoggerProvider, name string) *zap.Logger {
	if lp == nil {
		return logger
	}
	bridge := otelzap.NewCore(name, otelzap.WithLoggerProvider(lp))
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, bridge)
	}))
}
