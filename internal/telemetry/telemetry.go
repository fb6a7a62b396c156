// Package telemetry wires up OpenTelemetry: an SDK tracer provider plus an
// slog handler bridged through otelslog, so every log line carries the
// active trace ID when one is present.
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"go.opentelemetry.io/otel/sdk/resource"
)

// Config bounds how the tracer provider is constructed.
type Config struct {
	ServiceName string
	NodeName    string
}

// Setup installs a global tracer provider and returns a slog.Logger bridged
// to the OTel log pipeline plus a shutdown func to flush spans on exit.
func Setup(ctx context.Context, cfg Config) (*slog.Logger, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceNamespace("webitel"),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	handler := otelslog.NewHandler(cfg.ServiceName)
	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger, tp.Shutdown, nil
}
