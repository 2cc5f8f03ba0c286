// Package telemetry bootstraps the OpenTelemetry meter provider used by
// the model gateway's cost counters and the orchestrator's operation
// counters. When telemetry is disabled in config, Setup returns a no-op
// provider and a no-op shutdown, mirroring the teacher's otel bootstrap.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Shutdown flushes and tears down telemetry; always safe to call.
type Shutdown func(context.Context) error

// Setup returns a metric.MeterProvider. When enabled is false or
// endpoint is empty, it returns the no-op provider so callers never need
// to branch on whether telemetry is configured.
func Setup(ctx context.Context, enabled bool, endpoint, serviceName string) (metric.MeterProvider, Shutdown, error) {
	if !enabled || endpoint == "" {
		return noop.NewMeterProvider(), func(context.Context) error { return nil }, nil
	}

	exp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(endpoint))
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: build otlp exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		sdkmetric.WithResource(res),
	)

	return provider, func(c context.Context) error { return provider.Shutdown(c) }, nil
}
