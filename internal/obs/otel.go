package obs

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"

	"intelkernel/internal/config"
)

// InitOTel configures an OTLP metrics exporter and returns a ready Metrics
// implementation plus a shutdown func, grounded on
// internal/observability/otel.go's resource/exporter/reader wiring,
// trimmed to metrics-only since the kernel's node boundaries are already
// covered by structured logging rather than distributed tracing.
func InitOTel(ctx context.Context, cfg config.TelemetryConfig) (Metrics, func(context.Context) error, error) {
	if !cfg.Enabled {
		return NoopMetrics{}, func(context.Context) error { return nil }, nil
	}
	if cfg.Endpoint == "" {
		return nil, nil, fmt.Errorf("otel: endpoint is required when enabled")
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithProcess(),
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("otel: init resource: %w", err)
	}

	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exp, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("otel: init metrics exporter: %w", err)
	}

	reader := metric.NewPeriodicReader(exp, metric.WithInterval(10*time.Second))
	mp := metric.NewMeterProvider(metric.WithReader(reader), metric.WithResource(res))
	otel.SetMeterProvider(mp)

	m := NewOtelMetrics(mp.Meter(cfg.ServiceName))
	return m, mp.Shutdown, nil
}
