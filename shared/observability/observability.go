package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// newResource avoids resource.Default: its schema URL differs from the
// semconv version used here and Merge rejects the conflict.
func newResource(serviceName string) (*resource.Resource, error) {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	), nil
}

// SetupTracing installs a global tracer provider exporting to stdout.
// The returned function flushes and stops it.
func SetupTracing(serviceName string) (func(context.Context) error, error) {
	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("initialize stdouttrace exporter: %w", err)
	}
	res, err := newResource(serviceName)
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}
	provider := trace.NewTracerProvider(
		trace.WithBatcher(exp, trace.WithBatchTimeout(5*time.Second)),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}

// SetupPrometheusMetrics installs a global meter provider backed by the
// default Prometheus registry. Serve it with promhttp.Handler().
func SetupPrometheusMetrics(serviceName string) (*metric.MeterProvider, error) {
	exp, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("initialize prometheus exporter: %w", err)
	}
	res, err := newResource(serviceName)
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}
	mp := metric.NewMeterProvider(metric.WithReader(exp), metric.WithResource(res))
	otel.SetMeterProvider(mp)
	return mp, nil
}
