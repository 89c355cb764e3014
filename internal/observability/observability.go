// Package observability provides OpenTelemetry tracing setup.
//
// Traces are exported over OTLP HTTP to a local collector agent. The agent
// buffers, authenticates, and forwards; the application never talks to a
// tracing backend directly. Tracing is off by default and failure to reach
// the agent degrades to a no-op rather than blocking startup.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"

	"github.com/alcovehq/alcove/internal/log"
)

// Config for tracing setup.
type Config struct {
	// Enabled turns the pipeline on. When false, Setup installs nothing and
	// the global provider stays a no-op.
	Enabled bool
	// Endpoint is the collector's OTLP HTTP endpoint, host:port.
	Endpoint string
	// Environment tags spans with the deployment environment.
	Environment string
	// ServiceName identifies this application in the tracing backend.
	ServiceName string
}

// Defaults applied by Setup for empty Config fields.
const (
	DefaultEndpoint    = "localhost:4318"
	DefaultServiceName = "alcove"
)

// Setup installs the global tracer provider. The returned shutdown function
// flushes pending spans; callers must invoke it on exit.
//
// An unreachable collector is reported by the batch processor at export
// time, not here; Setup only fails on configuration errors.
func Setup(ctx context.Context, cfg Config, logger log.Logger) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }
	if !cfg.Enabled {
		return noop, nil
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = DefaultServiceName
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(), // local agent, no TLS
	)
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(serviceName)}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentName(cfg.Environment))
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
	if err != nil {
		return nil, fmt.Errorf("building trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	logger.Debug("tracing enabled",
		"endpoint", endpoint,
		"service", serviceName,
		"environment", cfg.Environment,
	)

	return provider.Shutdown, nil
}
