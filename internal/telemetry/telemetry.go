// Package telemetry sets up the trace provider the CLI hands to sessions.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config drives how tracing is initialized.
type Config struct {
	// Endpoint is the OTLP/HTTP collector URL, such as
	// "http://localhost:4318". Tracing is off when it and Exporter are unset.
	Endpoint string

	ServiceName    string
	ServiceVersion string

	// Attributes are added to the resource of every span.
	Attributes []attribute.KeyValue

	// Exporter replaces the OTLP exporter.
	Exporter sdktrace.SpanExporter
}

// Provider is a configured trace provider.
type Provider struct {
	trace.TracerProvider
	sdk *sdktrace.TracerProvider
}

// Enabled reports whether spans are exported.
func (p *Provider) Enabled() bool { return p.sdk != nil }

// Shutdown flushes pending spans and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.sdk == nil {
		return nil
	}
	return p.sdk.Shutdown(ctx)
}

// New builds a provider from cfg. Without an endpoint or exporter it
// returns a provider that records nothing.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	exp := cfg.Exporter
	if exp == nil {
		endpoint := strings.TrimSpace(cfg.Endpoint)
		if endpoint == "" {
			return &Provider{TracerProvider: noop.NewTracerProvider()}, nil
		}
		var err error
		exp, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}
	}
	res, err := buildResource(cfg)
	if err != nil {
		return nil, errors.Join(err, exp.Shutdown(ctx))
	}
	sdk := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	return &Provider{TracerProvider: sdk, sdk: sdk}, nil
}

func buildResource(cfg Config) (*resource.Resource, error) {
	service := strings.TrimSpace(cfg.ServiceName)
	if service == "" {
		service = "ndv"
	}
	attrs := []attribute.KeyValue{attribute.String("service.name", service)}
	if version := strings.TrimSpace(cfg.ServiceVersion); version != "" {
		attrs = append(attrs, attribute.String("service.version", version))
	}
	attrs = append(attrs, cfg.Attributes...)
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}
	return res, nil
}
