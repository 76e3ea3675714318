// Package observability installs the OpenTelemetry meter provider that receives
// fetch metrics. A disabled configuration installs nothing.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.32.0"
	"google.golang.org/grpc/credentials/insecure"
)

// Provider owns the meter provider for the lifetime of the process.
type Provider interface {
	MeterProvider() metric.MeterProvider
	ForceFlush(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Option customizes NewProvider.
type Option func(*options)

type options struct {
	reader sdkmetric.Reader
}

// WithReader replaces the exporter-backed periodic reader.
func WithReader(r sdkmetric.Reader) Option {
	return func(o *options) {
		o.reader = r
	}
}

type provider struct {
	config        Config
	meterProvider *sdkmetric.MeterProvider
}

// NewProvider creates a provider and installs it as the global meter provider.
// The caller's config is not modified.
func NewProvider(cfg *Config, opts ...Option) (Provider, error) {
	safeCfg := *cfg
	safeCfg.ApplyDefaults()
	if err := safeCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid observability config: %w", err)
	}

	if !safeCfg.Enabled {
		return noopProvider{}, nil
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	p := &provider{config: safeCfg}
	if err := p.initMeterProvider(o.reader); err != nil {
		return nil, fmt.Errorf("failed to initialize meter provider: %w", err)
	}
	otel.SetMeterProvider(p.meterProvider)
	return p, nil
}

func (p *provider) initMeterProvider(reader sdkmetric.Reader) error {
	res, err := p.createResource()
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	if reader == nil {
		exporter, err := p.createMetricExporter()
		if err != nil {
			return fmt.Errorf("failed to create metric exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(
			exporter,
			sdkmetric.WithInterval(p.config.Interval),
			sdkmetric.WithTimeout(p.config.ExportTimeout),
		)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	return nil
}

func (p *provider) createResource() (*resource.Resource, error) {
	custom, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(p.config.ServiceName),
			semconv.ServiceVersion(p.config.Version),
			semconv.DeploymentEnvironmentName(p.config.Environment),
		),
	)
	if err != nil {
		return nil, err
	}
	return resource.Merge(resource.Default(), custom)
}

func (p *provider) createMetricExporter() (sdkmetric.Exporter, error) {
	if p.config.Endpoint == EndpointStdout {
		return stdoutmetric.New(stdoutmetric.WithPrettyPrint())
	}

	switch p.config.Protocol {
	case ProtocolHTTP:
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(p.config.Endpoint)}
		if p.config.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		if len(p.config.Headers) > 0 {
			opts = append(opts, otlpmetrichttp.WithHeaders(p.config.Headers))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case ProtocolGRPC:
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.Endpoint)}
		if p.config.Insecure {
			opts = append(opts, otlpmetricgrpc.WithTLSCredentials(insecure.NewCredentials()))
		}
		if len(p.config.Headers) > 0 {
			opts = append(opts, otlpmetricgrpc.WithHeaders(p.config.Headers))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("metrics protocol '%s': %w", p.config.Protocol, ErrInvalidProtocol)
	}
}

// MeterProvider returns the SDK meter provider.
func (p *provider) MeterProvider() metric.MeterProvider {
	return p.meterProvider
}

// ForceFlush exports pending metrics immediately.
func (p *provider) ForceFlush(ctx context.Context) error {
	if err := p.meterProvider.ForceFlush(ctx); err != nil {
		return fmt.Errorf("failed to flush meter provider: %w", err)
	}
	return nil
}

// Shutdown flushes and stops the meter provider.
func (p *provider) Shutdown(ctx context.Context) error {
	if err := p.meterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown meter provider: %w", err)
	}
	return nil
}

type noopProvider struct{}

func (noopProvider) MeterProvider() metric.MeterProvider {
	return metricnoop.NewMeterProvider()
}

func (noopProvider) ForceFlush(_ context.Context) error {
	return nil
}

func (noopProvider) Shutdown(_ context.Context) error {
	return nil
}
