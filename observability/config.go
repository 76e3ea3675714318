package observability

import (
	"errors"
	"fmt"
	"time"
)

const (
	// EndpointStdout is a special endpoint value that outputs to stdout (for local development).
	EndpointStdout = "stdout"

	// ProtocolHTTP specifies OTLP over HTTP/protobuf.
	ProtocolHTTP = "http"

	// ProtocolGRPC specifies OTLP over gRPC.
	ProtocolGRPC = "grpc"

	defaultInterval = 15 * time.Second
	defaultTimeout  = 10 * time.Second
)

var (
	// ErrMissingServiceName is returned when metrics are enabled without a service name.
	ErrMissingServiceName = errors.New("observability: service name is required")

	// ErrInvalidProtocol is returned for protocols other than http and grpc.
	ErrInvalidProtocol = errors.New("observability: invalid protocol")

	// ErrMissingEndpoint is returned when metrics are enabled without an endpoint.
	ErrMissingEndpoint = errors.New("observability: endpoint is required")
)

// Config controls metric export for fetch operations.
type Config struct {
	Enabled     bool   `koanf:"enabled" yaml:"enabled"`
	ServiceName string `koanf:"servicename" yaml:"servicename"`
	Version     string `koanf:"version" yaml:"version"`
	Environment string `koanf:"environment" yaml:"environment"`

	// Endpoint is "stdout" or an OTLP collector address such as localhost:4318.
	Endpoint string `koanf:"endpoint" yaml:"endpoint"`
	Protocol string `koanf:"protocol" yaml:"protocol"`
	Insecure bool   `koanf:"insecure" yaml:"insecure"`
	// Headers are sent with every export (for example collector API keys).
	Headers map[string]string `koanf:"headers" yaml:"headers"`

	Interval      time.Duration `koanf:"interval" yaml:"interval"`
	ExportTimeout time.Duration `koanf:"exporttimeout" yaml:"exporttimeout"`
}

// ApplyDefaults fills zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = EndpointStdout
	}
	if c.Protocol == "" {
		c.Protocol = ProtocolHTTP
	}
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.ExportTimeout <= 0 {
		c.ExportTimeout = defaultTimeout
	}
}

// Validate checks an enabled configuration. Disabled configurations are always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.ServiceName == "" {
		return ErrMissingServiceName
	}
	if c.Endpoint == "" {
		return ErrMissingEndpoint
	}
	if c.Endpoint == EndpointStdout {
		return nil
	}
	switch c.Protocol {
	case ProtocolHTTP, ProtocolGRPC:
		return nil
	default:
		return fmt.Errorf("protocol '%s': %w", c.Protocol, ErrInvalidProtocol)
	}
}
