package telemetry

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the observability configuration: logging, tracing, metrics,
// and event publishing. It is usually loaded from an observability.yaml
// next to the main config file.
type Config struct {
	// ServiceName identifies the service in traces and metrics.
	ServiceName string `yaml:"service_name"`

	// ServiceVersion is the version reported with telemetry.
	ServiceVersion string `yaml:"service_version"`

	// Environment names the deployment environment (development, production).
	Environment string `yaml:"environment"`

	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
	Events  EventsConfig  `yaml:"events"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	Level string `yaml:"level"`

	// Format specifies the log format (console, json).
	Format string `yaml:"format"`

	// Output is where logs are written (stdout, stderr, or a file path).
	Output string `yaml:"output"`

	// EnableCaller adds file:line caller information to log lines.
	EnableCaller bool `yaml:"enable_caller"`
}

// TracingConfig configures distributed tracing.
type TracingConfig struct {
	// Enabled controls whether tracing is active.
	Enabled bool `yaml:"enabled"`

	// Exporter specifies the span exporter (otlp, stdout, none).
	Exporter string `yaml:"exporter"`

	// Endpoint is the OTLP collector endpoint.
	Endpoint string `yaml:"endpoint"`

	// SamplingRate is the trace sampling rate (0.0 to 1.0).
	SamplingRate float64 `yaml:"sampling_rate"`

	// MaxExportBatchSize is the maximum batch size for export.
	MaxExportBatchSize int `yaml:"max_export_batch_size"`

	// ExportTimeout bounds a single export.
	ExportTimeout time.Duration `yaml:"export_timeout"`

	// Headers are additional headers for the OTLP exporter.
	Headers map[string]string `yaml:"headers"`

	// Insecure disables TLS for the exporter connection.
	Insecure bool `yaml:"insecure"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	Enabled bool `yaml:"enabled"`

	// ListenAddress is the address of the metrics HTTP endpoint.
	ListenAddress string `yaml:"listen_address"`

	// Path is the HTTP path for metrics.
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	Namespace string `yaml:"namespace"`
}

// EventsConfig configures the in-process event publisher.
type EventsConfig struct {
	// Enabled controls whether events are published.
	Enabled bool `yaml:"enabled"`

	// BufferSize is the size of the async event buffer.
	BufferSize int `yaml:"buffer_size"`

	// EnableAsync delivers events on a background goroutine.
	EnableAsync bool `yaml:"enable_async"`
}

// DefaultConfig returns the default observability configuration.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "planpilot",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Enabled:            false,
			Exporter:           "none",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            make(map[string]string),
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:       false,
			ListenAddress: ":9090",
			Path:          "/metrics",
			Namespace:     "planpilot",
		},
		Events: EventsConfig{
			Enabled:     true,
			BufferSize:  256,
			EnableAsync: false,
		},
	}
}

// ProductionConfig returns a production-leaning configuration: JSON logs,
// OTLP traces sampled at 10%, metrics on.
func ProductionConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "production"
	cfg.Logging.Format = "json"
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.SamplingRate = 0.1
	cfg.Tracing.Insecure = false
	cfg.Metrics.Enabled = true
	return cfg
}

// DevelopmentConfig returns a development configuration: debug console
// logs and stdout traces, everything sampled.
func DevelopmentConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.EnableCaller = true
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "stdout"
	cfg.Tracing.SamplingRate = 1.0
	return cfg
}

// LoadConfig reads an observability YAML file over the defaults. Unknown
// keys are rejected.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read observability config: %w", err)
	}

	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse observability config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid observability config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be console or json)", c.Logging.Format)
	}

	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "otlp", "stdout", "none":
		default:
			return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
		}
		if c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
			return fmt.Errorf("otlp exporter requires an endpoint")
		}
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got %f", c.Tracing.SamplingRate)
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddress == "" {
		return fmt.Errorf("metrics listen address is required when metrics are enabled")
	}
	if c.Events.Enabled && c.Events.EnableAsync && c.Events.BufferSize <= 0 {
		return fmt.Errorf("async events need a positive buffer size, got %d", c.Events.BufferSize)
	}
	return nil
}
