package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "observability.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfigsValidate(t *testing.T) {
	for name, cfg := range map[string]*Config{
		"default":     DefaultConfig(),
		"production":  ProductionConfig(),
		"development": DevelopmentConfig(),
	} {
		if name == "production" {
			// OTLP needs an endpoint, which production leaves to the file.
			cfg.Tracing.Endpoint = "collector:4317"
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("%s config invalid: %v", name, err)
		}
	}
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
service_name: planpilot
environment: production
logging:
  level: debug
  format: json
metrics:
  enabled: true
  listen_address: ":9191"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v, want debug/json from the file", cfg.Logging)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.ListenAddress != ":9191" {
		t.Errorf("metrics = %+v, want enabled on :9191", cfg.Metrics)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("path = %q, want the /metrics default preserved", cfg.Metrics.Path)
	}
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "service_name: planpilot\nsurprise: true\n")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected an error for an unknown key")
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "invalid log level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "invalid log format"},
		{"bad exporter", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "jaeger" }, "invalid trace exporter"},
		{"otlp without endpoint", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "otlp" }, "requires an endpoint"},
		{"bad sampling", func(c *Config) { c.Tracing.SamplingRate = 1.5 }, "sampling rate"},
		{"metrics without address", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.ListenAddress = "" }, "listen address"},
		{"no service name", func(c *Config) { c.ServiceName = "" }, "service name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("err = %v, want substring %q", err, tt.wantMsg)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
