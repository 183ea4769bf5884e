// Package appconfig provides configuration structures and loading logic for
// the leukocyte data plane.
package appconfig

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/symbiontlabs/leukocyte/pkg/logging"
)

// Config holds the global configuration for the data plane process.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Ruleset   RulesetConfig   `yaml:"ruleset"`
	Inspector InspectorConfig `yaml:"inspector"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   logging.Config  `yaml:"logging"`
}

// ServerConfig holds configuration for the HTTP listeners.
type ServerConfig struct {
	DataAddress  string `yaml:"data_address"`
	AdminAddress string `yaml:"admin_address"`
	Upstream     string `yaml:"upstream"`
}

// RulesetConfig points at the watched rule set file.
type RulesetConfig struct {
	Path string `yaml:"path"`
}

// InspectorConfig bounds body buffering.
type InspectorConfig struct {
	// MemoryThresholdBytes is the body size above which buffering spills to
	// a temp file.
	MemoryThresholdBytes int64 `yaml:"memory_threshold_bytes"`
	// MaxBodyBytes caps how much body is buffered for inspection; zero is
	// unlimited. Bodies over the cap skip the body phase and stream through
	// unmodified.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// TelemetryConfig holds configuration for OpenTelemetry export.
type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Environment  string `yaml:"environment"`
	Insecure     bool   `yaml:"insecure"`
}

// Load reads configuration from a file and applies environment variable
// overrides. A missing path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			DataAddress:  ":8090",
			AdminAddress: ":19090",
		},
		Ruleset: RulesetConfig{
			Path: "rules.json",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "leukocyte",
		},
		Logging: logging.Config{
			Level: "info",
		},
	}

	if path != "" {
		//nolint:gosec // Config file path is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("LEUKOCYTE_DATA_ADDR"); val != "" {
		cfg.Server.DataAddress = val
	}
	if val := os.Getenv("LEUKOCYTE_ADMIN_ADDR"); val != "" {
		cfg.Server.AdminAddress = val
	}
	if val := os.Getenv("LEUKOCYTE_UPSTREAM"); val != "" {
		cfg.Server.Upstream = val
	}
	if val := os.Getenv("LEUKOCYTE_RULESET_PATH"); val != "" {
		cfg.Ruleset.Path = val
	}
	if val := os.Getenv("LEUKOCYTE_MAX_BODY_BYTES"); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Inspector.MaxBodyBytes = parsed
		}
	}
	if val := os.Getenv("LEUKOCYTE_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("LEUKOCYTE_ENVIRONMENT"); val != "" {
		cfg.Telemetry.Environment = val
	}
	if val := os.Getenv("LEUKOCYTE_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
	if val := os.Getenv("LEUKOCYTE_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Server.DataAddress == "" {
		return fmt.Errorf("server.data_address is required")
	}
	if c.Server.AdminAddress == "" {
		return fmt.Errorf("server.admin_address is required")
	}
	if c.Server.Upstream != "" {
		parsed, err := url.Parse(c.Server.Upstream)
		if err != nil {
			return fmt.Errorf("server.upstream is not a valid URL: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("server.upstream must be http or https, got %q", parsed.Scheme)
		}
	}
	if c.Ruleset.Path == "" {
		return fmt.Errorf("ruleset.path is required")
	}
	if c.Inspector.MemoryThresholdBytes < 0 {
		return fmt.Errorf("inspector.memory_threshold_bytes must be non-negative")
	}
	if c.Inspector.MaxBodyBytes < 0 {
		return fmt.Errorf("inspector.max_body_bytes must be non-negative")
	}
	return nil
}
