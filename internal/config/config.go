// Package config provides configuration management for sdnctl.
//
// This package handles:
// - Configuration file parsing (YAML/JSON)
// - Environment variable overrides
// - Configuration validation
// - The embedded default campus network
//
// Configuration Priority (highest to lowest):
// 1. Command-line flags
// 2. Environment variables (SDNCTL_*)
// 3. Configuration file
// 4. Default values
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"campus-sdn-controller/internal/model"
)

//go:embed default_network.yaml
var defaultNetworkData []byte

// Provider names accepted in ProviderConfig.Type
const (
	ProviderYAML    = "yaml"
	ProviderScript  = "script"
	ProviderMariaDB = "mariadb"
)

// Replay modes
const (
	ModeSample = "sample"
	ModeExpand = "expand"
)

// Config is the top-level configuration structure
type Config struct {
	// Provider selects where the network spec is loaded from
	Provider ProviderConfig `json:"provider" yaml:"provider"`

	// Flow contains flow rule installation settings
	Flow FlowConfig `json:"flow" yaml:"flow"`

	// Replay contains trace replay settings
	Replay ReplayConfig `json:"replay" yaml:"replay"`

	// Logging contains logging configuration
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Metrics contains metrics endpoint configuration
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`

	// Network is the inline network spec used by the yaml provider.
	// When nil the embedded default campus network is used.
	Network *model.NetworkSpec `json:"network,omitempty" yaml:"network,omitempty"`
}

// ProviderConfig selects and configures the network spec provider
type ProviderConfig struct {
	// Type is one of: yaml, script, mariadb
	// Default: yaml
	Type string `json:"type" yaml:"type"`

	// Script is the path of the block-syntax network file (script provider)
	Script string `json:"script" yaml:"script"`

	// DSN is the MariaDB data source name (mariadb provider)
	DSN string `json:"dsn" yaml:"dsn"`

	// ConnectTimeout bounds the total time spent retrying the database connection
	// Default: 30s
	ConnectTimeout time.Duration `json:"connectTimeout" yaml:"connectTimeout"`

	// MaxRetryInterval caps the backoff between connection attempts
	// Default: 5s
	MaxRetryInterval time.Duration `json:"maxRetryInterval" yaml:"maxRetryInterval"`
}

// FlowConfig contains the timeouts and priorities of installed flow rules
type FlowConfig struct {
	// IdleTimeout in seconds. Default: 60
	IdleTimeout uint16 `json:"idleTimeout" yaml:"idleTimeout"`

	// HardTimeout in seconds. Default: 300
	HardTimeout uint16 `json:"hardTimeout" yaml:"hardTimeout"`

	// AcceptPriority is the priority of installed forwarding rules
	AcceptPriority uint16 `json:"acceptPriority" yaml:"acceptPriority"`

	// DropPriority is the priority of installed drop rules
	DropPriority uint16 `json:"dropPriority" yaml:"dropPriority"`
}

// ReplayConfig contains settings for the replay command
type ReplayConfig struct {
	// Workers is the number of concurrent decision workers (0 = NumCPU)
	Workers int `json:"workers" yaml:"workers"`

	// Mode is sample (first address of each CIDR) or expand (every address)
	Mode string `json:"mode" yaml:"mode"`

	// MaxHosts is the largest CIDR expanded in expand mode
	MaxHosts uint64 `json:"maxHosts" yaml:"maxHosts"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level is one of: debug, info, warn, error
	Level string `json:"level" yaml:"level"`

	// Format is json or text
	Format string `json:"format" yaml:"format"`

	// File is the log file path (optional)
	// If empty, logs to stdout
	File string `json:"file" yaml:"file"`
}

// MetricsConfig contains the Prometheus endpoint configuration
type MetricsConfig struct {
	// Address is the listen address of the /metrics endpoint.
	// Empty disables the endpoint.
	Address string `json:"address" yaml:"address"`
}

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			Type:             ProviderYAML,
			ConnectTimeout:   30 * time.Second,
			MaxRetryInterval: 5 * time.Second,
		},
		Flow: FlowConfig{
			IdleTimeout:    60,
			HardTimeout:    300,
			AcceptPriority: 100,
			DropPriority:   100,
		},
		Replay: ReplayConfig{
			Mode:     ModeSample,
			MaxHosts: 65536,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// DefaultNetwork returns a fresh copy of the embedded campus network
func DefaultNetwork() (*model.NetworkSpec, error) {
	return ParseNetwork(defaultNetworkData)
}

// ParseNetwork decodes a YAML (or JSON) network spec
func ParseNetwork(data []byte) (*model.NetworkSpec, error) {
	spec := &model.NetworkSpec{}
	if err := yaml.Unmarshal(data, spec); err != nil {
		return nil, fmt.Errorf("failed to parse network spec: %w", err)
	}
	return spec, nil
}

// LoadConfig loads configuration from path (optional) and environment variables
//
// Configuration is loaded in the following order:
// 1. Default values
// 2. Configuration file (path, or SDNCTL_CONFIG_FILE when path is empty)
// 3. Environment variable overrides
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv("SDNCTL_CONFIG_FILE")
	}
	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a YAML or JSON file
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// YAML is a superset of JSON
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// ApplyEnvOverrides applies environment variable overrides to the configuration
//
// Examples:
//   - SDNCTL_PROVIDER=mariadb
//   - SDNCTL_DB_DSN=user:pass@tcp(127.0.0.1:3306)/sdn
//   - SDNCTL_IDLE_TIMEOUT=30
//   - SDNCTL_LOG_LEVEL=debug
func (c *Config) ApplyEnvOverrides() {
	// Provider settings
	if v := os.Getenv("SDNCTL_PROVIDER"); v != "" {
		c.Provider.Type = v
	}
	if v := os.Getenv("SDNCTL_SCRIPT"); v != "" {
		c.Provider.Script = v
	}
	if v := os.Getenv("SDNCTL_DB_DSN"); v != "" {
		c.Provider.DSN = v
	}
	if v := os.Getenv("SDNCTL_DB_CONNECT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Provider.ConnectTimeout = d
		}
	}

	// Flow settings
	if v := os.Getenv("SDNCTL_IDLE_TIMEOUT"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			c.Flow.IdleTimeout = uint16(n)
		}
	}
	if v := os.Getenv("SDNCTL_HARD_TIMEOUT"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			c.Flow.HardTimeout = uint16(n)
		}
	}

	// Replay settings
	if v := os.Getenv("SDNCTL_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Replay.Workers = n
		}
	}

	// Logging settings
	if v := os.Getenv("SDNCTL_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SDNCTL_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("SDNCTL_LOG_FILE"); v != "" {
		c.Logging.File = v
	}

	if v := os.Getenv("SDNCTL_METRICS_ADDR"); v != "" {
		c.Metrics.Address = v
	}
}

// Validate validates the configuration and reports every problem at once
func (c *Config) Validate() error {
	var errors []string

	switch c.Provider.Type {
	case ProviderYAML:
	case ProviderScript:
		if c.Provider.Script == "" {
			errors = append(errors, "script path is required for the script provider")
		}
	case ProviderMariaDB:
		if c.Provider.DSN == "" {
			errors = append(errors, "dsn is required for the mariadb provider")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid provider: %s (must be 'yaml', 'script' or 'mariadb')", c.Provider.Type))
	}

	if c.Flow.HardTimeout != 0 && c.Flow.IdleTimeout > c.Flow.HardTimeout {
		errors = append(errors, fmt.Sprintf("idleTimeout %d exceeds hardTimeout %d", c.Flow.IdleTimeout, c.Flow.HardTimeout))
	}

	if c.Replay.Workers < 0 {
		errors = append(errors, fmt.Sprintf("invalid workers: %d (must be >= 0)", c.Replay.Workers))
	}
	if c.Replay.Mode != ModeSample && c.Replay.Mode != ModeExpand {
		errors = append(errors, fmt.Sprintf("invalid replay mode: %s (must be 'sample' or 'expand')", c.Replay.Mode))
	}
	if c.Replay.MaxHosts == 0 {
		errors = append(errors, "invalid maxHosts: 0 (must be > 0)")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		errors = append(errors, fmt.Sprintf("invalid log level: %s (must be 'debug', 'info', 'warn', or 'error')", c.Logging.Level))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		errors = append(errors, fmt.Sprintf("invalid log format: %s (must be 'json' or 'text')", c.Logging.Format))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// NetworkSpec returns the inline network spec, or the embedded default when
// none is configured
func (c *Config) NetworkSpec() (*model.NetworkSpec, error) {
	if c.Network != nil {
		return c.Network, nil
	}
	return DefaultNetwork()
}
