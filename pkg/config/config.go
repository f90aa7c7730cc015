// Package config loads the composite data worker's own YAML configuration
// (transport, cache client, logging, metrics, and pipeline defaults) —
// distinct from the composite-definitions XML document, which lives in
// pkg/composite.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the worker's runtime configuration.
type Config struct {
	Framework  FrameworkConfig  `yaml:"framework"`
	Transport  TransportConfig  `yaml:"transport"`
	Cache      CacheConfig      `yaml:"cache"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
}

// FrameworkConfig contains general worker settings.
type FrameworkConfig struct {
	Version          string `yaml:"version"`
	LogLevel         string `yaml:"log_level"`
	LogFormat        string `yaml:"log_format"`
	CompositesPath   string `yaml:"composites_path"`
}

// TransportConfig contains inbound RPC listener settings.
type TransportConfig struct {
	Addr           string        `yaml:"addr"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// CacheConfig contains the upstream cache service client settings.
type CacheConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// MetricsConfig contains Prometheus metrics server settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// PipelineConfig contains request-pipeline defaults.
type PipelineConfig struct {
	// DefaultPeriod is loaded, saved and validated with the rest of the
	// config. The transport does not read it: a request that omits "period"
	// always gets 60.
	DefaultPeriod int `yaml:"default_period"`
	// ScanWorkers bounds concurrent cache fan-out per request (spec.md §5).
	ScanWorkers int `yaml:"scan_workers"`
	ValWorkers  int `yaml:"val_workers"`
}

// DefaultConfig returns a configuration with the defaults spec.md names
// explicitly (period=60) plus sane ambient defaults.
func DefaultConfig() *Config {
	return &Config{
		Framework: FrameworkConfig{
			Version:        "v1",
			LogLevel:       "info",
			LogFormat:      "text",
			CompositesPath: "./composites.xml",
		},
		Transport: TransportConfig{
			Addr:           ":8080",
			RequestTimeout: 15 * time.Second,
		},
		Cache: CacheConfig{
			URL:     "http://localhost:9100",
			Timeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
		Pipeline: PipelineConfig{
			DefaultPeriod: 60,
			ScanWorkers:   8,
			ValWorkers:    8,
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults for
// any field the file doesn't set and for a missing file entirely.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = "config.yaml"
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := []byte(os.ExpandEnv(string(data)))
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Framework.CompositesPath == "" {
		return fmt.Errorf("framework.composites_path is required")
	}
	if c.Cache.URL == "" {
		return fmt.Errorf("cache.url is required")
	}
	if c.Transport.Addr == "" {
		return fmt.Errorf("transport.addr is required")
	}
	if c.Pipeline.DefaultPeriod <= 0 {
		c.Pipeline.DefaultPeriod = 60
	}
	if c.Pipeline.ScanWorkers < 1 {
		c.Pipeline.ScanWorkers = 1
	}
	if c.Pipeline.ValWorkers < 1 {
		c.Pipeline.ValWorkers = 1
	}
	return nil
}
