// Package config defines the stacksampler configuration and loads it from
// defaults, a YAML file and environment variables.
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Log formats accepted by LoggingConfig.Format.
const (
	LogFormatAuto    = "auto"
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

// Config is the complete stacksampler configuration.
type Config struct {
	Sampler SamplerConfig `yaml:"sampler"`
	Storage StorageConfig `yaml:"storage"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// SamplerConfig configures the sampling loop.
type SamplerConfig struct {
	// IntervalMs is the time between passes in milliseconds. Fractions are
	// rounded to the nearest millisecond, with a minimum of one.
	IntervalMs     float64 `yaml:"interval_ms" env:"STACKSAMPLER_INTERVAL_MS"`
	Memory         bool    `yaml:"memory" env:"STACKSAMPLER_MEMORY"`
	BufferCapacity int     `yaml:"buffer_capacity" env:"STACKSAMPLER_BUFFER_CAPACITY"`

	// ThreadFilter restricts sampling to threads whose name contains one
	// of these substrings.
	ThreadFilter []string `yaml:"thread_filter,omitempty" env:"STACKSAMPLER_THREAD_FILTER"`

	// ThreadScanInterval is how often the target's thread list and sleep
	// states are refreshed.
	ThreadScanInterval time.Duration `yaml:"thread_scan_interval" env:"STACKSAMPLER_THREAD_SCAN_INTERVAL"`
}

// StorageConfig configures sample persistence.
type StorageConfig struct {
	Path            string        `yaml:"path" env:"STACKSAMPLER_DB"`
	FlushInterval   time.Duration `yaml:"flush_interval" env:"STACKSAMPLER_FLUSH_INTERVAL"`
	Retention       time.Duration `yaml:"retention" env:"STACKSAMPLER_RETENTION"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"STACKSAMPLER_CLEANUP_INTERVAL"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr" env:"STACKSAMPLER_METRICS_ADDR"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"STACKSAMPLER_LOG_LEVEL"`
	Format string `yaml:"format" env:"STACKSAMPLER_LOG_FORMAT"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Sampler: SamplerConfig{
			IntervalMs:         1,
			BufferCapacity:     1 << 16,
			ThreadScanInterval: 200 * time.Millisecond,
		},
		Storage: StorageConfig{
			Path:            "samples.duckdb",
			FlushInterval:   time.Second,
			Retention:       24 * time.Hour,
			CleanupInterval: 10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: LogFormatAuto,
		},
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	if math.IsNaN(c.Sampler.IntervalMs) || math.IsInf(c.Sampler.IntervalMs, 0) || c.Sampler.IntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("sampler.interval_ms must be positive, got %v", c.Sampler.IntervalMs))
	}
	if c.Sampler.BufferCapacity <= 0 {
		errs = append(errs, fmt.Errorf("sampler.buffer_capacity must be positive, got %d", c.Sampler.BufferCapacity))
	}
	if c.Sampler.ThreadScanInterval <= 0 {
		errs = append(errs, fmt.Errorf("sampler.thread_scan_interval must be positive, got %s", c.Sampler.ThreadScanInterval))
	}
	if c.Storage.Path == "" {
		errs = append(errs, errors.New("storage.path is required"))
	}
	if c.Storage.FlushInterval <= 0 {
		errs = append(errs, fmt.Errorf("storage.flush_interval must be positive, got %s", c.Storage.FlushInterval))
	}
	if c.Storage.Retention < 0 {
		errs = append(errs, fmt.Errorf("storage.retention must not be negative, got %s", c.Storage.Retention))
	}
	if c.Storage.Retention > 0 && c.Storage.CleanupInterval <= 0 {
		errs = append(errs, fmt.Errorf("storage.cleanup_interval must be positive, got %s", c.Storage.CleanupInterval))
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Logging.Level)); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch c.Logging.Format {
	case LogFormatAuto, LogFormatConsole, LogFormatJSON:
	default:
		errs = append(errs, fmt.Errorf("logging.format must be one of auto, console, json, got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}
