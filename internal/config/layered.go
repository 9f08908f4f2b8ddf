package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/stacksampler/internal/safe"
)

// Layer represents a configuration layer source.
type Layer string

const (
	// LayerDefaults represents default configuration values.
	LayerDefaults Layer = "defaults"

	// LayerFile represents configuration from a YAML file.
	LayerFile Layer = "file"

	// LayerEnv represents configuration from environment variables.
	LayerEnv Layer = "env"
)

// LayeredLoader loads configuration from defaults, then a YAML file, then
// the environment. Each layer overrides the previous one; command-line flags
// are applied by the caller afterwards.
type LayeredLoader struct {
	enabledLayers map[Layer]bool
}

// NewLayeredLoader creates a loader with every layer enabled.
func NewLayeredLoader() *LayeredLoader {
	return &LayeredLoader{
		enabledLayers: map[Layer]bool{
			LayerDefaults: true,
			LayerFile:     true,
			LayerEnv:      true,
		},
	}
}

// EnableLayer enables a configuration layer.
func (l *LayeredLoader) EnableLayer(layer Layer) {
	l.enabledLayers[layer] = true
}

// DisableLayer disables a configuration layer.
func (l *LayeredLoader) DisableLayer(layer Layer) {
	l.enabledLayers[layer] = false
}

// Load builds the configuration. A missing file at configPath is not an
// error; a malformed one is.
func (l *LayeredLoader) Load(configPath string) (*Config, error) {
	cfg := &Config{}
	if l.enabledLayers[LayerDefaults] {
		cfg = Default()
	}

	if l.enabledLayers[LayerFile] && configPath != "" {
		if err := mergeFromFile(cfg, configPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if l.enabledLayers[LayerEnv] {
		if err := LoadFromEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from environment: %w", err)
		}
	}

	return cfg, nil
}

func mergeFromFile(cfg *Config, path string) error {
	data, err := safe.ReadFile(path, &safe.ReadFileOptions{AllowSymlinks: true})
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse YAML %s: %w", path, err)
	}

	return nil
}
