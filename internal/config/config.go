// Package config handles reading and writing .slipway/config.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level structure for .slipway/config.yaml.
type Config struct {
	Version  int            `yaml:"version"`
	Database DatabaseConfig `yaml:"database"`
	Engine   EngineConfig   `yaml:"engine"`
	Bus      BusConfig      `yaml:"bus"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `yaml:"path"` // relative to the project root unless absolute
}

// EngineConfig controls session worker behaviour.
type EngineConfig struct {
	ClaudeBinary    string   `yaml:"claude_binary"`     // executable name resolved via PATH
	AllowedTools    []string `yaml:"allowed_tools"`     // passed as --allowedTools
	StopGracePeriod int      `yaml:"stop_grace_period"` // seconds before a stop escalates to kill
}

// BusConfig controls event fan-out.
type BusConfig struct {
	BufferSize int `yaml:"buffer_size"` // per-subscriber channel capacity
}

const configDir = ".slipway"
const configFile = "config.yaml"

// ReadConfig reads .slipway/config.yaml from the given project directory.
// dir is the project root (not .slipway/ itself).
// Returns an error if the file is not found or YAML is malformed.
func ReadConfig(dir string) (*Config, error) {
	path := filepath.Join(dir, configDir, configFile)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return &cfg, nil
}

// WriteConfig writes cfg to .slipway/config.yaml in the given project directory.
// Creates the .slipway/ directory if it does not exist.
func WriteConfig(dir string, cfg *Config) error {
	dirPath := filepath.Join(dir, configDir)
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	path := filepath.Join(dirPath, configFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Database: DatabaseConfig{
			Path: filepath.Join(configDir, "slipway.db"),
		},
		Engine: EngineConfig{
			ClaudeBinary:    "claude",
			AllowedTools:    []string{"Read", "Write", "Edit", "Bash", "Grep", "Glob"},
			StopGracePeriod: 5,
		},
		Bus: BusConfig{
			BufferSize: 256,
		},
	}
}
