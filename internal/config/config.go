// Package config loads the client configuration from an optional YAML file
// overlaid with environment variables.
package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

const configPathEnvVar = "CONFIG_PATH"

type Config interface {
	EnvConfig
	APIConfig
	StorageConfig
	RefreshConfig
	DevServerConfig
}

type mainConfig struct {
	EnvVars   `yaml:"app"`
	API       `yaml:"api"`
	Storage   `yaml:"storage"`
	Refresh   `yaml:"refresh"`
	DevServer `yaml:"devserver"`
}

var _ Config = mainConfig{}

// New returns the configuration read from the environment only.
func New() (Config, error) {
	var cfg mainConfig
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}
	return cfg, nil
}

// Load reads path, or CONFIG_PATH when path is empty, then overlays the
// environment. With neither set it behaves like New.
func Load(path string) (Config, error) {
	if path == "" {
		path = os.Getenv(configPathEnvVar)
	}
	if path == "" {
		return New()
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config: file %q: %w", path, err)
	}

	var cfg mainConfig
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	return cfg, nil
}
