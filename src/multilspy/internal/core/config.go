// Package core provides configuration and logging construction for the engine client.
package core

import (
	"os"
	"path/filepath"
	"strings"

	uber_config "go.uber.org/config"
	"go.uber.org/fx"
)

// ConfigModule provides the configuration dependencies.
var ConfigModule = fx.Options(
	fx.Provide(NewConfig),
)

// _defaults keeps the library usable with no configuration files on disk.
const _defaults = `
multilspy:
  requestTimeoutMs: 30000
  initializeTimeoutMs: 60000
  shutdownTimeoutMs: 5000
logging:
  level: info
  development: false
  encoding: json
`

// Config wraps a config provider.
type Config struct {
	provider uber_config.Provider
}

// Get returns the value at the given path.
func (c Config) Get(path string) uber_config.Value {
	return c.provider.Get(path)
}

// Name identifies this provider.
func (c Config) Name() string {
	return "config"
}

// NewConfig loads configuration from static defaults overlaid by an optional
// multilspy.yaml in the config directory, with environment variable expansion.
func NewConfig() (uber_config.Provider, error) {
	options := []uber_config.YAMLOption{
		uber_config.Source(strings.NewReader(_defaults)),
	}

	configPath := filepath.Join(getConfigDir(), "multilspy.yaml")
	if _, err := os.Stat(configPath); err == nil {
		options = append(options, uber_config.File(configPath))
	}
	options = append(options, uber_config.Expand(os.LookupEnv))

	provider, err := uber_config.NewYAML(options...)
	if err != nil {
		return nil, err
	}

	return Config{provider: provider}, nil
}

// getConfigDir returns the path to the configuration directory.
func getConfigDir() string {
	// Try to get from environment variable first
	if configDir := os.Getenv("MULTILSPY_CONFIG_DIR"); configDir != "" {
		return configDir
	}

	// Default to a config directory relative to the current working directory.
	return "config"
}
