// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for memstore.
package config

import (
	"github.com/flemzord/memstore/internal/memory"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// LogLevel is one of debug, info, warn, error. Defaults to info.
	LogLevel string `yaml:"log_level"`

	// Memory configures the store itself.
	Memory memory.Config `yaml:"memory"`

	// Modules maps module IDs to their raw YAML configuration.
	// Keys must match registered module IDs (e.g. "memory.sqlite").
	Modules map[string]yaml.Node `yaml:"modules"`
}
