// Package config provides configuration loading functionality.
package config

import (
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// LoadFile decodes the configuration at path, fills defaults and validates it.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var config Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&config); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &config, nil
}

// Load loads the configuration at path, or DefaultPath when path is empty.
// A missing file yields Default(); any other failure is returned.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	cfg, err := LoadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.WithField("caller", "config").Infof("%s not found: using defaults", path)
		return Default(), nil
	}
	return cfg, err
}

// WriteDefaultConfig writes Default() to the given path.
func WriteDefaultConfig(path string) error {
	return SaveConfig(Default(), path)
}
