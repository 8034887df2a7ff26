package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the config file at path. See Parse.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}
	return Parse(data, path)
}

// Parse expands environment references in data and decodes it as YAML.
// Unknown keys are rejected. An empty document yields a zero Config.
// source names the input in error messages.
func Parse(data []byte, source string) (*Config, error) {
	expanded, err := ExpandEnv(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid YAML in %s: %w", source, err)
	}
	return &cfg, nil
}
