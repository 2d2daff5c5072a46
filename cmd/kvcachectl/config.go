package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// fileConfig is the JSONC sidecar configuration file, read in addition to
// command-line flags. CLI flags that were explicitly set take precedence.
type fileConfig struct {
	Dir        string `json:"dir,omitempty"`
	MultiFile  bool   `json:"multi_file,omitempty"` //nolint:tagliatelle // snake_case for config file
	FlushDelay string `json:"flush_delay,omitempty"` //nolint:tagliatelle // snake_case for config file
}

// loadFileConfig reads and parses a JSONC config file at path. A missing
// file is not an error: it returns the zero value.
func loadFileConfig(path string) (fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fileConfig{}, nil
		}

		return fileConfig{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fileConfig{}, fmt.Errorf("invalid JSONC in %s: %w", path, err)
	}

	var cfg fileConfig

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("invalid JSON in %s: %w", path, err)
	}

	return cfg, nil
}
