package config

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// LoadJSON loads configuration from a JSON file.
// Durations are integer nanoseconds in JSON; use YAML or TOML for "10s".
func LoadJSON(path string, target interface{}) error {
	data, err := readFile("JSON", path)
	if err != nil {
		return err
	}
	if err := sonic.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return nil
}

// SaveJSON saves configuration to an indented JSON file
func SaveJSON(path string, config interface{}) error {
	data, err := sonic.ConfigStd.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return writeFile("JSON", path, data)
}
