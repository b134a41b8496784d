package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// LoadTOML loads configuration from a TOML file. Keys follow the yaml tags
// of target, so one struct serves every format.
func LoadTOML(path string, target interface{}) error {
	data, err := readFile("TOML", path)
	if err != nil {
		return err
	}

	var doc map[string]interface{}
	if _, err := toml.Decode(string(data), &doc); err != nil {
		return fmt.Errorf("failed to unmarshal TOML: %w", err)
	}

	// Re-encode through YAML to apply the yaml tags and duration parsing
	bridged, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to convert TOML: %w", err)
	}
	return decodeYAML(bridged, target)
}
