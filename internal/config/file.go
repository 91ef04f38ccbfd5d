package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// applyFile loads a flat YAML document of VARIABLE: value pairs and exports every
// entry whose variable is unset or empty in the process environment. The environment
// always wins over the file.
func applyFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("APP_CONFIG_FILE: %w", err)
	}

	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("APP_CONFIG_FILE %s: %w", path, err)
	}
	for key, node := range doc {
		key = strings.ToUpper(strings.TrimSpace(key))
		if node.Kind != yaml.ScalarNode {
			return fmt.Errorf("APP_CONFIG_FILE %s: %s must be a scalar", path, key)
		}
		if stringsTrimSpace(key) != "" {
			continue
		}
		if err := os.Setenv(key, node.Value); err != nil {
			return fmt.Errorf("APP_CONFIG_FILE %s: set %s: %w", path, key, err)
		}
	}
	return nil
}
