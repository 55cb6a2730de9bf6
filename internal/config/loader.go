package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"
)

// varPattern matches ${NAME} and ${NAME:-fallback} references in raw config.
var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

// Load reads a YAML config file, substitutes environment references, and
// decodes the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded, err := substituteEnv(raw)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	cfg := new(Config)
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// substituteEnv resolves every ${NAME} and ${NAME:-fallback} reference. A
// reference with neither an environment value nor a fallback is left in
// place and reported through the returned error, one entry per variable.
func substituteEnv(raw []byte) ([]byte, error) {
	var missing []error

	out := varPattern.ReplaceAllFunc(raw, func(ref []byte) []byte {
		groups := varPattern.FindSubmatch(ref)
		name := string(groups[1])

		if value, ok := os.LookupEnv(name); ok {
			return []byte(value)
		}
		if groups[2] != nil {
			return groups[2]
		}
		missing = append(missing, fmt.Errorf("unresolved variable: %s", name))
		return ref
	})

	return out, errors.Join(missing...)
}

// Resolve returns the configured module IDs sorted, so modules always load
// in the same order.
func Resolve(cfg *Config) []string {
	ids := make([]string, 0, len(cfg.Modules))
	for id := range cfg.Modules {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
