package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// envPattern matches ${VAR} and ${VAR:-default} placeholders, the form
// roomd.yaml uses for secrets such as the Redis password and the engine
// webhook URL.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

// Load reads roomd.yaml from path, substitutes environment placeholders,
// and decodes the result into a Config. Structural validation is a
// separate step (Validate) so startup can report every problem at once.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	expanded, err := expandEnv(raw)
	if err != nil {
		return nil, fmt.Errorf("config: expanding variables in %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return &cfg, nil
}

// expandEnv substitutes every environment placeholder in the raw YAML.
// A placeholder with neither an environment value nor a default is an
// error; all such placeholders are collected so one failed startup
// names every missing variable.
func expandEnv(raw []byte) ([]byte, error) {
	var missing []error

	out := envPattern.ReplaceAllFunc(raw, func(placeholder []byte) []byte {
		groups := envPattern.FindSubmatch(placeholder)
		name := string(groups[1])

		if value, ok := os.LookupEnv(name); ok {
			return []byte(value)
		}
		if groups[2] != nil {
			return groups[2]
		}

		missing = append(missing, fmt.Errorf("unresolved variable: %s", name))
		return placeholder
	})

	return out, errors.Join(missing...)
}
