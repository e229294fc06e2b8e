package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ProviderEntry is one delivery provider with its address patterns.
// Providers are tried in declared order; within a provider, patterns are
// tried in declared order.
type ProviderEntry struct {
	ID       string   `yaml:"id"`
	Type     string   `yaml:"type"` // "smtp" or "log"
	Patterns []string `yaml:"patterns,omitempty"`
}

// Routes is the notification routing table. It is an explicit value loaded
// once at startup and injected into the dispatcher; there is no process-wide
// registry.
type Routes struct {
	DefaultProvider string          `yaml:"default_provider"`
	Providers       []ProviderEntry `yaml:"providers"`
}

// LoadRoutes reads and validates the routing table from a YAML file.
// A missing or unknown default provider is a fatal configuration error:
// routing must never be able to fall off the end of the table at send time.
func LoadRoutes(path string) (Routes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Routes{}, fmt.Errorf("read routes file: %w", err)
	}

	var routes Routes
	if err := yaml.Unmarshal(data, &routes); err != nil {
		return Routes{}, fmt.Errorf("parse routes file %s: %w", path, err)
	}

	if err := routes.Validate(); err != nil {
		return Routes{}, fmt.Errorf("routes file %s: %w", path, err)
	}
	return routes, nil
}

// Validate checks structural requirements of the routing table.
func (r Routes) Validate() error {
	if len(r.Providers) == 0 {
		return fmt.Errorf("no providers configured")
	}
	if r.DefaultProvider == "" {
		return fmt.Errorf("default_provider is required")
	}

	seen := make(map[string]bool, len(r.Providers))
	for i, p := range r.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider %d has no id", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true
		switch p.Type {
		case "smtp", "log":
		default:
			return fmt.Errorf("provider %q has unknown type %q", p.ID, p.Type)
		}
	}

	if !seen[r.DefaultProvider] {
		return fmt.Errorf("default_provider %q is not in the provider list", r.DefaultProvider)
	}
	return nil
}
