// Package config provides loading for the optional routing rules file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// RuleSpec declares one routing rule in the YAML file. Predicate names are
// resolved against the router's named-predicate registry; unknown names make
// the file invalid.
type RuleSpec struct {
	Name        string `yaml:"name"`
	Priority    int    `yaml:"priority"`
	Predicate   string `yaml:"predicate"`
	Target      string `yaml:"target"`
	Description string `yaml:"description"`
	Disabled    bool   `yaml:"disabled"`
}

// RoutingFile is the on-disk routing/domain configuration.
type RoutingFile struct {
	FallbackWorker string             `yaml:"fallback_worker"`
	TrustedDomains map[string]float64 `yaml:"trusted_domains"`
	Rules          []RuleSpec         `yaml:"rules"`
}

// LoadRoutingFile reads and parses the YAML routing file at path.
func LoadRoutingFile(path string) (*RoutingFile, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("op=config.LoadRoutingFile: %w", err)
	}

	// #nosec G304 -- Configuration files are expected to be safe
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("op=config.LoadRoutingFile: %w", err)
	}

	var rf RoutingFile
	if err := yaml.Unmarshal(content, &rf); err != nil {
		return nil, fmt.Errorf("op=config.LoadRoutingFile: parse: %w", err)
	}

	for i, r := range rf.Rules {
		if r.Name == "" {
			return nil, fmt.Errorf("op=config.LoadRoutingFile: rule %d has no name", i)
		}
		if r.Target == "" {
			return nil, fmt.Errorf("op=config.LoadRoutingFile: rule %q has no target", r.Name)
		}
	}
	for dom, cred := range rf.TrustedDomains {
		if cred < 0 || cred > 1 {
			return nil, fmt.Errorf("op=config.LoadRoutingFile: domain %q credibility %v outside [0,1]", dom, cred)
		}
	}
	return &rf, nil
}
