package plugin

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Built-in pipeline names.
const (
	PipelineCore      = "core"
	PipelineExtension = "extension"
)

// ManagerConfig describes how the plugin manager should behave.
type ManagerConfig struct {
	ConfigurationFolder  string                    `yaml:"configurationFolder"`
	SequentialPriorities bool                      `yaml:"sequentialPriorities"`
	Pipelines            map[string]PipelineConfig `yaml:"pipelines"`
}

// PipelineConfig is the configuration block for a single pipeline.
type PipelineConfig struct {
	SearchPaths              []string `yaml:"searchPaths"`
	Namespace                string   `yaml:"namespace"`
	NotifyProtocolViolations bool     `yaml:"notifyProtocolViolations"`
}

// DefaultManagerConfig returns the stock layout of a device install.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ConfigurationFolder: "/data/configuration",
		Pipelines: map[string]PipelineConfig{
			PipelineCore: {
				SearchPaths:              []string{"/volumio/app/plugins", "/data/plugins"},
				NotifyProtocolViolations: true,
			},
			PipelineExtension: {
				SearchPaths: []string{"/myvolumio/plugins", "/data/myvolumio/plugins"},
			},
		},
	}
}

// LoadManagerConfig reads a YAML file into a ManagerConfig. Fields left out
// of the file keep their defaults.
func LoadManagerConfig(path string) (ManagerConfig, error) {
	cfg := DefaultManagerConfig()
	if path == "" {
		return cfg, errors.New("config path cannot be empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read plugin config: %w", err)
	}
	var file ManagerConfig
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return cfg, fmt.Errorf("unmarshal plugin config: %w", err)
	}
	if file.ConfigurationFolder != "" {
		cfg.ConfigurationFolder = file.ConfigurationFolder
	}
	cfg.SequentialPriorities = file.SequentialPriorities
	for name, p := range file.Pipelines {
		if len(p.SearchPaths) == 0 {
			if def, ok := cfg.Pipelines[name]; ok {
				p.SearchPaths = def.SearchPaths
			}
		}
		cfg.Pipelines[name] = p
	}
	return cfg, nil
}

// Validate ensures the manager configuration is internally consistent.
func (c ManagerConfig) Validate() error {
	if len(c.Pipelines) == 0 {
		return errors.New("at least one pipeline must be configured")
	}
	namespaces := make(map[string]string, len(c.Pipelines))
	for _, name := range c.PipelineNames() {
		p := c.Pipelines[name]
		if name == "" {
			return errors.New("pipeline name cannot be empty")
		}
		if len(p.SearchPaths) == 0 {
			return fmt.Errorf("pipeline %s must declare at least one search path", name)
		}
		if slices.Contains(p.SearchPaths, "") {
			return fmt.Errorf("pipeline %s has an empty search path", name)
		}
		if other, dup := namespaces[p.Namespace]; dup && p.Namespace != "" {
			return fmt.Errorf("pipelines %s and %s share namespace %q", other, name, p.Namespace)
		}
		namespaces[p.Namespace] = name
	}
	return nil
}

// PipelineNames returns core, then extension, then any other pipeline in
// lexical order.
func (c ManagerConfig) PipelineNames() []string {
	rank := func(name string) int {
		switch name {
		case PipelineCore:
			return 0
		case PipelineExtension:
			return 1
		}
		return 2
	}
	names := make([]string, 0, len(c.Pipelines))
	for name := range c.Pipelines {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		if ra, rb := rank(a), rank(b); ra != rb {
			return ra - rb
		}
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	})
	return names
}
