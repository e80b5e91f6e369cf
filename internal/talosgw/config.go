package talosgw

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// TalosConfig is the subset of ~/.talos/config this gateway needs:
// which context is active and that context's endpoints and client
// identity material.
type TalosConfig struct {
	Context  string                 `yaml:"context"`
	Contexts map[string]TalosContext `yaml:"contexts"`
}

// TalosContext is one named cluster context from a Talos config file.
type TalosContext struct {
	Endpoints []string `yaml:"endpoints"`
	Nodes     []string `yaml:"nodes"`
	CA        string   `yaml:"ca"`
	Crt       string   `yaml:"crt"`
	Key       string   `yaml:"key"`
}

// Current returns the context named by c.Context, or false if it is
// missing or names an entry that doesn't exist.
func (c *TalosConfig) Current() (TalosContext, bool) {
	if c == nil {
		return TalosContext{}, false
	}
	ctx, ok := c.Contexts[c.Context]
	return ctx, ok
}

// loadTalosConfig reads and parses ~/.talos/config. A missing file is
// not an error: it returns (nil, nil) so the gateway can start
// disabled.
func loadTalosConfig() (*TalosConfig, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	path := filepath.Join(home, ".talos", "config")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read talos config: %w", err)
	}

	var cfg TalosConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse talos config: %w", err)
	}
	return &cfg, nil
}
