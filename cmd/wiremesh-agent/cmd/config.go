package cmd

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wiremesh/agent/internal/networkd"
	"github.com/wiremesh/agent/internal/registry"
)

// DefaultDataDir is the default data directory.
const DefaultDataDir = "/var/lib/wiremesh-agent"

// fileConfig is the optional on-disk configuration loaded via --config.
// Every field here also has a CLI flag; flags set on the command line
// always override a value loaded from file.
type fileConfig struct {
	DataDir string `yaml:"data_dir"`

	Registry registry.Config `yaml:"registry"`
	Reconcile struct {
		UpdatePeriod string `yaml:"update_period"`
		PeerTimeout  string `yaml:"peer_timeout"`
	} `yaml:"reconcile"`
	Networkd networkd.Config `yaml:"networkd"`

	WireGuardPort     int    `yaml:"wireguard_port"`
	Network           string `yaml:"network"`
	Address           string `yaml:"address"`
	EndpointInterface string `yaml:"endpoint_interface"`
	EndpointAddress   string `yaml:"endpoint_address"`
	MetricsAddress    string `yaml:"metrics_address"`
}

// loadFileConfig reads path as YAML, if non-empty. A missing --config
// flag is not an error: the agent runs from CLI flags and their
// built-in defaults alone.
func loadFileConfig(path string) (*fileConfig, error) {
	if path == "" {
		return &fileConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wiremesh-agent: config: read %s: %w", path, err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("wiremesh-agent: config: parse %s: %w", path, err)
	}
	return &cfg, nil
}
