package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.yaml.in/yaml/v3"

	"github.com/workingdb/workingdb-go/internal/infra/confloader"
)

// EnvPrefix prefixes environment overrides of the CLI file, e.g.
// WORKINGDB_CLI_OUTPUT=json.
const EnvPrefix = "WORKINGDB_CLI_"

// DefaultConfigPath returns the default CLI config file path.
func DefaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".workingdb", "cli.yaml")
	}
	return filepath.Join(homeDir, ".workingdb", "cli.yaml")
}

// Load reads the CLI configuration. A missing file yields the defaults.
func Load(path string) (*CLIConfig, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	cfg := Default()

	opts := []confloader.Option{confloader.WithEnvPrefix(EnvPrefix)}
	if _, err := os.Stat(path); err == nil {
		opts = append(opts, confloader.WithConfigFile(path))
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := confloader.NewLoader(opts...).Load(cfg); err != nil {
		return nil, err
	}
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]Profile)
	}
	return cfg, nil
}

// Save writes cfg to path with owner-only permissions.
func Save(cfg *CLIConfig, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Profile returns the named profile, or the current one when name is
// empty.
func (c *CLIConfig) Profile(name string) (Profile, error) {
	if name == "" {
		name = c.Current
	}
	if name == "" {
		name = DefaultProfile
	}
	p, ok := c.Profiles[name]
	if !ok {
		if name == DefaultProfile {
			return Default().Profiles[DefaultProfile], nil
		}
		return Profile{}, fmt.Errorf("unknown profile %q", name)
	}
	return p, nil
}

// Names returns the profile names in sorted order.
func (c *CLIConfig) Names() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
