// Package config resolves the devpilot home directory and loads the
// optional config.yaml that lives inside it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// AgentConfig describes how one pipeline stage is executed when the
// subprocess runtime is selected.
type AgentConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
	Timeout Duration `yaml:"timeout,omitempty"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is "sqlite" or "postgres". Empty means sqlite.
	Driver string `yaml:"driver,omitempty"`
	// DSN is the postgres connection string. Ignored for sqlite.
	DSN string `yaml:"dsn,omitempty"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Listen string `yaml:"listen,omitempty"`
}

// Config is the devpilot configuration loaded from <home>/config.yaml.
type Config struct {
	// Runtime is "stub" or "subprocess". Empty means stub.
	Runtime string                 `yaml:"runtime,omitempty"`
	Agents  map[string]AgentConfig `yaml:"agents,omitempty"`
	Store   StoreConfig            `yaml:"store,omitempty"`
	Server  ServerConfig           `yaml:"server,omitempty"`
	Sandbox bool                   `yaml:"sandbox,omitempty"`
}

// Duration is a yaml-friendly wrapper around time.Duration accepting
// values like "90s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Default returns the configuration used when no config.yaml exists.
func Default() *Config {
	return &Config{
		Runtime: "stub",
		Store:   StoreConfig{Driver: "sqlite"},
		Server:  ServerConfig{Listen: "127.0.0.1:8099"},
	}
}

// Load reads <home>/config.yaml. A missing file yields the defaults.
func Load(home string) (*Config, error) {
	cfg := Default()
	path := filepath.Join(home, "config.yaml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the rest of the program
// cannot act on.
func (c *Config) Validate() error {
	switch c.Runtime {
	case "", "stub", "subprocess":
	default:
		return fmt.Errorf("unknown runtime %q (want stub or subprocess)", c.Runtime)
	}
	switch c.Store.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown store driver %q (want sqlite or postgres)", c.Store.Driver)
	}
	if c.Runtime == "subprocess" {
		for stage, a := range c.Agents {
			if a.Command == "" {
				return fmt.Errorf("agent %q: command is required for subprocess runtime", stage)
			}
		}
	}
	return nil
}

// Save writes the configuration to <home>/config.yaml.
func (c *Config) Save(home string) error {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(home, "config.yaml"), data, 0o644)
}
