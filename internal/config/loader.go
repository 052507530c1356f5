package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a configuration from the given YAML file path,
// then applies defaults for unset values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches standard locations and loads the first config
// found. Search order: ./circuitsmith.yaml, ~/.circuitsmith/config.yaml.
// When none exists, a default config is returned rather than an error so
// read-only commands work out of the box.
func LoadDefault() (*Config, error) {
	candidates := []string{"circuitsmith.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".circuitsmith", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	cfg := &Config{}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Service.Timeout == "" {
		cfg.Service.Timeout = "120s"
	}
	if cfg.Service.APIKeyEnv == "" {
		cfg.Service.APIKeyEnv = "SMITH_API_KEY"
	}

	if cfg.Container.Image == "" {
		cfg.Container.Image = "ghcr.io/circuitsmith/toolchain:latest"
	}
	if cfg.Container.NamePrefix == "" {
		cfg.Container.NamePrefix = "smith-"
	}
	if cfg.Container.Workdir == "" {
		cfg.Container.Workdir = "/work"
	}
	if cfg.Container.OutputDir == "" {
		cfg.Container.OutputDir = "/work/out"
	}
	if cfg.Container.HealthTimeout == "" {
		cfg.Container.HealthTimeout = "8s"
	}
	if cfg.Container.ExecTimeout == "" {
		cfg.Container.ExecTimeout = "5m"
	}

	if cfg.Loops.MaxAttempts <= 0 {
		cfg.Loops.MaxAttempts = 3
	}
	if cfg.Loops.HardCap <= 0 {
		cfg.Loops.HardCap = 10
	}

	if cfg.Commands.Validate == "" {
		cfg.Commands.Validate = "python -m py_compile {script}"
	}
	if cfg.Commands.Run == "" {
		cfg.Commands.Run = "python {script}"
	}
	if cfg.Commands.ERC == "" {
		cfg.Commands.ERC = "python {script} --erc-only"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
}
