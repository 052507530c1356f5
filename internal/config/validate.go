package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate checks a loaded config for problems a run would trip over.
func Validate(cfg *Config) error {
	var problems []string

	if cfg.Service.URL == "" {
		problems = append(problems, "service.url is required to start runs")
	}

	for name, val := range map[string]string{
		"service.timeout":          cfg.Service.Timeout,
		"container.health_timeout": cfg.Container.HealthTimeout,
		"container.exec_timeout":   cfg.Container.ExecTimeout,
	} {
		if _, err := time.ParseDuration(val); err != nil {
			problems = append(problems, fmt.Sprintf("%s: invalid duration %q", name, val))
		}
	}

	if !strings.Contains(cfg.Commands.Validate, "{script}") {
		problems = append(problems, "commands.validate must reference {script}")
	}
	if !strings.Contains(cfg.Commands.Run, "{script}") {
		problems = append(problems, "commands.run must reference {script}")
	}
	if !strings.Contains(cfg.Commands.ERC, "{script}") {
		problems = append(problems, "commands.erc must reference {script}")
	}

	if !strings.HasPrefix(cfg.Container.OutputDir, "/") {
		problems = append(problems, "container.output_dir must be an absolute container path")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// Duration parses a duration field that Validate has already vetted,
// falling back to def on error.
func Duration(val string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
