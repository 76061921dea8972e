package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config,
// defaults. Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*ConductorConfig, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.conductor/config.json
// Project: .conductor/config.json (relative to cwd)
func LoadDefault() (*ConductorConfig, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	globalPath := filepath.Join(homeDir, ".conductor", "config.json")
	projectPath := filepath.Join(".conductor", "config.json")

	return Load(globalPath, projectPath)
}

// mergeConfigFile reads a JSON config file and merges it into the base
// config. Missing files are silently skipped. Malformed JSON returns an error.
func mergeConfigFile(base *ConductorConfig, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded ConductorConfig
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if loaded.Completion.Command != "" {
		base.Completion.Command = loaded.Completion.Command
	}
	if loaded.Completion.Args != nil {
		base.Completion.Args = loaded.Completion.Args
	}

	for key, role := range loaded.Roles {
		base.Roles[key] = role
	}

	if loaded.Queue.PollIntervalSeconds > 0 {
		base.Queue.PollIntervalSeconds = loaded.Queue.PollIntervalSeconds
	}
	if loaded.Queue.MaxAttempts > 0 {
		base.Queue.MaxAttempts = loaded.Queue.MaxAttempts
	}
	if loaded.Engine.Concurrency > 0 {
		base.Engine.Concurrency = loaded.Engine.Concurrency
	}
	if loaded.Store.Path != "" {
		base.Store.Path = loaded.Store.Path
	}

	return nil
}
