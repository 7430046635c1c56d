// Package config loads and saves ~/.lore/config.yaml. The file is read in
// full at startup and written atomically (temp file + rename), so concurrent
// CLI invocations never observe a torn config.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/varalys/lore/cmd/lore/cli/paths"
)

// Config is the on-disk configuration.
type Config struct {
	// MachineID is the stable per-installation UUID.
	MachineID string `yaml:"machine_id,omitempty"`
	// MachineName is the editable display name for this machine.
	MachineName string `yaml:"machine_name,omitempty"`

	// EncryptionSalt is the base64 salt used for key derivation. Persisted
	// locally and mirrored to the cloud so other machines can re-derive the
	// same key.
	EncryptionSalt string `yaml:"encryption_salt,omitempty"`

	// CloudURL overrides the default sync endpoint.
	CloudURL string `yaml:"cloud_url,omitempty"`

	// Watchers toggles individual watchers off by name. Absent means enabled.
	Watchers map[string]bool `yaml:"watchers,omitempty"`

	// AutoLinkThreshold is the minimum confidence for automatic links.
	// Zero means the built-in default.
	AutoLinkThreshold float64 `yaml:"auto_link_threshold,omitempty"`

	// CommitFooter controls whether the post-commit hook appends a session
	// trailer to commit messages.
	CommitFooter bool `yaml:"commit_footer,omitempty"`

	// Summary configures the summarization provider.
	Summary SummaryConfig `yaml:"summary,omitempty"`

	// TelemetryEnabled opts in to anonymous usage reporting.
	TelemetryEnabled bool `yaml:"telemetry_enabled,omitempty"`
}

// SummaryConfig selects and configures the summarization backend.
type SummaryConfig struct {
	Provider string `yaml:"provider,omitempty"`
	Model    string `yaml:"model,omitempty"`
	APIKey   string `yaml:"api_key,omitempty"`
}

// Load reads the config file, returning a zero config when none exists.
// Environment variables LORE_SUMMARY_PROVIDER, LORE_SUMMARY_MODEL and
// LORE_SUMMARY_API_KEY override the summary section.
func Load() (*Config, error) {
	path, err := paths.ConfigPath()
	if err != nil {
		return nil, err
	}

	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if v := os.Getenv("LORE_SUMMARY_PROVIDER"); v != "" {
		cfg.Summary.Provider = v
	}
	if v := os.Getenv("LORE_SUMMARY_MODEL"); v != "" {
		cfg.Summary.Model = v
	}
	if v := os.Getenv("LORE_SUMMARY_API_KEY"); v != "" {
		cfg.Summary.APIKey = v
	}
	return &cfg, nil
}

// Save writes the config atomically.
func (c *Config) Save() error {
	path, err := paths.ConfigPath()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("creating temp config: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp config: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("setting config permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing config: %w", err)
	}
	return nil
}

// Update performs an atomic read-modify-write.
func Update(mutate func(*Config)) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	mutate(cfg)
	if err := cfg.Save(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WatcherEnabled reports whether a watcher is enabled; watchers are on
// unless explicitly disabled.
func (c *Config) WatcherEnabled(name string) bool {
	enabled, ok := c.Watchers[name]
	return !ok || enabled
}
