// Package config holds rollout tool configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds tool configuration. All fields have usable defaults; a
// config file is optional.
type Config struct {
	// Paths
	SourceDir string `yaml:"source_dir"` // local directory holding installer + cert
	HistoryDB string `yaml:"history_db"` // SQLite run-history path, empty disables

	// Remote layout
	ShareName string `yaml:"share_name"` // administrative share, e.g. C$
	RemoteDir string `yaml:"remote_dir"` // share-relative staging dir

	// WinRM
	WinRMPort int  `yaml:"winrm_port"`
	UseSSL    bool `yaml:"use_ssl"`

	// Probing
	ProbeTimeoutSecs int  `yaml:"probe_timeout_secs"` // per candidate
	ProbePrivileged  bool `yaml:"probe_privileged"`   // raw ICMP sockets

	// Per-target budget, bounds the whole copy+install sequence
	TargetTimeoutSecs int `yaml:"target_timeout_secs"`

	// Logging
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns a config with sane defaults.
func DefaultConfig() Config {
	return Config{
		SourceDir:         "/srv/rollout/packages",
		HistoryDB:         defaultHistoryPath(),
		ShareName:         "C$",
		RemoteDir:         `Windows\Temp`,
		WinRMPort:         5985,
		UseSSL:            false,
		ProbeTimeoutSecs:  5,
		ProbePrivileged:   false,
		TargetTimeoutSecs: 600,
		LogLevel:          "INFO",
	}
}

// Load loads configuration from a YAML file with env overrides. An empty
// path, or the default path not existing, yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err) && path == DefaultPath():
			// Optional default config, fall through to defaults.
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	// Environment variable overrides
	if v := os.Getenv("ROLLOUT_SOURCE_DIR"); v != "" {
		cfg.SourceDir = v
	}
	if v := os.Getenv("ROLLOUT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToUpper(v)
	}

	// Clamp ranges
	if cfg.WinRMPort <= 0 || cfg.WinRMPort > 65535 {
		cfg.WinRMPort = 5985
	}
	if cfg.ProbeTimeoutSecs < 1 {
		cfg.ProbeTimeoutSecs = 1
	}
	if cfg.ProbeTimeoutSecs > 60 {
		cfg.ProbeTimeoutSecs = 60
	}
	if cfg.TargetTimeoutSecs < 30 {
		cfg.TargetTimeoutSecs = 30
	}
	if cfg.ShareName == "" {
		cfg.ShareName = "C$"
	}
	if cfg.RemoteDir == "" {
		cfg.RemoteDir = `Windows\Temp`
	}

	return &cfg, nil
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "rollout", "config.yaml")
}

// RemoteDrive derives the drive spec from the share name, so C$ maps
// to C:.
// Used to address staged files in remote commands.
func (c *Config) RemoteDrive() string {
	return strings.TrimSuffix(c.ShareName, "$") + ":"
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "share", "rollout", "history.db")
}
