package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

type Config struct {
	// DataDirName is the per-project directory holding the store, records,
	// backups, and breadcrumbs.
	DataDirName string `toml:"data_dir_name"`
	// CleanupPolicy is applied to uncommitted sessions at finalize:
	// "immediate", "grace", or "never".
	CleanupPolicy string `toml:"cleanup_policy"`
	// GraceDays is how long an uncommitted session survives under the
	// grace policy.
	GraceDays int `toml:"grace_days"`
	// BreadcrumbStalenessMinutes bounds how old a termination breadcrumb
	// may be and still link a successor log.
	BreadcrumbStalenessMinutes int `toml:"breadcrumb_staleness_minutes"`
}

func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDirName:                ".ccmem",
		CleanupPolicy:              "grace",
		GraceDays:                  7,
		BreadcrumbStalenessMinutes: 5,
	}

	cfgPath := filepath.Join(home, ".config", "ccmem", "config.toml")
	if _, err := os.Stat(cfgPath); err == nil {
		if _, err := toml.DecodeFile(cfgPath, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", cfgPath, err)
		}
	}

	switch cfg.CleanupPolicy {
	case "immediate", "grace", "never":
	default:
		return nil, fmt.Errorf("invalid cleanup_policy %q", cfg.CleanupPolicy)
	}

	return cfg, nil
}

// DataDir is the per-project data root.
func (c *Config) DataDir(projectDir string) string {
	return filepath.Join(projectDir, c.DataDirName)
}

func (c *Config) DBPath(projectDir string) string {
	return filepath.Join(c.DataDir(projectDir), "ccmem.db")
}

func (c *Config) RecordsDir(projectDir string) string {
	return filepath.Join(c.DataDir(projectDir), "sessions")
}

func (c *Config) BackupsDir(projectDir string) string {
	return filepath.Join(c.DataDir(projectDir), "backups")
}

func (c *Config) BreadcrumbsDir(projectDir string) string {
	return filepath.Join(c.DataDir(projectDir), "breadcrumbs")
}
