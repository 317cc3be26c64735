package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ".ccmem", cfg.DataDirName)
	assert.Equal(t, "grace", cfg.CleanupPolicy)
	assert.Equal(t, 7, cfg.GraceDays)
	assert.Equal(t, 5, cfg.BreadcrumbStalenessMinutes)
}

func TestLoadFromFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".config", "ccmem")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(
		"cleanup_policy = \"immediate\"\ngrace_days = 14\n"), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "immediate", cfg.CleanupPolicy)
	assert.Equal(t, 14, cfg.GraceDays)
	assert.Equal(t, ".ccmem", cfg.DataDirName, "unset keys keep their defaults")
}

func TestLoadRejectsBadPolicy(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".config", "ccmem")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(
		"cleanup_policy = \"sometimes\"\n"), 0o644))

	_, err := Load()
	require.Error(t, err)
}

func TestDataDirLayout(t *testing.T) {
	cfg := &Config{DataDirName: ".ccmem"}
	assert.Equal(t, "/p/.ccmem/ccmem.db", cfg.DBPath("/p"))
	assert.Equal(t, "/p/.ccmem/sessions", cfg.RecordsDir("/p"))
	assert.Equal(t, "/p/.ccmem/backups", cfg.BackupsDir("/p"))
	assert.Equal(t, "/p/.ccmem/breadcrumbs", cfg.BreadcrumbsDir("/p"))
}
