package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWhenNoFilesPresent(t *testing.T) {
	cfg, err := Load("", "", nil)
	require.NoError(t, err)
	assert.Equal(t, ".", cfg.Root)
	assert.Contains(t, cfg.Extensions, ".go")
}

func TestLoadLayersTomlThenEnvThenFlags(t *testing.T) {
	dir := t.TempDir()
	tomlPath := filepath.Join(dir, "codecrawler.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte(`
root = "/from-toml"
concurrency = 4

[project]
health_threshold = 60
excluded_dirs = ["vendor", "dist"]
`), 0o644))

	envPath := filepath.Join(dir, ".codecrawler.env")
	require.NoError(t, os.WriteFile(envPath, []byte("CODECRAWLER_ROOT=/from-env\nCODECRAWLER_CONCURRENCY=8\n"), 0o644))

	cfg, err := Load(envPath, tomlPath, map[string]string{"root": "/from-flag"})
	require.NoError(t, err)

	assert.Equal(t, "/from-flag", cfg.Root, "flags must win over env and toml")
	assert.Equal(t, 8, cfg.Concurrency, "env must win over toml when flags don't set it")
	assert.Equal(t, 60, cfg.Project.HealthThreshold)
	assert.Equal(t, []string{"vendor", "dist"}, cfg.Project.ExcludedDirs)
}

func TestLoadToleratesMissingFiles(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"), filepath.Join(t.TempDir(), "missing.toml"), nil)
	require.NoError(t, err)
	assert.Equal(t, Defaults().Root, cfg.Root)
}

func TestLoadParsesMCPServerCommandFromToml(t *testing.T) {
	dir := t.TempDir()
	tomlPath := filepath.Join(dir, "codecrawler.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte(`mcp_server_command = ["mcp-server", "--stdio"]`), 0o644))

	cfg, err := Load("", tomlPath, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"mcp-server", "--stdio"}, cfg.MCPServerCommand)
}

func TestLoadParsesMCPServerCommandFromEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".codecrawler.env")
	require.NoError(t, os.WriteFile(envPath, []byte("CODECRAWLER_MCP_COMMAND=mcp-server --stdio\n"), 0o644))

	cfg, err := Load(envPath, "", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"mcp-server", "--stdio"}, cfg.MCPServerCommand)
}

func TestLoadAppliesSkipUnchangedAndNoOptimizeFlags(t *testing.T) {
	cfg, err := Load("", "", map[string]string{"skip-unchanged": "true", "no-optimize": "true"})
	require.NoError(t, err)
	assert.True(t, cfg.SkipUnchanged)
	assert.True(t, cfg.NoOptimize)
}
