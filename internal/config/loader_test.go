package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GOOGLE_API_KEY", "WORKDIR",
		"MCP_CONFIG", "MIGRATION_BATCH_SIZE", "LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadRequiresVendorKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("WORKDIR", t.TempDir())
	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "OPENAI_API_KEY")
}

func TestLoadRequiresWorkdir(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "WORKDIR")
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("WORKDIR", dir)
	t.Setenv("MCP_CONFIG", filepath.Join(dir, "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "gpt-4o-mini", cfg.OpenAI.Model)
	require.Equal(t, "info", cfg.Observability.LogLevel)
	require.Equal(t, 50, cfg.Migration.BatchSize)
	require.Equal(t, filepath.Join(dir, "export"), cfg.Migration.ExportDir)
}

func TestLoadMCPOverlay(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("WORKDIR", dir)

	yamlPath := filepath.Join(dir, "mcp.yaml")
	content := "mcpServers:\n  - name: filesystem\n    command: mcp-fs\n    args: [\"--root\", \".\"]\n"
	require.NoError(t, os.WriteFile(yamlPath, []byte(content), 0o644))
	t.Setenv("MCP_CONFIG", yamlPath)

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.MCP.Servers, 1)
	require.Equal(t, "filesystem", cfg.MCP.Servers[0].Name)
	require.Equal(t, 30, cfg.MCP.Servers[0].TimeoutSeconds)
}
