package config

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and returns its config directory.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".config", "knowme")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func writeConfig(t *testing.T, dir, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `
server:
  port: 9001
  shutdown_timeout: 3s
vectorstore:
  provider: chromem
chromem:
  path: /tmp/knowme
llm:
  api_key: from-file
  backoff: 2s
retrieval:
  top_k: 4
  threshold: 0.25
`, 0600)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, "chromem", cfg.VectorStore.Provider)
	assert.Equal(t, "/tmp/knowme", cfg.Chromem.Path)
	assert.Equal(t, "from-file", cfg.LLM.APIKey.Value())
	assert.Equal(t, 2*time.Second, cfg.LLM.Backoff.Duration())
	assert.Equal(t, 4, cfg.Retrieval.TopK)
	assert.Equal(t, 0.25, cfg.Retrieval.Threshold)
	// Untouched sections keep defaults.
	assert.Equal(t, 20, cfg.Retrieval.RecallLimit)
	assert.Equal(t, "knowme_chunks", cfg.VectorStore.ChunkCollection)
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  port: 9001\nllm:\n  api_key: from-file\n", 0600)

	t.Setenv("KNOWME_SERVER_PORT", "9100")
	t.Setenv("KNOWME_LLM_API_KEY", "from-env")
	t.Setenv("KNOWME_RETRIEVAL_TOP_K", "2")
	t.Setenv("KNOWME_MEMORY_IDLE_TTL", "15m")
	t.Setenv("KNOWME_TELEMETRY_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.LLM.APIKey.Value())
	assert.Equal(t, 2, cfg.Retrieval.TopK)
	assert.Equal(t, 15*time.Minute, cfg.Memory.IdleTTL.Duration())
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestLoad_APIKeyFallback(t *testing.T) {
	setupTestHome(t)
	t.Setenv("GEMINI_API_KEY", "gemini-key")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "gemini-key", cfg.LLM.APIKey.Value())

	t.Setenv("KNOWME_LLM_API_KEY", "explicit")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "explicit", cfg.LLM.APIKey.Value())
}

func TestLoad_DefaultPath(t *testing.T) {
	dir := setupTestHome(t)
	writeConfig(t, dir, "server:\n  port: 9200\n", 0600)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Server.Port)
}

func TestLoad_MissingDefaultFileUsesDefaults(t *testing.T) {
	setupTestHome(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Server.Port)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	dir := setupTestHome(t)

	_, err := Load(filepath.Join(dir, "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server: [unclosed\n", 0600)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_ValidationFailure(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "retrieval:\n  threshold: 2\n", 0600)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retrieval.threshold")
}

func TestLoad_PathOutsideAllowedDirs(t *testing.T) {
	setupTestHome(t)
	outside := t.TempDir()
	path := filepath.Join(outside, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 1\n"), 0600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path validation")
}

func TestLoad_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  port: 9001\n", 0644)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoad_ReadOnlyPermissions(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  port: 9001\n", 0400)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.Server.Port)
}

func TestLoad_FileTooLarge(t *testing.T) {
	dir := setupTestHome(t)
	var b bytes.Buffer
	b.WriteString("llm:\n  system_prompt: \"")
	b.WriteString(strings.Repeat("a", maxConfigFileSize))
	b.WriteString("\"\n")
	path := writeConfig(t, dir, b.String(), 0600)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestEnvKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "KNOWME_SERVER_PORT", want: "server.port"},
		{in: "KNOWME_LLM_API_KEY", want: "llm.api_key"},
		{in: "KNOWME_VECTORSTORE_CHUNK_COLLECTION", want: "vectorstore.chunk_collection"},
		{in: "KNOWME_DEBUG", want: "debug"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, envKey(tt.in))
		})
	}
}

func TestWithin(t *testing.T) {
	assert.True(t, within("/etc/knowme/config.yaml", "/etc/knowme"))
	assert.False(t, within("/etc/knowme-evil/config.yaml", "/etc/knowme"))
	assert.False(t, within("/etc/passwd", "/etc/knowme"))
}

func TestEnsureConfigDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir, err := EnsureConfigDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "knowme"), dir)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
