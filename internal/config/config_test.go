package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AGENTD_CONFIG", "")
	t.Setenv("AGENTD_WORKERS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 64, cfg.Backlog)
	assert.Equal(t, 30*time.Minute, cfg.InputTimeout)
	assert.Equal(t, 60*time.Second, cfg.ReaperInterval)
	assert.Equal(t, 10*time.Minute, cfg.Retention)
	assert.Equal(t, []string{SnapshotNone}, cfg.Snapshot)
	assert.Equal(t, BlobFS, cfg.Blob)
	assert.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("AGENTD_CONFIG", "")
	t.Setenv("AGENTD_WORKERS", "3")
	t.Setenv("AGENTD_INPUT_TIMEOUT", "0")
	t.Setenv("AGENTD_RETENTION", "90s")
	t.Setenv("AGENTD_SNAPSHOT", "blob, SQLite")
	t.Setenv("AGENTD_KEEP_PLACEHOLDERS", "true")
	t.Setenv("AGENTD_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, time.Duration(0), cfg.InputTimeout)
	assert.Equal(t, 90*time.Second, cfg.Retention)
	assert.Equal(t, []string{SnapshotBlob, SnapshotSQLite}, cfg.Snapshot)
	assert.True(t, cfg.HasSnapshot(SnapshotSQLite))
	assert.False(t, cfg.HasSnapshot(SnapshotPostgres))
	assert.True(t, cfg.KeepPlaceholders)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadInvalidEnvKeepsDefault(t *testing.T) {
	t.Setenv("AGENTD_CONFIG", "")
	t.Setenv("AGENTD_WORKERS", "many")
	t.Setenv("AGENTD_REAPER_INTERVAL", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 60*time.Second, cfg.ReaperInterval)
}

func TestLoadYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
workers: 2
backlog: 4
input_timeout: 5m
snapshot: [blob]
llm_provider: anthropic
log_level: warn
`), 0o644))

	t.Setenv("AGENTD_CONFIG", path)
	t.Setenv("AGENTD_BACKLOG", "16")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 16, cfg.Backlog, "environment wins over the file")
	assert.Equal(t, 5*time.Minute, cfg.InputTimeout)
	assert.Equal(t, []string{SnapshotBlob}, cfg.Snapshot)
	assert.Equal(t, "anthropic", cfg.LLMProvider)
	assert.Equal(t, slog.LevelWarn, cfg.LogLevel)
	assert.Equal(t, 60*time.Second, cfg.ReaperInterval, "unset keys keep defaults")
}

func TestLoadYAMLErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		t.Setenv("AGENTD_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("bad yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("workers: [1"), 0o644))
		t.Setenv("AGENTD_CONFIG", path)
		_, err := Load()
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"zero workers", func(c *Config) { c.Workers = 0 }, "workers must be at least 1"},
		{"negative backlog", func(c *Config) { c.Backlog = -1 }, "backlog"},
		{"bad executor", func(c *Config) { c.Executor = "magic" }, "unknown executor"},
		{"s3 without bucket", func(c *Config) { c.Blob = BlobS3 }, "AGENTD_S3_BUCKET"},
		{"postgres without dsn", func(c *Config) { c.Snapshot = []string{SnapshotPostgres} }, "AGENTD_POSTGRES_DSN"},
		{"openai without key", func(c *Config) { c.LLMProvider = ProviderOpenAI }, "OPENAI_API_KEY"},
		{"openai with key", func(c *Config) { c.LLMProvider = ProviderOpenAI; c.OpenAIAPIKey = "sk" }, ""},
		{"unknown provider", func(c *Config) { c.LLMProvider = "eliza" }, "unknown LLM provider"},
		{"scripted ignores provider", func(c *Config) { c.Executor = "scripted"; c.LLMProvider = "eliza" }, ""},
		{"unknown snapshot", func(c *Config) { c.Snapshot = []string{"tape"} }, "unknown snapshot backend"},
		{"none with others", func(c *Config) { c.Snapshot = []string{SnapshotNone, SnapshotBlob} }, "cannot be combined"},
		{"fan-out", func(c *Config) { c.Snapshot = []string{SnapshotBlob, SnapshotSQLite, SnapshotSurrealDB} }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("pipeline started", "request_id", "abc")

	assert.NotContains(t, stderr.String(), "hidden")
	assert.Contains(t, stderr.String(), "request_id=abc")

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(file.String())), &entry))
	assert.Equal(t, "pipeline started", entry["msg"])
	assert.Equal(t, "abc", entry["request_id"])
}

func TestSetupLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "agentd.log")
	logger, cleanup := SetupLogger(path, slog.LevelInfo)
	logger.Info("hello")
	require.NoError(t, cleanup())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}
