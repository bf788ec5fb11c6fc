package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := loadConfig("", envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, "http", cfg.Driver)
	assert.Equal(t, 10, cfg.PoolSize)
	assert.True(t, cfg.Headless)
	assert.Equal(t, "auto", cfg.LogFormat)
	assert.Equal(t, "none", cfg.Tracing)
	assert.Equal(t, "tabflow.db", filepath.Base(cfg.DBPath))
}

func TestLoadConfigLayers(t *testing.T) {
	path := writeFile(t, "config.yaml", `
db_path: /var/lib/tabflow/tabflow.db
log_level: debug
pool_size: 4
driver: chromedp
headless: false
navigation_timeout: 45s
action_timeout: 10s
url_allow: ["*.example.com"]
openai:
  model: gpt-4o
connectors:
  webhooks:
    ops: https://hooks.example.com/ops
schedules:
  - id: nightly
    cron: "0 3 * * *"
    workflow: price-watch
    session: nightly
`)
	cfg, err := loadConfig(path, envMap(map[string]string{
		"TABFLOW_POOL_SIZE": "8",
		"TABFLOW_URL_DENY":  "internal.*, *.local",
		"OPENAI_API_KEY":    "sk-test",
	}))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 8, cfg.PoolSize)
	assert.Equal(t, "chromedp", cfg.Driver)
	assert.False(t, cfg.Headless)
	assert.Equal(t, 45*time.Second, cfg.NavigationTimeout)
	assert.Equal(t, 10*time.Second, cfg.ActionTimeout)
	assert.Equal(t, []string{"*.example.com"}, cfg.URLAllow)
	assert.Equal(t, []string{"internal.*", "*.local"}, cfg.URLDeny)
	assert.Equal(t, "gpt-4o", cfg.OpenAI.Model)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
	assert.Equal(t, "https://hooks.example.com/ops", cfg.Connectors.Webhooks["ops"])
	require.Len(t, cfg.Schedules, 1)
	assert.Equal(t, "price-watch", cfg.Schedules[0].WorkflowID)
	assert.Equal(t, "nightly", cfg.Schedules[0].SessionID)
}

func TestLoadConfigEnvWinsOverOpenAIFallback(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := loadConfig("", envMap(map[string]string{
		"TABFLOW_OPENAI_API_KEY":     "sk-tabflow",
		"OPENAI_API_KEY":             "sk-global",
		"TABFLOW_NAVIGATION_TIMEOUT": "5s",
		"TABFLOW_HEADLESS":           "0",
	}))
	require.NoError(t, err)
	assert.Equal(t, "sk-tabflow", cfg.OpenAI.APIKey)
	assert.Equal(t, 5*time.Second, cfg.NavigationTimeout)
	assert.False(t, cfg.Headless)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), envMap(nil))
	assert.Error(t, err)

	_, err = loadConfig(writeFile(t, "bad.yaml", "pool_size: [oops"), envMap(nil))
	assert.Error(t, err)

	for name, env := range map[string]map[string]string{
		"driver":      {"TABFLOW_DRIVER": "selenium"},
		"pool size":   {"TABFLOW_POOL_SIZE": "0"},
		"pool parse":  {"TABFLOW_POOL_SIZE": "many"},
		"log format":  {"TABFLOW_LOG_FORMAT": "xml"},
		"tracing":     {"TABFLOW_TRACING": "jaeger"},
		"nav timeout": {"TABFLOW_NAVIGATION_TIMEOUT": "soon"},
		"act timeout": {"TABFLOW_ACTION_TIMEOUT": "later"},
	} {
		_, err := loadConfig("", envMap(env))
		assert.Error(t, err, name)
	}

	_, err = loadConfig(writeFile(t, "sched.yaml", "schedules:\n  - cron: '@daily'\n"), envMap(nil))
	assert.ErrorContains(t, err, "schedules[0]")
}

func TestDBURI(t *testing.T) {
	assert.Equal(t, "file:/tmp/tabflow.db", dbURI("/tmp/tabflow.db"))
	assert.Equal(t, "file:/tmp/tabflow.db", dbURI("file:/tmp/tabflow.db"))
	assert.Equal(t, "libsql://db.example.com", dbURI("libsql://db.example.com"))
}
