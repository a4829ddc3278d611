// ABOUTME: Tests for configuration loading, env expansion, and validation
// ABOUTME: Covers overrides, duration parsing, and mode validation errors

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "visor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "dev", cfg.Auth.Mode)
	assert.Equal(t, "memory", cfg.KV.Backend)
	assert.Equal(t, "fixture", cfg.CodeHost.Mode)
	assert.Equal(t, "stub", cfg.Speech.STTProvider)
}

func TestLoad_ParsesFile(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":9090"
  idempotency_window: 5m
database:
  path: /tmp/visor-test.db
notifications:
  default_provider: webpush
  dedupe_window: 120s
  thresholds:
    commute: 4
sessions:
  ttl: 30m
pending:
  ttl: 90s
logging:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.HTTPAddr)
	assert.Equal(t, 5*time.Minute, cfg.Server.IdempotencyWindow)
	assert.Equal(t, "/tmp/visor-test.db", cfg.Database.Path)
	assert.Equal(t, "webpush", cfg.Notifications.DefaultProvider)
	assert.Equal(t, 120*time.Second, cfg.Notifications.DedupeWindow)
	assert.Equal(t, 4, cfg.Notifications.Thresholds["commute"])
	assert.Equal(t, 30*time.Minute, cfg.Sessions.TTL)
	assert.Equal(t, 90*time.Second, cfg.Pending.TTL)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("VISOR_TEST_DB", "/data/visor.db")
	path := writeConfig(t, `
database:
  path: ${VISOR_TEST_DB}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/visor.db", cfg.Database.Path)
}

func TestLoad_EnvOverridesWin(t *testing.T) {
	t.Setenv("AUTH_MODE", "jwt")
	t.Setenv("WEBHOOK_SECRET", "hook-secret")
	t.Setenv("DB_PATH", ":memory:")
	t.Setenv("METRICS_ENABLED", "true")

	path := writeConfig(t, `
auth:
  mode: dev
  jwt_secret: signing-secret
database:
  path: file.db
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "jwt", cfg.Auth.Mode)
	assert.Equal(t, "hook-secret", cfg.Webhook.Secret)
	assert.Equal(t, ":memory:", cfg.Database.Path)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, `
pending:
  ttl: soonish
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad auth mode", "auth:\n  mode: magic\n"},
		{"jwt without secret", "auth:\n  mode: jwt\n"},
		{"api_key without keys", "auth:\n  mode: api_key\n"},
		{"bad kv backend", "kv:\n  backend: etcd\n"},
		{"network kv without addr", "kv:\n  backend: network\n"},
		{"bad codehost mode", "codehost:\n  mode: svn\n"},
		{"live codehost without token", "codehost:\n  mode: live\n"},
		{"bad deny_write repo", "policies:\n  deny_write: [just-a-name]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}
