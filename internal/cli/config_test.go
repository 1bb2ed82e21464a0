package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "overedit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"DATABASE_URL", "JWT_SECRET", "OVEREDIT_TOKEN"} {
		t.Setenv(k, "")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := loadConfig("")
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Server.Addr)
	require.True(t, cfg.Server.Metrics)
	require.Equal(t, "triage", cfg.Client.Namespace)
	require.Equal(t, 24*time.Hour, cfg.Client.DraftTTL)

	ec, err := cfg.EditConfig()
	require.NoError(t, err)
	require.True(t, ec.AutoMerge)
	require.Equal(t, 5, ec.RetryBudget)
	require.Equal(t, []string{"category", "urgency", "action"}, ec.Fields.Names())
}

func TestLoadConfig_FileAndEnvironment(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
log_level: debug
server:
  addr: ":9090"
  jwt_secret: from-file
fields:
  - name: status
    values: [OPEN, DONE]
client:
  namespace: tickets
  schema_version: 2
  draft_ttl: 12h
  retry_budget: 8
  auto_merge: false
`)
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("OVEREDIT_TOKEN", "tok")

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, ":9090", cfg.Server.Addr)
	require.Equal(t, "from-env", cfg.Server.JWTSecret)
	require.Equal(t, "tok", cfg.Client.Token)
	require.Equal(t, "http://localhost:8080", cfg.Client.BaseURL, "unset keys keep their defaults")

	ec, err := cfg.EditConfig()
	require.NoError(t, err)
	require.Equal(t, "tickets", ec.Namespace)
	require.Equal(t, 2, ec.SchemaVersion)
	require.Equal(t, 12*time.Hour, ec.DraftTTL)
	require.Equal(t, 8, ec.RetryBudget)
	require.False(t, ec.AutoMerge)
	require.Equal(t, []string{"status"}, ec.Fields.Names())
}

func TestLoadConfig_Errors(t *testing.T) {
	clearEnv(t)
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = loadConfig(writeConfig(t, "server: [not, a, map]"))
	require.Error(t, err)

	cfg, err := loadConfig(writeConfig(t, "fields:\n  - name: status\n    values: []\n"))
	require.NoError(t, err)
	_, err = cfg.EditConfig()
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "warn", "json")
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), `"msg":"shown"`)

	_, err = newLogger(&buf, "loud", "json")
	require.Error(t, err)
	_, err = newLogger(&buf, "info", "xml")
	require.Error(t, err)
}
