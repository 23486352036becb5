package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("SOAR_CONFIG", "")
	t.Setenv("DATABASE_URL", "")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SOAR_CONFIG", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/soar")
	for _, env := range []string{"HTTP_PORT", "BROKER_URL", "RESULT_BACKEND_URL", "RDAP_BASE_URL", "REPORT_PDF", "WORKER_CONCURRENCY"} {
		t.Setenv(env, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Broker.URL)
	assert.Equal(t, cfg.Broker.URL, cfg.Broker.ResultBackendURL)
	assert.Equal(t, "https://rdap.org", cfg.Enrichment.RDAPBaseURL)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.False(t, cfg.Reports.GeneratePDF)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SOAR_CONFIG", "")
	t.Setenv("DATABASE_URL", "postgres://db:5432/soar")
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("BROKER_URL", "redis://broker:6379/1")
	t.Setenv("REPORT_PDF", "true")
	t.Setenv("WORKER_CONCURRENCY", "8")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "redis://broker:6379/1", cfg.Broker.URL)
	assert.Equal(t, "redis://broker:6379/1", cfg.Broker.ResultBackendURL)
	assert.True(t, cfg.Reports.GeneratePDF)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
}

func TestLoadYAMLFileWithEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "7000"
database:
  url: postgres://file:5432/soar
auth:
  webhook_key: file-hook
  admin_key: file-admin
`), 0o644))

	t.Setenv("SOAR_CONFIG", path)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("HTTP_PORT", "7100")

	cfg, err := Load()
	require.NoError(t, err)
	// Environment wins over the file; the file wins over defaults.
	assert.Equal(t, "7100", cfg.Server.Port)
	assert.Equal(t, "postgres://file:5432/soar", cfg.Database.URL)
	assert.Equal(t, "file-hook", cfg.Auth.WebhookKey)
	assert.Equal(t, "file-admin", cfg.Auth.AdminKey)
}
