package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validConfig = `{
	"port": 8080,
	"jwt_secret": "secret",
	"database": {"host": "localhost", "db_name": "jitkb"},
	"tenants": [{"id": "t1", "files_ttl_hours": 24}],
	"kb": {"provider": "local", "data": {}}
}`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)
	require.Equal(t, 5432, cfg.Database.Port)
	require.Equal(t, "disable", cfg.Database.SSLMode)
	require.Equal(t, "info", cfg.LogConfig.Level)
	require.Equal(t, "local", cfg.FileStore.Type)
	require.Equal(t, 1024, cfg.Stream.BufferSize)
	require.Equal(t, 5, cfg.Stream.MaxAttempts)
	require.Equal(t, "* * * * *", cfg.Schedule.TTLSweepSpec)
	require.Equal(t, 200, cfg.Schedule.SweepBatchSize)

	tenant, ok := cfg.FindTenant("t1")
	require.True(t, ok)
	require.Equal(t, 3, tenant.MaxIngestRetries)
	require.Equal(t, 30, tenant.IngestTimeoutMins)
}

func TestLoadRejectsMissingTenants(t *testing.T) {
	_, err := Load(writeConfig(t, `{
		"port": 8080,
		"jwt_secret": "secret",
		"database": {"host": "localhost", "db_name": "jitkb"},
		"tenants": [],
		"kb": {"provider": "local"}
	}`))
	require.ErrorContains(t, err, "tenant")
}

func TestLoadRejectsDuplicateTenants(t *testing.T) {
	_, err := Load(writeConfig(t, `{
		"port": 8080,
		"jwt_secret": "secret",
		"database": {"host": "localhost", "db_name": "jitkb"},
		"tenants": [
			{"id": "t1", "files_ttl_hours": 24},
			{"id": "t1", "files_ttl_hours": 48}
		],
		"kb": {"provider": "local"}
	}`))
	require.ErrorContains(t, err, "duplicate tenant")
}

func TestLoadRejectsNonPositiveTTL(t *testing.T) {
	_, err := Load(writeConfig(t, `{
		"port": 8080,
		"jwt_secret": "secret",
		"database": {"host": "localhost", "db_name": "jitkb"},
		"tenants": [{"id": "t1", "files_ttl_hours": 0}],
		"kb": {"provider": "local"}
	}`))
	require.ErrorContains(t, err, "files_ttl_hours")
}

func TestFindTenantMiss(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)
	_, ok := cfg.FindTenant("unknown")
	require.False(t, ok)
}
