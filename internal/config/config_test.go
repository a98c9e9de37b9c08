package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chTempDir(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "claims.db", cfg.Store.SQLitePath)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, int64(1024), cfg.Reasoning.MaxTokens)
	assert.Equal(t, 30*time.Second, cfg.Reasoning.Timeout())
	assert.Equal(t, 90*time.Second, cfg.Compliance.Timeout())
	assert.InDelta(t, 3.00, cfg.Reasoning.InputPerMTok, 0.001)
	assert.InDelta(t, 15.00, cfg.Reasoning.OutputPerMTok, 0.001)
	assert.InDelta(t, 0.10, cfg.Compliance.PerCheckUSD, 0.001)
	assert.InDelta(t, 50.00, cfg.Budget.LimitUSD, 0.001)
	assert.InDelta(t, 45.00, cfg.Budget.WarnUSD, 0.001)
	assert.Equal(t, 4, cfg.Session.MaxConcurrentClaims)
	assert.Equal(t, 60*time.Second, cfg.Session.ProvisionTimeout())
	assert.Equal(t, 3, cfg.Session.RetryMaxAttempts)
	assert.Empty(t, cfg.Audit.WebhookURL)
	assert.Empty(t, cfg.Provision.BaseURL)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chTempDir(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/claims
log:
  level: debug
  format: console
server:
  port: 9090
budget:
  limit_usd: 25
  warn_usd: 20
session:
  max_concurrent_claims: 8
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/claims", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.InDelta(t, 25.00, cfg.Budget.LimitUSD, 0.001)
	assert.InDelta(t, 20.00, cfg.Budget.WarnUSD, 0.001)
	assert.Equal(t, 8, cfg.Session.MaxConcurrentClaims)
	// Defaults still apply for unset values
	assert.Equal(t, 90*time.Second, cfg.Compliance.Timeout())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chTempDir(t)

	yaml := `
log:
  level: info
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("CLAIMS_LOG_LEVEL", "warn")
	t.Setenv("CLAIMS_BUDGET_LIMIT_USD", "10")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.InDelta(t, 10.00, cfg.Budget.LimitUSD, 0.001)
}

func TestLoadRejectsInvalidBudget(t *testing.T) {
	chTempDir(t)
	t.Setenv("CLAIMS_BUDGET_WARN_USD", "60")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warn_usd")
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	chTempDir(t)
	t.Setenv("CLAIMS_STORE_DRIVER", "oracle")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store driver")
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())

	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))

	err := InitLogger(LogConfig{Level: "not-a-level", Format: "json"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse log level")
}
