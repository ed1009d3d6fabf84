package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "datahub.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "http://localhost:9090", cfg.Engine.BaseURL)
	assert.Equal(t, 120, cfg.Engine.TimeoutSecs)
	assert.Equal(t, 3, cfg.Engine.MaxRetries)
	assert.Equal(t, 5, cfg.Engine.RateLimitRPS)
	assert.Equal(t, 24, cfg.Cache.TTLHours)
	assert.InDelta(t, 50000, cfg.Geometry.MaxAreaKm2, 0.001)
	assert.InDelta(t, 100000, cfg.Geometry.MaxBufferM, 0.001)
	assert.Equal(t, 2, cfg.Jobs.Workers)
	assert.Equal(t, 10, cfg.Jobs.StaleAfterMins)
	assert.Equal(t, 72, cfg.Jobs.RetentionHours)
	assert.Equal(t, "artifacts", cfg.Jobs.ArtifactDir)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/datahub
log:
  level: debug
  format: console
server:
  port: 9191
jobs:
  workers: 4
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/datahub", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Jobs.Workers)
	// Defaults still apply for unset values
	assert.Equal(t, 24, cfg.Cache.TTLHours)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("DATAHUB_STORE_DRIVER", "postgres")
	t.Setenv("DATAHUB_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("DATAHUB_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

// validDefaults returns a Config with the fields validation looks at.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "datahub.db"
	cfg.Engine.BaseURL = "http://localhost:9090"
	cfg.Cache.TTLHours = 24
	cfg.Jobs.Workers = 2
	cfg.Jobs.ArtifactDir = "artifacts"
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateServe_AllPresent(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("serve"))
}

func TestValidateServe_MissingFields(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""
	cfg.Engine.BaseURL = ""
	cfg.Jobs.ArtifactDir = ""

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "engine.base_url is required")
	assert.Contains(t, err.Error(), "jobs.artifact_dir is required")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateServe_WorkerBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Jobs.Workers = 0
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jobs.workers must be between 1 and 32")

	cfg.Jobs.Workers = 33
	err = cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jobs.workers must be between 1 and 32")

	cfg.Jobs.Workers = 32
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateBadDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("sweep")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
