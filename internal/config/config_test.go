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

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, ModeIngestion, cfg.Worker.Mode)
	assert.Equal(t, 10, cfg.Worker.BatchSize)
	assert.Equal(t, 30*time.Minute, cfg.Worker.StaleAfter())
	assert.Equal(t, "system-ingestion", cfg.Worker.SystemUserID)
	assert.Equal(t, 30, cfg.Feeds.RequestTimeoutSecs)
	assert.Equal(t, 3, cfg.HTML.MaxRetries)
	assert.Equal(t, DefaultUserAgent, cfg.HTML.UserAgent)
	assert.Equal(t, 512, cfg.Chunking.Size)
	assert.Equal(t, 50, cfg.Chunking.Overlap)
	assert.Equal(t, 60, cfg.Embedding.TimeoutSecs)
	assert.Equal(t, 10, cfg.Embedding.BatchSize)
	assert.Equal(t, 1000, cfg.Embedding.RetryDelayMs)
	assert.Equal(t, 1536, cfg.Embedding.Dimension)
	assert.Equal(t, 200, cfg.Extraction.CompanyWindow)
	assert.Equal(t, 500, cfg.Extraction.DateWindow)
	assert.InDelta(t, 5e10, cfg.Extraction.MaxAmountUSD, 1)
	assert.InDelta(t, 1.1, cfg.Extraction.EURRate, 0.001)
	assert.InDelta(t, 1.25, cfg.Extraction.GBPRate, 0.001)
	assert.Equal(t, 15*time.Minute, cfg.Schedule.IngestEvery)
	assert.Equal(t, 5*time.Minute, cfg.Schedule.ProcessEvery)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  database_url: local.db
log:
  level: debug
  format: console
worker:
  mode: features
  concurrency: 8
chunking:
  size: 256
schedule:
  process_every: 90s
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "local.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, ModeFeatures, cfg.Worker.Mode)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
	assert.Equal(t, 256, cfg.Chunking.Size)
	assert.Equal(t, 90*time.Second, cfg.Schedule.ProcessEvery)
	// Defaults still apply for unset values
	assert.Equal(t, 50, cfg.Chunking.Overlap)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("DEALFLOW_STORE_DRIVER", "postgres")
	t.Setenv("DEALFLOW_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadWorkerModeEnv(t *testing.T) {
	chdirTemp(t)
	t.Setenv("WORKER_MODE", "processing")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ModeProcessing, cfg.Worker.Mode)

	t.Setenv("DEALFLOW_WORKER_MODE", "features")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, ModeFeatures, cfg.Worker.Mode)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DEALFLOW_SERVER_PORT=3000\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("DEALFLOW_SERVER_PORT") }) //nolint:errcheck

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
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

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Worker.BatchSize = 10
	cfg.Worker.Concurrency = 5
	cfg.Worker.StaleAfterMin = 30
	cfg.Feeds.RequestTimeoutSecs = 30
	cfg.HTML.RequestTimeoutSecs = 30
	cfg.Chunking = ChunkingConfig{Size: 512, Overlap: 50}
	cfg.Embedding.BaseURL = "http://llm:8001"
	cfg.Embedding.Dimension = 1536
	cfg.Embedding.BatchSize = 10
	cfg.Extraction = ExtractionConfig{CompanyWindow: 200, DateWindow: 500, MaxAmountUSD: 5e10, EURRate: 1.1, GBPRate: 1.25}
	cfg.Server.Port = 8080
	return cfg
}

func TestValidate_AllModes(t *testing.T) {
	cfg := validDefaults()
	for _, mode := range []string{ModeIngestion, ModeProcessing, ModeFeatures, ModeServe, ModeSchedule, ModeMigrate} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("enrichment")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidatePostgresNeedsURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"
	err := cfg.Validate(ModeMigrate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/dealflow"
	assert.NoError(t, cfg.Validate(ModeMigrate))

	cfg.Store.Driver = "mysql"
	assert.ErrorContains(t, cfg.Validate(ModeMigrate), "store.driver")
}

func TestValidateProcessing(t *testing.T) {
	cfg := validDefaults()
	cfg.Embedding.BaseURL = ""
	cfg.Chunking.Overlap = 512

	err := cfg.Validate(ModeProcessing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding.base_url is required")
	assert.Contains(t, err.Error(), "chunking.overlap")

	// Features mode does not touch the embedding service.
	assert.NoError(t, cfg.Validate(ModeFeatures))
}

func TestValidateFeatures(t *testing.T) {
	cfg := validDefaults()
	cfg.Extraction.MaxAmountUSD = 0
	cfg.Extraction.GBPRate = -1

	err := cfg.Validate(ModeFeatures)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_amount_usd")
	assert.Contains(t, err.Error(), "gbp_rate")
	assert.NoError(t, cfg.Validate(ModeIngestion))
}

func TestValidateConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Worker.Concurrency = 0
	assert.ErrorContains(t, cfg.Validate(ModeIngestion), "worker.concurrency must be between 1 and 64")

	cfg.Worker.Concurrency = 65
	assert.ErrorContains(t, cfg.Validate(ModeIngestion), "worker.concurrency must be between 1 and 64")

	cfg.Worker.Concurrency = 64
	assert.NoError(t, cfg.Validate(ModeIngestion))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0
	assert.ErrorContains(t, cfg.Validate(ModeServe), "server.port")
	assert.NoError(t, cfg.Validate(ModeIngestion))
}

func TestIsWorkerMode(t *testing.T) {
	assert.True(t, IsWorkerMode(ModeProcessing))
	assert.False(t, IsWorkerMode(ModeServe))
}
