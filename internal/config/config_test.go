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
	assert.Equal(t, "scout.db", cfg.Store.SQLitePath)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.HaikuModel)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Anthropic.SonnetModel)
	assert.Equal(t, 4096, cfg.Anthropic.MaxTokens)
	assert.Equal(t, "https://search.brave.com", cfg.Search.BaseURL)
	assert.Equal(t, 2, cfg.Search.PagesPerQuery)
	assert.Equal(t, 20000, cfg.Search.FetchMaxChars)
	assert.Equal(t, 20000, cfg.Verify.SubscriberMin)
	assert.Equal(t, 150000, cfg.Verify.SubscriberMax)
	assert.Equal(t, 3, cfg.Scan.MaxWaves)
	assert.Equal(t, 25, cfg.Scan.MaxTriagePages)
	assert.InDelta(t, 4.0, cfg.Scan.MinTriageScore, 0.001)
	assert.InDelta(t, 0.4, cfg.Scan.MinLocalityScore, 0.001)
	assert.InDelta(t, 0.5, cfg.Scan.MinTotalScore, 0.001)
	assert.False(t, cfg.Scan.Unattended)
	assert.Equal(t, 30, cfg.Cost.InitialPatience)
	assert.Equal(t, 20, cfg.Cost.RechargePerHit)
	assert.Equal(t, 1, cfg.Cost.DrainPerMiss)
	assert.InDelta(t, 0.10, cfg.Cost.Epsilon, 0.001)
	assert.InDelta(t, 0.05, cfg.Cost.MinROI, 0.001)
	assert.Equal(t, 5000, cfg.Cost.Budget)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/scout
log:
  level: debug
  format: console
scan:
  max_waves: 5
  unattended: true
cost:
  budget: 250
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/scout", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 5, cfg.Scan.MaxWaves)
	assert.True(t, cfg.Scan.Unattended)
	assert.Equal(t, 250, cfg.Cost.Budget)
	// Untouched sections keep their defaults.
	assert.Equal(t, 2, cfg.Search.PagesPerQuery)
	assert.Equal(t, 25, cfg.Scan.MaxTriagePages)
}

func TestLoadFromEnv(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("SCOUT_ANTHROPIC_KEY", "sk-test")
	t.Setenv("SCOUT_SERVER_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.Anthropic.Key)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())

	err := InitLogger(LogConfig{Level: "nope", Format: "json"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse log level")
}
