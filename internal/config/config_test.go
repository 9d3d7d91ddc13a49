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
	assert.Equal(t, 168, cfg.Store.RetentionHours)
	assert.InDelta(t, 0.023, cfg.Store.USDPerGBMonth, 0.0001)
	assert.Equal(t, "browser", cfg.Fetch.Strategy)
	assert.True(t, cfg.Fetch.Headless)
	assert.Equal(t, 30, cfg.Fetch.TimeoutSecs)
	assert.Equal(t, 3, cfg.Fetch.ProxyRotateAfter)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, 8000, cfg.Extract.MaxPromptChars)
	assert.True(t, cfg.Extract.Synthesis)
	assert.Equal(t, 75, cfg.Scoring.HotMin)
	assert.Equal(t, 50, cfg.Scoring.WarmMin)
	assert.Equal(t, 30, cfg.Scoring.ColdMin)
	assert.Equal(t, 4, cfg.Discovery.MaxSessions)
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
  database_url: postgres://localhost/distill
log:
  level: debug
  format: console
server:
  port: 9090
discovery:
  max_sessions: 8
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Discovery.MaxSessions)
	// Defaults still apply for unset values
	assert.Equal(t, 168, cfg.Store.RetentionHours)
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

	t.Setenv("DISTILL_STORE_DRIVER", "postgres")
	t.Setenv("DISTILL_LOG_LEVEL", "warn")

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

	t.Setenv("DISTILL_SERVER_PORT", "3000")

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

// validDefaults returns a Config populated like the shipped defaults.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "distill.db"
	cfg.Store.RetentionHours = 168
	cfg.Fetch.Strategy = "browser"
	cfg.Discovery.MaxSessions = 4
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateDiscover_AllPresent(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("discover"))
}

func TestValidateDiscover_SynthesisNeedsKey(t *testing.T) {
	cfg := validDefaults()
	cfg.Extract.Synthesis = true

	err := cfg.Validate("discover")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")

	cfg.Anthropic.Key = "sk-ant-key"
	assert.NoError(t, cfg.Validate("discover"))
}

func TestValidateDiscover_BadStrategy(t *testing.T) {
	cfg := validDefaults()
	cfg.Fetch.Strategy = "carrier-pigeon"

	err := cfg.Validate("discover")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "fetch.strategy")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateSessionBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Discovery.MaxSessions = 0
	err := cfg.Validate("discover")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "discovery.max_sessions must be between 1 and 50")

	cfg.Discovery.MaxSessions = 51
	err = cfg.Validate("discover")
	assert.Error(t, err)

	cfg.Discovery.MaxSessions = 50
	assert.NoError(t, cfg.Validate("discover"))
}

func TestValidateSweep_MissingDB(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("sweep")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
