package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "backtest"
log_level = "debug"

[bybit]
symbols = ["ETHUSDT", "SOLUSDT"]

[calibration]
toxic_sweep_prob = 0.25

[risk]
taker_window = "30m"

[backtest]
source = "store"
symbol = "ETHUSDT"
start = 2025-06-01T00:00:00Z
end = 2025-06-02T00:00:00Z
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "backtest", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"ETHUSDT", "SOLUSDT"}, cfg.Bybit.Symbols)
	assert.Equal(t, 0.25, cfg.Calibration.ToxicSweepProb)
	assert.Equal(t, 30*time.Minute, cfg.Risk.TakerWindow.Duration)
	assert.Equal(t, "store", cfg.Backtest.Source)

	// Untouched sections keep their defaults.
	assert.Equal(t, 50, cfg.Bybit.Depth)
	assert.Equal(t, "wss://stream.bybit.com/v5/public/linear", cfg.Bybit.WsURL)
	assert.Equal(t, 5432, cfg.Postgres.Port)

	require.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
[redis]
addr = "from-file:6379"
`)

	t.Setenv("MMBOT_REDIS_ADDR", "from-env:6380")
	t.Setenv("MMBOT_BYBIT_SYMBOLS", "BTCUSDT, ETHUSDT")
	t.Setenv("MMBOT_CALIBRATION_TOXIC_SWEEP_PROB", "0.5")
	t.Setenv("MMBOT_STRATEGY_REQUOTE_INTERVAL", "250ms")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env:6380", cfg.Redis.Addr)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Bybit.Symbols)
	assert.Equal(t, 0.5, cfg.Calibration.ToxicSweepProb)
	assert.Equal(t, 250*time.Millisecond, cfg.Strategy.RequoteInterval.Duration)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadCalibration(t *testing.T) {
	cfg := Defaults()
	cfg.Calibration.ToxicSweepProb = 1.5

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "toxic_sweep_prob")
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Bybit.Depth = 42
	cfg.Redis.Addr = ""
	cfg.Strategy.QuoteSize = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "depth")
	assert.Contains(t, err.Error(), "redis")
	assert.Contains(t, err.Error(), "quote_size")
}

func TestValidateBacktestWindow(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "backtest"
	cfg.Backtest.Source = "store"
	cfg.Backtest.Start = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	cfg.Backtest.End = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "end must be after start")
}

func TestValidateArchiveRequiresS3(t *testing.T) {
	cfg := Defaults()
	cfg.Archive.Enabled = true
	cfg.S3.Bucket = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")
}
