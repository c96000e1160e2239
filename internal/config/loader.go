package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MMBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MMBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Bybit ──
	setStr(&cfg.Bybit.WsURL, "MMBOT_BYBIT_WS_URL")
	setInt(&cfg.Bybit.Depth, "MMBOT_BYBIT_DEPTH")
	setStringSlice(&cfg.Bybit.Symbols, "MMBOT_BYBIT_SYMBOLS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "MMBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "MMBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MMBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MMBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MMBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MMBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MMBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "MMBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "MMBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "MMBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "MMBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MMBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MMBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MMBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MMBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MMBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "MMBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MMBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "MMBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MMBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MMBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MMBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MMBOT_S3_FORCE_PATH_STYLE")

	// ── Calibration ──
	setFloat64(&cfg.Calibration.LatencyMeanMs, "MMBOT_CALIBRATION_LATENCY_MEAN_MS")
	setFloat64(&cfg.Calibration.LatencyStdMs, "MMBOT_CALIBRATION_LATENCY_STD_MS")
	setFloat64(&cfg.Calibration.AmendLatencyMs, "MMBOT_CALIBRATION_AMEND_LATENCY_MS")
	setFloat64(&cfg.Calibration.CancelLatencyMs, "MMBOT_CALIBRATION_CANCEL_LATENCY_MS")
	setFloat64(&cfg.Calibration.ToxicSweepProb, "MMBOT_CALIBRATION_TOXIC_SWEEP_PROB")
	setFloat64(&cfg.Calibration.ExtraSlippageBps, "MMBOT_CALIBRATION_EXTRA_SLIPPAGE_BPS")
	setInt64(&cfg.Calibration.Seed, "MMBOT_CALIBRATION_SEED")

	// ── Strategy ──
	setFloat64(&cfg.Strategy.BaseSpreadBps, "MMBOT_STRATEGY_BASE_SPREAD_BPS")
	setFloat64(&cfg.Strategy.MinSpreadBps, "MMBOT_STRATEGY_MIN_SPREAD_BPS")
	setFloat64(&cfg.Strategy.KVola, "MMBOT_STRATEGY_K_VOLA")
	setFloat64(&cfg.Strategy.KImb, "MMBOT_STRATEGY_K_IMB")
	setFloat64(&cfg.Strategy.TImb, "MMBOT_STRATEGY_T_IMB")
	setFloat64(&cfg.Strategy.SkewK, "MMBOT_STRATEGY_SKEW_K")
	setFloat64(&cfg.Strategy.MaxSkewBps, "MMBOT_STRATEGY_MAX_SKEW_BPS")
	setFloat64(&cfg.Strategy.QuoteSize, "MMBOT_STRATEGY_QUOTE_SIZE")
	setFloat64(&cfg.Strategy.MaxInventory, "MMBOT_STRATEGY_MAX_INVENTORY")
	setInt(&cfg.Strategy.ImbalanceDepth, "MMBOT_STRATEGY_IMBALANCE_DEPTH")
	setDuration(&cfg.Strategy.RequoteInterval, "MMBOT_STRATEGY_REQUOTE_INTERVAL")

	// ── Risk ──
	setFloat64(&cfg.Risk.VolSoftBps, "MMBOT_RISK_VOL_SOFT_BPS")
	setFloat64(&cfg.Risk.VolHardBps, "MMBOT_RISK_VOL_HARD_BPS")
	setFloat64(&cfg.Risk.VolEmaSec, "MMBOT_RISK_VOL_EMA_SEC")
	setFloat64(&cfg.Risk.InventorySoftPct, "MMBOT_RISK_INVENTORY_SOFT_PCT")
	setFloat64(&cfg.Risk.InventoryHardPct, "MMBOT_RISK_INVENTORY_HARD_PCT")
	setInt(&cfg.Risk.TakerFillsSoft, "MMBOT_RISK_TAKER_FILLS_SOFT")
	setInt(&cfg.Risk.TakerFillsHard, "MMBOT_RISK_TAKER_FILLS_HARD")
	setDuration(&cfg.Risk.TakerWindow, "MMBOT_RISK_TAKER_WINDOW")
	setDuration(&cfg.Risk.HardCooldown, "MMBOT_RISK_HARD_COOLDOWN")

	// ── Backtest ──
	setStr(&cfg.Backtest.Source, "MMBOT_BACKTEST_SOURCE")
	setStr(&cfg.Backtest.Symbol, "MMBOT_BACKTEST_SYMBOL")
	setFloat64(&cfg.Backtest.BasePrice, "MMBOT_BACKTEST_BASE_PRICE")
	setFloat64(&cfg.Backtest.Volatility, "MMBOT_BACKTEST_VOLATILITY")
	setInt(&cfg.Backtest.Levels, "MMBOT_BACKTEST_LEVELS")
	setDuration(&cfg.Backtest.Interval, "MMBOT_BACKTEST_INTERVAL")
	setInt64(&cfg.Backtest.Seed, "MMBOT_BACKTEST_SEED")
	setFloat64(&cfg.Backtest.MakerRebateBps, "MMBOT_BACKTEST_MAKER_REBATE_BPS")
	setFloat64(&cfg.Backtest.TakerFeeBps, "MMBOT_BACKTEST_TAKER_FEE_BPS")
	setBool(&cfg.Backtest.PersistFills, "MMBOT_BACKTEST_PERSIST_FILLS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "MMBOT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "MMBOT_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "MMBOT_ARCHIVE_INTERVAL")

	// ── Top-level ──
	setStr(&cfg.Mode, "MMBOT_MODE")
	setStr(&cfg.LogLevel, "MMBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
