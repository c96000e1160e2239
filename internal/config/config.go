// Package config defines the top-level configuration for the market maker
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by MMBOT_* environment
// variables.
type Config struct {
	Bybit       BybitConfig       `toml:"bybit"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Calibration CalibrationConfig `toml:"calibration"`
	Strategy    StrategyConfig    `toml:"strategy"`
	Risk        RiskConfig        `toml:"risk"`
	Backtest    BacktestConfig    `toml:"backtest"`
	Archive     ArchiveConfig     `toml:"archive"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// BybitConfig holds the market data stream parameters.
type BybitConfig struct {
	WsURL   string   `toml:"ws_url"`
	Depth   int      `toml:"depth"`
	Symbols []string `toml:"symbols"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// CalibrationConfig holds the fill simulator's market effect parameters.
type CalibrationConfig struct {
	LatencyMeanMs    float64 `toml:"latency_mean_ms"`
	LatencyStdMs     float64 `toml:"latency_std_ms"`
	AmendLatencyMs   float64 `toml:"amend_latency_ms"`
	CancelLatencyMs  float64 `toml:"cancel_latency_ms"`
	ToxicSweepProb   float64 `toml:"toxic_sweep_prob"`
	ExtraSlippageBps float64 `toml:"extra_slippage_bps"`
	Seed             int64   `toml:"seed"`
}

// StrategyConfig holds the quoting model parameters.
type StrategyConfig struct {
	BaseSpreadBps  float64 `toml:"base_spread_bps"`
	MinSpreadBps   float64 `toml:"min_spread_bps"`
	KVola          float64 `toml:"k_vola"`
	KImb           float64 `toml:"k_imb"`
	TImb           float64 `toml:"t_imb"`
	SkewK          float64 `toml:"skew_k"`
	MaxSkewBps     float64 `toml:"max_skew_bps"`
	QuoteSize      float64 `toml:"quote_size"`
	MaxInventory   float64 `toml:"max_inventory"`
	ImbalanceDepth int     `toml:"imbalance_depth"`
	// RequoteInterval paces the live quoting loop.
	RequoteInterval duration `toml:"requote_interval"`
}

// RiskConfig holds the guard thresholds.
type RiskConfig struct {
	VolSoftBps       float64  `toml:"vol_soft_bps"`
	VolHardBps       float64  `toml:"vol_hard_bps"`
	VolEmaSec        float64  `toml:"vol_ema_sec"`
	InventorySoftPct float64  `toml:"inventory_soft_pct"`
	InventoryHardPct float64  `toml:"inventory_hard_pct"`
	TakerFillsSoft   int      `toml:"taker_fills_soft"`
	TakerFillsHard   int      `toml:"taker_fills_hard"`
	TakerWindow      duration `toml:"taker_window"`
	HardCooldown     duration `toml:"hard_cooldown"`
}

// BacktestConfig holds the replay parameters.
type BacktestConfig struct {
	// Source selects the snapshot stream: "synthetic" or "store".
	Source string    `toml:"source"`
	Symbol string    `toml:"symbol"`
	Start  time.Time `toml:"start"`
	End    time.Time `toml:"end"`

	// Synthetic generator parameters, used when Source is "synthetic".
	BasePrice    float64  `toml:"base_price"`
	Volatility   float64  `toml:"volatility"`
	SpreadMinBps float64  `toml:"spread_min_bps"`
	SpreadMaxBps float64  `toml:"spread_max_bps"`
	Levels       int      `toml:"levels"`
	Interval     duration `toml:"interval"`
	Seed         int64    `toml:"seed"`

	// Run economics.
	MakerRebateBps float64 `toml:"maker_rebate_bps"`
	TakerFeeBps    float64 `toml:"taker_fee_bps"`
	MaxInventory   float64 `toml:"max_inventory"`

	// PersistFills controls whether fills are written to Postgres; the
	// batch size bounds memory between writes.
	PersistFills bool `toml:"persist_fills"`
	PersistBatch int  `toml:"persist_batch"`
}

// ArchiveConfig holds the snapshot cold storage sweep parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// duration wraps time.Duration so the TOML decoder accepts strings like
// "5m" or "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Bybit: BybitConfig{
			WsURL:   "wss://stream.bybit.com/v5/public/linear",
			Depth:   50,
			Symbols: []string{"BTCUSDT"},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "mmbot",
			User:          "mmbot",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "mmbot-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Calibration: CalibrationConfig{
			LatencyMeanMs:    50,
			LatencyStdMs:     15,
			AmendLatencyMs:   30,
			CancelLatencyMs:  25,
			ToxicSweepProb:   0.08,
			ExtraSlippageBps: 1.5,
			Seed:             1,
		},
		Strategy: StrategyConfig{
			BaseSpreadBps:   8,
			MinSpreadBps:    2,
			KVola:           0.5,
			KImb:            0.2,
			TImb:            0.1,
			SkewK:           0.1,
			MaxSkewBps:      30,
			QuoteSize:       0.01,
			MaxInventory:    1,
			ImbalanceDepth:  5,
			RequoteInterval: duration{time.Second},
		},
		Risk: RiskConfig{
			VolSoftBps:       15,
			VolHardBps:       25,
			VolEmaSec:        60,
			InventorySoftPct: 0.6,
			InventoryHardPct: 0.9,
			TakerFillsSoft:   8,
			TakerFillsHard:   15,
			TakerWindow:      duration{time.Hour},
			HardCooldown:     duration{30 * time.Second},
		},
		Backtest: BacktestConfig{
			Source:         "synthetic",
			Symbol:         "BTCUSDT",
			BasePrice:      50000,
			Volatility:     0.001,
			SpreadMinBps:   5,
			SpreadMaxBps:   20,
			Levels:         3,
			Interval:       duration{time.Second},
			Seed:           1,
			MakerRebateBps: 1,
			TakerFeeBps:    5,
			MaxInventory:   1,
			PersistFills:   false,
			PersistBatch:   500,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 7,
			Interval:      duration{6 * time.Hour},
		},
		Mode:     "live",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"live":     true,
	"record":   true,
	"backtest": true,
	"archive":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validDepths are the book depths the stream supports.
var validDepths = map[int]bool{1: true, 50: true, 200: true, 500: true}

// Validate checks Config for invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, record, backtest, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Bybit stream, needed whenever we consume live data.
	if mode == "live" || mode == "record" {
		if c.Bybit.WsURL == "" {
			errs = append(errs, "bybit: ws_url must not be empty")
		}
		if len(c.Bybit.Symbols) == 0 {
			errs = append(errs, "bybit: at least one symbol is required")
		}
		if !validDepths[c.Bybit.Depth] {
			errs = append(errs, fmt.Sprintf("bybit: depth must be one of 1, 50, 200, 500, got %d", c.Bybit.Depth))
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3, required only when the archive sweep runs.
	if c.Archive.Enabled || mode == "archive" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archiving is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archiving is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Calibration. A bad calibration must fail startup, not be clamped.
	if c.Calibration.ToxicSweepProb < 0 || c.Calibration.ToxicSweepProb > 1 {
		errs = append(errs, fmt.Sprintf("calibration: toxic_sweep_prob must be in [0, 1], got %g", c.Calibration.ToxicSweepProb))
	}
	if c.Calibration.LatencyMeanMs < 0 {
		errs = append(errs, "calibration: latency_mean_ms must be >= 0")
	}
	if c.Calibration.LatencyStdMs < 0 {
		errs = append(errs, "calibration: latency_std_ms must be >= 0")
	}
	if c.Calibration.ExtraSlippageBps < 0 {
		errs = append(errs, "calibration: extra_slippage_bps must be >= 0")
	}

	// Strategy
	if c.Strategy.QuoteSize <= 0 {
		errs = append(errs, "strategy: quote_size must be > 0")
	}
	if c.Strategy.MaxInventory <= 0 {
		errs = append(errs, "strategy: max_inventory must be > 0")
	}
	if c.Strategy.MinSpreadBps < 0 {
		errs = append(errs, "strategy: min_spread_bps must be >= 0")
	}
	if c.Strategy.BaseSpreadBps < c.Strategy.MinSpreadBps {
		errs = append(errs, "strategy: base_spread_bps must not be below min_spread_bps")
	}

	// Risk
	if c.Risk.VolSoftBps > c.Risk.VolHardBps {
		errs = append(errs, "risk: vol_soft_bps must not exceed vol_hard_bps")
	}
	if c.Risk.InventorySoftPct > c.Risk.InventoryHardPct {
		errs = append(errs, "risk: inventory_soft_pct must not exceed inventory_hard_pct")
	}

	// Backtest
	if mode == "backtest" {
		switch c.Backtest.Source {
		case "synthetic", "store":
		default:
			errs = append(errs, fmt.Sprintf("backtest: unknown source %q (valid: synthetic, store)", c.Backtest.Source))
		}
		if c.Backtest.Symbol == "" {
			errs = append(errs, "backtest: symbol must not be empty")
		}
		if !c.Backtest.End.IsZero() && !c.Backtest.End.After(c.Backtest.Start) {
			errs = append(errs, "backtest: end must be after start")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
