// Package backtest replays recorded or synthetic book snapshots through the
// identical book/simulator entry points used in live mode, collecting fills
// and a run report.
package backtest

import (
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantrove/mmbot/internal/domain"
)

// SyntheticConfig parameterizes the synthetic book generator.
type SyntheticConfig struct {
	Symbol string `toml:"symbol"`
	// BasePrice anchors the random walk.
	BasePrice float64 `toml:"base_price"`
	// Volatility is the per-tick gaussian return (e.g. 0.001 = 0.1%).
	Volatility float64 `toml:"volatility"`
	// SpreadMinBps / SpreadMaxBps bound the uniformly drawn spread.
	SpreadMinBps float64 `toml:"spread_min_bps"`
	SpreadMaxBps float64 `toml:"spread_max_bps"`
	// Levels is the number of price levels generated per side.
	Levels int `toml:"levels"`
	// Interval is the spacing between generated snapshots.
	Interval time.Duration `toml:"interval"`
	// Seed fixes the generator's random stream.
	Seed int64 `toml:"seed"`
}

// DefaultsSynthetic returns the generator parameters used when the config
// omits them.
func DefaultsSynthetic() SyntheticConfig {
	return SyntheticConfig{
		Symbol:       "BTCUSDT",
		BasePrice:    50000,
		Volatility:   0.001,
		SpreadMinBps: 5,
		SpreadMaxBps: 20,
		Levels:       3,
		Interval:     time.Second,
		Seed:         1,
	}
}

// Synthetic generates a deterministic random-walk book stream. With the
// same config and seed it reproduces the identical snapshot sequence,
// which is what makes golden-file backtest comparisons possible.
type Synthetic struct {
	cfg      SyntheticConfig
	rng      *rand.Rand
	mid      float64
	ts       time.Time
	end      time.Time
	sequence int64
}

// NewSynthetic creates a generator covering [start, end].
func NewSynthetic(cfg SyntheticConfig, start, end time.Time) *Synthetic {
	if cfg.Levels <= 0 {
		cfg.Levels = 3
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Synthetic{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
		mid: cfg.BasePrice,
		ts:  start,
		end: end,
	}
}

// Next returns the next snapshot in the stream, or false when the time
// range is exhausted.
func (g *Synthetic) Next() (*domain.BookSnapshot, bool) {
	if g.ts.After(g.end) {
		return nil, false
	}
	g.sequence++

	g.mid *= 1 + g.rng.NormFloat64()*g.cfg.Volatility
	spreadBps := g.cfg.SpreadMinBps + g.rng.Float64()*(g.cfg.SpreadMaxBps-g.cfg.SpreadMinBps)
	spread := spreadBps / 10000
	bestBid := g.mid * (1 - spread/2)
	bestAsk := g.mid * (1 + spread/2)

	snap := &domain.BookSnapshot{
		Symbol:    g.cfg.Symbol,
		Timestamp: g.ts,
		Sequence:  g.sequence,
		Bids:      make([]domain.PriceLevel, 0, g.cfg.Levels),
		Asks:      make([]domain.PriceLevel, 0, g.cfg.Levels),
	}
	for i := 0; i < g.cfg.Levels; i++ {
		// Each deeper level steps 0.1% away from the touch.
		bidPx := bestBid * (1 - float64(i)*0.001)
		askPx := bestAsk * (1 + float64(i)*0.001)
		snap.Bids = append(snap.Bids, domain.PriceLevel{
			Price:    decimal.NewFromFloat(bidPx).Round(2),
			Size:     decimal.NewFromFloat(0.1 + g.rng.Float64()*1.9).Round(4),
			Sequence: g.sequence,
		})
		snap.Asks = append(snap.Asks, domain.PriceLevel{
			Price:    decimal.NewFromFloat(askPx).Round(2),
			Size:     decimal.NewFromFloat(0.1 + g.rng.Float64()*1.9).Round(4),
			Sequence: g.sequence,
		})
	}

	g.ts = g.ts.Add(g.cfg.Interval)
	return snap, true
}
