// Package strategy derives bid/ask quotes from book analytics. It reads the
// book through the Manager query surface and never mutates book state.
package strategy

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantrove/mmbot/internal/book"
	"github.com/quantrove/mmbot/internal/domain"
)

var tenThousand = decimal.NewFromInt(10000)

// QuoterConfig holds the spread model parameters.
type QuoterConfig struct {
	// BaseSpreadBps is the quoted full spread before adjustments.
	BaseSpreadBps float64 `toml:"base_spread_bps"`
	// MinSpreadBps floors the full spread after all adjustments.
	MinSpreadBps float64 `toml:"min_spread_bps"`
	// KVola scales the volatility widening term.
	KVola float64 `toml:"k_vola"`
	// KImb scales the imbalance widening term, applied only when the
	// absolute imbalance exceeds TImb.
	KImb float64 `toml:"k_imb"`
	TImb float64 `toml:"t_imb"`
	// SkewK converts the inventory fraction into a price skew; the skew
	// magnitude is capped at MaxSkewBps.
	SkewK      float64 `toml:"skew_k"`
	MaxSkewBps float64 `toml:"max_skew_bps"`
	// QuoteSize is the per-side quoted quantity.
	QuoteSize float64 `toml:"quote_size"`
	// MaxInventory normalizes the current position into a fraction for
	// the skew term.
	MaxInventory float64 `toml:"max_inventory"`
	// ImbalanceDepth is the level window for the imbalance query.
	ImbalanceDepth int `toml:"imbalance_depth"`
}

// Defaults returns the quoting parameters used when the config omits them.
func Defaults() QuoterConfig {
	return QuoterConfig{
		BaseSpreadBps:  8,
		MinSpreadBps:   2,
		KVola:          0.5,
		KImb:           0.2,
		TImb:           0.1,
		SkewK:          0.1,
		MaxSkewBps:     30,
		QuoteSize:      0.01,
		MaxInventory:   1,
		ImbalanceDepth: 5,
	}
}

// Quoter computes quotes around the microprice with volatility and
// imbalance widening plus inventory skew.
type Quoter struct {
	cfg    QuoterConfig
	logger *slog.Logger
}

// NewQuoter creates a Quoter.
func NewQuoter(cfg QuoterConfig, logger *slog.Logger) *Quoter {
	if cfg.ImbalanceDepth <= 0 {
		cfg.ImbalanceDepth = 5
	}
	return &Quoter{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "quoter")),
	}
}

// Quotes derives a bid/ask pair from the book. Returns false when the book
// has no two-sided market to quote around or is flagged for resync.
func (q *Quoter) Quotes(m *book.Manager, inventory decimal.Decimal, now time.Time) (domain.QuoteSet, bool) {
	if !m.Synced() || m.NeedsResync() {
		return domain.QuoteSet{}, false
	}
	micro, ok := m.Microprice()
	if !ok {
		return domain.QuoteSet{}, false
	}

	halfBps := q.cfg.BaseSpreadBps / 2

	if vol, ok := m.Volatility(0); ok {
		v, _ := vol.Float64()
		halfBps += q.cfg.KVola * v * 10000
	}

	imb, _ := m.Imbalance(q.cfg.ImbalanceDepth).Float64()
	if abs(imb) > q.cfg.TImb {
		halfBps += q.cfg.KImb * abs(imb) * 100
	}

	if min := q.cfg.MinSpreadBps / 2; halfBps < min {
		halfBps = min
	}

	skewBps := q.skew(inventory)

	half := decimal.NewFromFloat(halfBps).Div(tenThousand)
	skew := decimal.NewFromFloat(skewBps).Div(tenThousand)
	one := decimal.NewFromInt(1)

	size := decimal.NewFromFloat(q.cfg.QuoteSize)
	return domain.QuoteSet{
		Symbol:    m.Symbol(),
		BidPrice:  micro.Mul(one.Sub(half).Sub(skew)),
		BidSize:   size,
		AskPrice:  micro.Mul(one.Add(half).Sub(skew)),
		AskSize:   size,
		Timestamp: now,
	}, true
}

// skew converts the inventory into a price shift in basis points: a long
// position pushes both quotes down to favor selling, a short one pushes
// them up.
func (q *Quoter) skew(inventory decimal.Decimal) float64 {
	if q.cfg.MaxInventory <= 0 {
		return 0
	}
	inv, _ := inventory.Float64()
	skew := q.cfg.SkewK * (inv / q.cfg.MaxInventory) * 10000
	if skew > q.cfg.MaxSkewBps {
		skew = q.cfg.MaxSkewBps
	}
	if skew < -q.cfg.MaxSkewBps {
		skew = -q.cfg.MaxSkewBps
	}
	return skew
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
