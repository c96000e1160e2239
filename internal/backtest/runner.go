package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantrove/mmbot/internal/book"
	"github.com/quantrove/mmbot/internal/domain"
	"github.com/quantrove/mmbot/internal/risk"
	"github.com/quantrove/mmbot/internal/sim"
	"github.com/quantrove/mmbot/internal/strategy"
)

var tenThousand = decimal.NewFromInt(10000)

// RunnerConfig holds the economics applied to simulated fills.
type RunnerConfig struct {
	// MakerRebateBps is credited on maker fill notional.
	MakerRebateBps float64 `toml:"maker_rebate_bps"`
	// TakerFeeBps is charged on taker fill notional.
	TakerFeeBps float64 `toml:"taker_fee_bps"`
	// MaxInventory normalizes the position for the risk guards.
	MaxInventory float64 `toml:"max_inventory"`
	// PersistBatch is the fill insert batch size; 0 disables persistence
	// even when a store is wired.
	PersistBatch int `toml:"persist_batch"`
}

// DefaultsRunner returns the economics used when the config omits them.
func DefaultsRunner() RunnerConfig {
	return RunnerConfig{
		MakerRebateBps: 1,
		TakerFeeBps:    5,
		MaxInventory:   1,
		PersistBatch:   500,
	}
}

// Report summarizes a completed run.
type Report struct {
	RunID     string
	Symbol    string
	Start     time.Time
	End       time.Time
	Snapshots int64
	// Stale counts snapshots the book rejected as out of order.
	Stale        int64
	SequenceGaps int64

	Fills      int
	MakerFills int
	TakerFills int
	Volume     decimal.Decimal

	// GrossPnL is cash plus the final inventory marked at the last mid.
	GrossPnL decimal.Decimal
	// FeePnL is rebates earned minus fees paid.
	FeePnL decimal.Decimal
	NetPnL decimal.Decimal

	EndInventory decimal.Decimal
	MaxDrawdown  decimal.Decimal
}

// MakerRatio returns the maker share of fills, zero when there are none.
func (r Report) MakerRatio() float64 {
	if r.Fills == 0 {
		return 0
	}
	return float64(r.MakerFills) / float64(r.Fills)
}

// Runner drives a snapshot source through the book, simulator, and quoting
// loop, producing a Report. Everything downstream of the source is the same
// code the live mode runs.
type Runner struct {
	cfg       RunnerConfig
	registry  *book.Registry
	simulator *sim.Simulator
	quoter    *strategy.Quoter
	guards    *risk.Guards
	fills     domain.FillStore
	logger    *slog.Logger

	inventory decimal.Decimal
	cash      decimal.Decimal
	feePnL    decimal.Decimal
	peak      decimal.Decimal
	maxDD     decimal.Decimal

	bidID string
	askID string

	pending []domain.SimulatedFill
}

// NewRunner creates a Runner. fills may be nil to skip persistence.
func NewRunner(
	cfg RunnerConfig,
	registry *book.Registry,
	simulator *sim.Simulator,
	quoter *strategy.Quoter,
	guards *risk.Guards,
	fills domain.FillStore,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		cfg:       cfg,
		registry:  registry,
		simulator: simulator,
		quoter:    quoter,
		guards:    guards,
		fills:     fills,
		logger:    logger.With(slog.String("component", "backtest_runner")),
	}
}

// Run consumes the source to exhaustion. It aborts with an error when a
// book integrity check fails, since every result after that point would be
// built on a corrupt book.
func (r *Runner) Run(ctx context.Context, symbol string, source Source) (Report, error) {
	report := Report{
		RunID:       uuid.NewString(),
		Symbol:      symbol,
		Volume:      decimal.Zero,
		MaxDrawdown: decimal.Zero,
	}
	r.logger.Info("backtest run starting",
		slog.String("run_id", report.RunID),
		slog.String("symbol", symbol),
	)

	for {
		select {
		case <-ctx.Done():
			return report, fmt.Errorf("backtest: run %s: %w", report.RunID, ctx.Err())
		default:
		}

		snap, ok := source.Next()
		if !ok {
			break
		}
		report.Snapshots++
		if report.Start.IsZero() {
			report.Start = snap.Timestamp
		}
		report.End = snap.Timestamp

		if !r.registry.ApplySnapshot(snap) {
			report.Stale++
			continue
		}
		m := r.registry.Get(symbol)
		if !m.ValidateIntegrity() {
			return report, fmt.Errorf(
				"backtest: run %s: book integrity violated at seq %d (crossed=%v)",
				report.RunID, m.LastSequence(), m.IsCrossed(),
			)
		}

		mid, hasMid := m.MidPrice()
		if hasMid {
			r.guards.ObserveMid(mid, snap.Timestamp)
		}

		r.requote(m, snap.Timestamp)

		for _, fill := range r.simulator.OnBookUpdate(snap, snap.Timestamp) {
			r.applyFill(fill, &report)
		}

		if hasMid {
			r.markEquity(mid)
		}

		if r.fills != nil && r.cfg.PersistBatch > 0 && len(r.pending) >= r.cfg.PersistBatch {
			if err := r.flush(ctx, report.RunID); err != nil {
				return report, err
			}
		}
	}

	if src, ok := source.(*StoreSource); ok && src.Err() != nil {
		return report, src.Err()
	}
	if err := r.flush(ctx, report.RunID); err != nil {
		return report, err
	}

	if m := r.registry.Get(symbol); m != nil {
		report.SequenceGaps = m.SequenceGaps()
		if mid, ok := m.MidPrice(); ok {
			report.GrossPnL = r.cash.Add(r.inventory.Mul(mid))
		}
	}
	report.FeePnL = r.feePnL
	report.NetPnL = report.GrossPnL.Add(report.FeePnL)
	report.EndInventory = r.inventory
	report.MaxDrawdown = r.maxDD

	r.logger.Info("backtest run complete",
		slog.String("run_id", report.RunID),
		slog.Int64("snapshots", report.Snapshots),
		slog.Int("fills", report.Fills),
		slog.Float64("maker_ratio", report.MakerRatio()),
		slog.String("net_pnl", report.NetPnL.String()),
		slog.String("end_inventory", report.EndInventory.String()),
	)
	return report, nil
}

// requote cancels the previous quote pair and places a fresh one unless
// the guards forbid it.
func (r *Runner) requote(m *book.Manager, now time.Time) {
	symbol := m.Symbol()
	if r.bidID != "" {
		r.simulator.CancelOrder(symbol, r.bidID)
		r.bidID = ""
	}
	if r.askID != "" {
		r.simulator.CancelOrder(symbol, r.askID)
		r.askID = ""
	}

	level := r.guards.Level(now)
	if level == risk.LevelHard {
		return
	}

	quotes, ok := r.quoter.Quotes(m, r.inventory, now)
	if !ok {
		return
	}
	bidSize, askSize := quotes.BidSize, quotes.AskSize
	if level == risk.LevelSoft {
		two := decimal.NewFromInt(2)
		bidSize = bidSize.Div(two)
		askSize = askSize.Div(two)
	}

	bid := domain.NewSimulatedOrder(symbol, domain.SideBuy, quotes.BidPrice, bidSize, now)
	if r.simulator.AddOrder(bid) {
		r.bidID = bid.OrderID
	}
	ask := domain.NewSimulatedOrder(symbol, domain.SideSell, quotes.AskPrice, askSize, now)
	if r.simulator.AddOrder(ask) {
		r.askID = ask.OrderID
	}
}

// applyFill folds a fill into the position, cash, and fee accounting.
func (r *Runner) applyFill(fill domain.SimulatedFill, report *Report) {
	notional := fill.Notional()
	if fill.Side == domain.SideBuy {
		r.inventory = r.inventory.Add(fill.FillQty)
		r.cash = r.cash.Sub(notional)
	} else {
		r.inventory = r.inventory.Sub(fill.FillQty)
		r.cash = r.cash.Add(notional)
	}

	report.Fills++
	report.Volume = report.Volume.Add(notional)
	if fill.IsMaker {
		report.MakerFills++
		r.feePnL = r.feePnL.Add(notional.Mul(decimal.NewFromFloat(r.cfg.MakerRebateBps)).Div(tenThousand))
	} else {
		report.TakerFills++
		r.feePnL = r.feePnL.Sub(notional.Mul(decimal.NewFromFloat(r.cfg.TakerFeeBps)).Div(tenThousand))
	}

	r.guards.ObserveFill(fill)
	if r.cfg.MaxInventory > 0 {
		inv, _ := r.inventory.Abs().Float64()
		r.guards.SetInventory(inv / r.cfg.MaxInventory)
	}

	r.pending = append(r.pending, fill)
}

// markEquity updates the running peak and max drawdown from the current
// mark-to-mid equity.
func (r *Runner) markEquity(mid decimal.Decimal) {
	equity := r.cash.Add(r.inventory.Mul(mid)).Add(r.feePnL)
	if equity.GreaterThan(r.peak) {
		r.peak = equity
	}
	if dd := r.peak.Sub(equity); dd.GreaterThan(r.maxDD) {
		r.maxDD = dd
	}
}

// flush persists and clears the pending fill buffer.
func (r *Runner) flush(ctx context.Context, runID string) error {
	if r.fills == nil || r.cfg.PersistBatch <= 0 || len(r.pending) == 0 {
		r.pending = r.pending[:0]
		return nil
	}
	if err := r.fills.InsertBatch(ctx, runID, r.pending); err != nil {
		return fmt.Errorf("backtest: persist fills for run %s: %w", runID, err)
	}
	r.pending = r.pending[:0]
	return nil
}
