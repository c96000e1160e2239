package strategy

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantrove/mmbot/internal/book"
	"github.com/quantrove/mmbot/internal/domain"
	"github.com/quantrove/mmbot/internal/risk"
	"github.com/quantrove/mmbot/internal/sim"
)

// EngineConfig paces the paper-trading engine.
type EngineConfig struct {
	// RequoteInterval is the minimum time between quote refreshes per
	// symbol. Fills are still simulated on every tick.
	RequoteInterval time.Duration
	// MaxInventory normalizes the position for the risk guards.
	MaxInventory float64
}

// symbolState is the per-symbol paper position and active quote pair.
type symbolState struct {
	inventory decimal.Decimal
	cash      decimal.Decimal
	bidID     string
	askID     string
	lastQuote time.Time
	hasQuoted bool
}

// Engine is the live-mode paper trader: on every book tick it feeds the
// risk guards, refreshes quotes through the fill simulator, and folds
// simulated fills into a per-symbol paper position. It runs inside the
// feeder's apply loop and owns no goroutines of its own.
type Engine struct {
	cfg       EngineConfig
	registry  *book.Registry
	simulator *sim.Simulator
	quoter    *Quoter
	guards    *risk.Guards
	logger    *slog.Logger

	state map[string]*symbolState
}

// NewEngine creates an Engine.
func NewEngine(
	cfg EngineConfig,
	registry *book.Registry,
	simulator *sim.Simulator,
	quoter *Quoter,
	guards *risk.Guards,
	logger *slog.Logger,
) *Engine {
	if cfg.RequoteInterval <= 0 {
		cfg.RequoteInterval = time.Second
	}
	return &Engine{
		cfg:       cfg,
		registry:  registry,
		simulator: simulator,
		quoter:    quoter,
		guards:    guards,
		logger:    logger.With(slog.String("component", "paper_engine")),
		state:     make(map[string]*symbolState),
	}
}

// OnTick handles one applied book update for symbol. Must be called from
// the goroutine that owns the registry.
func (e *Engine) OnTick(ctx context.Context, symbol string, now time.Time) {
	m := e.registry.Get(symbol)
	if m == nil {
		return
	}
	st, ok := e.state[symbol]
	if !ok {
		st = &symbolState{}
		e.state[symbol] = st
	}

	if mid, ok := m.MidPrice(); ok {
		e.guards.ObserveMid(mid, now)
	}

	if !st.hasQuoted || now.Sub(st.lastQuote) >= e.cfg.RequoteInterval {
		e.requote(m, st, now)
		st.lastQuote = now
		st.hasQuoted = true
	}

	for _, fill := range e.simulator.OnBookUpdate(m.Snapshot(), now) {
		e.applyFill(ctx, st, fill)
	}
}

// Position returns the paper inventory and cash for symbol.
func (e *Engine) Position(symbol string) (inventory, cash decimal.Decimal) {
	st, ok := e.state[symbol]
	if !ok {
		return decimal.Zero, decimal.Zero
	}
	return st.inventory, st.cash
}

// requote cancels the active quote pair and places a fresh one unless the
// guards forbid it.
func (e *Engine) requote(m *book.Manager, st *symbolState, now time.Time) {
	symbol := m.Symbol()
	if st.bidID != "" {
		e.simulator.CancelOrder(symbol, st.bidID)
		st.bidID = ""
	}
	if st.askID != "" {
		e.simulator.CancelOrder(symbol, st.askID)
		st.askID = ""
	}

	level := e.guards.Level(now)
	if level == risk.LevelHard {
		return
	}

	quotes, ok := e.quoter.Quotes(m, st.inventory, now)
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
	if e.simulator.AddOrder(bid) {
		st.bidID = bid.OrderID
	}
	ask := domain.NewSimulatedOrder(symbol, domain.SideSell, quotes.AskPrice, askSize, now)
	if e.simulator.AddOrder(ask) {
		st.askID = ask.OrderID
	}
}

// applyFill folds a fill into the symbol's paper position and the guards.
func (e *Engine) applyFill(ctx context.Context, st *symbolState, fill domain.SimulatedFill) {
	notional := fill.Notional()
	if fill.Side == domain.SideBuy {
		st.inventory = st.inventory.Add(fill.FillQty)
		st.cash = st.cash.Sub(notional)
	} else {
		st.inventory = st.inventory.Sub(fill.FillQty)
		st.cash = st.cash.Add(notional)
	}

	e.guards.ObserveFill(fill)
	if e.cfg.MaxInventory > 0 {
		inv, _ := st.inventory.Abs().Float64()
		e.guards.SetInventory(inv / e.cfg.MaxInventory)
	}

	e.logger.InfoContext(ctx, "paper fill",
		slog.String("symbol", fill.Symbol),
		slog.String("side", string(fill.Side)),
		slog.String("price", fill.FillPrice.String()),
		slog.String("qty", fill.FillQty.String()),
		slog.Bool("is_maker", fill.IsMaker),
		slog.String("inventory", st.inventory.String()),
	)
}
