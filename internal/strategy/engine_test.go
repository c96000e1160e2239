package strategy

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrove/mmbot/internal/book"
	"github.com/quantrove/mmbot/internal/domain"
	"github.com/quantrove/mmbot/internal/risk"
	"github.com/quantrove/mmbot/internal/sim"
)

var engineT0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func engineSnap(symbol string, seq int64, bid, ask float64, ts time.Time) *domain.BookSnapshot {
	return &domain.BookSnapshot{
		Symbol:    symbol,
		Sequence:  seq,
		Timestamp: ts,
		Bids: []domain.PriceLevel{
			{Price: decimal.NewFromFloat(bid), Size: decimal.NewFromInt(2), Sequence: seq},
		},
		Asks: []domain.PriceLevel{
			{Price: decimal.NewFromFloat(ask), Size: decimal.NewFromInt(2), Sequence: seq},
		},
	}
}

func newTestEngine(t *testing.T, cfg EngineConfig) (*Engine, *book.Registry, *sim.Simulator) {
	t.Helper()
	logger := discardLogger()
	registry := book.NewRegistry(0, logger)

	simulator, err := sim.New(registry, sim.Calibration{}, logger,
		sim.WithClock(func() time.Time { return engineT0.Add(time.Hour) }),
	)
	require.NoError(t, err)

	quoter := NewQuoter(Defaults(), logger)
	guards := risk.NewGuards(risk.DefaultsConfig(), logger)
	return NewEngine(cfg, registry, simulator, quoter, guards, logger), registry, simulator
}

func TestEngineQuotesOnTick(t *testing.T) {
	e, registry, simulator := newTestEngine(t, EngineConfig{RequoteInterval: time.Second, MaxInventory: 1})

	require.True(t, registry.ApplySnapshot(engineSnap("BTCUSDT", 1, 100, 101, engineT0)))
	e.OnTick(context.Background(), "BTCUSDT", engineT0)

	summary := simulator.ActiveOrdersSummary("BTCUSDT")
	assert.Equal(t, 2, summary.TotalOrders)
	assert.Equal(t, 1, summary.Bids.Count)
	assert.Equal(t, 1, summary.Asks.Count)
}

func TestEngineRequotePacing(t *testing.T) {
	e, registry, _ := newTestEngine(t, EngineConfig{RequoteInterval: time.Second, MaxInventory: 1})

	require.True(t, registry.ApplySnapshot(engineSnap("BTCUSDT", 1, 100, 101, engineT0)))
	e.OnTick(context.Background(), "BTCUSDT", engineT0)
	firstBid := e.state["BTCUSDT"].bidID
	require.NotEmpty(t, firstBid)

	// Within the interval the active pair is left alone.
	require.True(t, registry.ApplySnapshot(engineSnap("BTCUSDT", 2, 100, 101, engineT0.Add(100*time.Millisecond))))
	e.OnTick(context.Background(), "BTCUSDT", engineT0.Add(100*time.Millisecond))
	assert.Equal(t, firstBid, e.state["BTCUSDT"].bidID)

	// Past the interval the pair is cancelled and replaced.
	require.True(t, registry.ApplySnapshot(engineSnap("BTCUSDT", 3, 100, 101, engineT0.Add(2*time.Second))))
	e.OnTick(context.Background(), "BTCUSDT", engineT0.Add(2*time.Second))
	assert.NotEqual(t, firstBid, e.state["BTCUSDT"].bidID)
}

func TestEngineHaltsOnHardGuard(t *testing.T) {
	e, registry, simulator := newTestEngine(t, EngineConfig{RequoteInterval: time.Second, MaxInventory: 1})

	e.guards.SetInventory(1.0) // past the hard threshold

	require.True(t, registry.ApplySnapshot(engineSnap("BTCUSDT", 1, 100, 101, engineT0)))
	e.OnTick(context.Background(), "BTCUSDT", engineT0)

	summary := simulator.ActiveOrdersSummary("BTCUSDT")
	assert.Zero(t, summary.TotalOrders)
	assert.Empty(t, e.state["BTCUSDT"].bidID)
	assert.Empty(t, e.state["BTCUSDT"].askID)
}

func TestEngineIgnoresUnknownSymbol(t *testing.T) {
	e, _, simulator := newTestEngine(t, EngineConfig{RequoteInterval: time.Second})

	e.OnTick(context.Background(), "NOPE", engineT0)

	assert.Empty(t, e.state)
	assert.Zero(t, simulator.ActiveOrdersSummary("NOPE").TotalOrders)
}

func TestEngineApplyFillAccounting(t *testing.T) {
	e, _, _ := newTestEngine(t, EngineConfig{RequoteInterval: time.Second, MaxInventory: 1})
	st := &symbolState{}
	e.state["BTCUSDT"] = st

	e.applyFill(context.Background(), st, domain.SimulatedFill{
		OrderID:   "a",
		Symbol:    "BTCUSDT",
		Side:      domain.SideBuy,
		FillPrice: decimal.NewFromInt(100),
		FillQty:   decimal.NewFromInt(2),
		Timestamp: engineT0,
		IsMaker:   true,
	})
	assert.True(t, st.inventory.Equal(decimal.NewFromInt(2)))
	assert.True(t, st.cash.Equal(decimal.NewFromInt(-200)))

	e.applyFill(context.Background(), st, domain.SimulatedFill{
		OrderID:   "b",
		Symbol:    "BTCUSDT",
		Side:      domain.SideSell,
		FillPrice: decimal.NewFromInt(110),
		FillQty:   decimal.NewFromInt(1),
		Timestamp: engineT0,
		IsMaker:   false,
	})
	assert.True(t, st.inventory.Equal(decimal.NewFromInt(1)))
	assert.True(t, st.cash.Equal(decimal.NewFromInt(-90)))

	inv, cash := e.Position("BTCUSDT")
	assert.True(t, inv.Equal(decimal.NewFromInt(1)))
	assert.True(t, cash.Equal(decimal.NewFromInt(-90)))
}
