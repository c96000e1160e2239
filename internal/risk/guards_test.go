package risk

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/quantrove/mmbot/internal/domain"
)

var guardT0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestGuards(cfg GuardsConfig) *Guards {
	return NewGuards(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestLevelDefaultsToNone(t *testing.T) {
	g := newTestGuards(DefaultsConfig())
	assert.Equal(t, LevelNone, g.Level(guardT0))
}

func TestInventoryLevels(t *testing.T) {
	g := newTestGuards(DefaultsConfig())

	g.SetInventory(0.7)
	assert.Equal(t, LevelSoft, g.Level(guardT0))

	g.SetInventory(0.95)
	assert.Equal(t, LevelHard, g.Level(guardT0))
}

func TestNegativeInventoryCountsAbsolute(t *testing.T) {
	g := newTestGuards(DefaultsConfig())
	g.SetInventory(-0.95)
	assert.Equal(t, LevelHard, g.Level(guardT0))
}

func TestHardCooldownOutlivesRecovery(t *testing.T) {
	cfg := DefaultsConfig()
	cfg.HardCooldown = 30 * time.Second
	g := newTestGuards(cfg)

	g.SetInventory(0.95)
	assert.Equal(t, LevelHard, g.Level(guardT0))

	// Inputs recover but the halt holds until the cooldown expires.
	g.SetInventory(0)
	assert.Equal(t, LevelHard, g.Level(guardT0.Add(10*time.Second)))
	assert.Equal(t, LevelNone, g.Level(guardT0.Add(31*time.Second)))
}

func TestTakerFillPressure(t *testing.T) {
	cfg := DefaultsConfig()
	cfg.TakerFillsSoft = 2
	cfg.TakerFillsHard = 3
	cfg.TakerWindow = time.Minute
	cfg.HardCooldown = 0
	g := newTestGuards(cfg)

	taker := func(ts time.Time) domain.SimulatedFill {
		return domain.SimulatedFill{
			Symbol:    "BTCUSDT",
			Side:      domain.SideBuy,
			FillPrice: decimal.NewFromInt(100),
			FillQty:   decimal.NewFromInt(1),
			Timestamp: ts,
			IsMaker:   false,
		}
	}

	// Maker fills never feed the counter.
	maker := taker(guardT0)
	maker.IsMaker = true
	g.ObserveFill(maker)
	assert.Equal(t, LevelNone, g.Level(guardT0))

	g.ObserveFill(taker(guardT0))
	g.ObserveFill(taker(guardT0.Add(time.Second)))
	assert.Equal(t, LevelSoft, g.Level(guardT0.Add(2*time.Second)))

	g.ObserveFill(taker(guardT0.Add(3*time.Second)))
	assert.Equal(t, LevelHard, g.Level(guardT0.Add(4*time.Second)))

	// The samples age out of the window.
	assert.Equal(t, LevelNone, g.Level(guardT0.Add(2*time.Minute)))
}

func TestVolatilityGuard(t *testing.T) {
	cfg := DefaultsConfig()
	cfg.VolEmaSec = 1 // alpha 1: the EMA tracks the latest move
	cfg.HardCooldown = 0
	g := newTestGuards(cfg)

	g.ObserveMid(decimal.NewFromInt(100), guardT0)
	assert.Zero(t, g.VolatilityBps())

	// A 1% move is 100 bps, past the hard threshold.
	g.ObserveMid(decimal.NewFromInt(101), guardT0.Add(time.Second))
	assert.InDelta(t, 100, g.VolatilityBps(), 1)
	assert.Equal(t, LevelHard, g.Level(guardT0.Add(time.Second)))
}
