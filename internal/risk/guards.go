// Package risk implements the soft/hard quoting guards: volatility,
// inventory, and taker-fill pressure are folded into a single guard level
// that the quoting loop consults before placing orders.
package risk

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantrove/mmbot/internal/domain"
)

// Level is the guard severity.
type Level int

const (
	// LevelNone means normal operation.
	LevelNone Level = iota
	// LevelSoft means scale size down and widen the spread.
	LevelSoft
	// LevelHard means halt quoting until the cooldown expires.
	LevelHard
)

// String implements fmt.Stringer.
func (l Level) String() string {
	switch l {
	case LevelSoft:
		return "SOFT"
	case LevelHard:
		return "HARD"
	default:
		return "NONE"
	}
}

// GuardsConfig holds the guard thresholds.
type GuardsConfig struct {
	// VolSoftBps / VolHardBps are EMA mid-move thresholds in basis points.
	VolSoftBps float64 `toml:"vol_soft_bps"`
	VolHardBps float64 `toml:"vol_hard_bps"`
	// VolEmaSec sets the EMA horizon in seconds.
	VolEmaSec float64 `toml:"vol_ema_sec"`
	// InventorySoftPct / InventoryHardPct are fractions of max position.
	InventorySoftPct float64 `toml:"inventory_soft_pct"`
	InventoryHardPct float64 `toml:"inventory_hard_pct"`
	// TakerFillsSoft / TakerFillsHard are counts within TakerWindow.
	TakerFillsSoft int           `toml:"taker_fills_soft"`
	TakerFillsHard int           `toml:"taker_fills_hard"`
	TakerWindow    time.Duration `toml:"taker_window"`
	// HardCooldown is how long quoting stays halted after a HARD trip.
	HardCooldown time.Duration `toml:"hard_cooldown"`
}

// DefaultsConfig returns the guard thresholds used when the config omits
// them.
func DefaultsConfig() GuardsConfig {
	return GuardsConfig{
		VolSoftBps:       15,
		VolHardBps:       25,
		VolEmaSec:        60,
		InventorySoftPct: 0.6,
		InventoryHardPct: 0.9,
		TakerFillsSoft:   8,
		TakerFillsHard:   15,
		TakerWindow:      time.Hour,
		HardCooldown:     30 * time.Second,
	}
}

// Guards tracks the risk inputs and derives the current guard level. Like
// the book and simulator it is single-owner state: the caller driving
// Observe methods also reads Level.
type Guards struct {
	cfg GuardsConfig

	volEmaBps float64
	lastMid   decimal.Decimal
	lastMidAt time.Time
	hasMid    bool

	inventoryPct float64
	takerFills   []time.Time

	haltUntil time.Time

	logger *slog.Logger
}

// NewGuards creates Guards with the given thresholds.
func NewGuards(cfg GuardsConfig, logger *slog.Logger) *Guards {
	if cfg.VolEmaSec <= 0 {
		cfg.VolEmaSec = 60
	}
	if cfg.TakerWindow <= 0 {
		cfg.TakerWindow = time.Hour
	}
	return &Guards{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "risk_guards")),
	}
}

// ObserveMid feeds a mid-price sample into the volatility EMA.
func (g *Guards) ObserveMid(mid decimal.Decimal, now time.Time) {
	if g.hasMid && g.lastMid.IsPositive() {
		moveBps, _ := mid.Sub(g.lastMid).Abs().Div(g.lastMid).Mul(decimal.NewFromInt(10000)).Float64()
		alpha := 2.0 / (g.cfg.VolEmaSec + 1)
		g.volEmaBps = alpha*moveBps + (1-alpha)*g.volEmaBps
	}
	g.lastMid = mid
	g.lastMidAt = now
	g.hasMid = true
}

// ObserveFill records a fill; only taker fills feed the pressure counter.
func (g *Guards) ObserveFill(fill domain.SimulatedFill) {
	if fill.IsMaker {
		return
	}
	g.takerFills = append(g.takerFills, fill.Timestamp)
}

// SetInventory updates the current position as a fraction of the maximum.
func (g *Guards) SetInventory(pct float64) {
	if pct < 0 {
		pct = -pct
	}
	g.inventoryPct = pct
}

// VolatilityBps returns the current EMA of mid moves in basis points.
func (g *Guards) VolatilityBps() float64 { return g.volEmaBps }

// takerCount drops expired samples and returns the in-window count.
func (g *Guards) takerCount(now time.Time) int {
	cutoff := now.Add(-g.cfg.TakerWindow)
	kept := g.takerFills[:0]
	for _, ts := range g.takerFills {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	g.takerFills = kept
	return len(kept)
}

// Level computes the current guard level. A HARD trip starts the cooldown;
// the level stays HARD until it expires even if the inputs recover.
func (g *Guards) Level(now time.Time) Level {
	if now.Before(g.haltUntil) {
		return LevelHard
	}

	takers := g.takerCount(now)
	hard := (g.cfg.VolHardBps > 0 && g.volEmaBps >= g.cfg.VolHardBps) ||
		(g.cfg.InventoryHardPct > 0 && g.inventoryPct >= g.cfg.InventoryHardPct) ||
		(g.cfg.TakerFillsHard > 0 && takers >= g.cfg.TakerFillsHard)
	if hard {
		g.haltUntil = now.Add(g.cfg.HardCooldown)
		g.logger.Warn("hard guard tripped",
			slog.Float64("vol_ema_bps", g.volEmaBps),
			slog.Float64("inventory_pct", g.inventoryPct),
			slog.Int("taker_fills", takers),
		)
		return LevelHard
	}

	soft := (g.cfg.VolSoftBps > 0 && g.volEmaBps >= g.cfg.VolSoftBps) ||
		(g.cfg.InventorySoftPct > 0 && g.inventoryPct >= g.cfg.InventorySoftPct) ||
		(g.cfg.TakerFillsSoft > 0 && takers >= g.cfg.TakerFillsSoft)
	if soft {
		return LevelSoft
	}
	return LevelNone
}
