// Package sim implements the queue-based fill simulator: resting simulated
// orders are matched against book-move events with calibrated latency,
// slippage, and adverse-fill effects, producing deterministic fills for
// backtesting.
package sim

import (
	"fmt"
)

// Calibration holds the market-microstructure parameters that shape
// simulated fills. Values are validated up front; an invalid configuration
// fails construction instead of being silently clamped, since clamping
// would make backtests non-reproducible against the documented config.
type Calibration struct {
	// LatencyMeanMs / LatencyStdMs parameterize the gaussian order
	// placement latency in milliseconds.
	LatencyMeanMs float64 `toml:"latency_mean_ms"`
	LatencyStdMs  float64 `toml:"latency_std_ms"`
	// AmendLatencyMs and CancelLatencyMs model venue-side delays for
	// amend and cancel requests.
	AmendLatencyMs  float64 `toml:"amend_latency_ms"`
	CancelLatencyMs float64 `toml:"cancel_latency_ms"`
	// ToxicSweepProb is the probability in [0,1] that a crossing fill is
	// classified as an adverse sweep (taker instead of maker).
	ToxicSweepProb float64 `toml:"toxic_sweep_prob"`
	// ExtraSlippageBps worsens every fill price by this many basis points
	// in the adverse direction.
	ExtraSlippageBps float64 `toml:"extra_slippage_bps"`
}

// Validate checks all parameter ranges.
func (c Calibration) Validate() error {
	if c.ToxicSweepProb < 0 || c.ToxicSweepProb > 1 {
		return fmt.Errorf("sim: toxic_sweep_prob must be in [0,1], got %v", c.ToxicSweepProb)
	}
	if c.LatencyMeanMs < 0 || c.LatencyStdMs < 0 {
		return fmt.Errorf("sim: latency parameters must be non-negative, got mean=%v std=%v",
			c.LatencyMeanMs, c.LatencyStdMs)
	}
	if c.AmendLatencyMs < 0 || c.CancelLatencyMs < 0 {
		return fmt.Errorf("sim: amend/cancel latency must be non-negative, got amend=%v cancel=%v",
			c.AmendLatencyMs, c.CancelLatencyMs)
	}
	if c.ExtraSlippageBps < 0 {
		return fmt.Errorf("sim: extra_slippage_bps must be non-negative, got %v", c.ExtraSlippageBps)
	}
	return nil
}
