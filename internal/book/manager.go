package book

import (
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantrove/mmbot/internal/domain"
)

const (
	// DefaultMaxDepth bounds the number of levels returned per side by
	// Snapshot and PriceLevels.
	DefaultMaxDepth = 25
	// midHistorySize bounds the rolling mid-price window used for
	// volatility.
	midHistorySize = 1000
	// defaultVolatilityLookback is the trailing mid-price window used when
	// Volatility is called with lookback <= 0.
	defaultVolatilityLookback = 30
)

var two = decimal.NewFromInt(2)
var tenThousand = decimal.NewFromInt(10000)

// Manager keeps one symbol's book state correct under out-of-order delivery
// and exposes derived market-data queries.
//
// State machine: UNSYNCED -> SYNCED on the first accepted snapshot; stays
// SYNCED while deltas arrive in sequence; a gap flags NeedsResync and only
// a new accepted snapshot clears it. Reset is the sole way back to UNSYNCED.
type Manager struct {
	symbol   string
	maxDepth int
	state    *State

	// Rolling mid-price ring buffer for volatility.
	mids     [midHistorySize]decimal.Decimal
	midStart int
	midCount int

	sequenceGaps  int64
	snapshotCount int64
	deltaCount    int64
	lastUpdate    time.Time

	logger *slog.Logger
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithMaxDepth overrides the per-side depth bound for Snapshot views.
func WithMaxDepth(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.maxDepth = n
		}
	}
}

// NewManager creates a Manager for symbol in the empty, unsynced state.
func NewManager(symbol string, logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		symbol:   symbol,
		maxDepth: DefaultMaxDepth,
		state:    NewState(),
		logger: logger.With(
			slog.String("component", "book_manager"),
			slog.String("symbol", symbol),
		),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Symbol returns the symbol this manager tracks.
func (m *Manager) Symbol() string { return m.symbol }

// Synced reports whether the book has accepted a snapshot.
func (m *Manager) Synced() bool { return m.state.Synced }

// NeedsResync reports whether a sequence gap invalidated the delta stream.
func (m *Manager) NeedsResync() bool { return m.state.NeedsResync }

// LastSequence returns the sequence of the last accepted update.
func (m *Manager) LastSequence() int64 { return m.state.LastSequence }

// SequenceGaps returns the number of gaps detected since the last Reset.
func (m *Manager) SequenceGaps() int64 { return m.sequenceGaps }

// ApplySnapshot replaces both sides wholesale with the snapshot's non-zero
// levels. A snapshot whose sequence is not past the currently synced
// sequence is stale and rejected. Accepting a snapshot clears NeedsResync.
func (m *Manager) ApplySnapshot(snap *domain.BookSnapshot) bool {
	if m.state.Synced && snap.Sequence <= m.state.LastSequence {
		m.logger.Debug("stale snapshot rejected",
			slog.Int64("sequence", snap.Sequence),
			slog.Int64("last_sequence", m.state.LastSequence),
		)
		return false
	}

	m.state.Bids.clear()
	m.state.Asks.clear()
	for _, lv := range snap.Bids {
		if lv.Size.IsPositive() {
			m.state.Bids.upsert(lv.Price, lv.Size)
		}
	}
	for _, lv := range snap.Asks {
		if lv.Size.IsPositive() {
			m.state.Asks.upsert(lv.Price, lv.Size)
		}
	}

	m.state.LastSequence = snap.Sequence
	m.state.Synced = true
	m.state.NeedsResync = false
	m.lastUpdate = snap.Timestamp
	m.snapshotCount++

	m.recordMid()
	m.warnIfCrossed()
	return true
}

// ApplyDelta applies an incremental update. While synced the delta sequence
// must be exactly LastSequence+1; on a mismatch the book flags NeedsResync,
// counts the gap, and returns false without touching any price level — the
// caller must supply a fresh snapshot before further deltas are trusted.
func (m *Manager) ApplyDelta(ev *domain.DeltaEvent) bool {
	if m.state.Synced {
		expected := m.state.LastSequence + 1
		if ev.Sequence != expected {
			m.sequenceGaps++
			m.state.NeedsResync = true
			m.logger.Warn("sequence gap detected",
				slog.Int64("expected", expected),
				slog.Int64("got", ev.Sequence),
				slog.Int64("gaps", m.sequenceGaps),
			)
			return false
		}
	}

	for _, u := range ev.BidUpdates {
		m.state.Bids.upsert(u.Price, u.Size)
	}
	for _, u := range ev.AskUpdates {
		m.state.Asks.upsert(u.Price, u.Size)
	}

	m.state.LastSequence = ev.Sequence
	if !ev.Timestamp.IsZero() {
		m.lastUpdate = ev.Timestamp
	}
	m.deltaCount++

	m.recordMid()
	m.warnIfCrossed()
	return true
}

// warnIfCrossed logs a crossed book. Transient crossed states can occur
// during feed catch-up, so the update is kept and only reported.
func (m *Manager) warnIfCrossed() {
	if m.state.IsCrossed() {
		bid, _, _ := m.state.BestBid()
		ask, _, _ := m.state.BestAsk()
		m.logger.Warn("book crossed",
			slog.String("best_bid", bid.String()),
			slog.String("best_ask", ask.String()),
		)
	}
}

// recordMid appends the current mid price to the rolling window.
func (m *Manager) recordMid() {
	mid, ok := m.MidPrice()
	if !ok {
		return
	}
	if m.midCount < midHistorySize {
		m.mids[(m.midStart+m.midCount)%midHistorySize] = mid
		m.midCount++
		return
	}
	m.mids[m.midStart] = mid
	m.midStart = (m.midStart + 1) % midHistorySize
}

// midWindow returns the trailing n mid prices, oldest first.
func (m *Manager) midWindow(n int) []decimal.Decimal {
	if n <= 0 || n > m.midCount {
		n = m.midCount
	}
	out := make([]decimal.Decimal, 0, n)
	for i := m.midCount - n; i < m.midCount; i++ {
		out = append(out, m.mids[(m.midStart+i)%midHistorySize])
	}
	return out
}

// MidPrice returns (bestBid+bestAsk)/2.
func (m *Manager) MidPrice() (decimal.Decimal, bool) {
	bid, _, ok := m.state.BestBid()
	if !ok {
		return decimal.Decimal{}, false
	}
	ask, _, ok := m.state.BestAsk()
	if !ok {
		return decimal.Decimal{}, false
	}
	return bid.Add(ask).Div(two), true
}

// Spread returns bestAsk - bestBid.
func (m *Manager) Spread() (decimal.Decimal, bool) {
	bid, _, ok := m.state.BestBid()
	if !ok {
		return decimal.Decimal{}, false
	}
	ask, _, ok := m.state.BestAsk()
	if !ok {
		return decimal.Decimal{}, false
	}
	return ask.Sub(bid), true
}

// SpreadBps returns the spread in basis points of the mid price.
func (m *Manager) SpreadBps() (decimal.Decimal, bool) {
	mid, ok := m.MidPrice()
	if !ok || mid.IsZero() {
		return decimal.Decimal{}, false
	}
	spread, _ := m.Spread()
	return spread.Div(mid).Mul(tenThousand), true
}

// Microprice returns the size-weighted price between best bid and ask,
// biased toward the side with less resting size. Falls back to the mid
// price when both top sizes are zero.
func (m *Manager) Microprice() (decimal.Decimal, bool) {
	bidPx, bidSz, ok := m.state.BestBid()
	if !ok {
		return decimal.Decimal{}, false
	}
	askPx, askSz, ok := m.state.BestAsk()
	if !ok {
		return decimal.Decimal{}, false
	}
	total := bidSz.Add(askSz)
	if total.IsZero() {
		return m.MidPrice()
	}
	// Weight each price by the opposing size.
	return bidPx.Mul(askSz).Add(askPx.Mul(bidSz)).Div(total), true
}

// Imbalance returns (bidVol-askVol)/(bidVol+askVol) over the first depth
// levels per side. Zero when there is no liquidity in the window.
func (m *Manager) Imbalance(depth int) decimal.Decimal {
	bidVol := m.state.Bids.total(depth)
	askVol := m.state.Asks.total(depth)
	total := bidVol.Add(askVol)
	if total.IsZero() {
		return decimal.Zero
	}
	return bidVol.Sub(askVol).Div(total)
}

// Volatility returns the standard deviation of simple returns over the
// trailing lookback mid prices (the default window when lookback <= 0).
// Returns false with fewer than two samples.
func (m *Manager) Volatility(lookback int) (decimal.Decimal, bool) {
	if lookback <= 0 {
		lookback = defaultVolatilityLookback
	}
	prices := m.midWindow(lookback)
	if len(prices) < 2 {
		return decimal.Decimal{}, false
	}

	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		prev := prices[i-1]
		if prev.Sign() <= 0 {
			continue
		}
		r, _ := prices[i].Sub(prev).Div(prev).Float64()
		returns = append(returns, r)
	}
	if len(returns) == 0 {
		return decimal.Decimal{}, false
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	return decimal.NewFromFloat(math.Sqrt(variance)), true
}

// IsCrossed reports whether bestBid >= bestAsk.
func (m *Manager) IsCrossed() bool { return m.state.IsCrossed() }

// DepthAt returns the size resting at an exact price on one side.
func (m *Manager) DepthAt(price decimal.Decimal, side domain.Side) decimal.Decimal {
	if side == domain.SideBuy {
		return m.state.Bids.get(price)
	}
	return m.state.Asks.get(price)
}

// TotalDepth returns the summed size of the first levels entries on a side.
func (m *Manager) TotalDepth(side domain.Side, levels int) decimal.Decimal {
	if side == domain.SideBuy {
		return m.state.Bids.total(levels)
	}
	return m.state.Asks.total(levels)
}

// AheadVolume returns the summed size of all levels priced strictly better
// than price on the given side.
func (m *Manager) AheadVolume(side domain.Side, price decimal.Decimal) decimal.Decimal {
	if side == domain.SideBuy {
		return m.state.Bids.aheadOf(price)
	}
	return m.state.Asks.aheadOf(price)
}

// PriceLevels returns up to levels (price, size) pairs on a side in
// priority order.
func (m *Manager) PriceLevels(side domain.Side, levels int) []domain.PriceLevel {
	var l *ladder
	if side == domain.SideBuy {
		l = &m.state.Bids
	} else {
		l = &m.state.Asks
	}
	n := levels
	if n <= 0 || n > len(l.lvls) {
		n = len(l.lvls)
	}
	out := make([]domain.PriceLevel, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, domain.PriceLevel{
			Price:    l.lvls[i].Price,
			Size:     l.lvls[i].Size,
			Sequence: m.state.LastSequence,
		})
	}
	return out
}

// Snapshot returns a copy of the current book truncated to the configured
// max depth, suitable for recording or cache publication.
func (m *Manager) Snapshot() *domain.BookSnapshot {
	return &domain.BookSnapshot{
		Symbol:    m.symbol,
		Timestamp: m.lastUpdate,
		Sequence:  m.state.LastSequence,
		Bids:      m.PriceLevels(domain.SideBuy, m.maxDepth),
		Asks:      m.PriceLevels(domain.SideSell, m.maxDepth),
	}
}

// ValidateIntegrity probes the structural invariants: not crossed, no
// negative sizes, strict per-side price ordering. It is a sanity check for
// monitoring, not enforced automatically on every mutation.
func (m *Manager) ValidateIntegrity() bool {
	ok := m.state.Validate()
	if !ok {
		m.logger.Warn("book integrity violation")
	}
	return ok
}

// Stats returns a monitoring summary of the book.
func (m *Manager) Stats() domain.BookStats {
	st := domain.BookStats{
		Symbol:        m.symbol,
		Synced:        m.state.Synced,
		NeedsResync:   m.state.NeedsResync,
		LastSequence:  m.state.LastSequence,
		SequenceGaps:  m.sequenceGaps,
		SnapshotCount: m.snapshotCount,
		DeltaCount:    m.deltaCount,
		LastUpdate:    m.lastUpdate,
		Imbalance:     m.Imbalance(0),
	}
	if mid, ok := m.MidPrice(); ok {
		st.MidPrice = mid
	}
	if bps, ok := m.SpreadBps(); ok {
		st.SpreadBps = bps
	}
	return st
}

// Reset clears all state back to the unsynced, empty starting point.
func (m *Manager) Reset() {
	m.state.Reset()
	m.midStart = 0
	m.midCount = 0
	m.sequenceGaps = 0
	m.snapshotCount = 0
	m.deltaCount = 0
	m.lastUpdate = time.Time{}
}
