package sim

import (
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantrove/mmbot/internal/book"
	"github.com/quantrove/mmbot/internal/domain"
)

var tenThousand = decimal.NewFromInt(10000)

// symbolQueues holds one symbol's resting orders per side, kept in price
// priority: bids descending, asks ascending, FIFO within a price. The
// slice order defines queue priority for QueuePosition and the fill
// emission order required for deterministic replay.
type symbolQueues struct {
	bids []*domain.SimulatedOrder
	asks []*domain.SimulatedOrder
}

// Simulator matches resting simulated orders against book updates. It is a
// deterministic, single-threaded state transducer: given the same seed and
// the same input event sequence it reproduces identical fills. No internal
// locking is provided; callers embedding it in a concurrent host must
// serialize access per symbol.
type Simulator struct {
	registry *book.Registry
	cal      Calibration

	rng *rand.Rand
	now func() time.Time

	queues map[string]*symbolQueues
	fills  []domain.SimulatedFill

	totalFills int64
	makerFills int64
	takerFills int64

	logger *slog.Logger
}

// Option customizes a Simulator.
type Option func(*Simulator)

// WithRand injects a seeded random source so that toxic-sweep draws and
// latency samples are reproducible.
func WithRand(rng *rand.Rand) Option {
	return func(s *Simulator) { s.rng = rng }
}

// WithClock injects the time source used when no explicit now is supplied
// (QueuePosition, summaries). Backtests inject their replay clock here.
func WithClock(now func() time.Time) Option {
	return func(s *Simulator) { s.now = now }
}

// New creates a Simulator over the given book registry. The calibration is
// validated; invalid parameters fail construction.
func New(registry *book.Registry, cal Calibration, logger *slog.Logger, opts ...Option) (*Simulator, error) {
	if err := cal.Validate(); err != nil {
		return nil, fmt.Errorf("sim: invalid calibration: %w", err)
	}
	s := &Simulator{
		registry: registry,
		cal:      cal,
		rng:      rand.New(rand.NewSource(1)),
		now:      time.Now,
		queues:   make(map[string]*symbolQueues),
		logger:   logger.With(slog.String("component", "fill_simulator")),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger.Info("fill simulator initialized",
		slog.Float64("latency_mean_ms", cal.LatencyMeanMs),
		slog.Float64("toxic_sweep_prob", cal.ToxicSweepProb),
		slog.Float64("extra_slippage_bps", cal.ExtraSlippageBps),
	)
	return s, nil
}

// Calibration returns the active parameter set.
func (s *Simulator) Calibration() Calibration { return s.cal }

// placementLatency samples the order placement latency. With zero std the
// mean is used directly and no random draw is consumed, keeping the rng
// stream identical to a run without latency jitter.
func (s *Simulator) placementLatency() time.Duration {
	ms := s.cal.LatencyMeanMs
	if s.cal.LatencyStdMs > 0 {
		ms = s.rng.NormFloat64()*s.cal.LatencyStdMs + s.cal.LatencyMeanMs
		if ms < 0 {
			ms = 0
		}
	}
	return time.Duration(ms * float64(time.Millisecond))
}

// AddOrder inserts an order into its symbol/side queue. The order's
// ActualPlaceTime is SubmitTime plus a sampled placement latency; until
// then the order rests but cannot match.
func (s *Simulator) AddOrder(order domain.SimulatedOrder) bool {
	if !order.Side.Valid() || order.Symbol == "" {
		return false
	}
	if order.SubmitTime.IsZero() {
		order.SubmitTime = order.CreatedAt
	}
	order.ActualPlaceTime = order.SubmitTime.Add(s.placementLatency())

	q, ok := s.queues[order.Symbol]
	if !ok {
		q = &symbolQueues{}
		s.queues[order.Symbol] = q
	}

	o := &order
	if order.Side == domain.SideBuy {
		q.bids = insertByPriority(q.bids, o, true)
	} else {
		q.asks = insertByPriority(q.asks, o, false)
	}

	s.logger.Debug("order added",
		slog.String("order_id", order.OrderID),
		slog.String("symbol", order.Symbol),
		slog.String("side", string(order.Side)),
		slog.String("price", order.Price.String()),
	)
	return true
}

// insertByPriority inserts o keeping best-price-first order, after any
// existing orders at the same price (FIFO within a level).
func insertByPriority(queue []*domain.SimulatedOrder, o *domain.SimulatedOrder, descending bool) []*domain.SimulatedOrder {
	i := len(queue)
	for j, q := range queue {
		c := q.Price.Cmp(o.Price)
		if (descending && c < 0) || (!descending && c > 0) {
			i = j
			break
		}
	}
	queue = append(queue, nil)
	copy(queue[i+1:], queue[i:])
	queue[i] = o
	return queue
}

// CancelOrder removes an order if present. Unknown symbols or IDs are a
// no-op returning false.
func (s *Simulator) CancelOrder(symbol, orderID string) bool {
	q, ok := s.queues[symbol]
	if !ok {
		return false
	}
	if removed, rest := removeByID(q.bids, orderID); removed {
		q.bids = rest
		return true
	}
	if removed, rest := removeByID(q.asks, orderID); removed {
		q.asks = rest
		return true
	}
	return false
}

func removeByID(queue []*domain.SimulatedOrder, orderID string) (bool, []*domain.SimulatedOrder) {
	for i, o := range queue {
		if o.OrderID == orderID {
			return true, append(queue[:i], queue[i+1:]...)
		}
	}
	return false, queue
}

// OnBookUpdate evaluates every resting order for the snapshot's symbol
// against the new best prices and returns the fills generated on this
// tick: bid side first, then ask side, queue-priority order within a side.
// That ordering is part of the replay contract and must not change.
func (s *Simulator) OnBookUpdate(snap *domain.BookSnapshot, now time.Time) []domain.SimulatedFill {
	q, ok := s.queues[snap.Symbol]
	if !ok {
		return nil
	}
	bestBid := snap.BestBid()
	bestAsk := snap.BestAsk()
	if bestBid == nil || bestAsk == nil {
		return nil
	}

	var fills []domain.SimulatedFill
	fills = append(fills, s.matchSide(snap.Symbol, q, domain.SideBuy, bestAsk.Price, now)...)
	fills = append(fills, s.matchSide(snap.Symbol, q, domain.SideSell, bestBid.Price, now)...)

	for i := range fills {
		s.totalFills++
		if fills[i].IsMaker {
			s.makerFills++
		} else {
			s.takerFills++
		}
	}
	s.fills = append(s.fills, fills...)
	return fills
}

// matchSide walks one side's queue in priority order and fills every
// active order crossing the opposing best price.
func (s *Simulator) matchSide(symbol string, q *symbolQueues, side domain.Side, opposingBest decimal.Decimal, now time.Time) []domain.SimulatedFill {
	queue := q.bids
	if side == domain.SideSell {
		queue = q.asks
	}

	var fills []domain.SimulatedFill
	for _, order := range queue {
		if !order.IsActive(now) {
			continue
		}

		// Crossing: bid price >= best ask, or ask price <= best bid.
		var crosses bool
		if side == domain.SideBuy {
			crosses = order.Price.Cmp(opposingBest) >= 0
		} else {
			crosses = order.Price.Cmp(opposingBest) <= 0
		}
		if !crosses {
			continue
		}

		// The toxic draw happens for every crossing order, fill or not,
		// so the rng stream depends only on the input event sequence.
		toxic := s.rng.Float64() < s.cal.ToxicSweepProb

		available := s.registry.AheadVolume(symbol, side.Opposite(), opposingBest)
		fillQty := decimal.Min(order.RemainingQty(), available)
		if !fillQty.IsPositive() {
			// No liquidity at the crossing price; the order stays
			// resting, unchanged.
			continue
		}

		fill := domain.SimulatedFill{
			OrderID:   order.OrderID,
			Symbol:    symbol,
			Side:      side,
			FillPrice: s.applySlippage(opposingBest, side),
			FillQty:   fillQty,
			Timestamp: now,
			IsMaker:   !toxic,
		}
		fills = append(fills, fill)

		order.FilledQty = order.FilledQty.Add(fillQty)

		s.logger.Debug("simulated fill",
			slog.String("order_id", order.OrderID),
			slog.String("side", string(side)),
			slog.String("qty", fillQty.String()),
			slog.String("price", fill.FillPrice.String()),
			slog.Bool("is_maker", fill.IsMaker),
		)
	}

	// Fully filled orders leave the queue.
	if side == domain.SideBuy {
		q.bids = pruneFilled(q.bids)
	} else {
		q.asks = pruneFilled(q.asks)
	}
	return fills
}

func pruneFilled(queue []*domain.SimulatedOrder) []*domain.SimulatedOrder {
	out := queue[:0]
	for _, o := range queue {
		if o.RemainingQty().IsPositive() {
			out = append(out, o)
		}
	}
	return out
}

// applySlippage worsens the nominal fill price by the calibrated basis
// points in the adverse direction: up for buys, down for sells.
func (s *Simulator) applySlippage(nominal decimal.Decimal, side domain.Side) decimal.Decimal {
	if s.cal.ExtraSlippageBps <= 0 {
		return nominal
	}
	adj := nominal.Mul(decimal.NewFromFloat(s.cal.ExtraSlippageBps)).Div(tenThousand)
	if side == domain.SideBuy {
		return nominal.Add(adj)
	}
	return nominal.Sub(adj)
}

// QueuePosition counts the active orders strictly ahead of price in the
// side's priority ordering. An order resting at exactly price
// short-circuits at that position.
func (s *Simulator) QueuePosition(symbol string, side domain.Side, price decimal.Decimal) int {
	q, ok := s.queues[symbol]
	if !ok {
		return 0
	}
	queue := q.bids
	if side == domain.SideSell {
		queue = q.asks
	}

	now := s.now()
	position := 0
	for _, o := range queue {
		if !o.IsActive(now) {
			continue
		}
		c := o.Price.Cmp(price)
		switch {
		case side == domain.SideBuy && c > 0, side == domain.SideSell && c < 0:
			position++
		case c == 0:
			return position
		default:
			return position
		}
	}
	return position
}

// FillStats summarizes all fills generated since the last reset.
type FillStats struct {
	TotalFills     int64
	MakerFills     int64
	TakerFills     int64
	MakerRatio     float64
	TotalFillValue decimal.Decimal
	Calibration    Calibration
}

// FillStatistics returns read-only fill aggregates.
func (s *Simulator) FillStatistics() FillStats {
	st := FillStats{
		TotalFills:     s.totalFills,
		MakerFills:     s.makerFills,
		TakerFills:     s.takerFills,
		TotalFillValue: decimal.Zero,
		Calibration:    s.cal,
	}
	if s.totalFills > 0 {
		st.MakerRatio = float64(s.makerFills) / float64(s.totalFills)
	}
	for i := range s.fills {
		st.TotalFillValue = st.TotalFillValue.Add(s.fills[i].Notional())
	}
	return st
}

// SideSummary aggregates one side of a symbol's active orders.
type SideSummary struct {
	Count    int
	TotalQty decimal.Decimal
	AvgPrice decimal.Decimal
	Notional decimal.Decimal
}

// OrdersSummary aggregates a symbol's active orders for observability.
type OrdersSummary struct {
	Symbol      string
	TotalOrders int
	Bids        SideSummary
	Asks        SideSummary
}

// ActiveOrdersSummary returns counts, quantities, and notional for the
// symbol's currently active orders. Unknown symbols yield an empty summary.
func (s *Simulator) ActiveOrdersSummary(symbol string) OrdersSummary {
	out := OrdersSummary{
		Symbol: symbol,
		Bids:   SideSummary{TotalQty: decimal.Zero, AvgPrice: decimal.Zero, Notional: decimal.Zero},
		Asks:   SideSummary{TotalQty: decimal.Zero, AvgPrice: decimal.Zero, Notional: decimal.Zero},
	}
	q, ok := s.queues[symbol]
	if !ok {
		return out
	}
	now := s.now()
	out.Bids = summarize(q.bids, now)
	out.Asks = summarize(q.asks, now)
	out.TotalOrders = out.Bids.Count + out.Asks.Count
	return out
}

func summarize(queue []*domain.SimulatedOrder, now time.Time) SideSummary {
	sum := SideSummary{TotalQty: decimal.Zero, AvgPrice: decimal.Zero, Notional: decimal.Zero}
	weighted := decimal.Zero
	for _, o := range queue {
		if !o.IsActive(now) {
			continue
		}
		rem := o.RemainingQty()
		sum.Count++
		sum.TotalQty = sum.TotalQty.Add(rem)
		weighted = weighted.Add(o.Price.Mul(rem))
	}
	sum.Notional = weighted
	if sum.TotalQty.IsPositive() {
		sum.AvgPrice = weighted.Div(sum.TotalQty)
	}
	return sum
}

// Fills returns all fills generated since the last reset, oldest first.
func (s *Simulator) Fills() []domain.SimulatedFill {
	out := make([]domain.SimulatedFill, len(s.fills))
	copy(out, s.fills)
	return out
}

// ResetSymbol drops a symbol's queues and its fill history.
func (s *Simulator) ResetSymbol(symbol string) {
	delete(s.queues, symbol)
	kept := s.fills[:0]
	for _, f := range s.fills {
		if f.Symbol != symbol {
			kept = append(kept, f)
		}
	}
	s.fills = kept
	s.logger.Info("simulator state reset", slog.String("symbol", symbol))
}

// ResetAll drops all queues, fills, and counters.
func (s *Simulator) ResetAll() {
	s.queues = make(map[string]*symbolQueues)
	s.fills = nil
	s.totalFills = 0
	s.makerFills = 0
	s.takerFills = 0
	s.logger.Info("simulator state reset for all symbols")
}
