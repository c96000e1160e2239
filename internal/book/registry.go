package book

import (
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/quantrove/mmbot/internal/domain"
)

// Registry owns a keyed set of Managers and answers the cross-symbol
// queries the fill simulator needs. Symbols should be registered before
// concurrent use begins; after that each symbol's updates may be driven
// independently since no symbol's state touches another's.
type Registry struct {
	books  map[string]*Manager
	depth  int
	logger *slog.Logger
}

// NewRegistry creates an empty Registry. Managers it creates use maxDepth
// for their snapshot views (DefaultMaxDepth when <= 0).
func NewRegistry(maxDepth int, logger *slog.Logger) *Registry {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Registry{
		books:  make(map[string]*Manager),
		depth:  maxDepth,
		logger: logger,
	}
}

// AddSymbol registers a symbol, creating its Manager if absent.
func (r *Registry) AddSymbol(symbol string) *Manager {
	if m, ok := r.books[symbol]; ok {
		return m
	}
	m := NewManager(symbol, r.logger, WithMaxDepth(r.depth))
	r.books[symbol] = m
	return m
}

// RemoveSymbol drops a symbol and its book state.
func (r *Registry) RemoveSymbol(symbol string) {
	delete(r.books, symbol)
}

// Get returns the Manager for symbol, nil if unregistered.
func (r *Registry) Get(symbol string) *Manager {
	return r.books[symbol]
}

// Symbols returns all registered symbols in sorted order.
func (r *Registry) Symbols() []string {
	out := make([]string, 0, len(r.books))
	for s := range r.books {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ApplySnapshot routes a snapshot to its symbol's Manager, registering the
// symbol on first sight.
func (r *Registry) ApplySnapshot(snap *domain.BookSnapshot) bool {
	return r.AddSymbol(snap.Symbol).ApplySnapshot(snap)
}

// ApplyDelta routes a delta to its symbol's Manager. Deltas for unknown
// symbols are dropped: without a snapshot there is nothing to patch.
func (r *Registry) ApplyDelta(ev *domain.DeltaEvent) bool {
	m, ok := r.books[ev.Symbol]
	if !ok {
		return false
	}
	return m.ApplyDelta(ev)
}

// AheadVolume returns the summed size of all levels priced strictly better
// than price on the given side: higher bids, or lower asks. Unknown
// symbols yield zero — the simulator caps fills at zero rather than
// failing mid-stream.
func (r *Registry) AheadVolume(symbol string, side domain.Side, price decimal.Decimal) decimal.Decimal {
	m, ok := r.books[symbol]
	if !ok {
		return decimal.Zero
	}
	return m.AheadVolume(side, price)
}

// TopNVolume returns the summed size across the first n levels per side.
func (r *Registry) TopNVolume(symbol string, n int) (bidVol, askVol decimal.Decimal) {
	m, ok := r.books[symbol]
	if !ok {
		return decimal.Zero, decimal.Zero
	}
	return m.TotalDepth(domain.SideBuy, n), m.TotalDepth(domain.SideSell, n)
}

// AllSynced reports whether every registered book has accepted a snapshot.
func (r *Registry) AllSynced() bool {
	for _, m := range r.books {
		if !m.Synced() {
			return false
		}
	}
	return true
}

// SyncedSymbols returns the sorted symbols whose books are synced.
func (r *Registry) SyncedSymbols() []string {
	out := make([]string, 0, len(r.books))
	for s, m := range r.books {
		if m.Synced() {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// Stats returns per-symbol monitoring summaries.
func (r *Registry) Stats() map[string]domain.BookStats {
	out := make(map[string]domain.BookStats, len(r.books))
	for s, m := range r.books {
		out[s] = m.Stats()
	}
	return out
}
