// Package book maintains per-symbol Level-2 order book state from an
// unreliable incremental feed: full snapshots plus sequence-numbered deltas
// with gap detection, resync signaling, and derived market analytics.
//
// The package imposes no locking of its own. A Manager is exclusively owned
// by the caller that drives its Apply methods; embedders running multiple
// feed goroutines must serialize access per symbol themselves.
package book

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/quantrove/mmbot/internal/domain"
)

// level is one aggregated price level inside a ladder.
type level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// ladder is one side of the book kept best-price-first: bids descending,
// asks ascending. Levels are held in a sorted slice; books are shallow
// (tens of levels) so binary search plus memmove beats tree overhead, and
// slice iteration order is trivially deterministic for replay.
type ladder struct {
	side domain.Side
	lvls []level
}

// find locates price in the ladder, returning the insertion index and
// whether an exact level exists there.
func (l *ladder) find(price decimal.Decimal) (int, bool) {
	i := sort.Search(len(l.lvls), func(i int) bool {
		if l.side == domain.SideBuy {
			return l.lvls[i].Price.Cmp(price) <= 0
		}
		return l.lvls[i].Price.Cmp(price) >= 0
	})
	if i < len(l.lvls) && l.lvls[i].Price.Equal(price) {
		return i, true
	}
	return i, false
}

// upsert sets the size at price, inserting the level if absent. A zero or
// negative size removes the level.
func (l *ladder) upsert(price, size decimal.Decimal) {
	i, ok := l.find(price)
	if size.Sign() <= 0 {
		if ok {
			l.lvls = append(l.lvls[:i], l.lvls[i+1:]...)
		}
		return
	}
	if ok {
		l.lvls[i].Size = size
		return
	}
	l.lvls = append(l.lvls, level{})
	copy(l.lvls[i+1:], l.lvls[i:])
	l.lvls[i] = level{Price: price, Size: size}
}

// get returns the size resting at price, zero if the level is absent.
func (l *ladder) get(price decimal.Decimal) decimal.Decimal {
	if i, ok := l.find(price); ok {
		return l.lvls[i].Size
	}
	return decimal.Zero
}

// best returns the top-of-book level.
func (l *ladder) best() (level, bool) {
	if len(l.lvls) == 0 {
		return level{}, false
	}
	return l.lvls[0], true
}

// total sums the sizes of the first n levels (all levels if n <= 0).
func (l *ladder) total(n int) decimal.Decimal {
	if n <= 0 || n > len(l.lvls) {
		n = len(l.lvls)
	}
	sum := decimal.Zero
	for i := 0; i < n; i++ {
		sum = sum.Add(l.lvls[i].Size)
	}
	return sum
}

// aheadOf sums the sizes of all levels priced strictly better than price:
// higher for bids, lower for asks.
func (l *ladder) aheadOf(price decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, lv := range l.lvls {
		var better bool
		if l.side == domain.SideBuy {
			better = lv.Price.Cmp(price) > 0
		} else {
			better = lv.Price.Cmp(price) < 0
		}
		if !better {
			break
		}
		sum = sum.Add(lv.Size)
	}
	return sum
}

// clear drops all levels.
func (l *ladder) clear() {
	l.lvls = l.lvls[:0]
}

// ordered reports whether the ladder's levels are strictly ordered by its
// side's priority with no duplicates and no non-positive sizes.
func (l *ladder) ordered() bool {
	for i, lv := range l.lvls {
		if lv.Size.Sign() < 0 {
			return false
		}
		if i == 0 {
			continue
		}
		c := l.lvls[i-1].Price.Cmp(lv.Price)
		if l.side == domain.SideBuy && c <= 0 {
			return false
		}
		if l.side == domain.SideSell && c >= 0 {
			return false
		}
	}
	return true
}

// State is the mutable per-symbol book state: two price ladders plus the
// sequence tracking flags. It is owned exclusively by one Manager.
type State struct {
	Bids         ladder
	Asks         ladder
	LastSequence int64
	Synced       bool
	NeedsResync  bool
}

// NewState returns an empty, unsynced state.
func NewState() *State {
	return &State{
		Bids: ladder{side: domain.SideBuy},
		Asks: ladder{side: domain.SideSell},
	}
}

// BestBid returns the top bid price and size.
func (s *State) BestBid() (price, size decimal.Decimal, ok bool) {
	lv, ok := s.Bids.best()
	return lv.Price, lv.Size, ok
}

// BestAsk returns the top ask price and size.
func (s *State) BestAsk() (price, size decimal.Decimal, ok bool) {
	lv, ok := s.Asks.best()
	return lv.Price, lv.Size, ok
}

// IsCrossed reports whether bestBid >= bestAsk. A crossed book is a feed
// anomaly to be flagged by callers, not silently tolerated.
func (s *State) IsCrossed() bool {
	bid, ok := s.Bids.best()
	if !ok {
		return false
	}
	ask, ok := s.Asks.best()
	if !ok {
		return false
	}
	return bid.Price.Cmp(ask.Price) >= 0
}

// Validate checks the structural invariants: not crossed, no negative
// sizes, strict price ordering per side.
func (s *State) Validate() bool {
	return !s.IsCrossed() && s.Bids.ordered() && s.Asks.ordered()
}

// Reset clears both ladders and returns the state to unsynced.
func (s *State) Reset() {
	s.Bids.clear()
	s.Asks.clear()
	s.LastSequence = 0
	s.Synced = false
	s.NeedsResync = false
}
