package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is a single aggregated price+size entry in an L2 book.
// A size of zero means "remove this level".
type PriceLevel struct {
	Price    decimal.Decimal
	Size     decimal.Decimal
	Sequence int64
}

// PriceUpdate is one incremental level change inside a DeltaEvent.
type PriceUpdate struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// BookSnapshot is a full replacement of both sides of a symbol's book at a
// given sequence number. Bids are ordered strictly descending by price and
// asks strictly ascending; producers are responsible for that ordering.
type BookSnapshot struct {
	Symbol    string
	Timestamp time.Time
	Sequence  int64
	Bids      []PriceLevel
	Asks      []PriceLevel
}

// BestBid returns the top bid level, or nil if the bid side is empty.
func (s *BookSnapshot) BestBid() *PriceLevel {
	if len(s.Bids) == 0 {
		return nil
	}
	return &s.Bids[0]
}

// BestAsk returns the top ask level, or nil if the ask side is empty.
func (s *BookSnapshot) BestAsk() *PriceLevel {
	if len(s.Asks) == 0 {
		return nil
	}
	return &s.Asks[0]
}

// MidPrice returns (bestBid+bestAsk)/2, or false if either side is empty.
func (s *BookSnapshot) MidPrice() (decimal.Decimal, bool) {
	if len(s.Bids) == 0 || len(s.Asks) == 0 {
		return decimal.Decimal{}, false
	}
	return s.Bids[0].Price.Add(s.Asks[0].Price).Div(decimal.NewFromInt(2)), true
}

// DeltaEvent is an incremental set of level upserts/removals keyed to the
// next expected sequence number after the event it follows.
type DeltaEvent struct {
	Symbol     string
	Timestamp  time.Time
	Sequence   int64
	BidUpdates []PriceUpdate
	AskUpdates []PriceUpdate
}

// BookStats is a point-in-time summary of one book's synchronization and
// derived analytics, used for monitoring and cache publication.
type BookStats struct {
	Symbol        string
	Synced        bool
	NeedsResync   bool
	LastSequence  int64
	SequenceGaps  int64
	SnapshotCount int64
	DeltaCount    int64
	LastUpdate    time.Time
	MidPrice      decimal.Decimal
	SpreadBps     decimal.Decimal
	Imbalance     decimal.Decimal
}
