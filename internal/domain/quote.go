package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuoteSet is one bid/ask pair produced by the quoting strategy for a symbol.
type QuoteSet struct {
	Symbol    string
	BidPrice  decimal.Decimal
	BidSize   decimal.Decimal
	AskPrice  decimal.Decimal
	AskSize   decimal.Decimal
	Timestamp time.Time
}

// Spread returns askPrice - bidPrice.
func (q *QuoteSet) Spread() decimal.Decimal {
	return q.AskPrice.Sub(q.BidPrice)
}
