package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SimulatedFill is an immutable fill record emitted by the fill simulator.
// IsMaker is false when the fill was classified as a toxic sweep.
type SimulatedFill struct {
	OrderID   string
	Symbol    string
	Side      Side
	FillPrice decimal.Decimal
	FillQty   decimal.Decimal
	Timestamp time.Time
	IsMaker   bool
}

// Notional returns fill price * fill quantity.
func (f *SimulatedFill) Notional() decimal.Decimal {
	return f.FillPrice.Mul(f.FillQty)
}
