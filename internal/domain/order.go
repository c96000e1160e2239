package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SimulatedOrder is a resting limit order tracked by the fill simulator.
// SubmitTime is when the caller handed the order in; ActualPlaceTime is
// SubmitTime plus the sampled placement latency, and the order only
// participates in matching once the caller-supplied clock passes it.
type SimulatedOrder struct {
	OrderID         string
	Symbol          string
	Side            Side
	Price           decimal.Decimal
	Qty             decimal.Decimal
	FilledQty       decimal.Decimal
	CreatedAt       time.Time
	SubmitTime      time.Time
	ActualPlaceTime time.Time
}

// NewSimulatedOrder creates an order with a fresh ID. SubmitTime defaults to
// createdAt; the simulator assigns ActualPlaceTime on AddOrder.
func NewSimulatedOrder(symbol string, side Side, price, qty decimal.Decimal, createdAt time.Time) SimulatedOrder {
	return SimulatedOrder{
		OrderID:    uuid.NewString(),
		Symbol:     symbol,
		Side:       side,
		Price:      price,
		Qty:        qty,
		CreatedAt:  createdAt,
		SubmitTime: createdAt,
	}
}

// RemainingQty returns the unfilled quantity.
func (o *SimulatedOrder) RemainingQty() decimal.Decimal {
	return o.Qty.Sub(o.FilledQty)
}

// IsActive reports whether the order can currently match: some quantity
// remains and the placement latency has elapsed at the given time.
func (o *SimulatedOrder) IsActive(now time.Time) bool {
	return o.RemainingQty().IsPositive() && !o.ActualPlaceTime.After(now)
}

// Notional returns price * remaining quantity.
func (o *SimulatedOrder) Notional() decimal.Decimal {
	return o.Price.Mul(o.RemainingQty())
}
