package domain

// Side is an order or book side.
type Side string

const (
	// SideBuy is the bid side.
	SideBuy Side = "Buy"
	// SideSell is the ask side.
	SideSell Side = "Sell"
)

// Opposite returns the opposing side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Valid reports whether s is one of the two known sides.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}
