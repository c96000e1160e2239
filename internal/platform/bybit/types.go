package bybit

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantrove/mmbot/internal/domain"
)

// WSCommand is the operation envelope sent to the stream endpoint.
type WSCommand struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

// Envelope is the outer shape of every public stream message.
type Envelope struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
	TS    int64  `json:"ts"`
	// Op and Success are set on command acknowledgements (subscribe, pong).
	Op      string `json:"op"`
	Success bool   `json:"success"`
}

// BookMessage is an orderbook.{depth}.{symbol} payload. Price levels come
// as [price, size] string pairs; a size of "0" deletes the level.
type BookMessage struct {
	Symbol   string     `json:"s"`
	Bids     [][]string `json:"b"`
	Asks     [][]string `json:"a"`
	UpdateID int64      `json:"u"`
	Sequence int64      `json:"seq"`
}

// parseLevels converts wire [price, size] pairs, attaching seq to each level.
func parseLevels(pairs [][]string, seq int64) ([]domain.PriceLevel, error) {
	levels := make([]domain.PriceLevel, 0, len(pairs))
	for _, p := range pairs {
		if len(p) < 2 {
			return nil, fmt.Errorf("level needs [price, size], got %d fields", len(p))
		}
		price, err := decimal.NewFromString(p[0])
		if err != nil {
			return nil, fmt.Errorf("parse price %q: %w", p[0], err)
		}
		size, err := decimal.NewFromString(p[1])
		if err != nil {
			return nil, fmt.Errorf("parse size %q: %w", p[1], err)
		}
		levels = append(levels, domain.PriceLevel{Price: price, Size: size, Sequence: seq})
	}
	return levels, nil
}

// parseUpdates converts wire pairs into delta updates; "0" sizes become
// removals downstream.
func parseUpdates(pairs [][]string) ([]domain.PriceUpdate, error) {
	updates := make([]domain.PriceUpdate, 0, len(pairs))
	for _, p := range pairs {
		if len(p) < 2 {
			return nil, fmt.Errorf("update needs [price, size], got %d fields", len(p))
		}
		price, err := decimal.NewFromString(p[0])
		if err != nil {
			return nil, fmt.Errorf("parse price %q: %w", p[0], err)
		}
		size, err := decimal.NewFromString(p[1])
		if err != nil {
			return nil, fmt.Errorf("parse size %q: %w", p[1], err)
		}
		updates = append(updates, domain.PriceUpdate{Price: price, Size: size})
	}
	return updates, nil
}

// ToSnapshot converts a "snapshot" book message into the domain type.
func (m *BookMessage) ToSnapshot(ts time.Time) (*domain.BookSnapshot, error) {
	bids, err := parseLevels(m.Bids, m.UpdateID)
	if err != nil {
		return nil, fmt.Errorf("bybit: snapshot bids for %s: %w", m.Symbol, err)
	}
	asks, err := parseLevels(m.Asks, m.UpdateID)
	if err != nil {
		return nil, fmt.Errorf("bybit: snapshot asks for %s: %w", m.Symbol, err)
	}
	return &domain.BookSnapshot{
		Symbol:    m.Symbol,
		Timestamp: ts,
		Sequence:  m.UpdateID,
		Bids:      bids,
		Asks:      asks,
	}, nil
}

// ToDelta converts a "delta" book message into the domain type.
func (m *BookMessage) ToDelta(ts time.Time) (*domain.DeltaEvent, error) {
	bids, err := parseUpdates(m.Bids)
	if err != nil {
		return nil, fmt.Errorf("bybit: delta bids for %s: %w", m.Symbol, err)
	}
	asks, err := parseUpdates(m.Asks)
	if err != nil {
		return nil, fmt.Errorf("bybit: delta asks for %s: %w", m.Symbol, err)
	}
	return &domain.DeltaEvent{
		Symbol:     m.Symbol,
		Timestamp:  ts,
		Sequence:   m.UpdateID,
		BidUpdates: bids,
		AskUpdates: asks,
	}, nil
}

// BookTopic formats the orderbook subscription topic.
func BookTopic(depth int, symbol string) string {
	return fmt.Sprintf("orderbook.%d.%s", depth, symbol)
}
