package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrove/mmbot/internal/book"
	"github.com/quantrove/mmbot/internal/domain"
)

func quoterBook(t *testing.T, bid, ask float64) *book.Manager {
	t.Helper()
	m := book.NewManager("BTCUSDT", discardLogger())
	ok := m.ApplySnapshot(&domain.BookSnapshot{
		Symbol:    "BTCUSDT",
		Sequence:  1,
		Timestamp: engineT0,
		Bids: []domain.PriceLevel{
			{Price: decimal.NewFromFloat(bid), Size: decimal.NewFromInt(1), Sequence: 1},
		},
		Asks: []domain.PriceLevel{
			{Price: decimal.NewFromFloat(ask), Size: decimal.NewFromInt(1), Sequence: 1},
		},
	})
	require.True(t, ok)
	return m
}

func TestQuotesStraddleMicroprice(t *testing.T) {
	q := NewQuoter(Defaults(), discardLogger())
	m := quoterBook(t, 100, 102)

	quotes, ok := q.Quotes(m, decimal.Zero, engineT0)
	require.True(t, ok)

	micro, _ := m.Microprice()
	assert.Equal(t, "BTCUSDT", quotes.Symbol)
	assert.True(t, quotes.BidPrice.LessThan(micro))
	assert.True(t, quotes.AskPrice.GreaterThan(micro))
	assert.True(t, quotes.BidSize.Equal(decimal.NewFromFloat(Defaults().QuoteSize)))
	assert.True(t, quotes.AskSize.Equal(quotes.BidSize))
}

func TestQuotesRejectUnsyncedBook(t *testing.T) {
	q := NewQuoter(Defaults(), discardLogger())
	m := book.NewManager("BTCUSDT", discardLogger())

	_, ok := q.Quotes(m, decimal.Zero, engineT0)
	assert.False(t, ok)
}

func TestQuotesSkewWithInventory(t *testing.T) {
	q := NewQuoter(Defaults(), discardLogger())
	m := quoterBook(t, 100, 102)

	flat, ok := q.Quotes(m, decimal.Zero, engineT0)
	require.True(t, ok)
	long, ok := q.Quotes(m, decimal.NewFromFloat(0.5), engineT0)
	require.True(t, ok)
	short, ok := q.Quotes(m, decimal.NewFromFloat(-0.5), engineT0)
	require.True(t, ok)

	// Long inventory pushes both quotes down to favor selling; short
	// pushes them up.
	assert.True(t, long.BidPrice.LessThan(flat.BidPrice))
	assert.True(t, long.AskPrice.LessThan(flat.AskPrice))
	assert.True(t, short.BidPrice.GreaterThan(flat.BidPrice))
	assert.True(t, short.AskPrice.GreaterThan(flat.AskPrice))
}

func TestQuotesFlooredAtMinSpread(t *testing.T) {
	cfg := Defaults()
	cfg.BaseSpreadBps = 0
	cfg.MinSpreadBps = 10
	q := NewQuoter(cfg, discardLogger())
	m := quoterBook(t, 100, 100.01)

	quotes, ok := q.Quotes(m, decimal.Zero, engineT0)
	require.True(t, ok)

	micro, _ := m.Microprice()
	spread, _ := quotes.AskPrice.Sub(quotes.BidPrice).Div(micro).Mul(decimal.NewFromInt(10000)).Float64()
	assert.InDelta(t, 10, spread, 0.01)
}

func TestQuotesCarryTimestamp(t *testing.T) {
	q := NewQuoter(Defaults(), discardLogger())
	m := quoterBook(t, 100, 102)

	now := engineT0.Add(5 * time.Second)
	quotes, ok := q.Quotes(m, decimal.Zero, now)
	require.True(t, ok)
	assert.Equal(t, now, quotes.Timestamp)
}
