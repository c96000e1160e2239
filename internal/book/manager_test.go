package book

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrove/mmbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func lvl(price, size string) domain.PriceLevel {
	return domain.PriceLevel{Price: d(price), Size: d(size)}
}

func snapshot(symbol string, seq int64, bids, asks []domain.PriceLevel) *domain.BookSnapshot {
	return &domain.BookSnapshot{
		Symbol:    symbol,
		Timestamp: time.Unix(seq, 0).UTC(),
		Sequence:  seq,
		Bids:      bids,
		Asks:      asks,
	}
}

func baseSnapshot() *domain.BookSnapshot {
	return snapshot("BTCUSDT", 10,
		[]domain.PriceLevel{lvl("100", "2"), lvl("99", "1")},
		[]domain.PriceLevel{lvl("101", "2"), lvl("102", "1")},
	)
}

func TestApplySnapshotSyncsBook(t *testing.T) {
	m := NewManager("BTCUSDT", testLogger())
	require.False(t, m.Synced())

	require.True(t, m.ApplySnapshot(baseSnapshot()))
	require.True(t, m.Synced())
	assert.False(t, m.NeedsResync())
	assert.EqualValues(t, 10, m.LastSequence())

	mid, ok := m.MidPrice()
	require.True(t, ok)
	assert.True(t, mid.Equal(d("100.5")), "mid = %s", mid)

	spread, ok := m.Spread()
	require.True(t, ok)
	assert.True(t, spread.Equal(d("1")))
}

func TestApplySnapshotRejectsStaleSequence(t *testing.T) {
	m := NewManager("BTCUSDT", testLogger())
	require.True(t, m.ApplySnapshot(baseSnapshot()))

	stale := snapshot("BTCUSDT", 10, []domain.PriceLevel{lvl("90", "1")}, []domain.PriceLevel{lvl("91", "1")})
	assert.False(t, m.ApplySnapshot(stale))

	// Levels unchanged by the rejected snapshot.
	mid, _ := m.MidPrice()
	assert.True(t, mid.Equal(d("100.5")))
}

func TestApplySnapshotDropsZeroSizeLevels(t *testing.T) {
	m := NewManager("BTCUSDT", testLogger())
	snap := snapshot("BTCUSDT", 1,
		[]domain.PriceLevel{lvl("100", "2"), lvl("99", "0")},
		[]domain.PriceLevel{lvl("101", "3")},
	)
	require.True(t, m.ApplySnapshot(snap))
	assert.True(t, m.DepthAt(d("99"), domain.SideBuy).IsZero())
	assert.True(t, m.DepthAt(d("100"), domain.SideBuy).Equal(d("2")))
}

func TestApplyDeltaInSequence(t *testing.T) {
	m := NewManager("BTCUSDT", testLogger())
	require.True(t, m.ApplySnapshot(baseSnapshot()))

	ok := m.ApplyDelta(&domain.DeltaEvent{
		Symbol:     "BTCUSDT",
		Sequence:   11,
		BidUpdates: []domain.PriceUpdate{{Price: d("100"), Size: d("3")}},
	})
	require.True(t, ok)
	assert.EqualValues(t, 11, m.LastSequence())
	assert.False(t, m.NeedsResync())

	// Mid unchanged, bid depth at 100 updated.
	mid, _ := m.MidPrice()
	assert.True(t, mid.Equal(d("100.5")))
	assert.True(t, m.DepthAt(d("100"), domain.SideBuy).Equal(d("3")))
}

func TestApplyDeltaZeroSizeRemovesLevel(t *testing.T) {
	m := NewManager("BTCUSDT", testLogger())
	require.True(t, m.ApplySnapshot(baseSnapshot()))

	ok := m.ApplyDelta(&domain.DeltaEvent{
		Sequence:   11,
		AskUpdates: []domain.PriceUpdate{{Price: d("101"), Size: decimal.Zero}},
	})
	require.True(t, ok)
	assert.True(t, m.DepthAt(d("101"), domain.SideSell).IsZero())

	// Best ask moved up to the next level.
	spread, _ := m.Spread()
	assert.True(t, spread.Equal(d("2")))
}

func TestApplyDeltaGapFlagsResyncWithoutMutation(t *testing.T) {
	m := NewManager("BTCUSDT", testLogger())
	require.True(t, m.ApplySnapshot(baseSnapshot()))
	require.True(t, m.ApplyDelta(&domain.DeltaEvent{
		Sequence:   11,
		BidUpdates: []domain.PriceUpdate{{Price: d("100"), Size: d("3")}},
	}))

	// Sequence 13 skips 12: gap.
	ok := m.ApplyDelta(&domain.DeltaEvent{
		Sequence:   13,
		BidUpdates: []domain.PriceUpdate{{Price: d("100"), Size: d("9")}},
	})
	require.False(t, ok)
	assert.True(t, m.NeedsResync())
	assert.EqualValues(t, 1, m.SequenceGaps())
	assert.EqualValues(t, 11, m.LastSequence())

	// Levels unchanged from the seq=11 state.
	assert.True(t, m.DepthAt(d("100"), domain.SideBuy).Equal(d("3")))
}

func TestSequentialDeltasNeverFlagResync(t *testing.T) {
	m := NewManager("BTCUSDT", testLogger())
	require.True(t, m.ApplySnapshot(baseSnapshot()))

	for seq := int64(11); seq <= 20; seq++ {
		ok := m.ApplyDelta(&domain.DeltaEvent{
			Sequence:   seq,
			BidUpdates: []domain.PriceUpdate{{Price: d("100"), Size: d("2")}},
		})
		require.True(t, ok, "delta %d", seq)
	}
	assert.False(t, m.NeedsResync())
	assert.Zero(t, m.SequenceGaps())
}

func TestFreshSnapshotClearsNeedsResync(t *testing.T) {
	m := NewManager("BTCUSDT", testLogger())
	require.True(t, m.ApplySnapshot(baseSnapshot()))
	require.False(t, m.ApplyDelta(&domain.DeltaEvent{Sequence: 13}))
	require.True(t, m.NeedsResync())

	fresh := snapshot("BTCUSDT", 20,
		[]domain.PriceLevel{lvl("100", "2")},
		[]domain.PriceLevel{lvl("101", "2")},
	)
	require.True(t, m.ApplySnapshot(fresh))
	assert.False(t, m.NeedsResync())
	assert.EqualValues(t, 20, m.LastSequence())
}

func TestMicroprice(t *testing.T) {
	m := NewManager("BTCUSDT", testLogger())
	// best bid 100 size 2, best ask 101 size 2: symmetric, microprice = mid.
	require.True(t, m.ApplySnapshot(baseSnapshot()))
	micro, ok := m.Microprice()
	require.True(t, ok)
	assert.True(t, micro.Equal(d("100.5")), "micro = %s", micro)

	// Skew the top sizes: bid size 3, ask size 1 pushes microprice toward
	// the thin ask side.
	require.True(t, m.ApplyDelta(&domain.DeltaEvent{
		Sequence:   11,
		BidUpdates: []domain.PriceUpdate{{Price: d("100"), Size: d("3")}},
		AskUpdates: []domain.PriceUpdate{{Price: d("101"), Size: d("1")}},
	}))
	micro, ok = m.Microprice()
	require.True(t, ok)
	// (100*1 + 101*3) / 4 = 100.75
	assert.True(t, micro.Equal(d("100.75")), "micro = %s", micro)
}

func TestImbalance(t *testing.T) {
	m := NewManager("BTCUSDT", testLogger())
	require.True(t, m.ApplySnapshot(baseSnapshot()))

	// bidVol=3, askVol=3 over full depth: balanced.
	assert.True(t, m.Imbalance(0).IsZero())

	// Top level only: 2 vs 2.
	assert.True(t, m.Imbalance(1).IsZero())

	require.True(t, m.ApplyDelta(&domain.DeltaEvent{
		Sequence:   11,
		BidUpdates: []domain.PriceUpdate{{Price: d("100"), Size: d("6")}},
	}))
	// bidVol=7, askVol=3 -> (7-3)/10 = 0.4
	assert.True(t, m.Imbalance(0).Equal(d("0.4")))
}

func TestImbalanceEmptyBook(t *testing.T) {
	m := NewManager("BTCUSDT", testLogger())
	assert.True(t, m.Imbalance(5).IsZero())
}

func TestVolatility(t *testing.T) {
	m := NewManager("BTCUSDT", testLogger())

	_, ok := m.Volatility(30)
	assert.False(t, ok, "no samples yet")

	require.True(t, m.ApplySnapshot(baseSnapshot()))
	_, ok = m.Volatility(30)
	assert.False(t, ok, "one sample is not enough")

	// Constant mids: zero volatility.
	for seq := int64(11); seq <= 15; seq++ {
		require.True(t, m.ApplyDelta(&domain.DeltaEvent{Sequence: seq}))
	}
	vol, ok := m.Volatility(30)
	require.True(t, ok)
	assert.True(t, vol.IsZero(), "vol = %s", vol)

	// A mid move produces positive volatility.
	require.True(t, m.ApplyDelta(&domain.DeltaEvent{
		Sequence:   16,
		BidUpdates: []domain.PriceUpdate{{Price: d("100"), Size: decimal.Zero}},
	}))
	vol, ok = m.Volatility(30)
	require.True(t, ok)
	assert.True(t, vol.IsPositive())
}

func TestCrossedBookLoggedNotRejected(t *testing.T) {
	// Policy: a crossed update is applied and flagged by the integrity
	// probe, never rejected — transient crossings occur during catch-up.
	m := NewManager("BTCUSDT", testLogger())
	crossed := snapshot("BTCUSDT", 1,
		[]domain.PriceLevel{lvl("102", "1")},
		[]domain.PriceLevel{lvl("101", "1")},
	)
	require.True(t, m.ApplySnapshot(crossed))
	assert.True(t, m.IsCrossed())
	assert.False(t, m.ValidateIntegrity())
	assert.True(t, m.Synced())
}

func TestValidateIntegrityCleanBook(t *testing.T) {
	m := NewManager("BTCUSDT", testLogger())
	require.True(t, m.ApplySnapshot(baseSnapshot()))
	assert.True(t, m.ValidateIntegrity())
}

func TestResetRoundTrip(t *testing.T) {
	m := NewManager("BTCUSDT", testLogger())
	require.True(t, m.ApplySnapshot(baseSnapshot()))

	wantMid, _ := m.MidPrice()
	wantSpread, _ := m.Spread()
	wantDepth := m.TotalDepth(domain.SideBuy, 0)

	m.Reset()
	require.False(t, m.Synced())
	assert.Zero(t, m.LastSequence())
	_, ok := m.MidPrice()
	assert.False(t, ok)

	// Re-applying the original snapshot reproduces identical state.
	require.True(t, m.ApplySnapshot(baseSnapshot()))
	mid, _ := m.MidPrice()
	spread, _ := m.Spread()
	assert.True(t, mid.Equal(wantMid))
	assert.True(t, spread.Equal(wantSpread))
	assert.True(t, m.TotalDepth(domain.SideBuy, 0).Equal(wantDepth))
}

func TestSnapshotViewTruncatesToMaxDepth(t *testing.T) {
	m := NewManager("BTCUSDT", testLogger(), WithMaxDepth(2))
	snap := snapshot("BTCUSDT", 1,
		[]domain.PriceLevel{lvl("100", "1"), lvl("99", "1"), lvl("98", "1")},
		[]domain.PriceLevel{lvl("101", "1"), lvl("102", "1"), lvl("103", "1")},
	)
	require.True(t, m.ApplySnapshot(snap))

	view := m.Snapshot()
	assert.Len(t, view.Bids, 2)
	assert.Len(t, view.Asks, 2)
	assert.True(t, view.Bids[0].Price.Equal(d("100")))
	assert.True(t, view.Asks[0].Price.Equal(d("101")))
}

func TestSnapshotOrdering(t *testing.T) {
	// Producers order snapshot sides; the ladder must preserve strict
	// bid-descending / ask-ascending order regardless of upsert order.
	m := NewManager("BTCUSDT", testLogger())
	require.True(t, m.ApplySnapshot(baseSnapshot()))
	require.True(t, m.ApplyDelta(&domain.DeltaEvent{
		Sequence: 11,
		BidUpdates: []domain.PriceUpdate{
			{Price: d("98"), Size: d("1")},
			{Price: d("100.5"), Size: d("1")},
		},
		AskUpdates: []domain.PriceUpdate{
			{Price: d("103"), Size: d("1")},
			{Price: d("100.9"), Size: d("1")},
		},
	}))

	bids := m.PriceLevels(domain.SideBuy, 0)
	for i := 1; i < len(bids); i++ {
		assert.True(t, bids[i-1].Price.Cmp(bids[i].Price) > 0, "bids must be strictly descending")
	}
	asks := m.PriceLevels(domain.SideSell, 0)
	for i := 1; i < len(asks); i++ {
		assert.True(t, asks[i-1].Price.Cmp(asks[i].Price) < 0, "asks must be strictly ascending")
	}
}

func TestStats(t *testing.T) {
	m := NewManager("BTCUSDT", testLogger())
	require.True(t, m.ApplySnapshot(baseSnapshot()))
	require.False(t, m.ApplyDelta(&domain.DeltaEvent{Sequence: 99}))

	st := m.Stats()
	assert.Equal(t, "BTCUSDT", st.Symbol)
	assert.True(t, st.Synced)
	assert.True(t, st.NeedsResync)
	assert.EqualValues(t, 1, st.SequenceGaps)
	assert.EqualValues(t, 1, st.SnapshotCount)
	assert.True(t, st.MidPrice.Equal(d("100.5")))
}
