package feed

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrove/mmbot/internal/book"
	"github.com/quantrove/mmbot/internal/domain"
)

var feedT0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testSnapshot(seq int64, ts time.Time) *domain.BookSnapshot {
	return &domain.BookSnapshot{
		Symbol:    "BTCUSDT",
		Timestamp: ts,
		Sequence:  seq,
		Bids:      []domain.PriceLevel{{Price: d("100"), Size: d("2"), Sequence: seq}},
		Asks:      []domain.PriceLevel{{Price: d("101"), Size: d("2"), Sequence: seq}},
	}
}

type fakeResyncer struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeResyncer) Resubscribe(_ context.Context, _ int, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, symbol)
	return nil
}

func (f *fakeResyncer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeBookCache struct {
	mu    sync.Mutex
	stats []domain.BookStats
}

func (f *fakeBookCache) SetStats(_ context.Context, stats domain.BookStats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = append(f.stats, stats)
	return nil
}

func (f *fakeBookCache) GetStats(context.Context, string) (domain.BookStats, error) {
	return domain.BookStats{}, domain.ErrNotFound
}

func (f *fakeBookCache) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stats)
}

func startFeeder(t *testing.T, f *Feeder) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestFeederAppliesSnapshotAndDeltas(t *testing.T) {
	registry := book.NewRegistry(0, testLogger())
	f := NewFeeder(registry, nil, nil, nil, testLogger())
	startFeeder(t, f)

	f.EnqueueSnapshot(testSnapshot(10, feedT0))
	f.EnqueueDelta(&domain.DeltaEvent{
		Symbol:     "BTCUSDT",
		Timestamp:  feedT0.Add(time.Second),
		Sequence:   11,
		BidUpdates: []domain.PriceUpdate{{Price: d("99"), Size: d("1")}},
	})

	require.Eventually(t, func() bool {
		m := registry.Get("BTCUSDT")
		return m != nil && m.LastSequence() == 11
	}, time.Second, 5*time.Millisecond)

	m := registry.Get("BTCUSDT")
	assert.True(t, m.Synced())
	assert.False(t, m.NeedsResync())
	assert.True(t, m.DepthAt(d("99"), domain.SideBuy).Equal(d("1")))
}

func TestFeederRequestsResyncOnGap(t *testing.T) {
	registry := book.NewRegistry(0, testLogger())
	f := NewFeeder(registry, nil, nil, nil, testLogger())
	resyncer := &fakeResyncer{}
	f.SetResyncer(resyncer, 50)
	startFeeder(t, f)

	f.EnqueueSnapshot(testSnapshot(10, feedT0))
	// Sequence 12 skips 11.
	f.EnqueueDelta(&domain.DeltaEvent{
		Symbol:     "BTCUSDT",
		Timestamp:  feedT0.Add(time.Second),
		Sequence:   12,
		BidUpdates: []domain.PriceUpdate{{Price: d("99"), Size: d("1")}},
	})

	require.Eventually(t, func() bool {
		return resyncer.count() == 1
	}, time.Second, 5*time.Millisecond)

	m := registry.Get("BTCUSDT")
	assert.True(t, m.NeedsResync())

	// A second gap inside the cooldown must not trigger another request.
	f.EnqueueDelta(&domain.DeltaEvent{
		Symbol:    "BTCUSDT",
		Timestamp: feedT0.Add(1500 * time.Millisecond),
		Sequence:  13,
	})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, resyncer.count())

	// Past the cooldown it may ask again.
	f.EnqueueDelta(&domain.DeltaEvent{
		Symbol:    "BTCUSDT",
		Timestamp: feedT0.Add(4 * time.Second),
		Sequence:  14,
	})
	require.Eventually(t, func() bool {
		return resyncer.count() == 2
	}, time.Second, 5*time.Millisecond)
}

func TestFeederRecoversAfterResyncSnapshot(t *testing.T) {
	registry := book.NewRegistry(0, testLogger())
	f := NewFeeder(registry, nil, nil, nil, testLogger())
	startFeeder(t, f)

	f.EnqueueSnapshot(testSnapshot(10, feedT0))
	f.EnqueueDelta(&domain.DeltaEvent{Symbol: "BTCUSDT", Timestamp: feedT0, Sequence: 12})
	f.EnqueueSnapshot(testSnapshot(20, feedT0.Add(2*time.Second)))

	require.Eventually(t, func() bool {
		m := registry.Get("BTCUSDT")
		return m != nil && m.LastSequence() == 20 && !m.NeedsResync()
	}, time.Second, 5*time.Millisecond)
}

func TestFeederPublishesStats(t *testing.T) {
	registry := book.NewRegistry(0, testLogger())
	cache := &fakeBookCache{}
	f := NewFeeder(registry, cache, nil, nil, testLogger())
	startFeeder(t, f)

	f.EnqueueSnapshot(testSnapshot(10, feedT0))

	require.Eventually(t, func() bool {
		return cache.count() == 1
	}, time.Second, 5*time.Millisecond)

	cache.mu.Lock()
	stats := cache.stats[0]
	cache.mu.Unlock()
	assert.Equal(t, "BTCUSDT", stats.Symbol)
	assert.True(t, stats.Synced)

	// A delta inside the throttle window publishes nothing new.
	f.EnqueueDelta(&domain.DeltaEvent{
		Symbol:     "BTCUSDT",
		Timestamp:  feedT0.Add(100 * time.Millisecond),
		Sequence:   11,
		BidUpdates: []domain.PriceUpdate{{Price: d("99"), Size: d("1")}},
	})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, cache.count())
}

func TestFeederDropsWhenQueueFull(t *testing.T) {
	registry := book.NewRegistry(0, testLogger())
	f := NewFeeder(registry, nil, nil, nil, testLogger())
	// Not running: fill the buffer and verify overflow accounting.
	for i := 0; i < eventBuffer+5; i++ {
		f.EnqueueDelta(&domain.DeltaEvent{Symbol: "BTCUSDT", Sequence: int64(i)})
	}
	assert.Equal(t, int64(5), f.Dropped())
}
