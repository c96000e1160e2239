// Package feed connects the exchange stream to the book registry: the WS
// feed receives wire events, the Feeder owns all book mutation.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quantrove/mmbot/internal/domain"
	"github.com/quantrove/mmbot/internal/platform/bybit"
)

// BybitWSFeed connects to the Bybit public stream, subscribes to the
// orderbook topic for the configured symbols, and forwards snapshots and
// deltas to the Feeder. The underlying client reconnects on disconnect and
// restores subscriptions, which yields fresh snapshots.
type BybitWSFeed struct {
	wsURL   string
	depth   int
	symbols []string
	feeder  *Feeder
	logger  *slog.Logger

	client    *bybit.WSClient
	closeOnce sync.Once
	done      chan struct{}
}

// NewBybitWSFeed creates a feed for the given symbols at the given book depth.
func NewBybitWSFeed(wsURL string, depth int, symbols []string, feeder *Feeder, logger *slog.Logger) *BybitWSFeed {
	return &BybitWSFeed{
		wsURL:   wsURL,
		depth:   depth,
		symbols: symbols,
		feeder:  feeder,
		logger:  logger.With(slog.String("component", "bybit_ws_feed")),
		done:    make(chan struct{}),
	}
}

// Run connects, subscribes, and blocks until ctx is cancelled or the feed
// is closed. Connection drops inside the client are retried with backoff;
// Run only returns when asked to stop.
func (f *BybitWSFeed) Run(ctx context.Context) error {
	if len(f.symbols) == 0 {
		f.logger.Info("no symbols to subscribe, exiting")
		return nil
	}

	f.client = bybit.NewWSClient(f.wsURL)
	defer f.client.Close()

	f.client.OnSnapshot(func(snap *domain.BookSnapshot) {
		f.feeder.EnqueueSnapshot(snap)
	})
	f.client.OnDelta(func(ev *domain.DeltaEvent) {
		f.feeder.EnqueueDelta(ev)
	})

	connCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err := f.client.Connect(connCtx)
	cancel()
	if err != nil {
		return err
	}
	if err := f.client.Subscribe(ctx, f.depth, f.symbols); err != nil {
		return err
	}
	f.feeder.SetResyncer(f.client, f.depth)
	f.logger.Info("bybit ws subscribed",
		slog.Int("symbols", len(f.symbols)),
		slog.Int("depth", f.depth),
	)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.done:
		return nil
	}
}

// Close stops the feed.
func (f *BybitWSFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
