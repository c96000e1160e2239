package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/quantrove/mmbot/internal/book"
	"github.com/quantrove/mmbot/internal/domain"
)

const (
	// eventBuffer sizes the inbound queues; bursts beyond it are dropped
	// and recovered by the next resync.
	eventBuffer = 1024

	// resyncCooldown rate-limits resubscribe requests per symbol.
	resyncCooldown = 2 * time.Second

	// statsInterval throttles per-symbol cache and bus publication.
	statsInterval = time.Second

	// statsChannel is the bus channel carrying book stats events.
	statsChannel = "books"
)

// Resyncer requests a fresh snapshot for a symbol after a sequence gap.
type Resyncer interface {
	Resubscribe(ctx context.Context, depth int, symbol string) error
}

// TickHandler is invoked from the apply loop after a successful book
// update, while no other goroutine can touch the registry. This is where
// the paper-trading engine runs.
type TickHandler interface {
	OnTick(ctx context.Context, symbol string, now time.Time)
}

// Feeder owns all book registry mutation. Stream callbacks enqueue events;
// a single Run goroutine applies them, requests resyncs on gaps, and
// publishes book stats to the cache and signal bus.
type Feeder struct {
	registry *book.Registry
	cache    domain.BookCache
	bus      domain.SignalBus
	recorder domain.BookSnapshotStore
	logger   *slog.Logger

	resyncer    Resyncer
	resyncDepth int
	ticks       TickHandler

	snapshots chan *domain.BookSnapshot
	deltas    chan *domain.DeltaEvent
	dropped   int64

	lastResync map[string]time.Time
	lastStats  map[string]time.Time
}

// NewFeeder creates a Feeder. cache, bus, and recorder may be nil; the
// matching publication step is then skipped.
func NewFeeder(registry *book.Registry, cache domain.BookCache, bus domain.SignalBus, recorder domain.BookSnapshotStore, logger *slog.Logger) *Feeder {
	return &Feeder{
		registry:   registry,
		cache:      cache,
		bus:        bus,
		recorder:   recorder,
		logger:     logger.With(slog.String("component", "feeder")),
		snapshots:  make(chan *domain.BookSnapshot, eventBuffer),
		deltas:     make(chan *domain.DeltaEvent, eventBuffer),
		lastResync: make(map[string]time.Time),
		lastStats:  make(map[string]time.Time),
	}
}

// SetResyncer wires the snapshot recovery path once the stream client is
// connected.
func (f *Feeder) SetResyncer(r Resyncer, depth int) {
	f.resyncer = r
	f.resyncDepth = depth
}

// SetTickHandler wires the per-update hook. Must be called before Run.
func (f *Feeder) SetTickHandler(h TickHandler) {
	f.ticks = h
}

// EnqueueSnapshot hands a snapshot to the apply loop. Full queues drop the
// event; the book flags the resulting gap itself.
func (f *Feeder) EnqueueSnapshot(snap *domain.BookSnapshot) {
	select {
	case f.snapshots <- snap:
	default:
		f.dropped++
	}
}

// EnqueueDelta hands a delta to the apply loop.
func (f *Feeder) EnqueueDelta(ev *domain.DeltaEvent) {
	select {
	case f.deltas <- ev:
	default:
		f.dropped++
	}
}

// Dropped returns the number of events discarded due to full queues.
func (f *Feeder) Dropped() int64 { return f.dropped }

// Run applies queued events until ctx is cancelled. Snapshots are drained
// ahead of deltas so a recovery snapshot is never stuck behind stale
// deltas.
func (f *Feeder) Run(ctx context.Context) error {
	f.logger.Info("feeder started")
	defer f.logger.Info("feeder stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap := <-f.snapshots:
			f.applySnapshot(ctx, snap)
		default:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case snap := <-f.snapshots:
				f.applySnapshot(ctx, snap)
			case ev := <-f.deltas:
				f.applyDelta(ctx, ev)
			}
		}
	}
}

func (f *Feeder) applySnapshot(ctx context.Context, snap *domain.BookSnapshot) {
	if !f.registry.ApplySnapshot(snap) {
		return
	}
	if f.recorder != nil {
		if err := f.recorder.Insert(ctx, *snap); err != nil {
			f.logger.Warn("record snapshot failed",
				slog.String("symbol", snap.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	f.publishStats(ctx, snap.Symbol, snap.Timestamp)
	if f.ticks != nil {
		f.ticks.OnTick(ctx, snap.Symbol, snap.Timestamp)
	}
}

func (f *Feeder) applyDelta(ctx context.Context, ev *domain.DeltaEvent) {
	if !f.registry.ApplyDelta(ev) {
		f.maybeResync(ctx, ev.Symbol, ev.Timestamp)
		return
	}
	f.publishStats(ctx, ev.Symbol, ev.Timestamp)
	if f.ticks != nil {
		f.ticks.OnTick(ctx, ev.Symbol, ev.Timestamp)
	}
}

// maybeResync requests a fresh snapshot when the book is flagged, at most
// once per cooldown per symbol.
func (f *Feeder) maybeResync(ctx context.Context, symbol string, now time.Time) {
	m := f.registry.Get(symbol)
	if m == nil || !m.NeedsResync() {
		return
	}
	if f.resyncer == nil {
		return
	}
	if last, ok := f.lastResync[symbol]; ok && now.Sub(last) < resyncCooldown {
		return
	}
	f.lastResync[symbol] = now

	f.logger.Warn("requesting resync",
		slog.String("symbol", symbol),
		slog.Int64("sequence_gaps", m.SequenceGaps()),
	)
	if err := f.resyncer.Resubscribe(ctx, f.resyncDepth, symbol); err != nil {
		f.logger.Error("resync request failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}
}

// publishStats pushes the symbol's book stats to the cache and bus, at
// most once per statsInterval per symbol.
func (f *Feeder) publishStats(ctx context.Context, symbol string, now time.Time) {
	if f.cache == nil && f.bus == nil {
		return
	}
	if last, ok := f.lastStats[symbol]; ok && now.Sub(last) < statsInterval {
		return
	}
	f.lastStats[symbol] = now

	m := f.registry.Get(symbol)
	if m == nil {
		return
	}
	stats := m.Stats()

	if f.cache != nil {
		if err := f.cache.SetStats(ctx, stats); err != nil {
			f.logger.Warn("cache stats failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	if f.bus != nil {
		payload, err := json.Marshal(stats)
		if err != nil {
			return
		}
		if err := f.bus.Publish(ctx, statsChannel, payload); err != nil {
			f.logger.Warn("publish stats failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}
