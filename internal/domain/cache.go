package domain

import "context"

// BookCache publishes per-symbol book analytics for dashboards and other
// processes. Implementations must tolerate partially synced books.
type BookCache interface {
	SetStats(ctx context.Context, stats BookStats) error
	GetStats(ctx context.Context, symbol string) (BookStats, error)
}

// SignalBus provides fire-and-forget pub/sub for fill and resync events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
