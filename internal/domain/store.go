package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// FillStore persists simulated fills produced by backtest runs.
type FillStore interface {
	InsertBatch(ctx context.Context, runID string, fills []SimulatedFill) error
	ListByRun(ctx context.Context, runID string, opts ListOpts) ([]SimulatedFill, error)
	ListBySymbol(ctx context.Context, symbol string, opts ListOpts) ([]SimulatedFill, error)
}

// BookSnapshotStore persists recorded book snapshots and streams them back
// in timestamp order for replay.
type BookSnapshotStore interface {
	Insert(ctx context.Context, snap BookSnapshot) error
	InsertBatch(ctx context.Context, snaps []BookSnapshot) error
	// Stream sends snapshots for symbol within [since, until) in ascending
	// timestamp order to out, closing it when the range is exhausted.
	Stream(ctx context.Context, symbol string, since, until time.Time, out chan<- BookSnapshot) error
	Count(ctx context.Context, symbol string) (int64, error)
}
