package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/quantrove/mmbot/internal/domain"
)

// Source yields book snapshots in ascending timestamp order.
type Source interface {
	Next() (*domain.BookSnapshot, bool)
}

// StoreSource adapts a BookSnapshotStore stream into a Source. It buffers
// through a channel so the store cursor and the runner loop overlap.
type StoreSource struct {
	out  chan domain.BookSnapshot
	errc chan error
	err  error
}

// NewStoreSource starts streaming symbol's snapshots for [since, until)
// from the store.
func NewStoreSource(ctx context.Context, store domain.BookSnapshotStore, symbol string, since, until time.Time) *StoreSource {
	s := &StoreSource{
		out:  make(chan domain.BookSnapshot, 256),
		errc: make(chan error, 1),
	}
	go func() {
		s.errc <- store.Stream(ctx, symbol, since, until, s.out)
	}()
	return s
}

// Next returns the next stored snapshot, or false at end of stream.
func (s *StoreSource) Next() (*domain.BookSnapshot, bool) {
	snap, ok := <-s.out
	if !ok {
		if err := <-s.errc; err != nil {
			s.err = fmt.Errorf("backtest: snapshot stream: %w", err)
		}
		return nil, false
	}
	return &snap, true
}

// Err reports a stream failure after Next has returned false.
func (s *StoreSource) Err() error { return s.err }

// SliceSource replays an in-memory snapshot slice. Used in tests and for
// small recorded sessions loaded wholesale.
type SliceSource struct {
	snaps []domain.BookSnapshot
	idx   int
}

// NewSliceSource wraps snaps without copying.
func NewSliceSource(snaps []domain.BookSnapshot) *SliceSource {
	return &SliceSource{snaps: snaps}
}

// Next returns the next snapshot in the slice, or false when exhausted.
func (s *SliceSource) Next() (*domain.BookSnapshot, bool) {
	if s.idx >= len(s.snaps) {
		return nil, false
	}
	snap := &s.snaps[s.idx]
	s.idx++
	return snap, true
}
