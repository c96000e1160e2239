package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantrove/mmbot/internal/domain"
)

// BookStore implements domain.BookSnapshotStore using PostgreSQL. Levels
// are stored as JSONB, one document per side.
type BookStore struct {
	pool *pgxpool.Pool
}

var _ domain.BookSnapshotStore = (*BookStore)(nil)

// NewBookStore creates a BookStore backed by the given connection pool.
func NewBookStore(pool *pgxpool.Pool) *BookStore {
	return &BookStore{pool: pool}
}

const bookInsertQuery = `
	INSERT INTO book_snapshots (symbol, sequence, timestamp, bids, asks)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (symbol, sequence) DO NOTHING`

func marshalSides(snap domain.BookSnapshot) (bids, asks []byte, err error) {
	bids, err = json.Marshal(snap.Bids)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal bids: %w", err)
	}
	asks, err = json.Marshal(snap.Asks)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal asks: %w", err)
	}
	return bids, asks, nil
}

// Insert stores one snapshot. Re-inserting the same (symbol, sequence) is
// a no-op.
func (s *BookStore) Insert(ctx context.Context, snap domain.BookSnapshot) error {
	bids, asks, err := marshalSides(snap)
	if err != nil {
		return fmt.Errorf("postgres: insert snapshot: %w", err)
	}
	if _, err := s.pool.Exec(ctx, bookInsertQuery,
		snap.Symbol, snap.Sequence, snap.Timestamp, bids, asks,
	); err != nil {
		return fmt.Errorf("postgres: insert snapshot: %w", err)
	}
	return nil
}

// InsertBatch stores snapshots using a pgx batch.
func (s *BookStore) InsertBatch(ctx context.Context, snaps []domain.BookSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i, snap := range snaps {
		bids, asks, err := marshalSides(snap)
		if err != nil {
			return fmt.Errorf("postgres: insert snapshot batch item %d: %w", i, err)
		}
		batch.Queue(bookInsertQuery, snap.Symbol, snap.Sequence, snap.Timestamp, bids, asks)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range snaps {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert snapshot batch item %d: %w", i, err)
		}
	}
	return nil
}

func scanSnapshot(rows pgx.Rows) (domain.BookSnapshot, error) {
	var snap domain.BookSnapshot
	var bids, asks []byte
	if err := rows.Scan(&snap.Symbol, &snap.Sequence, &snap.Timestamp, &bids, &asks); err != nil {
		return snap, err
	}
	if err := json.Unmarshal(bids, &snap.Bids); err != nil {
		return snap, fmt.Errorf("unmarshal bids: %w", err)
	}
	if err := json.Unmarshal(asks, &snap.Asks); err != nil {
		return snap, fmt.Errorf("unmarshal asks: %w", err)
	}
	return snap, nil
}

// Stream sends snapshots for symbol within [since, until) in ascending
// timestamp order to out, closing it when the range is exhausted.
func (s *BookStore) Stream(ctx context.Context, symbol string, since, until time.Time, out chan<- domain.BookSnapshot) error {
	defer close(out)

	rows, err := s.pool.Query(ctx, `
		SELECT symbol, sequence, timestamp, bids, asks
		FROM book_snapshots
		WHERE symbol = $1 AND timestamp >= $2 AND timestamp < $3
		ORDER BY timestamp ASC, sequence ASC`,
		symbol, since, until,
	)
	if err != nil {
		return fmt.Errorf("postgres: stream snapshots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return fmt.Errorf("postgres: stream snapshots: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- snap:
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres: stream snapshots: %w", err)
	}
	return nil
}

// Count returns the number of stored snapshots for symbol.
func (s *BookStore) Count(ctx context.Context, symbol string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM book_snapshots WHERE symbol = $1", symbol,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count snapshots: %w", err)
	}
	return n, nil
}

// ListBefore returns a symbol's snapshots older than the given time, in
// ascending order, for archiving.
func (s *BookStore) ListBefore(ctx context.Context, symbol string, before time.Time) ([]domain.BookSnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT symbol, sequence, timestamp, bids, asks
		FROM book_snapshots
		WHERE symbol = $1 AND timestamp < $2
		ORDER BY timestamp ASC, sequence ASC`,
		symbol, before,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots before: %w", err)
	}
	defer rows.Close()

	var snaps []domain.BookSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: list snapshots before: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list snapshots before: %w", err)
	}
	return snaps, nil
}

// DeleteBefore removes a symbol's snapshots older than the given time and
// returns the number deleted.
func (s *BookStore) DeleteBefore(ctx context.Context, symbol string, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM book_snapshots WHERE symbol = $1 AND timestamp < $2",
		symbol, before,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete snapshots before: %w", err)
	}
	return tag.RowsAffected(), nil
}
