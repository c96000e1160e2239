package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantrove/mmbot/internal/domain"
)

// FillStore implements domain.FillStore using PostgreSQL.
type FillStore struct {
	pool *pgxpool.Pool
}

var _ domain.FillStore = (*FillStore)(nil)

// NewFillStore creates a FillStore backed by the given connection pool.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

const fillSelectCols = `order_id, symbol, side, fill_price, fill_qty, is_maker, timestamp`

func scanFillRows(rows pgx.Rows) ([]domain.SimulatedFill, error) {
	var fills []domain.SimulatedFill
	for rows.Next() {
		var f domain.SimulatedFill
		var side string
		if err := rows.Scan(
			&f.OrderID, &f.Symbol, &side,
			&f.FillPrice, &f.FillQty, &f.IsMaker, &f.Timestamp,
		); err != nil {
			return nil, err
		}
		f.Side = domain.Side(side)
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// InsertBatch inserts fills for one run using a pgx batch.
func (s *FillStore) InsertBatch(ctx context.Context, runID string, fills []domain.SimulatedFill) error {
	if len(fills) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO sim_fills (
			run_id, order_id, symbol, side,
			fill_price, fill_qty, is_maker, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (order_id, timestamp) DO NOTHING`

	for _, f := range fills {
		batch.Queue(query,
			runID, f.OrderID, f.Symbol, string(f.Side),
			f.FillPrice, f.FillQty, f.IsMaker, f.Timestamp,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range fills {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert fill batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListByRun returns one run's fills in fill order.
func (s *FillStore) ListByRun(ctx context.Context, runID string, opts domain.ListOpts) ([]domain.SimulatedFill, error) {
	query := `SELECT ` + fillSelectCols + ` FROM sim_fills WHERE run_id = $1`
	args := []any{runID}
	query, args = appendListOpts(query, args, opts, "ASC")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills by run: %w", err)
	}
	defer rows.Close()

	fills, err := scanFillRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fills by run: %w", err)
	}
	return fills, nil
}

// ListBySymbol returns a symbol's fills across runs, newest first.
func (s *FillStore) ListBySymbol(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.SimulatedFill, error) {
	query := `SELECT ` + fillSelectCols + ` FROM sim_fills WHERE symbol = $1`
	args := []any{symbol}
	query, args = appendListOpts(query, args, opts, "DESC")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills by symbol: %w", err)
	}
	defer rows.Close()

	fills, err := scanFillRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fills by symbol: %w", err)
	}
	return fills, nil
}

// appendListOpts applies time filters, ordering, and pagination shared by
// the list queries. order is "ASC" or "DESC".
func appendListOpts(query string, args []any, opts domain.ListOpts, order string) (string, []any) {
	argIdx := len(args) + 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY timestamp " + order + ", id " + order

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}
