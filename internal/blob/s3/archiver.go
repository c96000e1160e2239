package s3blob

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantrove/mmbot/internal/domain"
)

// BookArchiveStore is the slice of the snapshot store the archiver needs:
// read the records older than the cutoff, then delete them once the upload
// has succeeded.
type BookArchiveStore interface {
	ListBefore(ctx context.Context, symbol string, before time.Time) ([]domain.BookSnapshot, error)
	DeleteBefore(ctx context.Context, symbol string, before time.Time) (int64, error)
}

// Locker serializes archive sweeps across instances. May be nil.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// lockTTL bounds how long a crashed instance can block the next sweep.
const lockTTL = 10 * time.Minute

// BookArchiver implements domain.Archiver: snapshots older than the cutoff
// are written to object storage as gzipped JSONL and then deleted from the
// database. The upload completes before anything is removed, so a failed
// sweep leaves the rows in place for the next one.
type BookArchiver struct {
	writer domain.BlobWriter
	store  BookArchiveStore
	locker Locker
	logger *slog.Logger
}

var _ domain.Archiver = (*BookArchiver)(nil)

// NewBookArchiver creates a BookArchiver. locker may be nil when a single
// instance runs the sweeps.
func NewBookArchiver(writer domain.BlobWriter, store BookArchiveStore, locker Locker, logger *slog.Logger) *BookArchiver {
	return &BookArchiver{
		writer: writer,
		store:  store,
		locker: locker,
		logger: logger.With(slog.String("component", "book_archiver")),
	}
}

// ArchiveBooks sweeps one symbol's snapshots recorded before the cutoff
// into object storage and returns the number archived. A sweep already
// running elsewhere yields zero without error.
func (a *BookArchiver) ArchiveBooks(ctx context.Context, symbol string, before time.Time) (int64, error) {
	if a.locker != nil {
		unlock, err := a.locker.Acquire(ctx, "archive:books:"+symbol, lockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				a.logger.Info("archive sweep already running", slog.String("symbol", symbol))
				return 0, nil
			}
			return 0, fmt.Errorf("s3blob: archive books lock: %w", err)
		}
		defer unlock()
	}

	snaps, err := a.store.ListBefore(ctx, symbol, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive books query: %w", err)
	}
	if len(snaps) == 0 {
		return 0, nil
	}

	buf, err := gzipJSONL(snaps)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive books marshal: %w", err)
	}

	path := bookArchivePath(symbol, before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/gzip"); err != nil {
		return 0, fmt.Errorf("s3blob: archive books upload: %w", err)
	}

	deleted, err := a.store.DeleteBefore(ctx, symbol, before)
	if err != nil {
		return int64(len(snaps)), fmt.Errorf("s3blob: archive books delete: %w", err)
	}

	a.logger.Info("book snapshots archived",
		slog.String("symbol", symbol),
		slog.String("path", path),
		slog.Int("archived", len(snaps)),
		slog.Int64("deleted", deleted),
	)
	return int64(len(snaps)), nil
}

// bookArchivePath builds the object key, partitioned by symbol and the
// cutoff date:
//
//	books/BTCUSDT/2025-06-01.jsonl.gz
func bookArchivePath(symbol string, before time.Time) string {
	return fmt.Sprintf("books/%s/%s.jsonl.gz", symbol, before.Format("2006-01-02"))
}

// gzipJSONL serializes records as newline-delimited JSON and gzips the
// result.
func gzipJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)

	enc := json.NewEncoder(gz)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}
