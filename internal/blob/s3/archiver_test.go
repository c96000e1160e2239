package s3blob

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrove/mmbot/internal/domain"
)

var archiveT0 = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeWriter struct {
	puts map[string][]byte
	err  error
}

func (f *fakeWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if f.err != nil {
		return f.err
	}
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if f.puts == nil {
		f.puts = make(map[string][]byte)
	}
	f.puts[path] = buf
	return nil
}

type fakeArchiveStore struct {
	snaps   []domain.BookSnapshot
	deleted bool
}

func (f *fakeArchiveStore) ListBefore(_ context.Context, _ string, _ time.Time) ([]domain.BookSnapshot, error) {
	return f.snaps, nil
}

func (f *fakeArchiveStore) DeleteBefore(_ context.Context, _ string, _ time.Time) (int64, error) {
	f.deleted = true
	return int64(len(f.snaps)), nil
}

type fakeLocker struct {
	held     bool
	acquired int
}

func (f *fakeLocker) Acquire(context.Context, string, time.Duration) (func(), error) {
	if f.held {
		return nil, domain.ErrLockHeld
	}
	f.acquired++
	return func() {}, nil
}

func archiveSnaps() []domain.BookSnapshot {
	return []domain.BookSnapshot{
		{
			Symbol:    "BTCUSDT",
			Timestamp: archiveT0.Add(-time.Hour),
			Sequence:  1,
			Bids:      []domain.PriceLevel{{Price: decimal.NewFromInt(100), Size: decimal.NewFromInt(1), Sequence: 1}},
			Asks:      []domain.PriceLevel{{Price: decimal.NewFromInt(101), Size: decimal.NewFromInt(1), Sequence: 1}},
		},
		{
			Symbol:    "BTCUSDT",
			Timestamp: archiveT0.Add(-30 * time.Minute),
			Sequence:  2,
		},
	}
}

func TestArchiveBooksUploadsAndDeletes(t *testing.T) {
	writer := &fakeWriter{}
	store := &fakeArchiveStore{snaps: archiveSnaps()}
	a := NewBookArchiver(writer, store, nil, testLogger())

	n, err := a.ArchiveBooks(context.Background(), "BTCUSDT", archiveT0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.True(t, store.deleted)

	body, ok := writer.puts["books/BTCUSDT/2025-06-01.jsonl.gz"]
	require.True(t, ok, "expected upload under the symbol/date key, got %v", writer.puts)

	gz, err := gzip.NewReader(bytes.NewReader(body))
	require.NoError(t, err)
	defer gz.Close()

	var lines int
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		var snap domain.BookSnapshot
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &snap))
		assert.Equal(t, "BTCUSDT", snap.Symbol)
		lines++
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, 2, lines)
}

func TestArchiveBooksEmptyIsNoOp(t *testing.T) {
	writer := &fakeWriter{}
	store := &fakeArchiveStore{}
	a := NewBookArchiver(writer, store, nil, testLogger())

	n, err := a.ArchiveBooks(context.Background(), "BTCUSDT", archiveT0)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, writer.puts)
	assert.False(t, store.deleted)
}

func TestArchiveBooksSkipsWhenLockHeld(t *testing.T) {
	writer := &fakeWriter{}
	store := &fakeArchiveStore{snaps: archiveSnaps()}
	locker := &fakeLocker{held: true}
	a := NewBookArchiver(writer, store, locker, testLogger())

	n, err := a.ArchiveBooks(context.Background(), "BTCUSDT", archiveT0)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, writer.puts)
	assert.False(t, store.deleted)
}

func TestArchiveBooksKeepsRowsOnUploadFailure(t *testing.T) {
	writer := &fakeWriter{err: assert.AnError}
	store := &fakeArchiveStore{snaps: archiveSnaps()}
	a := NewBookArchiver(writer, store, &fakeLocker{}, testLogger())

	_, err := a.ArchiveBooks(context.Background(), "BTCUSDT", archiveT0)
	require.ErrorIs(t, err, assert.AnError)
	assert.False(t, store.deleted, "rows must survive a failed upload")
}
