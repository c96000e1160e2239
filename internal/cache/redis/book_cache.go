package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/quantrove/mmbot/internal/domain"
)

// statsTTL expires stale entries when a feed stops publishing.
const statsTTL = time.Hour

// BookCache implements domain.BookCache using one hash per symbol.
//
// Key schema:
//
//	bookstats:{symbol} - hash with the BookStats fields
type BookCache struct {
	rdb *redis.Client
}

var _ domain.BookCache = (*BookCache)(nil)

// NewBookCache creates a BookCache backed by the given Client.
func NewBookCache(c *Client) *BookCache {
	return &BookCache{rdb: c.Underlying()}
}

func statsKey(symbol string) string {
	return "bookstats:" + symbol
}

// SetStats writes a symbol's book stats and refreshes the TTL.
func (bc *BookCache) SetStats(ctx context.Context, stats domain.BookStats) error {
	key := statsKey(stats.Symbol)

	pipe := bc.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"symbol":         stats.Symbol,
		"synced":         strconv.FormatBool(stats.Synced),
		"needs_resync":   strconv.FormatBool(stats.NeedsResync),
		"last_sequence":  strconv.FormatInt(stats.LastSequence, 10),
		"sequence_gaps":  strconv.FormatInt(stats.SequenceGaps, 10),
		"snapshot_count": strconv.FormatInt(stats.SnapshotCount, 10),
		"delta_count":    strconv.FormatInt(stats.DeltaCount, 10),
		"last_update":    strconv.FormatInt(stats.LastUpdate.UnixNano(), 10),
		"mid_price":      stats.MidPrice.String(),
		"spread_bps":     stats.SpreadBps.String(),
		"imbalance":      stats.Imbalance.String(),
	})
	pipe.Expire(ctx, key, statsTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book stats %s: %w", stats.Symbol, err)
	}
	return nil
}

// GetStats reads a symbol's book stats. Returns domain.ErrNotFound when
// nothing has been published for the symbol.
func (bc *BookCache) GetStats(ctx context.Context, symbol string) (domain.BookStats, error) {
	vals, err := bc.rdb.HGetAll(ctx, statsKey(symbol)).Result()
	if err != nil {
		return domain.BookStats{}, fmt.Errorf("redis: get book stats %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return domain.BookStats{}, domain.ErrNotFound
	}

	stats := domain.BookStats{Symbol: symbol}
	stats.Synced, _ = strconv.ParseBool(vals["synced"])
	stats.NeedsResync, _ = strconv.ParseBool(vals["needs_resync"])
	stats.LastSequence, _ = strconv.ParseInt(vals["last_sequence"], 10, 64)
	stats.SequenceGaps, _ = strconv.ParseInt(vals["sequence_gaps"], 10, 64)
	stats.SnapshotCount, _ = strconv.ParseInt(vals["snapshot_count"], 10, 64)
	stats.DeltaCount, _ = strconv.ParseInt(vals["delta_count"], 10, 64)
	if ns, err := strconv.ParseInt(vals["last_update"], 10, 64); err == nil {
		stats.LastUpdate = time.Unix(0, ns).UTC()
	}
	if v, err := decimal.NewFromString(vals["mid_price"]); err == nil {
		stats.MidPrice = v
	}
	if v, err := decimal.NewFromString(vals["spread_bps"]); err == nil {
		stats.SpreadBps = v
	}
	if v, err := decimal.NewFromString(vals["imbalance"]); err == nil {
		stats.Imbalance = v
	}
	return stats, nil
}
