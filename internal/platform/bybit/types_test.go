package bybit

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const snapshotWire = `{
  "topic": "orderbook.50.BTCUSDT",
  "type": "snapshot",
  "ts": 1672304484978,
  "data": {
    "s": "BTCUSDT",
    "b": [["16493.50", "0.006"], ["16493.00", "0.100"]],
    "a": [["16611.00", "0.029"], ["16612.00", "0.213"]],
    "u": 18521288,
    "seq": 7961638724
  }
}`

func TestBookMessageToSnapshot(t *testing.T) {
	var payload struct {
		Data BookMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(snapshotWire), &payload))

	ts := time.UnixMilli(1672304484978).UTC()
	snap, err := payload.Data.ToSnapshot(ts)
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", snap.Symbol)
	assert.Equal(t, int64(18521288), snap.Sequence)
	assert.Equal(t, ts, snap.Timestamp)
	require.Len(t, snap.Bids, 2)
	require.Len(t, snap.Asks, 2)
	assert.True(t, snap.Bids[0].Price.Equal(decimal.RequireFromString("16493.50")))
	assert.True(t, snap.Bids[0].Size.Equal(decimal.RequireFromString("0.006")))
	assert.Equal(t, int64(18521288), snap.Bids[0].Sequence)
	assert.True(t, snap.Asks[1].Price.Equal(decimal.RequireFromString("16612.00")))
}

func TestBookMessageToDelta(t *testing.T) {
	msg := BookMessage{
		Symbol:   "ETHUSDT",
		Bids:     [][]string{{"1200.10", "0"}},
		Asks:     [][]string{{"1201.00", "3.5"}},
		UpdateID: 42,
	}

	ts := time.Now().UTC()
	delta, err := msg.ToDelta(ts)
	require.NoError(t, err)

	assert.Equal(t, "ETHUSDT", delta.Symbol)
	assert.Equal(t, int64(42), delta.Sequence)
	require.Len(t, delta.BidUpdates, 1)
	assert.True(t, delta.BidUpdates[0].Size.IsZero(), "zero size marks a removal")
	require.Len(t, delta.AskUpdates, 1)
	assert.True(t, delta.AskUpdates[0].Size.Equal(decimal.RequireFromString("3.5")))
}

func TestParseLevelsRejectsMalformed(t *testing.T) {
	_, err := parseLevels([][]string{{"100"}}, 1)
	require.Error(t, err)

	_, err = parseLevels([][]string{{"abc", "1"}}, 1)
	require.Error(t, err)

	_, err = parseLevels([][]string{{"100", "xyz"}}, 1)
	require.Error(t, err)
}

func TestBookTopic(t *testing.T) {
	assert.Equal(t, "orderbook.50.BTCUSDT", BookTopic(50, "BTCUSDT"))
}
