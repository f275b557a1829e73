package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bar struct {
	Platform  string `json:"platform"`
	Symbol    string `json:"symbol"`
	Timestamp int64  `json:"timestamp"`
	Close     string `json:"close"`
}

func openMemory(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seed(t *testing.T, s *SQLite) {
	t.Helper()
	ctx := context.Background()
	for _, b := range []bar{
		{"binance", "BTC/USDT", 3000, "3"},
		{"binance", "BTC/USDT", 1000, "1"},
		{"binance", "ETH/USDT", 2000, "2"},
		{"okx", "BTC/USDT", 1500, "1.5"},
	} {
		id, err := s.Insert(ctx, "kline", b)
		require.NoError(t, err)
		require.NotEmpty(t, id)
	}
}

func TestGetListFilterAndSort(t *testing.T) {
	s := openMemory(t)
	seed(t, s)
	ctx := context.Background()

	docs, err := s.GetList(ctx, "kline", Filter{
		Eq:    map[string]any{"platform": "binance", "symbol": "BTC/USDT"},
		Range: []Range{{Field: "timestamp", Gte: int64(0), Lt: int64(5000)}},
	}, ListOptions{Sort: "timestamp"})
	require.NoError(t, err)
	require.Len(t, docs, 2)

	var first bar
	require.NoError(t, docs[0].Decode(&first))
	assert.Equal(t, int64(1000), first.Timestamp)

	docs, err = s.GetList(ctx, "kline", Filter{}, ListOptions{Sort: "timestamp", Desc: true, Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	var b bar
	require.NoError(t, docs[0].Decode(&b))
	assert.Equal(t, int64(2000), b.Timestamp)
}

func TestRangeIsHalfOpen(t *testing.T) {
	s := openMemory(t)
	seed(t, s)

	n, err := s.Count(context.Background(), "kline", Filter{
		Range: []Range{{Field: "timestamp", Gte: int64(1000), Lt: int64(2000)}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestFindOneAndUpdate(t *testing.T) {
	s := openMemory(t)
	seed(t, s)
	ctx := context.Background()

	_, err := s.FindOne(ctx, "kline", Filter{Eq: map[string]any{"platform": "kraken"}})
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := s.Update(ctx, "kline", Filter{Eq: map[string]any{"platform": "okx"}}, map[string]any{"close": "9"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	doc, err := s.FindOne(ctx, "kline", Filter{Eq: map[string]any{"platform": "okx"}})
	require.NoError(t, err)
	var b bar
	require.NoError(t, doc.Decode(&b))
	assert.Equal(t, "9", b.Close)
	assert.Equal(t, "BTC/USDT", b.Symbol)
}

func TestDistinct(t *testing.T) {
	s := openMemory(t)
	seed(t, s)

	vals, err := s.Distinct(context.Background(), "kline", "symbol", Filter{Eq: map[string]any{"platform": "binance"}})
	require.NoError(t, err)
	assert.Equal(t, []any{"BTC/USDT", "ETH/USDT"}, vals)
}

func TestEmptyCollection(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	docs, err := s.GetList(ctx, "fills", Filter{}, ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, docs)

	n, err := s.Count(ctx, "fills", Filter{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRejectsBadNames(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "kline; DROP TABLE x", bar{})
	assert.Error(t, err)
	_, err = s.Count(ctx, "kline", Filter{Eq: map[string]any{"a') OR 1=1 --": 1}})
	assert.Error(t, err)
}
