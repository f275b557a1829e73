package strategy

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/gregtusar/tradecore/pkg/backtest"
	"github.com/gregtusar/tradecore/pkg/gateway"
	"github.com/gregtusar/tradecore/pkg/models"
	"github.com/gregtusar/tradecore/pkg/portfolio"
	"github.com/gregtusar/tradecore/pkg/trader"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type placed struct {
	action models.Action
	price  decimal.Decimal
	qty    decimal.Decimal
}

// fakeVenue fills synchronously when instant is set, the way the simulated
// venue does for crossing orders.
type fakeVenue struct {
	band      *Band
	instant   bool
	reject    error
	base      decimal.Decimal
	orders    []placed
	indicated []gateway.IndicateKind
}

func (f *fakeVenue) GetOrders(context.Context, string) ([]models.Order, error) { return nil, nil }
func (f *fakeVenue) GetAssets(context.Context) (models.Asset, error) {
	return models.Asset{Assets: map[string]models.Balance{"BTC": models.NewBalance(f.base, decimal.Zero)}}, nil
}
func (f *fakeVenue) GetPosition(context.Context, string) (models.Position, error) {
	return models.Position{}, gateway.ErrNotImplemented
}
func (f *fakeVenue) GetSymbolInfo(_ context.Context, symbol string) (models.SymbolInfo, error) {
	return models.SymbolInfo{
		Symbol:        symbol,
		PriceTick:     decimal.RequireFromString("0.01"),
		SizeTick:      decimal.RequireFromString("0.001"),
		SizeLimit:     decimal.RequireFromString("0.001"),
		BaseCurrency:  "BTC",
		QuoteCurrency: "USDT",
	}, nil
}
func (f *fakeVenue) CreateOrder(ctx context.Context, symbol string, action models.Action, price, qty decimal.Decimal, _ models.OrderType) (string, error) {
	if f.reject != nil {
		return "", f.reject
	}
	f.orders = append(f.orders, placed{action, price, qty})
	no := fmt.Sprintf("o-%d", len(f.orders))
	if f.instant {
		if action == models.ActionBuy {
			f.base = f.base.Add(qty)
		} else {
			f.base = f.base.Sub(qty)
		}
		f.band.OnOrderUpdate(ctx, models.Order{Symbol: symbol, OrderNo: no, Status: models.OrderStatusFilled})
	}
	return no, nil
}
func (f *fakeVenue) RevokeOrder(context.Context, string, ...string) (gateway.RevokeResult, error) {
	return gateway.RevokeResult{}, nil
}
func (f *fakeVenue) InvalidIndicate(_ context.Context, _ string, kind gateway.IndicateKind) (bool, error) {
	f.indicated = append(f.indicated, kind)
	return true, nil
}

func newBand(t *testing.T, cfg BandConfig, instant bool) (*Band, *fakeVenue) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cfg.Symbol = "BTC/USDT"
	cfg.Window = 3
	cfg.EnterBelow = decimal.RequireFromString("0.05")
	cfg.ExitAbove = decimal.RequireFromString("0.05")
	cfg.Quantity = decimal.NewFromInt(1)
	b := NewBand(cfg, nil, nil, logger)
	v := &fakeVenue{band: b, instant: instant, base: decimal.Zero}
	b.Bind(v)
	return b, v
}

func feed(b *Band, closes ...int64) {
	for _, c := range closes {
		b.OnKlineUpdate(context.Background(), models.Kline{Symbol: "BTC/USDT", Close: decimal.NewFromInt(c)})
	}
}

func TestBandRoundTrip(t *testing.T) {
	b, v := newBand(t, BandConfig{}, true)

	feed(b, 100, 100, 100, 90, 90, 110)

	require.Len(t, v.orders, 2)
	assert.Equal(t, models.ActionBuy, v.orders[0].action)
	assert.True(t, v.orders[0].price.Equal(decimal.NewFromInt(90)))
	assert.Equal(t, models.ActionSell, v.orders[1].action)
	assert.True(t, v.orders[1].qty.Equal(decimal.NewFromInt(1)))
	assert.True(t, v.base.IsZero())
	assert.Equal(t, Stats{Entries: 1, Exits: 1}, b.Stats())
}

func TestBandOneOrderAtATime(t *testing.T) {
	b, v := newBand(t, BandConfig{}, false)

	feed(b, 100, 100, 100, 90, 80)
	require.Len(t, v.orders, 1, "second signal waits for the open order")

	b.OnOrderUpdate(context.Background(), models.Order{OrderNo: "o-1", Status: models.OrderStatusCanceled})
	feed(b, 70)
	assert.Len(t, v.orders, 2)
}

func TestBandIgnoresOtherSymbolsAndShortHistory(t *testing.T) {
	b, v := newBand(t, BandConfig{}, true)

	b.OnKlineUpdate(context.Background(), models.Kline{Symbol: "ETH/USDT", Close: decimal.NewFromInt(1)})
	feed(b, 100, 50)
	assert.Empty(t, v.orders)
}

func TestBandMaxPosition(t *testing.T) {
	b, v := newBand(t, BandConfig{MaxPosition: decimal.NewFromInt(1)}, true)
	v.base = decimal.NewFromInt(1)

	feed(b, 100, 100, 100, 90)
	assert.Empty(t, v.orders)
}

func TestBandRequireReady(t *testing.T) {
	b, v := newBand(t, BandConfig{RequireReady: true}, true)
	ctx := context.Background()

	feed(b, 100, 100, 100, 90)
	assert.Empty(t, v.orders)

	b.OnStateUpdate(ctx, models.NewState("sim", "a", models.StateReady, ""))
	assert.Equal(t, []gateway.IndicateKind{gateway.IndicateAsset}, v.indicated)
	feed(b, 80)
	assert.Len(t, v.orders, 1)

	b.OnStateUpdate(ctx, models.NewState("sim", "a", models.StateDisconnect, "closed"))
	feed(b, 60)
	assert.Len(t, v.orders, 1)
}

func TestBandRejection(t *testing.T) {
	b, v := newBand(t, BandConfig{}, true)
	v.reject = fmt.Errorf("%w: short", gateway.ErrInsufficientBalance)

	feed(b, 100, 100, 100, 90)
	assert.Equal(t, 1, b.Stats().Rejects)
	assert.Equal(t, 0, b.Stats().Entries)
}

func TestTicks(t *testing.T) {
	tick := decimal.RequireFromString("0.05")
	assert.True(t, toTick(decimal.RequireFromString("1.23"), tick).Equal(decimal.RequireFromString("1.25")))
	assert.True(t, floorTick(decimal.RequireFromString("1.23"), tick).Equal(decimal.RequireFromString("1.2")))
	assert.True(t, toTick(decimal.RequireFromString("1.23"), decimal.Zero).Equal(decimal.RequireFromString("1.23")))
}

// counter sees every callback the strategy sees.
type counter struct {
	gateway.NopCallbacks
	n int
}

func (c *counter) OnKlineUpdate(context.Context, models.Kline) { c.n++ }
func (c *counter) OnOrderUpdate(context.Context, models.Order) { c.n++ }
func (c *counter) OnFillUpdate(context.Context, models.Fill) { c.n++ }
func (c *counter) OnAssetUpdate(context.Context, models.Asset) { c.n++ }

func TestBandFinishesWithReplay(t *testing.T) {
	ctx := context.Background()
	logger, hook := logtest.NewNullLogger()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	h, err := backtest.NewHistory(backtest.HistoryConfig{Start: start, PeriodDay: 1}, nil, nil, logger)
	require.NoError(t, err)

	loader := backtest.NewMemoryLoader()
	closes := []int64{100, 100, 100, 90, 110}
	for i := 0; i < 20; i++ {
		ts := start.UnixMilli() + int64(i)*60_000
		c := decimal.NewFromInt(closes[i%len(closes)])
		require.NoError(t, loader.Add(backtest.RecordKline, "sim", "BTC/USDT", ts, models.Kline{
			Symbol: "BTC/USDT", Open: c, High: c, Low: c, Close: c,
			Volume: decimal.NewFromInt(1), Timestamp: ts, KlineType: models.KlineType1m,
		}))
	}

	reg := trader.NewRegistry()
	require.NoError(t, reg.Register("sim", backtest.Factory(h, backtest.VenueConfig{
		SymbolInfo: map[string]models.SymbolInfo{"BTC/USDT": {
			PriceTick:     decimal.RequireFromString("0.01"),
			SizeTick:      decimal.RequireFromString("0.0001"),
			SizeLimit:     decimal.RequireFromString("0.001"),
			BaseCurrency:  "BTC",
			QuoteCurrency: "USDT",
		}},
		Assets: map[string]decimal.Decimal{"USDT": decimal.NewFromInt(1000)},
		Loader: loader,
	})))

	pm := portfolio.NewManager()
	band := NewBand(BandConfig{
		Platform:   "sim",
		Account:    "acc",
		Symbol:     "BTC/USDT",
		Window:     3,
		EnterBelow: decimal.RequireFromString("0.05"),
		ExitAbove:  decimal.RequireFromString("0.05"),
		Quantity:   decimal.RequireFromString("0.1"),
	}, pm, nil, logger)
	seen := &counter{}
	tr, err := trader.New(ctx, trader.Config{
		Strategy:          "band",
		Platform:          "sim",
		Account:           "acc",
		Symbols:           []string{"BTC/USDT"},
		EnableKlineUpdate: true,
		DirectKlineUpdate: true,
		EnableOrderUpdate: true,
		EnableFillUpdate:  true,
		EnableAssetUpdate: true,
		Callbacks:         band,
	}, trader.Options{Registry: reg, Portfolio: pm, Observers: []gateway.Callbacks{seen}, Logger: logger})
	require.NoError(t, err)
	band.Bind(tr)

	h.OnComplete(band.Finish)
	atFinish := -1
	h.OnComplete(func(context.Context) {
		assert.True(t, band.Finished())
		atFinish = seen.n
	})

	require.NoError(t, h.Run(ctx))
	assert.Equal(t, seen.n, atFinish, "nothing is delivered after completion")

	stats := band.Stats()
	assert.Equal(t, 4, stats.Entries)
	assert.Equal(t, 4, stats.Exits)
	assert.Equal(t, 8, stats.Fills)

	// a second Finish and late callbacks change nothing
	band.Finish(ctx)
	band.OnKlineUpdate(ctx, models.Kline{Symbol: "BTC/USDT", Close: decimal.NewFromInt(50)})
	band.OnFillUpdate(ctx, models.Fill{OrderNo: "late"})
	assert.Equal(t, stats, band.Stats())

	finished := 0
	for _, e := range hook.AllEntries() {
		if e.Message == "Strategy finished" {
			finished++
		}
	}
	assert.Equal(t, 1, finished)
}
