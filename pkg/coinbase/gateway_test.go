package coinbase

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gregtusar/tradecore/pkg/gateway"
	"github.com/gregtusar/tradecore/pkg/models"
	"github.com/gregtusar/tradecore/pkg/trader"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type events struct {
	gateway.NopCallbacks
	mu     sync.Mutex
	states []models.StateCode
	orders []models.Order
	fills  []models.Fill
	klines []models.Kline
	books  []models.Orderbook
	assets []models.Asset
}

func (e *events) OnStateUpdate(_ context.Context, s models.State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states = append(e.states, s.Code)
}

func (e *events) OnOrderUpdate(_ context.Context, o models.Order) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.orders = append(e.orders, o)
}

func (e *events) OnFillUpdate(_ context.Context, f models.Fill) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fills = append(e.fills, f)
}

func (e *events) OnKlineUpdate(_ context.Context, k models.Kline) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.klines = append(e.klines, k)
}

func (e *events) OnOrderbookUpdate(_ context.Context, ob models.Orderbook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.books = append(e.books, ob)
}

func (e *events) OnAssetUpdate(_ context.Context, a models.Asset) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.assets = append(e.assets, a)
}

func (e *events) ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.states {
		if s == models.StateReady {
			return true
		}
	}
	return false
}

func (e *events) count() (orders, fills, klines, books int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.orders), len(e.fills), len(e.klines), len(e.books)
}

// exchange fakes the REST and websocket endpoints of Advanced Trade.
type exchange struct {
	t      *testing.T
	srv    *httptest.Server
	push   chan string
	mu     sync.Mutex
	subs   []SubscribeMessage
	placed []createOrderRequest
}

func newExchange(t *testing.T) *exchange {
	ex := &exchange{t: t, push: make(chan string, 16)}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/brokerage/accounts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"accounts": []map[string]any{
				{"uuid": "1", "currency": "USD", "available_balance": money{Value: "1000", Currency: "USD"}, "hold": money{Value: "50", Currency: "USD"}},
				{"uuid": "2", "currency": "BTC", "available_balance": money{Value: "0.5", Currency: "BTC"}, "hold": money{Value: "0", Currency: "BTC"}},
				{"uuid": "3", "currency": "DOGE", "available_balance": money{Value: "0", Currency: "DOGE"}, "hold": money{Value: "0", Currency: "DOGE"}},
			},
			"has_next": false,
		})
	})
	mux.HandleFunc("/api/v3/brokerage/products/", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/BTC-USD") {
			w.WriteHeader(http.StatusNotFound)
			writeJSON(w, map[string]string{"error": "NOT_FOUND", "message": "product not found"})
			return
		}
		writeJSON(w, product{
			ProductID: "BTC-USD", Price: "100",
			BaseIncrement: "0.0001", QuoteIncrement: "0.01", PriceIncrement: "0.01",
			BaseMinSize: "0.0001", QuoteMinSize: "1",
			BaseCurrency: "BTC", QuoteCurrency: "USD",
		})
	})
	mux.HandleFunc("/api/v3/brokerage/orders", func(w http.ResponseWriter, r *http.Request) {
		var req createOrderRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		ex.mu.Lock()
		ex.placed = append(ex.placed, req)
		ex.mu.Unlock()
		if cfg := req.Configuration.LimitGTC; cfg != nil && cfg.BaseSize == "100" {
			writeJSON(w, map[string]any{
				"success":        false,
				"error_response": map[string]string{"error": "INSUFFICIENT_FUND", "message": "Insufficient balance in source account"},
			})
			return
		}
		writeJSON(w, map[string]any{
			"success":          true,
			"success_response": map[string]string{"order_id": "o-1", "client_order_id": req.ClientOrderID},
		})
	})
	mux.HandleFunc("/api/v3/brokerage/orders/batch_cancel", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			OrderIDs []string `json:"order_ids"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		var results []cancelResult
		for _, id := range req.OrderIDs {
			if id == "o-1" || id == "o-2" {
				results = append(results, cancelResult{Success: true, OrderID: id})
			} else {
				results = append(results, cancelResult{FailureReason: "UNKNOWN_CANCEL_ORDER", OrderID: id})
			}
		}
		writeJSON(w, map[string]any{"results": results})
	})
	mux.HandleFunc("/api/v3/brokerage/orders/historical/batch", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "OPEN", r.URL.Query().Get("order_status"))
		writeJSON(w, map[string]any{
			"orders": []order{
				{OrderID: "o-1", ProductID: "BTC-USD", Side: "BUY", Status: "OPEN", FilledSize: "0", CreatedTime: time.UnixMilli(1000),
					Configuration: orderConfiguration{LimitGTC: &limitGTC{BaseSize: "1", LimitPrice: "99"}}},
				{OrderID: "o-2", ProductID: "BTC-USD", Side: "SELL", Status: "OPEN", FilledSize: "0.25", AverageFilledPrice: "110", TotalFees: "0.1", CreatedTime: time.UnixMilli(2000),
					Configuration: orderConfiguration{LimitGTC: &limitGTC{BaseSize: "1", LimitPrice: "110"}}},
			},
			"has_next": false,
		})
	})

	upgrader := websocket.Upgrader{}
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				var msg SubscribeMessage
				if err := c.ReadJSON(&msg); err != nil {
					return
				}
				ex.mu.Lock()
				ex.subs = append(ex.subs, msg)
				ex.mu.Unlock()
				if msg.Channel == channelHeartbeats {
					ex.push <- `{"channel":"subscriptions","events":[{"subscriptions":{}}]}`
				}
			}
		}()
		for {
			select {
			case msg := <-ex.push:
				if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
					return
				}
			case <-gone:
				return
			}
		}
	})

	ex.srv = httptest.NewServer(mux)
	t.Cleanup(ex.srv.Close)
	return ex
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (ex *exchange) config(cb gateway.Callbacks) trader.Config {
	return trader.Config{
		Strategy:              "demo",
		Platform:              Platform,
		Account:               "main",
		AccessKey:             "key",
		SecretKey:             "secret",
		Symbols:               []string{"BTC/USD"},
		Host:                  ex.srv.URL,
		WSS:                   "ws" + strings.TrimPrefix(ex.srv.URL, "http") + "/ws",
		EnableKlineUpdate:     true,
		DirectKlineUpdate:     true,
		EnableOrderbookUpdate: true,
		DirectOrderbookUpdate: true,
		EnableOrderUpdate:     true,
		EnableFillUpdate:      true,
		Callbacks:             cb,
	}
}

func startGateway(t *testing.T, ex *exchange, ev *events) *Gateway {
	t.Helper()
	g, err := NewGateway(ex.config(ev), ev, quietLogger())
	require.NoError(t, err)
	require.NoError(t, g.Start(context.Background()))
	t.Cleanup(func() { _ = g.Close() })
	require.Eventually(t, ev.ready, 5*time.Second, 5*time.Millisecond)
	return g
}

func TestFactoryParamMiss(t *testing.T) {
	ev := &events{}
	cfg := trader.Config{Strategy: "demo", Platform: Platform, Account: "main", Symbols: []string{"BTC/USD"}, Callbacks: ev}

	_, err := Factory()(context.Background(), cfg, ev, quietLogger())
	assert.ErrorIs(t, err, gateway.ErrParamMiss)

	cfg.AccessKey, cfg.SecretKey = keyName, "garbage"
	_, err = Factory()(context.Background(), cfg, ev, quietLogger())
	assert.ErrorIs(t, err, gateway.ErrParamMiss)
}

func TestSymbolMapping(t *testing.T) {
	assert.Equal(t, "BTC-USD", productOf("BTC/USD"))
	assert.Equal(t, "BTC/USD", symbolOf("BTC-USD"))

	tests := []struct {
		status string
		filled string
		want   models.OrderStatus
	}{
		{"OPEN", "0", models.OrderStatusSubmitted},
		{"OPEN", "0.1", models.OrderStatusPartialFilled},
		{"PENDING", "0", models.OrderStatusSubmitted},
		{"FILLED", "1", models.OrderStatusFilled},
		{"CANCELLED", "0", models.OrderStatusCanceled},
		{"EXPIRED", "0", models.OrderStatusCanceled},
		{"FAILED", "0", models.OrderStatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.status+"/"+tt.filled, func(t *testing.T) {
			assert.Equal(t, tt.want, mapStatus(tt.status, d(tt.filled)))
		})
	}
}

func TestRESTQueries(t *testing.T) {
	ex := newExchange(t)
	ev := &events{}
	g, err := NewGateway(ex.config(ev), ev, quietLogger())
	require.NoError(t, err)
	defer g.Close()
	ctx := context.Background()

	asset, err := g.GetAssets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC", "USD"}, asset.Currencies())
	assert.True(t, asset.Get("USD").Total.Equal(d("1050")))
	assert.True(t, asset.Get("USD").Locked.Equal(d("50")))
	require.NoError(t, asset.Check())

	info, err := g.GetSymbolInfo(ctx, "BTC/USD")
	require.NoError(t, err)
	assert.True(t, info.PriceTick.Equal(d("0.01")))
	assert.True(t, info.SizeLimit.Equal(d("0.0001")))
	assert.Equal(t, "USD", info.QuoteCurrency)

	_, err = g.GetSymbolInfo(ctx, "NOPE/USD")
	assert.ErrorIs(t, err, gateway.ErrSymbolNotFound)

	orders, err := g.GetOrders(ctx, "BTC/USD")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, models.OrderStatusPartialFilled, orders[1].Status)
	assert.True(t, orders[1].Remain.Equal(d("0.75")))

	_, err = g.GetPosition(ctx, "BTC/USD")
	assert.ErrorIs(t, err, gateway.ErrNotImplemented)

	_, err = g.CreateOrder(ctx, "BTC/USD", models.ActionBuy, d("99"), d("1"), models.OrderTypeLimit)
	assert.ErrorIs(t, err, gateway.ErrNotReady)
}

func TestOrdersAndRevoke(t *testing.T) {
	ex := newExchange(t)
	ev := &events{}
	g := startGateway(t, ex, ev)
	ctx := context.Background()

	no, err := g.CreateOrder(ctx, "BTC/USD", models.ActionBuy, d("99"), d("1"), models.OrderTypeLimit)
	require.NoError(t, err)
	assert.Equal(t, "o-1", no)

	_, err = g.CreateOrder(ctx, "BTC/USD", models.ActionBuy, d("99"), d("100"), models.OrderTypeLimit)
	assert.ErrorIs(t, err, gateway.ErrInsufficientBalance)

	_, err = g.CreateOrder(ctx, "BTC/USD", models.ActionBuy, d("99.001"), d("1"), models.OrderTypeLimit)
	assert.ErrorIs(t, err, gateway.ErrInvalidOrder)

	_, err = g.CreateOrder(ctx, "BTC/USD", models.ActionSell, decimal.Zero, d("0.5"), models.OrderTypeMarket)
	require.NoError(t, err)

	ex.mu.Lock()
	require.Len(t, ex.placed, 3)
	assert.NotNil(t, ex.placed[0].Configuration.LimitGTC)
	assert.NotNil(t, ex.placed[2].Configuration.MarketIOC)
	assert.NotEqual(t, ex.placed[0].ClientOrderID, ex.placed[2].ClientOrderID)
	ex.mu.Unlock()

	res, err := g.RevokeOrder(ctx, "BTC/USD", "o-1")
	require.NoError(t, err)
	assert.Equal(t, gateway.RevokeOne, res.Mode)

	_, err = g.RevokeOrder(ctx, "BTC/USD", "missing")
	assert.ErrorIs(t, err, gateway.ErrOrderNotFound)

	res, err = g.RevokeOrder(ctx, "BTC/USD", "o-1", "missing")
	require.NoError(t, err)
	assert.Equal(t, gateway.RevokeMany, res.Mode)
	require.Len(t, res.Failed(), 1)
	assert.ErrorIs(t, res.Failed()[0].Err, gateway.ErrOrderNotFound)

	res, err = g.RevokeOrder(ctx, "BTC/USD")
	require.NoError(t, err)
	assert.Equal(t, gateway.RevokeAll, res.Mode)
	assert.Len(t, res.Items, 2)
	assert.Empty(t, res.Failed())
}

func TestUserChannelInfersFills(t *testing.T) {
	ex := newExchange(t)
	ev := &events{}
	startGateway(t, ex, ev)

	ex.mu.Lock()
	var channels []string
	for _, s := range ex.subs {
		channels = append(channels, s.Channel)
		assert.NotEmpty(t, s.Signature)
	}
	ex.mu.Unlock()
	assert.Equal(t, []string{channelCandles, channelLevel2, channelUser, channelHeartbeats}, channels)

	user := func(status, cum, leaves, avg, fees string) string {
		return `{"channel":"user","timestamp":"2024-01-01T00:00:00Z","events":[{"type":"update","orders":[{"order_id":"o-9","product_id":"BTC-USD","order_side":"BUY","order_type":"LIMIT","limit_price":"100","status":"` +
			status + `","cumulative_quantity":"` + cum + `","leaves_quantity":"` + leaves + `","avg_price":"` + avg + `","total_fees":"` + fees + `","creation_time":"2024-01-01T00:00:00Z"}]}]}`
	}
	ex.push <- user("OPEN", "0", "1", "0", "0")
	ex.push <- user("OPEN", "0.5", "0.5", "100", "0.05")
	ex.push <- user("FILLED", "1", "0", "101", "0.1")
	ex.push <- user("OPEN", "0.5", "0.5", "100", "0.05") // stale replay

	require.Eventually(t, func() bool { o, f, _, _ := ev.count(); return o >= 3 && f >= 2 }, 5*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	ev.mu.Lock()
	defer ev.mu.Unlock()
	require.Len(t, ev.orders, 3)
	assert.Equal(t, models.OrderStatusSubmitted, ev.orders[0].Status)
	assert.Equal(t, models.OrderStatusPartialFilled, ev.orders[1].Status)
	assert.Equal(t, models.OrderStatusFilled, ev.orders[2].Status)

	require.Len(t, ev.fills, 2)
	assert.Equal(t, "o-9-1", ev.fills[0].FillNo)
	assert.True(t, ev.fills[0].Price.Equal(d("100")))
	assert.True(t, ev.fills[0].Fee.Equal(d("0.05")))
	assert.Equal(t, "o-9-2", ev.fills[1].FillNo)
	assert.True(t, ev.fills[1].Price.Equal(d("102")), ev.fills[1].Price.String())
	assert.True(t, ev.fills[1].Quantity.Equal(d("0.5")))
	assert.True(t, ev.fills[1].Fee.Equal(d("0.05")))
}

func TestMarketChannels(t *testing.T) {
	ex := newExchange(t)
	ev := &events{}
	startGateway(t, ex, ev)

	ex.push <- `{"channel":"candles","timestamp":"2024-01-01T00:05:00Z","events":[{"type":"update","candles":[{"start":"1704067200","open":"1","high":"3","low":"0.5","close":"2","volume":"10","product_id":"BTC-USD"}]}]}`
	ex.push <- `{"channel":"l2_data","timestamp":"2024-01-01T00:05:00Z","events":[{"type":"snapshot","product_id":"BTC-USD","updates":[` +
		`{"side":"bid","price_level":"99","new_quantity":"1"},{"side":"bid","price_level":"98","new_quantity":"2"},{"side":"offer","price_level":"101","new_quantity":"1"}]}]}`
	ex.push <- `{"channel":"l2_data","timestamp":"2024-01-01T00:05:01Z","events":[{"type":"update","product_id":"BTC-USD","updates":[{"side":"bid","price_level":"99","new_quantity":"0"}]}]}`

	require.Eventually(t, func() bool { _, _, k, b := ev.count(); return k == 1 && b == 2 }, 5*time.Second, 5*time.Millisecond)

	ev.mu.Lock()
	defer ev.mu.Unlock()
	k := ev.klines[0]
	assert.Equal(t, "BTC/USD", k.Symbol)
	assert.Equal(t, int64(1704067200000), k.Timestamp)
	assert.Equal(t, models.KlineType5m, k.KlineType)
	assert.True(t, k.Close.Equal(d("2")))

	bid, ok := ev.books[0].BestBid()
	require.True(t, ok)
	assert.True(t, bid.Price.Equal(d("99")))
	bid, ok = ev.books[1].BestBid()
	require.True(t, ok)
	assert.True(t, bid.Price.Equal(d("98")))
	ask, ok := ev.books[1].BestAsk()
	require.True(t, ok)
	assert.True(t, ask.Price.Equal(d("101")))
}

func TestInvalidIndicate(t *testing.T) {
	ex := newExchange(t)
	ev := &events{}
	g, err := NewGateway(ex.config(ev), ev, quietLogger())
	require.NoError(t, err)
	defer g.Close()
	ctx := context.Background()

	ok, err := g.InvalidIndicate(ctx, "BTC/USD", gateway.IndicateOrder)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = g.InvalidIndicate(ctx, "BTC/USD", gateway.IndicateAsset)
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = g.InvalidIndicate(ctx, "BTC/USD", gateway.IndicatePosition)
	assert.ErrorIs(t, err, gateway.ErrNotImplemented)

	require.Eventually(t, func() bool {
		ev.mu.Lock()
		defer ev.mu.Unlock()
		return len(ev.orders) == 2 && len(ev.assets) == 1
	}, 5*time.Second, 5*time.Millisecond)

	ev.mu.Lock()
	require.Len(t, ev.fills, 1)
	assert.Equal(t, "o-2-1", ev.fills[0].FillNo)
	assert.True(t, ev.fills[0].Quantity.Equal(d("0.25")))
	ev.mu.Unlock()

	// a second refresh re-delivers orders without new fills
	_, err = g.InvalidIndicate(ctx, "BTC/USD", gateway.IndicateOrder)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		ev.mu.Lock()
		defer ev.mu.Unlock()
		return len(ev.orders) == 4
	}, 5*time.Second, 5*time.Millisecond)
	ev.mu.Lock()
	assert.Len(t, ev.fills, 1)
	ev.mu.Unlock()
}
