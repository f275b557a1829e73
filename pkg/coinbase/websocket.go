package coinbase

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/gregtusar/tradecore/pkg/conn"
	"github.com/gregtusar/tradecore/pkg/models"
	"github.com/shopspring/decimal"
)

const (
	channelSubscriptions = "subscriptions"
	channelHeartbeats    = "heartbeats"
	channelTicker        = "ticker"
	channelTrades        = "market_trades"
	channelLevel2        = "level2"
	channelL2Data        = "l2_data"
	channelCandles       = "candles"
	channelUser          = "user"

	bookDepth = 20
)

type SubscribeMessage struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids,omitempty"`
	Channel    string   `json:"channel"`
	JWT        string   `json:"jwt,omitempty"`
	APIKey     string   `json:"api_key,omitempty"`
	Timestamp  string   `json:"timestamp,omitempty"`
	Signature  string   `json:"signature,omitempty"`
}

type envelope struct {
	Channel     string            `json:"channel"`
	Timestamp   time.Time         `json:"timestamp"`
	SequenceNum int64             `json:"sequence_num"`
	Events      []json.RawMessage `json:"events"`
}

type tickerEvent struct {
	Tickers []struct {
		ProductID       string `json:"product_id"`
		Price           string `json:"price"`
		Volume24h       string `json:"volume_24_h"`
		BestBid         string `json:"best_bid"`
		BestBidQuantity string `json:"best_bid_quantity"`
		BestAsk         string `json:"best_ask"`
		BestAskQuantity string `json:"best_ask_quantity"`
	} `json:"tickers"`
}

type tradesEvent struct {
	Trades []struct {
		TradeID   string    `json:"trade_id"`
		ProductID string    `json:"product_id"`
		Price     string    `json:"price"`
		Size      string    `json:"size"`
		Side      string    `json:"side"`
		Time      time.Time `json:"time"`
	} `json:"trades"`
}

type candlesEvent struct {
	Candles []struct {
		Start     string `json:"start"`
		High      string `json:"high"`
		Low       string `json:"low"`
		Open      string `json:"open"`
		Close     string `json:"close"`
		Volume    string `json:"volume"`
		ProductID string `json:"product_id"`
	} `json:"candles"`
}

type l2Event struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Updates   []struct {
		Side        string `json:"side"`
		PriceLevel  string `json:"price_level"`
		NewQuantity string `json:"new_quantity"`
	} `json:"updates"`
}

type userOrder struct {
	OrderID            string    `json:"order_id"`
	ClientOrderID      string    `json:"client_order_id"`
	CumulativeQuantity string    `json:"cumulative_quantity"`
	LeavesQuantity     string    `json:"leaves_quantity"`
	AvgPrice           string    `json:"avg_price"`
	TotalFees          string    `json:"total_fees"`
	Status             string    `json:"status"`
	ProductID          string    `json:"product_id"`
	CreationTime       time.Time `json:"creation_time"`
	OrderSide          string    `json:"order_side"`
	OrderType          string    `json:"order_type"`
	LimitPrice         string    `json:"limit_price"`
}

type userEvent struct {
	Type   string      `json:"type"`
	Orders []userOrder `json:"orders"`
}

// subscriptions lists the channels the config asks for.
func (g *Gateway) subscriptions() []string {
	var out []string
	if g.direct.kline {
		out = append(out, channelCandles)
	}
	if g.direct.orderbook {
		out = append(out, channelLevel2)
	}
	if g.direct.trade {
		out = append(out, channelTrades)
	}
	if g.direct.ticker {
		out = append(out, channelTicker)
	}
	if g.cfg.EnableOrderUpdate || g.cfg.EnableFillUpdate || g.cfg.EnableAssetUpdate {
		out = append(out, channelUser)
	}
	return append(out, channelHeartbeats)
}

func (g *Gateway) onConnected(ctx context.Context, ws *conn.WebSocket) error {
	g.books.reset()
	for _, ch := range g.subscriptions() {
		msg := SubscribeMessage{Type: "subscribe", ProductIDs: g.products, Channel: ch}
		if ch == channelHeartbeats {
			msg.ProductIDs = nil
		}
		if err := g.auth.SignSubscribe(&msg); err != nil {
			return err
		}
		if err := ws.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

// onMessage runs on the socket's read goroutine and waits until the
// callbacks it triggered have returned.
func (g *Gateway) onMessage(ctx context.Context, raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		g.log.WithError(err).Warn("Malformed websocket frame")
		return
	}
	if env.Channel == channelSubscriptions {
		g.ws.MarkReady()
		return
	}
	if env.Channel == "" || env.Channel == channelHeartbeats {
		return
	}
	ts := env.Timestamp.UnixMilli()

	for _, ev := range env.Events {
		var err error
		switch env.Channel {
		case channelTicker:
			err = g.handleTicker(ctx, ev, ts)
		case channelTrades:
			err = g.handleTrades(ctx, ev)
		case channelCandles:
			err = g.handleCandles(ctx, ev)
		case channelL2Data:
			err = g.handleLevel2(ctx, ev, ts)
		case channelUser:
			err = g.handleUser(ctx, ev)
		}
		if err != nil {
			g.log.WithError(err).WithField("channel", env.Channel).Warn("Failed to handle event")
		}
	}
}

func (g *Gateway) handleTicker(ctx context.Context, raw json.RawMessage, ts int64) error {
	var ev tickerEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return err
	}
	for _, t := range ev.Tickers {
		tk := models.Ticker{
			Platform:  g.cfg.Platform,
			Symbol:    symbolOf(t.ProductID),
			Ask:       dec(t.BestAsk),
			AskSize:   dec(t.BestAskQuantity),
			Bid:       dec(t.BestBid),
			BidSize:   dec(t.BestBidQuantity),
			Last:      dec(t.Price),
			Volume24h: dec(t.Volume24h),
			Timestamp: ts,
		}
		g.dispatch(func() { g.cb.OnTickerUpdate(ctx, tk) })
	}
	return nil
}

func (g *Gateway) handleTrades(ctx context.Context, raw json.RawMessage) error {
	var ev tradesEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return err
	}
	for _, t := range ev.Trades {
		tr := models.Trade{
			Platform:  g.cfg.Platform,
			Symbol:    symbolOf(t.ProductID),
			Action:    models.Action(t.Side),
			Price:     dec(t.Price),
			Quantity:  dec(t.Size),
			Timestamp: t.Time.UnixMilli(),
		}
		g.dispatch(func() { g.cb.OnTradeUpdate(ctx, tr) })
	}
	return nil
}

func (g *Gateway) handleCandles(ctx context.Context, raw json.RawMessage) error {
	var ev candlesEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return err
	}
	for _, c := range ev.Candles {
		startSec, _ := decimal.NewFromString(c.Start)
		k := models.Kline{
			Platform:  g.cfg.Platform,
			Symbol:    symbolOf(c.ProductID),
			Open:      dec(c.Open),
			High:      dec(c.High),
			Low:       dec(c.Low),
			Close:     dec(c.Close),
			Volume:    dec(c.Volume),
			Timestamp: startSec.IntPart() * 1000,
			KlineType: models.KlineType5m,
		}
		g.dispatch(func() { g.cb.OnKlineUpdate(ctx, k) })
	}
	return nil
}

func (g *Gateway) handleLevel2(ctx context.Context, raw json.RawMessage, ts int64) error {
	var ev l2Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return err
	}
	if ev.Type == "snapshot" {
		g.books.clear(ev.ProductID)
	}
	for _, u := range ev.Updates {
		g.books.apply(ev.ProductID, u.Side == "bid", dec(u.PriceLevel), dec(u.NewQuantity))
	}
	ob := g.books.snapshot(g.cfg.Platform, ev.ProductID, ts)
	g.dispatch(func() { g.cb.OnOrderbookUpdate(ctx, ob) })
	return nil
}

func (g *Gateway) handleUser(ctx context.Context, raw json.RawMessage) error {
	var ev userEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return err
	}
	touched := false
	for _, uo := range ev.Orders {
		o, fill, ok := g.tracker.observe(executionFromUser(g.cfg, uo, time.Now()), false)
		if !ok {
			continue
		}
		touched = true
		if g.cfg.EnableOrderUpdate {
			g.dispatch(func() { g.cb.OnOrderUpdate(ctx, o) })
		}
		if fill != nil && g.cfg.EnableFillUpdate {
			f := *fill
			g.dispatch(func() { g.cb.OnFillUpdate(ctx, f) })
		}
	}
	// Balances move with orders; the user channel does not carry them.
	if touched && g.cfg.EnableAssetUpdate && ev.Type != "snapshot" {
		g.refreshAssets(ctx)
	}
	return nil
}

type level struct {
	price decimal.Decimal
	qty   decimal.Decimal
}

// books keeps one local level2 book per product. Only the read goroutine
// touches it.
type books struct {
	bids map[string]map[string]level
	asks map[string]map[string]level
}

func newBooks() *books {
	return &books{bids: map[string]map[string]level{}, asks: map[string]map[string]level{}}
}

func (b *books) reset() {
	b.bids = map[string]map[string]level{}
	b.asks = map[string]map[string]level{}
}

func (b *books) clear(product string) {
	delete(b.bids, product)
	delete(b.asks, product)
}

func (b *books) apply(product string, bid bool, price, qty decimal.Decimal) {
	side := b.asks
	if bid {
		side = b.bids
	}
	lv, ok := side[product]
	if !ok {
		lv = map[string]level{}
		side[product] = lv
	}
	key := price.String()
	if qty.IsZero() {
		delete(lv, key)
		return
	}
	lv[key] = level{price: price, qty: qty}
}

func (b *books) snapshot(platform, product string, ts int64) models.Orderbook {
	ob := models.Orderbook{Platform: platform, Symbol: symbolOf(product), Timestamp: ts}
	ob.Bids = top(b.bids[product], true)
	ob.Asks = top(b.asks[product], false)
	return ob
}

func top(side map[string]level, desc bool) []models.Level {
	out := make([]models.Level, 0, len(side))
	for _, l := range side {
		out = append(out, models.Level{Price: l.price, Quantity: l.qty})
	}
	sort.Slice(out, func(i, j int) bool {
		if desc {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	if len(out) > bookDepth {
		out = out[:bookDepth]
	}
	return out
}
