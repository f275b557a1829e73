package coinbase

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gregtusar/tradecore/pkg/models"
	"github.com/gregtusar/tradecore/pkg/trader"
	"github.com/shopspring/decimal"
)

// productOf maps "BTC/USD" to Coinbase's "BTC-USD".
func productOf(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "-")
}

func symbolOf(product string) string {
	return strings.ReplaceAll(product, "-", "/")
}

func dec(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}

func mapStatus(status string, filled decimal.Decimal) models.OrderStatus {
	switch status {
	case "OPEN":
		if filled.IsPositive() {
			return models.OrderStatusPartialFilled
		}
		return models.OrderStatusSubmitted
	case "FILLED":
		return models.OrderStatusFilled
	case "CANCELLED", "EXPIRED":
		return models.OrderStatusCanceled
	case "FAILED":
		return models.OrderStatusFailed
	default:
		return models.OrderStatusSubmitted
	}
}

// execution is the cumulative state of an order as the venue reports it.
type execution struct {
	order  models.Order
	filled decimal.Decimal
	avg    decimal.Decimal
	fees   decimal.Decimal
}

func executionFromREST(cfg trader.Config, o order) execution {
	var price, size string
	var typ models.OrderType
	switch c := o.Configuration; {
	case c.LimitGTC != nil:
		price, size, typ = c.LimitGTC.LimitPrice, c.LimitGTC.BaseSize, models.OrderTypeLimit
	case c.LimitIOC != nil:
		price, size, typ = c.LimitIOC.LimitPrice, c.LimitIOC.BaseSize, models.OrderTypeIOC
	case c.MarketIOC != nil:
		size, typ = c.MarketIOC.BaseSize, models.OrderTypeMarket
	default:
		typ = models.OrderTypeLimit
	}
	filled := dec(o.FilledSize)
	qty := dec(size)
	if qty.LessThan(filled) {
		qty = filled
	}
	utime := o.CreatedTime.UnixMilli()
	if o.LastFillTime != nil {
		utime = o.LastFillTime.UnixMilli()
	}
	return execution{
		order: models.Order{
			Platform:  cfg.Platform,
			Account:   cfg.Account,
			Strategy:  cfg.Strategy,
			OrderNo:   o.OrderID,
			Symbol:    symbolOf(o.ProductID),
			Action:    models.Action(o.Side),
			OrderType: typ,
			Price:     dec(price),
			Quantity:  qty,
			Remain:    qty.Sub(filled),
			Status:    mapStatus(o.Status, filled),
			AvgPrice:  dec(o.AverageFilledPrice),
			TradeType: models.TradeTypeNone,
			Ctime:     o.CreatedTime.UnixMilli(),
			Utime:     utime,
		},
		filled: filled,
		avg:    dec(o.AverageFilledPrice),
		fees:   dec(o.TotalFees),
	}
}

func executionFromUser(cfg trader.Config, uo userOrder, now time.Time) execution {
	filled := dec(uo.CumulativeQuantity)
	leaves := dec(uo.LeavesQuantity)
	typ := models.OrderTypeLimit
	if uo.OrderType == "MARKET" {
		typ = models.OrderTypeMarket
	}
	return execution{
		order: models.Order{
			Platform:  cfg.Platform,
			Account:   cfg.Account,
			Strategy:  cfg.Strategy,
			OrderNo:   uo.OrderID,
			Symbol:    symbolOf(uo.ProductID),
			Action:    models.Action(uo.OrderSide),
			OrderType: typ,
			Price:     dec(uo.LimitPrice),
			Quantity:  filled.Add(leaves),
			Remain:    leaves,
			Status:    mapStatus(uo.Status, filled),
			AvgPrice:  dec(uo.AvgPrice),
			TradeType: models.TradeTypeNone,
			Ctime:     uo.CreationTime.UnixMilli(),
			Utime:     now.UnixMilli(),
		},
		filled: filled,
		avg:    dec(uo.AvgPrice),
		fees:   dec(uo.TotalFees),
	}
}

type tracked struct {
	status models.OrderStatus
	typ    models.OrderType
	filled decimal.Decimal
	avg    decimal.Decimal
	fees   decimal.Decimal
	fills  int
}

// tracker keeps the last published state of every order so updates from the
// user channel and from REST refreshes never move an order backwards, and
// turns growth of the cumulative filled size into Fill events.
type tracker struct {
	mu     sync.Mutex
	orders map[string]*tracked
}

func newTracker() *tracker {
	return &tracker{orders: make(map[string]*tracked)}
}

// expect records the type of an order this process placed, which the user
// channel does not report for IOC limits.
func (t *tracker) expect(orderNo string, typ models.OrderType) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.orders[orderNo]; !ok {
		t.orders[orderNo] = &tracked{status: models.OrderStatusNone, typ: typ}
	}
}

// observe returns the order to publish, the inferred fill if any, and false
// when the update is stale. A repeat of the published state is dropped
// unless replay is set.
func (t *tracker) observe(ex execution, replay bool) (models.Order, *models.Fill, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	o := ex.order
	st, ok := t.orders[o.OrderNo]
	if !ok {
		st = &tracked{status: models.OrderStatusNone}
		t.orders[o.OrderNo] = st
	}
	if st.typ != "" {
		o.OrderType = st.typ
	}

	grew := ex.filled.GreaterThan(st.filled)
	if o.Status == st.status && !grew {
		return o, nil, replay && st.status != models.OrderStatusNone
	}
	if !st.status.CanTransition(o.Status) {
		return models.Order{}, nil, false
	}

	var fill *models.Fill
	if grew {
		delta := ex.filled.Sub(st.filled)
		price := ex.filled.Mul(ex.avg).Sub(st.filled.Mul(st.avg)).Div(delta)
		st.fills++
		liq := models.LiquidityMaker
		if o.OrderType != models.OrderTypeLimit {
			liq = models.LiquidityTaker
		}
		fill = &models.Fill{
			Platform:  o.Platform,
			Account:   o.Account,
			Symbol:    o.Symbol,
			Strategy:  o.Strategy,
			OrderNo:   o.OrderNo,
			FillNo:    fmt.Sprintf("%s-%d", o.OrderNo, st.fills),
			Price:     price,
			Quantity:  delta,
			Side:      o.Action,
			Liquidity: liq,
			Fee:       ex.fees.Sub(st.fees),
			Ctime:     o.Utime,
		}
		st.filled, st.avg, st.fees = ex.filled, ex.avg, ex.fees
	}
	st.status = o.Status
	return o, fill, true
}

func (g *Gateway) symbolInfoFromProduct(symbol string, p product) models.SymbolInfo {
	return models.SymbolInfo{
		Platform:           g.cfg.Platform,
		Symbol:             symbol,
		PriceTick:          dec(p.PriceIncrement),
		SizeTick:           dec(p.BaseIncrement),
		SizeLimit:          dec(p.BaseMinSize),
		ValueTick:          dec(p.QuoteIncrement),
		ValueLimit:         dec(p.QuoteMinSize),
		BaseCurrency:       p.BaseCurrency,
		QuoteCurrency:      p.QuoteCurrency,
		SettlementCurrency: p.QuoteCurrency,
	}
}
