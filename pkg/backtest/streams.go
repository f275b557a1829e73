package backtest

import (
	"context"

	"github.com/gregtusar/tradecore/pkg/bus"
	"github.com/gregtusar/tradecore/pkg/gateway"
	"github.com/gregtusar/tradecore/pkg/models"
	"github.com/gregtusar/tradecore/pkg/trader"
)

// Streams selects the callbacks a simulated venue delivers. Market kinds
// follow the trader's direct flags since replay has no bus to relay them.
type Streams struct {
	Kline     bool
	Orderbook bool
	Trade     bool
	Ticker    bool
	Order     bool
	Fill      bool
	Position  bool
	Asset     bool
}

// AllStreams delivers everything; it is what a nil Streams means.
func AllStreams() Streams {
	return Streams{true, true, true, true, true, true, true, true}
}

func StreamsOf(cfg trader.Config) *Streams {
	return &Streams{
		Kline:     cfg.Direct(bus.KindKline),
		Orderbook: cfg.Direct(bus.KindOrderbook),
		Trade:     cfg.Direct(bus.KindTrade),
		Ticker:    cfg.Direct(bus.KindTicker),
		Order:     cfg.EnableOrderUpdate,
		Fill:      cfg.EnableFillUpdate,
		Position:  cfg.EnablePositionUpdate,
		Asset:     cfg.EnableAssetUpdate,
	}
}

// gated drops callbacks of streams that are switched off. Connection states
// always pass.
type gated struct {
	next gateway.Callbacks
	on   Streams
}

func newGated(next gateway.Callbacks, s *Streams) gated {
	on := AllStreams()
	if s != nil {
		on = *s
	}
	return gated{next: next, on: on}
}

func (g gated) OnKlineUpdate(ctx context.Context, k models.Kline) {
	if g.on.Kline {
		g.next.OnKlineUpdate(ctx, k)
	}
}

func (g gated) OnOrderbookUpdate(ctx context.Context, ob models.Orderbook) {
	if g.on.Orderbook {
		g.next.OnOrderbookUpdate(ctx, ob)
	}
}

func (g gated) OnTradeUpdate(ctx context.Context, t models.Trade) {
	if g.on.Trade {
		g.next.OnTradeUpdate(ctx, t)
	}
}

func (g gated) OnTickerUpdate(ctx context.Context, t models.Ticker) {
	if g.on.Ticker {
		g.next.OnTickerUpdate(ctx, t)
	}
}

func (g gated) OnOrderUpdate(ctx context.Context, o models.Order) {
	if g.on.Order {
		g.next.OnOrderUpdate(ctx, o)
	}
}

func (g gated) OnFillUpdate(ctx context.Context, f models.Fill) {
	if g.on.Fill {
		g.next.OnFillUpdate(ctx, f)
	}
}

func (g gated) OnPositionUpdate(ctx context.Context, p models.Position) {
	if g.on.Position {
		g.next.OnPositionUpdate(ctx, p)
	}
}

func (g gated) OnAssetUpdate(ctx context.Context, a models.Asset) {
	if g.on.Asset {
		g.next.OnAssetUpdate(ctx, a)
	}
}

func (g gated) OnStateUpdate(ctx context.Context, st models.State) {
	g.next.OnStateUpdate(ctx, st)
}
