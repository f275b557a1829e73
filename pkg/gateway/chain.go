package gateway

import (
	"context"
	"fmt"

	"github.com/gregtusar/tradecore/pkg/models"
	"github.com/sirupsen/logrus"
)

// Chain fans every callback out to a fixed, ordered list of observers.
// The list is set at construction and never changes afterwards.
//
// A panicking observer does not stop the chain: the panic is logged and
// turned into a GENERAL_ERROR state for the other observers.
type Chain struct {
	observers []Callbacks
	logger    *logrus.Logger
}

var _ Callbacks = (*Chain)(nil)

func NewChain(logger *logrus.Logger, observers ...Callbacks) *Chain {
	if logger == nil {
		logger = logrus.New()
	}
	list := make([]Callbacks, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			list = append(list, o)
		}
	}
	return &Chain{observers: list, logger: logger}
}

// Observers returns a copy of the observer list.
func (c *Chain) Observers() []Callbacks {
	return append([]Callbacks(nil), c.observers...)
}

func (c *Chain) each(ctx context.Context, event string, fn func(Callbacks)) {
	for i, o := range c.observers {
		c.call(ctx, event, i, o, fn)
	}
}

func (c *Chain) call(ctx context.Context, event string, idx int, o Callbacks, fn func(Callbacks)) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		c.logger.WithFields(logrus.Fields{
			"event":    event,
			"observer": idx,
			"panic":    r,
		}).Error("Callback panicked")
		if event == "state" {
			return
		}
		st := models.NewState("", "", models.StateGeneralError, fmt.Sprintf("%s callback panicked: %v", event, r))
		for j, other := range c.observers {
			if j != idx {
				c.call(ctx, "state", j, other, func(cb Callbacks) { cb.OnStateUpdate(ctx, st) })
			}
		}
	}()
	fn(o)
}

func (c *Chain) OnKlineUpdate(ctx context.Context, v models.Kline) {
	c.each(ctx, "kline", func(cb Callbacks) { cb.OnKlineUpdate(ctx, v) })
}

func (c *Chain) OnOrderbookUpdate(ctx context.Context, v models.Orderbook) {
	c.each(ctx, "orderbook", func(cb Callbacks) { cb.OnOrderbookUpdate(ctx, v) })
}

func (c *Chain) OnTradeUpdate(ctx context.Context, v models.Trade) {
	c.each(ctx, "trade", func(cb Callbacks) { cb.OnTradeUpdate(ctx, v) })
}

func (c *Chain) OnTickerUpdate(ctx context.Context, v models.Ticker) {
	c.each(ctx, "ticker", func(cb Callbacks) { cb.OnTickerUpdate(ctx, v) })
}

func (c *Chain) OnOrderUpdate(ctx context.Context, v models.Order) {
	c.each(ctx, "order", func(cb Callbacks) { cb.OnOrderUpdate(ctx, v) })
}

func (c *Chain) OnFillUpdate(ctx context.Context, v models.Fill) {
	c.each(ctx, "fill", func(cb Callbacks) { cb.OnFillUpdate(ctx, v) })
}

func (c *Chain) OnPositionUpdate(ctx context.Context, v models.Position) {
	c.each(ctx, "position", func(cb Callbacks) { cb.OnPositionUpdate(ctx, v) })
}

func (c *Chain) OnAssetUpdate(ctx context.Context, v models.Asset) {
	c.each(ctx, "asset", func(cb Callbacks) { cb.OnAssetUpdate(ctx, v.Clone()) })
}

func (c *Chain) OnStateUpdate(ctx context.Context, v models.State) {
	c.each(ctx, "state", func(cb Callbacks) { cb.OnStateUpdate(ctx, v) })
}
