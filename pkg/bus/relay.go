package bus

import (
	"context"
	"encoding/json"

	"github.com/gregtusar/tradecore/pkg/gateway"
	"github.com/gregtusar/tradecore/pkg/models"
	"github.com/sirupsen/logrus"
)

// Collector republishes the market data it observes onto a bus. Register it
// as an observer of a gateway that receives data directly.
type Collector struct {
	gateway.NopCallbacks
	bus    *Bus
	logger *logrus.Logger
}

var _ gateway.Callbacks = (*Collector)(nil)

func NewCollector(b *Bus, logger *logrus.Logger) *Collector {
	if logger == nil {
		logger = logrus.New()
	}
	return &Collector{bus: b, logger: logger}
}

func (c *Collector) publish(ctx context.Context, kind Kind, platform, symbol string, v any) {
	topic := Topic(kind, platform, symbol)
	if err := c.bus.Publish(ctx, topic, v); err != nil {
		c.logger.WithError(err).WithField("topic", topic).Error("Failed to publish market data")
	}
}

func (c *Collector) OnKlineUpdate(ctx context.Context, k models.Kline) {
	c.publish(ctx, KindKline, k.Platform, k.Symbol, k)
}

func (c *Collector) OnOrderbookUpdate(ctx context.Context, ob models.Orderbook) {
	c.publish(ctx, KindOrderbook, ob.Platform, ob.Symbol, ob)
}

func (c *Collector) OnTradeUpdate(ctx context.Context, t models.Trade) {
	c.publish(ctx, KindTrade, t.Platform, t.Symbol, t)
}

func (c *Collector) OnTickerUpdate(ctx context.Context, t models.Ticker) {
	c.publish(ctx, KindTicker, t.Platform, t.Symbol, t)
}

// Relay subscribes cb to the given market kinds of (platform, symbol) and
// decodes each payload back into its model. The returned function removes
// every subscription it made.
func Relay(b *Bus, cb gateway.Callbacks, platform, symbol string, kinds []Kind, logger *logrus.Logger) func() {
	if logger == nil {
		logger = logrus.New()
	}
	var unsubs []func()
	for _, kind := range kinds {
		topic := Topic(kind, platform, symbol)
		h, ok := relayHandler(kind, cb)
		if !ok {
			logger.WithField("kind", kind).Warn("Unknown market data kind, not relayed")
			continue
		}
		unsubs = append(unsubs, b.Subscribe(topic, func(ctx context.Context, payload []byte) {
			if err := h(ctx, payload); err != nil {
				logger.WithError(err).WithField("topic", topic).Error("Failed to decode relayed payload")
			}
		}))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func relayHandler(kind Kind, cb gateway.Callbacks) (func(context.Context, []byte) error, bool) {
	switch kind {
	case KindKline:
		return func(ctx context.Context, p []byte) error {
			var v models.Kline
			if err := json.Unmarshal(p, &v); err != nil {
				return err
			}
			cb.OnKlineUpdate(ctx, v)
			return nil
		}, true
	case KindOrderbook:
		return func(ctx context.Context, p []byte) error {
			var v models.Orderbook
			if err := json.Unmarshal(p, &v); err != nil {
				return err
			}
			cb.OnOrderbookUpdate(ctx, v)
			return nil
		}, true
	case KindTrade:
		return func(ctx context.Context, p []byte) error {
			var v models.Trade
			if err := json.Unmarshal(p, &v); err != nil {
				return err
			}
			cb.OnTradeUpdate(ctx, v)
			return nil
		}, true
	case KindTicker:
		return func(ctx context.Context, p []byte) error {
			var v models.Ticker
			if err := json.Unmarshal(p, &v); err != nil {
				return err
			}
			cb.OnTickerUpdate(ctx, v)
			return nil
		}, true
	}
	return nil, false
}
