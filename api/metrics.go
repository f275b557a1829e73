package api

import (
	"context"

	"github.com/gregtusar/tradecore/pkg/gateway"
	"github.com/gregtusar/tradecore/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts callback events. Register it as a chain observer.
type Metrics struct {
	events *prometheus.CounterVec
	states *prometheus.CounterVec
}

var _ gateway.Callbacks = (*Metrics)(nil)

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradecore",
			Name:      "callback_events_total",
			Help:      "Callback events delivered to strategies, by kind and platform.",
		}, []string{"kind", "platform"}),
		states: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradecore",
			Name:      "state_events_total",
			Help:      "Connection state notifications, by platform and code.",
		}, []string{"platform", "code"}),
	}
	for _, c := range []prometheus.Collector{m.events, m.states} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) inc(kind, platform string) {
	m.events.WithLabelValues(kind, platform).Inc()
}

func (m *Metrics) OnKlineUpdate(_ context.Context, v models.Kline) { m.inc("kline", v.Platform) }
func (m *Metrics) OnOrderbookUpdate(_ context.Context, v models.Orderbook) {
	m.inc("orderbook", v.Platform)
}
func (m *Metrics) OnTradeUpdate(_ context.Context, v models.Trade)   { m.inc("trade", v.Platform) }
func (m *Metrics) OnTickerUpdate(_ context.Context, v models.Ticker) { m.inc("ticker", v.Platform) }
func (m *Metrics) OnOrderUpdate(_ context.Context, v models.Order)   { m.inc("order", v.Platform) }
func (m *Metrics) OnFillUpdate(_ context.Context, v models.Fill)     { m.inc("fill", v.Platform) }
func (m *Metrics) OnPositionUpdate(_ context.Context, v models.Position) {
	m.inc("position", v.Platform)
}
func (m *Metrics) OnAssetUpdate(_ context.Context, v models.Asset) { m.inc("asset", v.Platform) }

func (m *Metrics) OnStateUpdate(_ context.Context, v models.State) {
	m.inc("state", v.Platform)
	m.states.WithLabelValues(v.Platform, string(v.Code)).Inc()
}
