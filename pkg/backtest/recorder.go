package backtest

import (
	"context"

	"github.com/gregtusar/tradecore/pkg/gateway"
	"github.com/gregtusar/tradecore/pkg/models"
	"github.com/gregtusar/tradecore/pkg/store"
	"github.com/sirupsen/logrus"
)

// Recorder writes the market data it observes into the collections
// StoreLoader reads, so a live session can be replayed later.
type Recorder struct {
	gateway.NopCallbacks
	store  store.DocumentStore
	logger *logrus.Logger
}

var _ gateway.Callbacks = (*Recorder)(nil)

func NewRecorder(s store.DocumentStore, logger *logrus.Logger) *Recorder {
	if logger == nil {
		logger = logrus.New()
	}
	return &Recorder{store: s, logger: logger}
}

func (r *Recorder) insert(ctx context.Context, kind RecordKind, platform, symbol string, v any) {
	if _, err := r.store.Insert(ctx, string(kind), v); err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"kind":     kind,
			"platform": platform,
			"symbol":   symbol,
		}).Error("Failed to record market data")
	}
}

func (r *Recorder) OnKlineUpdate(ctx context.Context, k models.Kline) {
	r.insert(ctx, RecordKline, k.Platform, k.Symbol, k)
}

func (r *Recorder) OnTradeUpdate(ctx context.Context, t models.Trade) {
	r.insert(ctx, RecordTrade, t.Platform, t.Symbol, t)
}

func (r *Recorder) OnOrderbookUpdate(ctx context.Context, ob models.Orderbook) {
	r.insert(ctx, RecordOrderbook, ob.Platform, ob.Symbol, ob)
}
