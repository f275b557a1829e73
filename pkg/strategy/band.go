// Package strategy holds the sample strategies shipped with the CLI.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gregtusar/tradecore/pkg/gateway"
	"github.com/gregtusar/tradecore/pkg/locker"
	"github.com/gregtusar/tradecore/pkg/models"
	"github.com/gregtusar/tradecore/pkg/portfolio"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// BandConfig parameterizes Band. Fractions are relative to the moving mean,
// e.g. 0.01 for one percent.
type BandConfig struct {
	Name        string
	Platform    string
	Account     string
	Symbol      string
	Window      int
	EnterBelow  decimal.Decimal
	ExitAbove   decimal.Decimal
	Quantity    decimal.Decimal
	MaxPosition decimal.Decimal
	Slippage    decimal.Decimal
	// RequireReady holds orders back until the venue reports READY. Live
	// venues set it; the simulated venue never sends connection states.
	RequireReady bool
}

func (c BandConfig) withDefaults() BandConfig {
	if c.Name == "" {
		c.Name = "band"
	}
	if c.Window <= 0 {
		c.Window = 20
	}
	return c
}

type Stats struct {
	Entries int `json:"entries"`
	Exits   int `json:"exits"`
	Fills   int `json:"fills"`
	Rejects int `json:"rejects"`
}

// Band buys when the close drops EnterBelow under the moving mean of the
// last Window closes and sells the holding once it rises ExitAbove over it.
// It keeps at most one order open.
type Band struct {
	gateway.NopCallbacks

	cfg    BandConfig
	pm     *portfolio.Manager
	guard  *locker.Locker
	logger *logrus.Entry

	mu       sync.Mutex
	gw       gateway.Gateway
	info     *models.SymbolInfo
	closes   []decimal.Decimal
	ready    bool
	open     string
	finished map[string]bool
	stats    Stats
	done     bool
}

func NewBand(cfg BandConfig, pm *portfolio.Manager, lockers *locker.Registry, logger *logrus.Logger) *Band {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = logrus.New()
	}
	if lockers == nil {
		lockers = locker.NewRegistry()
	}
	return &Band{
		cfg:   cfg,
		pm:    pm,
		guard: lockers.Get("strategy." + cfg.Name + "." + cfg.Platform + "." + cfg.Account),
		logger: logger.WithFields(logrus.Fields{
			"strategy": cfg.Name,
			"platform": cfg.Platform,
			"account":  cfg.Account,
			"symbol":   cfg.Symbol,
		}),
		ready:    !cfg.RequireReady,
		finished: make(map[string]bool),
	}
}

// Bind hands the strategy the gateway it trades through. Callbacks that
// arrive before Bind are observed but never trade.
func (b *Band) Bind(gw gateway.Gateway) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gw = gw
}

func (b *Band) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Finish closes the run: later callbacks are ignored and the totals are
// logged once. Register it with History.OnComplete for replays.
func (b *Band) Finish(_ context.Context) {
	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return
	}
	b.done = true
	stats, open := b.stats, b.open
	b.mu.Unlock()

	b.logger.WithFields(logrus.Fields{
		"entries": stats.Entries,
		"exits":   stats.Exits,
		"fills":   stats.Fills,
		"rejects": stats.Rejects,
		"open":    open,
	}).Info("Strategy finished")
}

func (b *Band) Finished() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

func (b *Band) OnStateUpdate(ctx context.Context, st models.State) {
	log := b.logger.WithFields(logrus.Fields{"code": st.Code, "message": st.Message})
	switch st.Code {
	case models.StateReady:
		log.Info("Venue ready")
		b.mu.Lock()
		b.ready = true
		gw := b.gw
		b.mu.Unlock()
		if gw != nil {
			// balances may have moved while disconnected
			if _, err := gw.InvalidIndicate(ctx, b.cfg.Symbol, gateway.IndicateAsset); err != nil {
				log.WithError(err).Warn("Asset refresh failed")
			}
		}
	case models.StateDisconnect, models.StateConnectFailed, models.StateReconnecting:
		if b.cfg.RequireReady {
			b.mu.Lock()
			b.ready = false
			b.mu.Unlock()
		}
		log.Warn("Venue unavailable")
	case models.StateParamMiss, models.StateGeneralError:
		log.Error("Venue error")
	default:
		log.Debug("Venue state")
	}
}

func (b *Band) OnOrderUpdate(_ context.Context, o models.Order) {
	if !o.Status.IsTerminal() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	b.finished[o.OrderNo] = true
	if b.open == o.OrderNo {
		b.open = ""
	}
}

func (b *Band) OnFillUpdate(_ context.Context, f models.Fill) {
	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return
	}
	b.stats.Fills++
	b.mu.Unlock()
	b.logger.WithFields(logrus.Fields{
		"order_no": f.OrderNo,
		"side":     f.Side,
		"price":    f.Price,
		"quantity": f.Quantity,
		"fee":      f.Fee,
	}).Info("Filled")
}

func (b *Band) OnKlineUpdate(ctx context.Context, k models.Kline) {
	if k.Symbol != b.cfg.Symbol {
		return
	}
	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return
	}
	b.closes = append(b.closes, k.Close)
	if len(b.closes) > b.cfg.Window {
		b.closes = b.closes[len(b.closes)-b.cfg.Window:]
	}
	full := len(b.closes) == b.cfg.Window
	mean := average(b.closes)
	b.mu.Unlock()
	if !full {
		return
	}

	if _, err := b.guard.TryDo(ctx, func(ctx context.Context) error {
		return b.evaluate(ctx, k.Close, mean)
	}); err != nil {
		b.logger.WithError(err).Warn("Evaluation failed")
	}
}

func average(vs []decimal.Decimal) decimal.Decimal {
	if len(vs) == 0 {
		return decimal.Zero
	}
	return decimal.Sum(vs[0], vs[1:]...).Div(decimal.NewFromInt(int64(len(vs))))
}

func (b *Band) evaluate(ctx context.Context, last, mean decimal.Decimal) error {
	b.mu.Lock()
	gw, ready, open := b.gw, b.ready, b.open
	b.mu.Unlock()
	if gw == nil || !ready || open != "" {
		return nil
	}

	info, err := b.symbolInfo(ctx, gw)
	if err != nil {
		return err
	}
	holding, err := b.holding(ctx, gw, info.BaseCurrency)
	if err != nil {
		return err
	}

	one := decimal.NewFromInt(1)
	switch {
	case last.LessThanOrEqual(mean.Mul(one.Sub(b.cfg.EnterBelow))):
		if b.cfg.MaxPosition.IsPositive() && holding.Add(b.cfg.Quantity).GreaterThan(b.cfg.MaxPosition) {
			return nil
		}
		price := toTick(last.Mul(one.Add(b.cfg.Slippage)), info.PriceTick)
		return b.place(ctx, gw, models.ActionBuy, price, b.cfg.Quantity, mean)
	case last.GreaterThanOrEqual(mean.Mul(one.Add(b.cfg.ExitAbove))):
		qty := floorTick(holding, info.SizeTick)
		if !qty.IsPositive() || qty.LessThan(info.SizeLimit) {
			return nil
		}
		price := toTick(last.Mul(one.Sub(b.cfg.Slippage)), info.PriceTick)
		return b.place(ctx, gw, models.ActionSell, price, qty, mean)
	}
	return nil
}

func (b *Band) place(ctx context.Context, gw gateway.Gateway, action models.Action, price, qty, mean decimal.Decimal) error {
	log := b.logger.WithFields(logrus.Fields{
		"action":   action,
		"price":    price,
		"quantity": qty,
		"mean":     mean,
	})
	no, err := gw.CreateOrder(ctx, b.cfg.Symbol, action, price, qty, models.OrderTypeLimit)
	if err != nil {
		b.mu.Lock()
		b.stats.Rejects++
		b.mu.Unlock()
		if errors.Is(err, gateway.ErrInsufficientBalance) || errors.Is(err, gateway.ErrInvalidOrder) {
			log.WithError(err).Warn("Order rejected")
			return nil
		}
		return fmt.Errorf("create %s order: %w", action, err)
	}

	b.mu.Lock()
	if action == models.ActionBuy {
		b.stats.Entries++
	} else {
		b.stats.Exits++
	}
	// the simulated venue may have filled it before returning
	if !b.finished[no] {
		b.open = no
	}
	b.mu.Unlock()
	log.WithField("order_no", no).Info("Order submitted")
	return nil
}

func (b *Band) symbolInfo(ctx context.Context, gw gateway.Gateway) (models.SymbolInfo, error) {
	b.mu.Lock()
	cached := b.info
	b.mu.Unlock()
	if cached != nil {
		return *cached, nil
	}
	info, err := gw.GetSymbolInfo(ctx, b.cfg.Symbol)
	if err != nil {
		return models.SymbolInfo{}, err
	}
	b.mu.Lock()
	b.info = &info
	b.mu.Unlock()
	return info, nil
}

// holding reads the free base balance, from the portfolio cache when one is
// wired and from the venue otherwise.
func (b *Band) holding(ctx context.Context, gw gateway.Gateway, base string) (decimal.Decimal, error) {
	if b.pm != nil {
		return b.pm.Asset(b.cfg.Platform, b.cfg.Account).Get(base).Free, nil
	}
	asset, err := gw.GetAssets(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return asset.Get(base).Free, nil
}

func toTick(v, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return v
	}
	return v.Div(tick).Round(0).Mul(tick)
}

func floorTick(v, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return v
	}
	return v.Div(tick).Floor().Mul(tick)
}
