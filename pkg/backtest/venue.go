package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gregtusar/tradecore/pkg/gateway"
	"github.com/gregtusar/tradecore/pkg/models"
	"github.com/gregtusar/tradecore/pkg/trader"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type VenueConfig struct {
	Platform   string
	Account    string
	Strategy   string
	Symbols    []string
	SymbolInfo map[string]models.SymbolInfo
	Assets     map[string]decimal.Decimal
	MakerRate  decimal.Decimal
	TakerRate  decimal.Decimal
	Loader     Loader
	// Streams limits the delivered callbacks; nil delivers all of them.
	Streams *Streams
}

// Venue is a simulated spot exchange account. It is both the Gateway the
// strategy trades on and the replay Source that drives it.
type Venue struct {
	cfg     VenueConfig
	clock   *Clock
	ledger  *Ledger
	engines map[string]*MatchEngine
	raw     gateway.Callbacks
	cb      gateway.Callbacks
	logger  *logrus.Logger
	seq     int64
}

var (
	_ gateway.Gateway = (*Venue)(nil)
	_ Source          = (*Venue)(nil)
)

func NewVenue(cfg VenueConfig, clock *Clock, cb gateway.Callbacks, logger *logrus.Logger) (*Venue, error) {
	if cfg.Platform == "" || cfg.Account == "" {
		return nil, fmt.Errorf("%w: venue needs platform and account", gateway.ErrParamMiss)
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("%w: venue %s has no symbols", gateway.ErrParamMiss, cfg.Platform)
	}
	if cfg.Loader == nil {
		return nil, errors.New("venue loader is required")
	}
	if clock == nil {
		return nil, errors.New("venue clock is required")
	}
	if cb == nil {
		cb = gateway.NopCallbacks{}
	}
	if logger == nil {
		logger = logrus.New()
	}

	v := &Venue{
		cfg:     cfg,
		clock:   clock,
		ledger:  NewLedger(cfg.Platform, cfg.Account, cfg.Assets),
		engines: make(map[string]*MatchEngine, len(cfg.Symbols)),
		raw:     cb,
		cb:      newGated(cb, cfg.Streams),
		logger:  logger,
	}
	for _, sym := range cfg.Symbols {
		info, ok := cfg.SymbolInfo[sym]
		if !ok {
			return nil, fmt.Errorf("%w: no symbol info for %s on %s", gateway.ErrSymbolNotFound, sym, cfg.Platform)
		}
		if info.Symbol == "" {
			info.Symbol = sym
		}
		if info.Platform == "" {
			info.Platform = cfg.Platform
		}
		v.engines[sym] = newMatchEngine(engineConfig{
			Platform:    cfg.Platform,
			Account:     cfg.Account,
			Strategy:    cfg.Strategy,
			Info:        info,
			Ledger:      v.ledger,
			Fees:        Fees{Maker: cfg.MakerRate, Taker: cfg.TakerRate},
			Clock:       clock,
			Callbacks:   v.cb,
			NextOrderNo: v.nextOrderNo,
			Logger:      logger,
		})
	}
	return v, nil
}

func (v *Venue) nextOrderNo() string {
	v.seq++
	return fmt.Sprintf("%s-%d", v.cfg.Platform, v.seq)
}

func (v *Venue) engine(symbol string) (*MatchEngine, error) {
	e, ok := v.engines[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", gateway.ErrSymbolNotFound, symbol, v.cfg.Platform)
	}
	return e, nil
}

func (v *Venue) GetOrders(_ context.Context, symbol string) ([]models.Order, error) {
	e, err := v.engine(symbol)
	if err != nil {
		return nil, err
	}
	return e.Orders(), nil
}

func (v *Venue) GetAssets(context.Context) (models.Asset, error) {
	return v.ledger.Snapshot(v.clock.Now()), nil
}

func (v *Venue) GetPosition(context.Context, string) (models.Position, error) {
	return models.Position{}, fmt.Errorf("%w: positions on simulated spot venue %s", gateway.ErrNotImplemented, v.cfg.Platform)
}

func (v *Venue) GetSymbolInfo(_ context.Context, symbol string) (models.SymbolInfo, error) {
	e, err := v.engine(symbol)
	if err != nil {
		return models.SymbolInfo{}, err
	}
	return e.info, nil
}

func (v *Venue) CreateOrder(ctx context.Context, symbol string, action models.Action, price, quantity decimal.Decimal, orderType models.OrderType) (string, error) {
	e, err := v.engine(symbol)
	if err != nil {
		return "", err
	}
	return e.CreateOrder(ctx, action, price, quantity, orderType)
}

func (v *Venue) RevokeOrder(ctx context.Context, symbol string, orderNos ...string) (gateway.RevokeResult, error) {
	e, err := v.engine(symbol)
	if err != nil {
		return gateway.RevokeResult{}, err
	}
	return gateway.Revoke(orderNos,
		func() ([]gateway.RevokeItem, error) { return e.CancelAll(ctx), nil },
		func(no string) error { return e.Cancel(ctx, no) },
	)
}

// InvalidIndicate re-delivers the open orders of symbol or the asset snapshot.
// An explicit request is answered even when the stream is switched off.
func (v *Venue) InvalidIndicate(ctx context.Context, symbol string, kind gateway.IndicateKind) (bool, error) {
	switch kind {
	case gateway.IndicateOrder:
		e, err := v.engine(symbol)
		if err != nil {
			return false, err
		}
		for _, o := range e.Orders() {
			v.raw.OnOrderUpdate(ctx, o)
		}
		return true, nil
	case gateway.IndicateAsset:
		v.raw.OnAssetUpdate(ctx, v.ledger.Snapshot(v.clock.Now()))
		return true, nil
	case gateway.IndicatePosition:
		return false, fmt.Errorf("%w: positions on simulated spot venue %s", gateway.ErrNotImplemented, v.cfg.Platform)
	}
	return false, fmt.Errorf("unknown indicate kind %q", kind)
}

// Load collects records of every configured symbol, in symbol order.
func (v *Venue) Load(ctx context.Context, kind RecordKind, begin, end int64) ([]Record, error) {
	var out []Record
	for _, sym := range v.cfg.Symbols {
		recs, err := v.cfg.Loader.Load(ctx, v.cfg.Platform, sym, kind, begin, end)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

// Feed matches a kline before the strategy sees it, so fills caused by a
// bar arrive ahead of the bar itself.
func (v *Venue) Feed(ctx context.Context, rec Record) error {
	switch rec.Kind {
	case RecordKline:
		var k models.Kline
		if err := json.Unmarshal(rec.Payload, &k); err != nil {
			return fmt.Errorf("decode kline: %w", err)
		}
		e, err := v.engine(rec.Symbol)
		if err != nil {
			return err
		}
		v.normalize(&k.Platform, &k.Symbol, &k.Timestamp, rec)
		e.OnKline(ctx, k)
		v.cb.OnKlineUpdate(ctx, k)
	case RecordTrade:
		var t models.Trade
		if err := json.Unmarshal(rec.Payload, &t); err != nil {
			return fmt.Errorf("decode trade: %w", err)
		}
		v.normalize(&t.Platform, &t.Symbol, &t.Timestamp, rec)
		v.cb.OnTradeUpdate(ctx, t)
	case RecordOrderbook:
		var ob models.Orderbook
		if err := json.Unmarshal(rec.Payload, &ob); err != nil {
			return fmt.Errorf("decode orderbook: %w", err)
		}
		v.normalize(&ob.Platform, &ob.Symbol, &ob.Timestamp, rec)
		v.cb.OnOrderbookUpdate(ctx, ob)
	default:
		return fmt.Errorf("unknown record kind %q", rec.Kind)
	}
	return nil
}

func (v *Venue) normalize(platform, symbol *string, ts *int64, rec Record) {
	if *platform == "" {
		*platform = rec.Platform
	}
	if *symbol == "" {
		*symbol = rec.Symbol
	}
	if *ts == 0 {
		*ts = rec.Timestamp
	}
}

func (v *Venue) Done(ctx context.Context) {
	a := v.ledger.Snapshot(v.clock.Now())
	fields := logrus.Fields{"platform": v.cfg.Platform, "account": v.cfg.Account}
	for _, c := range a.Currencies() {
		fields[c] = a.Get(c).Total.String()
	}
	v.logger.WithFields(fields).Info("Backtest venue finished")
}

// Factory binds simulated venues into a trader registry. Each trader built
// through it gets a Venue registered with history; base supplies the
// simulation parameters the trader config does not carry.
func Factory(history *History, base VenueConfig) trader.Factory {
	return func(ctx context.Context, cfg trader.Config, cb gateway.Callbacks, logger *logrus.Logger) (gateway.Gateway, error) {
		vc := base
		vc.Platform = cfg.Platform
		vc.Account = cfg.Account
		vc.Strategy = cfg.Strategy
		vc.Symbols = cfg.Symbols
		vc.Streams = StreamsOf(cfg)

		v, err := NewVenue(vc, history.Clock(), cb, logger)
		if err != nil {
			return nil, err
		}
		if err := history.Register(v); err != nil {
			return nil, err
		}
		v.cb.OnAssetUpdate(ctx, v.ledger.Snapshot(history.Clock().Now()))
		return v, nil
	}
}
