// Package trader builds a strategy's view of one venue account: the venue
// adapter, the observer chain in front of the strategy and any bus relays.
package trader

import (
	"context"
	"errors"
	"fmt"

	"github.com/gregtusar/tradecore/pkg/bus"
	"github.com/gregtusar/tradecore/pkg/gateway"
	"github.com/gregtusar/tradecore/pkg/models"
	"github.com/gregtusar/tradecore/pkg/portfolio"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type Options struct {
	Registry  *Registry
	Portfolio *portfolio.Manager
	Bus       *bus.Bus
	// Observers run after the portfolio and before the strategy.
	Observers []gateway.Callbacks
	Logger    *logrus.Logger
}

// Starter is implemented by live adapters that own background connections.
type Starter interface {
	Start(ctx context.Context) error
}

// Closer is implemented by adapters holding resources.
type Closer interface {
	Close() error
}

// Trader forwards Gateway calls to the venue adapter it built.
type Trader struct {
	cfg    Config
	gw     gateway.Gateway
	chain  *gateway.Chain
	unsubs []func()
	logger *logrus.Logger
}

var _ gateway.Gateway = (*Trader)(nil)

// New validates cfg and wires the chain portfolio -> observers -> strategy.
// A configuration error is reported to the strategy as a PARAM_MISS state
// and returned; nothing is connected in that case.
func New(ctx context.Context, cfg Config, opts Options) (*Trader, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	log := logger.WithFields(logrus.Fields{
		"strategy": cfg.Strategy,
		"platform": cfg.Platform,
		"account":  cfg.Account,
	})

	if err := validate(cfg, opts); err != nil {
		log.WithError(err).Error("Invalid trader config")
		if cfg.Callbacks != nil {
			cfg.Callbacks.OnStateUpdate(ctx, models.NewState(cfg.Platform, cfg.Account, models.StateParamMiss, err.Error()))
		}
		return nil, err
	}

	observers := []gateway.Callbacks{}
	if opts.Portfolio != nil {
		observers = append(observers, opts.Portfolio)
	}
	observers = append(observers, opts.Observers...)
	observers = append(observers, cfg.Callbacks)
	chain := gateway.NewChain(logger, observers...)

	factory, err := opts.Registry.Lookup(cfg.Platform)
	if err != nil {
		cfg.Callbacks.OnStateUpdate(ctx, models.NewState(cfg.Platform, cfg.Account, models.StateParamMiss, err.Error()))
		return nil, err
	}
	gw, err := factory(ctx, cfg, chain, logger)
	if err != nil {
		if errors.Is(err, gateway.ErrParamMiss) {
			cfg.Callbacks.OnStateUpdate(ctx, models.NewState(cfg.Platform, cfg.Account, models.StateParamMiss, err.Error()))
		}
		return nil, fmt.Errorf("create %s gateway: %w", cfg.Platform, err)
	}

	t := &Trader{cfg: cfg, gw: gw, chain: chain, logger: logger}
	if kinds := cfg.RelayedKinds(); len(kinds) > 0 {
		for _, sym := range cfg.Symbols {
			t.unsubs = append(t.unsubs, bus.Relay(opts.Bus, chain, cfg.Platform, sym, kinds, logger))
		}
	}

	log.WithField("symbols", cfg.Symbols).Info("Trader created")
	return t, nil
}

func validate(cfg Config, opts Options) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if opts.Registry == nil {
		return fmt.Errorf("%w: gateway registry", gateway.ErrParamMiss)
	}
	if len(cfg.RelayedKinds()) > 0 && opts.Bus == nil {
		return fmt.Errorf("%w: non-direct market data needs a message bus", gateway.ErrParamMiss)
	}
	return nil
}

func (t *Trader) Config() Config           { return t.cfg }
func (t *Trader) Chain() *gateway.Chain    { return t.chain }
func (t *Trader) Gateway() gateway.Gateway { return t.gw }

// Start starts the adapter's connections, if it has any.
func (t *Trader) Start(ctx context.Context) error {
	if s, ok := t.gw.(Starter); ok {
		return s.Start(ctx)
	}
	return nil
}

// Close drops bus relays and releases the adapter.
func (t *Trader) Close() error {
	for _, u := range t.unsubs {
		u()
	}
	t.unsubs = nil
	if c, ok := t.gw.(Closer); ok {
		return c.Close()
	}
	return nil
}

func (t *Trader) GetOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	return t.gw.GetOrders(ctx, symbol)
}

func (t *Trader) GetAssets(ctx context.Context) (models.Asset, error) {
	return t.gw.GetAssets(ctx)
}

func (t *Trader) GetPosition(ctx context.Context, symbol string) (models.Position, error) {
	return t.gw.GetPosition(ctx, symbol)
}

func (t *Trader) GetSymbolInfo(ctx context.Context, symbol string) (models.SymbolInfo, error) {
	return t.gw.GetSymbolInfo(ctx, symbol)
}

func (t *Trader) CreateOrder(ctx context.Context, symbol string, action models.Action, price, quantity decimal.Decimal, orderType models.OrderType) (string, error) {
	orderNo, err := t.gw.CreateOrder(ctx, symbol, action, price, quantity, orderType)
	if err != nil {
		t.logger.WithError(err).WithFields(logrus.Fields{
			"platform": t.cfg.Platform,
			"symbol":   symbol,
			"action":   action,
			"price":    price.String(),
			"quantity": quantity.String(),
		}).Warn("Create order failed")
	}
	return orderNo, err
}

func (t *Trader) RevokeOrder(ctx context.Context, symbol string, orderNos ...string) (gateway.RevokeResult, error) {
	return t.gw.RevokeOrder(ctx, symbol, orderNos...)
}

func (t *Trader) InvalidIndicate(ctx context.Context, symbol string, kind gateway.IndicateKind) (bool, error) {
	return t.gw.InvalidIndicate(ctx, symbol, kind)
}
