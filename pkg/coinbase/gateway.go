package coinbase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gregtusar/tradecore/pkg/bus"
	"github.com/gregtusar/tradecore/pkg/conn"
	"github.com/gregtusar/tradecore/pkg/gateway"
	"github.com/gregtusar/tradecore/pkg/models"
	"github.com/gregtusar/tradecore/pkg/trader"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const Platform = "coinbase"

type directFeeds struct {
	kline     bool
	orderbook bool
	trade     bool
	ticker    bool
}

// Gateway is the live Coinbase Advanced Trade adapter. REST calls run on the
// caller's goroutine; every callback is delivered through one Loop.
type Gateway struct {
	cfg      trader.Config
	cb       gateway.Callbacks
	auth     Authenticator
	client   *Client
	ws       *conn.WebSocket
	loop     *gateway.Loop
	products []string
	direct   directFeeds
	books    *books
	tracker  *tracker
	logger   *logrus.Logger
	log      *logrus.Entry

	mu     sync.Mutex
	infos  map[string]models.SymbolInfo
	runCtx context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

var _ gateway.Gateway = (*Gateway)(nil)

// Factory builds Gateways for the trader registry.
func Factory() trader.Factory {
	return func(ctx context.Context, cfg trader.Config, cb gateway.Callbacks, logger *logrus.Logger) (gateway.Gateway, error) {
		return NewGateway(cfg, cb, logger)
	}
}

func NewGateway(cfg trader.Config, cb gateway.Callbacks, logger *logrus.Logger) (*Gateway, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: coinbase needs access_key and secret_key", gateway.ErrParamMiss)
	}
	auth, err := NewAuthenticator(cfg.AccessKey, cfg.SecretKey, cfg.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrParamMiss, err)
	}

	g := &Gateway{
		cfg:     cfg,
		cb:      cb,
		auth:    auth,
		client:  NewClient(cfg.Host, auth, logger),
		loop:    gateway.NewLoop(),
		books:   newBooks(),
		tracker: newTracker(),
		logger:  logger,
		log: logger.WithFields(logrus.Fields{
			"platform": cfg.Platform,
			"account":  cfg.Account,
		}),
		infos:  make(map[string]models.SymbolInfo),
		runCtx: context.Background(),
		direct: directFeeds{
			kline:     cfg.Direct(bus.KindKline),
			orderbook: cfg.Direct(bus.KindOrderbook),
			trade:     cfg.Direct(bus.KindTrade),
			ticker:    cfg.Direct(bus.KindTicker),
		},
	}
	for _, s := range cfg.Symbols {
		g.products = append(g.products, productOf(s))
	}

	wss := cfg.WSS
	if wss == "" {
		wss = DefaultWSS
	}
	g.ws = conn.NewWebSocket(conn.Config{
		Platform:    cfg.Platform,
		Account:     cfg.Account,
		URL:         wss,
		NeedsAuth:   true,
		OnConnected: g.onConnected,
		OnMessage:   g.onMessage,
		OnState:     g.onState,
	}, logger)

	g.log.WithField("auth", auth.Type()).Info("Coinbase gateway created")
	return g, nil
}

// Start connects the websocket. It returns immediately; progress is reported
// through state callbacks.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.done != nil {
		g.mu.Unlock()
		return errors.New("coinbase gateway already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	g.runCtx, g.cancel = runCtx, cancel
	g.done = make(chan struct{})
	g.mu.Unlock()

	go func() {
		defer close(g.done)
		if err := g.ws.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			g.log.WithError(err).Error("Websocket stopped")
		}
	}()

	if g.cfg.EnableAssetUpdate {
		go g.refreshAssets(runCtx)
	}
	return nil
}

func (g *Gateway) Close() error {
	g.mu.Lock()
	cancel, done := g.cancel, g.done
	g.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	g.loop.Close()
	return nil
}

func (g *Gateway) context() context.Context {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.runCtx
}

// dispatch runs fn on the loop and waits for it, so a slow strategy slows
// the socket that feeds it.
func (g *Gateway) dispatch(fn func()) {
	done := make(chan struct{})
	if !g.loop.Post(func() {
		defer close(done)
		fn()
	}) {
		return
	}
	<-done
}

// post queues fn without waiting. Used where the caller may itself be a
// callback running on the loop.
func (g *Gateway) post(fn func()) {
	g.loop.Post(fn)
}

func (g *Gateway) onState(st models.State) {
	ctx := g.context()
	g.post(func() { g.cb.OnStateUpdate(ctx, st) })
}

func (g *Gateway) refreshAssets(ctx context.Context) {
	asset, err := g.GetAssets(ctx)
	if err != nil {
		g.log.WithError(err).Warn("Failed to refresh assets")
		g.ws.Machine().Error(fmt.Sprintf("refresh assets: %v", err))
		return
	}
	g.post(func() { g.cb.OnAssetUpdate(ctx, asset) })
}

func (g *Gateway) GetOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	raw, err := g.client.ListOpenOrders(ctx, productOf(symbol))
	if err != nil {
		return nil, err
	}
	out := make([]models.Order, 0, len(raw))
	for _, o := range raw {
		out = append(out, executionFromREST(g.cfg, o).order)
	}
	return out, nil
}

func (g *Gateway) GetAssets(ctx context.Context) (models.Asset, error) {
	accounts, err := g.client.ListAccounts(ctx)
	if err != nil {
		return models.Asset{}, err
	}
	asset := models.Asset{
		Platform:  g.cfg.Platform,
		Account:   g.cfg.Account,
		Assets:    make(map[string]models.Balance, len(accounts)),
		Timestamp: time.Now().UnixMilli(),
		Updated:   true,
	}
	for _, a := range accounts {
		free, hold := dec(a.AvailableBalance.Value), dec(a.Hold.Value)
		if free.IsZero() && hold.IsZero() {
			continue
		}
		asset.Assets[a.Currency] = models.NewBalance(free, hold)
	}
	return asset, nil
}

func (g *Gateway) GetPosition(context.Context, string) (models.Position, error) {
	return models.Position{}, gateway.ErrNotImplemented
}

func (g *Gateway) GetSymbolInfo(ctx context.Context, symbol string) (models.SymbolInfo, error) {
	g.mu.Lock()
	info, ok := g.infos[symbol]
	g.mu.Unlock()
	if ok {
		return info, nil
	}

	p, err := g.client.GetProduct(ctx, productOf(symbol))
	if IsNotFound(err) {
		return models.SymbolInfo{}, fmt.Errorf("%w: %s", gateway.ErrSymbolNotFound, symbol)
	}
	if err != nil {
		return models.SymbolInfo{}, err
	}
	info = g.symbolInfoFromProduct(symbol, p)

	g.mu.Lock()
	g.infos[symbol] = info
	g.mu.Unlock()
	return info, nil
}

func (g *Gateway) CreateOrder(ctx context.Context, symbol string, action models.Action, price, quantity decimal.Decimal, orderType models.OrderType) (string, error) {
	if !g.ws.Machine().Ready() {
		return "", gateway.ErrNotReady
	}
	info, err := g.GetSymbolInfo(ctx, symbol)
	if err != nil {
		return "", err
	}

	ref := price
	if orderType == models.OrderTypeMarket {
		p, err := g.client.GetProduct(ctx, productOf(symbol))
		if err != nil {
			return "", err
		}
		ref = dec(p.Price)
	}
	if err := info.ValidateOrder(orderType, price, quantity, ref); err != nil {
		return "", fmt.Errorf("%w: %v", gateway.ErrInvalidOrder, err)
	}

	req := createOrderRequest{
		ClientOrderID: uuid.NewString(),
		ProductID:     productOf(symbol),
		Side:          string(action),
	}
	switch orderType {
	case models.OrderTypeLimit:
		req.Configuration.LimitGTC = &limitGTC{BaseSize: quantity.String(), LimitPrice: price.String()}
	case models.OrderTypeIOC:
		req.Configuration.LimitIOC = &limitIOC{BaseSize: quantity.String(), LimitPrice: price.String()}
	case models.OrderTypeMarket:
		req.Configuration.MarketIOC = &marketIOC{BaseSize: quantity.String()}
	default:
		return "", fmt.Errorf("%w: order type %s", gateway.ErrInvalidOrder, orderType)
	}

	resp, err := g.client.CreateOrder(ctx, req)
	if err != nil {
		return "", err
	}
	if !resp.Success {
		e := resp.ErrorResponse
		reason := strings.Join([]string{e.Error, e.PreviewFailureReason, e.NewOrderFailureReason, e.Message}, " ")
		if strings.Contains(reason, "INSUFFICIENT_FUND") {
			return "", fmt.Errorf("%w: %s", gateway.ErrInsufficientBalance, strings.TrimSpace(reason))
		}
		return "", fmt.Errorf("%w: %s", gateway.ErrInvalidOrder, strings.TrimSpace(reason))
	}

	orderNo := resp.SuccessResponse.OrderID
	g.tracker.expect(orderNo, orderType)
	g.log.WithFields(logrus.Fields{
		"symbol":   symbol,
		"order_no": orderNo,
		"action":   action,
		"price":    price,
		"quantity": quantity,
		"type":     orderType,
	}).Info("Order placed")
	return orderNo, nil
}

func (g *Gateway) RevokeOrder(ctx context.Context, symbol string, orderNos ...string) (gateway.RevokeResult, error) {
	return gateway.Revoke(orderNos,
		func() ([]gateway.RevokeItem, error) {
			open, err := g.client.ListOpenOrders(ctx, productOf(symbol))
			if err != nil {
				return nil, err
			}
			if len(open) == 0 {
				return nil, nil
			}
			ids := make([]string, 0, len(open))
			for _, o := range open {
				ids = append(ids, o.OrderID)
			}
			results, err := g.client.BatchCancel(ctx, ids)
			if err != nil {
				return nil, err
			}
			items := make([]gateway.RevokeItem, 0, len(results))
			for _, r := range results {
				items = append(items, gateway.RevokeItem{OrderNo: r.OrderID, Err: cancelErr(r)})
			}
			return items, nil
		},
		func(orderNo string) error {
			results, err := g.client.BatchCancel(ctx, []string{orderNo})
			if err != nil {
				return err
			}
			if len(results) == 0 {
				return fmt.Errorf("%w: %s", gateway.ErrOrderNotFound, orderNo)
			}
			return cancelErr(results[0])
		})
}

func cancelErr(r cancelResult) error {
	switch {
	case r.Success:
		return nil
	case r.FailureReason == "UNKNOWN_CANCEL_ORDER":
		return fmt.Errorf("%w: %s", gateway.ErrOrderNotFound, r.OrderID)
	default:
		return fmt.Errorf("cancel %s: %s", r.OrderID, r.FailureReason)
	}
}

// InvalidIndicate refetches orders or balances over REST and re-delivers
// them. Deliveries are queued, so it is safe to call from a callback.
func (g *Gateway) InvalidIndicate(ctx context.Context, symbol string, kind gateway.IndicateKind) (bool, error) {
	switch kind {
	case gateway.IndicateOrder:
		raw, err := g.client.ListOpenOrders(ctx, productOf(symbol))
		if err != nil {
			return false, err
		}
		for _, o := range raw {
			ord, fill, ok := g.tracker.observe(executionFromREST(g.cfg, o), true)
			if !ok {
				continue
			}
			g.post(func() { g.cb.OnOrderUpdate(ctx, ord) })
			if fill != nil && g.cfg.EnableFillUpdate {
				f := *fill
				g.post(func() { g.cb.OnFillUpdate(ctx, f) })
			}
		}
		return true, nil
	case gateway.IndicateAsset:
		asset, err := g.GetAssets(ctx)
		if err != nil {
			return false, err
		}
		g.post(func() { g.cb.OnAssetUpdate(ctx, asset) })
		return true, nil
	default:
		return false, gateway.ErrNotImplemented
	}
}
