package backtest

import (
	"context"
	"fmt"

	"github.com/gregtusar/tradecore/pkg/gateway"
	"github.com/gregtusar/tradecore/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Fees are commission rates, e.g. 0.001 for 10 bps.
type Fees struct {
	Maker decimal.Decimal
	Taker decimal.Decimal
}

type resting struct {
	order     models.Order
	lockCcy   string
	lockedAmt decimal.Decimal
}

// MatchEngine simulates one symbol of a venue at kline granularity: every
// fill is full size, resting orders are scanned in insertion order.
type MatchEngine struct {
	platform string
	account  string
	strategy string
	info     models.SymbolInfo
	ledger   *Ledger
	fees     Fees
	clock    *Clock
	cb       gateway.Callbacks
	nextNo   func() string
	logger   *logrus.Logger

	book  []*resting
	fills map[string]int
	last  *models.Kline
}

type engineConfig struct {
	Platform    string
	Account     string
	Strategy    string
	Info        models.SymbolInfo
	Ledger      *Ledger
	Fees        Fees
	Clock       *Clock
	Callbacks   gateway.Callbacks
	NextOrderNo func() string
	Logger      *logrus.Logger
}

func newMatchEngine(c engineConfig) *MatchEngine {
	return &MatchEngine{
		platform: c.Platform,
		account:  c.Account,
		strategy: c.Strategy,
		info:     c.Info,
		ledger:   c.Ledger,
		fees:     c.Fees,
		clock:    c.Clock,
		cb:       c.Callbacks,
		nextNo:   c.NextOrderNo,
		logger:   c.Logger,
		fills:    make(map[string]int),
	}
}

// LastKline returns the most recent kline seen by the engine.
func (m *MatchEngine) LastKline() (models.Kline, bool) {
	if m.last == nil {
		return models.Kline{}, false
	}
	return *m.last, true
}

// Orders returns the resting orders in book order.
func (m *MatchEngine) Orders() []models.Order {
	out := make([]models.Order, 0, len(m.book))
	for _, r := range m.book {
		out = append(out, r.order)
	}
	return out
}

func crosses(action models.Action, price, last decimal.Decimal) bool {
	if action == models.ActionBuy {
		return price.GreaterThanOrEqual(last)
	}
	return price.LessThanOrEqual(last)
}

// CreateOrder validates, checks balance, then fills, rests or cancels the
// order. A rejected order leaves no trace and triggers no callback.
func (m *MatchEngine) CreateOrder(ctx context.Context, action models.Action, price, quantity decimal.Decimal, orderType models.OrderType) (string, error) {
	if action != models.ActionBuy && action != models.ActionSell {
		return "", fmt.Errorf("%w: unknown action %q", gateway.ErrInvalidOrder, action)
	}
	switch orderType {
	case models.OrderTypeLimit, models.OrderTypeMarket, models.OrderTypeIOC:
	default:
		return "", fmt.Errorf("%w: unknown order type %q", gateway.ErrInvalidOrder, orderType)
	}

	if m.last == nil {
		return "", fmt.Errorf("%w: no market data for %s yet", gateway.ErrNotReady, m.info.Symbol)
	}
	last := m.last.Close
	if err := m.info.ValidateOrder(orderType, price, quantity, last); err != nil {
		return "", fmt.Errorf("%w: %v", gateway.ErrInvalidOrder, err)
	}

	immediate := orderType == models.OrderTypeMarket || crosses(action, price, last)

	// Immediate fills trade at the close; resting orders reserve at their limit.
	execPrice := price
	if immediate {
		execPrice = last
	}
	if err := m.checkBalance(action, execPrice, quantity); err != nil {
		return "", err
	}

	now := m.clock.Now()
	o := models.Order{
		Platform:  m.platform,
		Account:   m.account,
		Strategy:  m.strategy,
		OrderNo:   m.nextNo(),
		Symbol:    m.info.Symbol,
		Action:    action,
		OrderType: orderType,
		Price:     price,
		Quantity:  quantity,
		Remain:    quantity,
		Status:    models.OrderStatusNone,
		TradeType: models.TradeTypeNone,
		Ctime:     now,
		Utime:     now,
	}
	if orderType == models.OrderTypeMarket {
		o.Price = last
	}
	// Accepted orders pass through SUBMITTED; only the resting case publishes it.
	_ = o.Advance(models.OrderStatusSubmitted, now)

	log := m.logger.WithFields(logrus.Fields{
		"platform": m.platform,
		"symbol":   o.Symbol,
		"order_no": o.OrderNo,
		"action":   action,
		"type":     orderType,
		"price":    o.Price.String(),
		"quantity": quantity.String(),
	})

	switch {
	case immediate:
		log.Debug("Order fills on arrival")
		m.fill(ctx, &o, last, models.LiquidityTaker, false, decimal.Zero)
	case orderType == models.OrderTypeIOC:
		log.Debug("IOC order did not cross, canceling")
		_ = o.Advance(models.OrderStatusCanceled, now)
		m.cb.OnOrderUpdate(ctx, o)
	default:
		r, err := m.rest(o)
		if err != nil {
			return "", err
		}
		log.Debug("Order resting")
		m.cb.OnOrderUpdate(ctx, r.order)
		m.cb.OnAssetUpdate(ctx, m.ledger.Snapshot(now))
	}
	return o.OrderNo, nil
}

func (m *MatchEngine) checkBalance(action models.Action, price, quantity decimal.Decimal) error {
	if action == models.ActionBuy {
		need := price.Mul(quantity)
		if have := m.ledger.Free(m.info.QuoteCurrency); have.LessThan(need) {
			return fmt.Errorf("%w: %s free %s < %s", gateway.ErrInsufficientBalance, m.info.QuoteCurrency, have, need)
		}
		return nil
	}
	if have := m.ledger.Free(m.info.BaseCurrency); have.LessThan(quantity) {
		return fmt.Errorf("%w: %s free %s < %s", gateway.ErrInsufficientBalance, m.info.BaseCurrency, have, quantity)
	}
	return nil
}

func (m *MatchEngine) rest(o models.Order) (*resting, error) {
	r := &resting{order: o}
	if o.Action == models.ActionBuy {
		r.lockCcy = m.info.QuoteCurrency
		r.lockedAmt = o.Price.Mul(o.Quantity)
	} else {
		r.lockCcy = m.info.BaseCurrency
		r.lockedAmt = o.Quantity
	}
	if err := m.ledger.Lock(r.lockCcy, r.lockedAmt); err != nil {
		return nil, err
	}
	if err := r.order.Advance(models.OrderStatusSubmitted, o.Ctime); err != nil {
		m.ledger.Unlock(r.lockCcy, r.lockedAmt)
		return nil, err
	}
	m.book = append(m.book, r)
	return r, nil
}

// fill settles a full-size execution and emits Order, Fill and Asset in
// that order. fromLocked selects whether the given-up side comes out of the
// order's reservation.
func (m *MatchEngine) fill(ctx context.Context, o *models.Order, price decimal.Decimal, liq models.Liquidity, fromLocked bool, locked decimal.Decimal) {
	rate := m.fees.Taker
	if liq == models.LiquidityMaker {
		rate = m.fees.Maker
	}
	qty := o.Remain
	value := price.Mul(qty)
	base, quote := m.info.BaseCurrency, m.info.QuoteCurrency

	var fee decimal.Decimal
	var err error
	if o.Action == models.ActionBuy {
		if fromLocked {
			err = m.ledger.DebitLocked(quote, value)
			m.ledger.Unlock(quote, locked.Sub(value))
		} else {
			err = m.ledger.Debit(quote, value)
		}
		fee = qty.Mul(rate)
		m.ledger.Credit(base, qty.Sub(fee))
	} else {
		if fromLocked {
			err = m.ledger.DebitLocked(base, qty)
			m.ledger.Unlock(base, locked.Sub(qty))
		} else {
			err = m.ledger.Debit(base, qty)
		}
		fee = value.Mul(rate)
		m.ledger.Credit(quote, value.Sub(fee))
	}
	if err != nil {
		// Balance was checked or reserved before; reaching this is a ledger bug.
		m.logger.WithError(err).WithField("order_no", o.OrderNo).Error("Ledger settlement failed")
	}

	now := m.clock.Now()
	o.Remain = decimal.Zero
	o.AvgPrice = price
	if err := o.Advance(models.OrderStatusFilled, now); err != nil {
		m.logger.WithError(err).Error("Order transition rejected")
	}

	m.fills[o.OrderNo]++
	f := models.Fill{
		Platform:  m.platform,
		Account:   m.account,
		Symbol:    o.Symbol,
		Strategy:  o.Strategy,
		OrderNo:   o.OrderNo,
		FillNo:    fmt.Sprintf("%s-%d", o.OrderNo, m.fills[o.OrderNo]),
		Price:     price,
		Quantity:  qty,
		Side:      o.Action,
		Liquidity: liq,
		Fee:       fee,
		Ctime:     now,
	}

	m.cb.OnOrderUpdate(ctx, *o)
	m.cb.OnFillUpdate(ctx, f)
	m.cb.OnAssetUpdate(ctx, m.ledger.Snapshot(now))
}

// OnKline records the bar and fills every resting order its close crosses.
// Orders canceled by a callback during the scan are skipped; orders placed
// during the scan wait for the next bar.
func (m *MatchEngine) OnKline(ctx context.Context, k models.Kline) {
	kc := k
	m.last = &kc

	for _, r := range append([]*resting(nil), m.book...) {
		if m.find(r.order.OrderNo) == nil {
			continue
		}
		if !crosses(r.order.Action, r.order.Price, k.Close) {
			continue
		}
		m.remove(r.order.OrderNo)
		m.fill(ctx, &r.order, r.order.Price, models.LiquidityMaker, true, r.lockedAmt)
	}
}

func (m *MatchEngine) remove(orderNo string) bool {
	for i, r := range m.book {
		if r.order.OrderNo == orderNo {
			m.book = append(m.book[:i], m.book[i+1:]...)
			return true
		}
	}
	return false
}

func (m *MatchEngine) find(orderNo string) *resting {
	for _, r := range m.book {
		if r.order.OrderNo == orderNo {
			return r
		}
	}
	return nil
}

// Cancel removes one resting order and releases its reservation.
func (m *MatchEngine) Cancel(ctx context.Context, orderNo string) error {
	r := m.find(orderNo)
	if r == nil {
		return fmt.Errorf("%w: %s", gateway.ErrOrderNotFound, orderNo)
	}
	m.remove(orderNo)
	m.ledger.Unlock(r.lockCcy, r.lockedAmt)

	now := m.clock.Now()
	if err := r.order.Advance(models.OrderStatusCanceled, now); err != nil {
		m.logger.WithError(err).Error("Order transition rejected")
	}
	m.cb.OnOrderUpdate(ctx, r.order)
	m.cb.OnAssetUpdate(ctx, m.ledger.Snapshot(now))
	return nil
}

// CancelAll cancels every resting order in book order.
func (m *MatchEngine) CancelAll(ctx context.Context) []gateway.RevokeItem {
	nos := make([]string, 0, len(m.book))
	for _, r := range m.book {
		nos = append(nos, r.order.OrderNo)
	}
	items := make([]gateway.RevokeItem, 0, len(nos))
	for _, no := range nos {
		items = append(items, gateway.RevokeItem{OrderNo: no, Err: m.Cancel(ctx, no)})
	}
	return items
}
