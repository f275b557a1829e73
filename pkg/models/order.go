package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Opposite returns the other side of the book.
func (a Action) Opposite() Action {
	if a == ActionBuy {
		return ActionSell
	}
	return ActionBuy
}

type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeIOC    OrderType = "IOC"
)

type OrderStatus string

const (
	OrderStatusNone          OrderStatus = "NONE"
	OrderStatusSubmitted     OrderStatus = "SUBMITTED"
	OrderStatusPartialFilled OrderStatus = "PARTIAL_FILLED"
	OrderStatusFilled        OrderStatus = "FILLED"
	OrderStatusCanceled      OrderStatus = "CANCELED"
	OrderStatusFailed        OrderStatus = "FAILED"
)

// IsTerminal reports whether no further transition is allowed.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether an order may move from s to next.
// Repeating PARTIAL_FILLED is allowed since every extra fill re-publishes it.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	switch s {
	case "", OrderStatusNone:
		return next != OrderStatusNone && next != ""
	case OrderStatusSubmitted:
		switch next {
		case OrderStatusSubmitted, OrderStatusPartialFilled, OrderStatusFilled,
			OrderStatusCanceled, OrderStatusFailed:
			return true
		}
	case OrderStatusPartialFilled:
		switch next {
		case OrderStatusPartialFilled, OrderStatusFilled, OrderStatusCanceled:
			return true
		}
	}
	return false
}

// TradeType is only meaningful for derivatives venues.
type TradeType string

const (
	TradeTypeNone      TradeType = "NONE"
	TradeTypeBuyOpen   TradeType = "BUY_OPEN"
	TradeTypeSellOpen  TradeType = "SELL_OPEN"
	TradeTypeSellClose TradeType = "SELL_CLOSE"
	TradeTypeBuyClose  TradeType = "BUY_CLOSE"
)

type Liquidity string

const (
	LiquidityMaker Liquidity = "MAKER"
	LiquidityTaker Liquidity = "TAKER"
)

type Order struct {
	Platform  string          `json:"platform"`
	Account   string          `json:"account"`
	Strategy  string          `json:"strategy"`
	OrderNo   string          `json:"order_no"`
	Symbol    string          `json:"symbol"`
	Action    Action          `json:"action"`
	OrderType OrderType       `json:"order_type"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Remain    decimal.Decimal `json:"remain"`
	Status    OrderStatus     `json:"status"`
	AvgPrice  decimal.Decimal `json:"avg_price"`
	TradeType TradeType       `json:"trade_type"`
	Ctime     int64           `json:"ctime"`
	Utime     int64           `json:"utime"`
}

// Filled returns the executed quantity.
func (o Order) Filled() decimal.Decimal {
	return o.Quantity.Sub(o.Remain)
}

// Validate checks 0 <= remain <= quantity.
func (o Order) Validate() error {
	if o.Remain.IsNegative() || o.Remain.GreaterThan(o.Quantity) {
		return fmt.Errorf("order %s: remain %s outside [0, %s]", o.OrderNo, o.Remain, o.Quantity)
	}
	return nil
}

// Advance moves the order to next, rejecting illegal transitions.
func (o *Order) Advance(next OrderStatus, utime int64) error {
	if !o.Status.CanTransition(next) {
		return fmt.Errorf("order %s: illegal status transition %s -> %s", o.OrderNo, o.Status, next)
	}
	o.Status = next
	o.Utime = utime
	return nil
}

func (o Order) String() string {
	return fmt.Sprintf("[%s/%s] %s %s %s %s@%s remain=%s status=%s",
		o.Platform, o.Account, o.OrderNo, o.Symbol, o.Action, o.Quantity, o.Price, o.Remain, o.Status)
}

// Fill is a single execution against an Order. It is never mutated once published.
type Fill struct {
	Platform  string          `json:"platform"`
	Account   string          `json:"account"`
	Symbol    string          `json:"symbol"`
	Strategy  string          `json:"strategy"`
	OrderNo   string          `json:"order_no"`
	FillNo    string          `json:"fill_no"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Side      Action          `json:"side"`
	Liquidity Liquidity       `json:"liquidity"`
	Fee       decimal.Decimal `json:"fee"`
	Ctime     int64           `json:"ctime"`
}
