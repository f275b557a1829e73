package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SymbolInfo is the static precision and limit metadata of a trading pair.
type SymbolInfo struct {
	Platform           string          `json:"platform"`
	Symbol             string          `json:"symbol"`
	PriceTick          decimal.Decimal `json:"price_tick"`
	SizeTick           decimal.Decimal `json:"size_tick"`
	SizeLimit          decimal.Decimal `json:"size_limit"`
	ValueTick          decimal.Decimal `json:"value_tick"`
	ValueLimit         decimal.Decimal `json:"value_limit"`
	BaseCurrency       string          `json:"base_currency"`
	QuoteCurrency      string          `json:"quote_currency"`
	SettlementCurrency string          `json:"settlement_currency"`
}

// ValidateOrder checks tick multiples and minimums. refPrice is used for the
// notional check of market orders, which carry no price of their own.
func (s SymbolInfo) ValidateOrder(orderType OrderType, price, quantity, refPrice decimal.Decimal) error {
	if !quantity.IsPositive() {
		return fmt.Errorf("%s: quantity %s must be positive", s.Symbol, quantity)
	}
	if !onTick(quantity, s.SizeTick) {
		return fmt.Errorf("%s: quantity %s is not a multiple of size tick %s", s.Symbol, quantity, s.SizeTick)
	}
	if s.SizeLimit.IsPositive() && quantity.LessThan(s.SizeLimit) {
		return fmt.Errorf("%s: quantity %s below minimum %s", s.Symbol, quantity, s.SizeLimit)
	}

	value := quantity.Mul(refPrice)
	if orderType != OrderTypeMarket {
		if !price.IsPositive() {
			return fmt.Errorf("%s: price %s must be positive", s.Symbol, price)
		}
		if !onTick(price, s.PriceTick) {
			return fmt.Errorf("%s: price %s is not a multiple of price tick %s", s.Symbol, price, s.PriceTick)
		}
		value = quantity.Mul(price)
	}
	if s.ValueLimit.IsPositive() && value.LessThan(s.ValueLimit) {
		return fmt.Errorf("%s: order value %s below minimum %s", s.Symbol, value, s.ValueLimit)
	}
	return nil
}

// RoundValue truncates a quote amount down to the value tick.
func (s SymbolInfo) RoundValue(v decimal.Decimal) decimal.Decimal {
	if !s.ValueTick.IsPositive() {
		return v
	}
	return v.Div(s.ValueTick).Floor().Mul(s.ValueTick)
}

func onTick(v, tick decimal.Decimal) bool {
	if !tick.IsPositive() {
		return true
	}
	return v.Mod(tick).IsZero()
}
