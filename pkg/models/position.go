package models

import (
	"github.com/shopspring/decimal"
)

type MarginMode string

const (
	MarginModeCrossed MarginMode = "crossed"
	MarginModeFixed   MarginMode = "fixed"
)

// Position tracks long and short legs independently.
type Position struct {
	Platform   string     `json:"platform"`
	Account    string     `json:"account"`
	Strategy   string     `json:"strategy"`
	Symbol     string     `json:"symbol"`
	MarginMode MarginMode `json:"margin_mode"`

	LongQuantity    decimal.Decimal `json:"long_quantity"`
	LongAvgQty      decimal.Decimal `json:"long_avail_qty"`
	LongOpenPrice   decimal.Decimal `json:"long_open_price"`
	LongHoldPrice   decimal.Decimal `json:"long_hold_price"`
	LongLiquidPrice decimal.Decimal `json:"long_liquid_price"`
	LongUnrealPnl   decimal.Decimal `json:"long_unrealised_pnl"`
	LongLeverage    decimal.Decimal `json:"long_leverage"`
	LongMargin      decimal.Decimal `json:"long_margin"`

	ShortQuantity    decimal.Decimal `json:"short_quantity"`
	ShortAvgQty      decimal.Decimal `json:"short_avail_qty"`
	ShortOpenPrice   decimal.Decimal `json:"short_open_price"`
	ShortHoldPrice   decimal.Decimal `json:"short_hold_price"`
	ShortLiquidPrice decimal.Decimal `json:"short_liquid_price"`
	ShortUnrealPnl   decimal.Decimal `json:"short_unrealised_pnl"`
	ShortLeverage    decimal.Decimal `json:"short_leverage"`
	ShortMargin      decimal.Decimal `json:"short_margin"`

	Utime int64 `json:"utime"`
}

// Flat reports whether neither leg holds quantity.
func (p Position) Flat() bool {
	return p.LongQuantity.IsZero() && p.ShortQuantity.IsZero()
}
