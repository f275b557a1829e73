package models

import (
	"github.com/shopspring/decimal"
)

// KlineType is the bar interval, e.g. "kline_1m".
type KlineType string

const (
	KlineType1m  KlineType = "kline_1m"
	KlineType5m  KlineType = "kline_5m"
	KlineType15m KlineType = "kline_15m"
	KlineType1h  KlineType = "kline_1h"
)

type Kline struct {
	Platform  string          `json:"platform"`
	Symbol    string          `json:"symbol"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp int64           `json:"timestamp"`
	KlineType KlineType       `json:"kline_type"`
}

type Level struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

type Orderbook struct {
	Platform  string  `json:"platform"`
	Symbol    string  `json:"symbol"`
	Asks      []Level `json:"asks"`
	Bids      []Level `json:"bids"`
	Timestamp int64   `json:"timestamp"`
}

// BestBid returns the top bid, if any.
func (o Orderbook) BestBid() (Level, bool) {
	if len(o.Bids) == 0 {
		return Level{}, false
	}
	return o.Bids[0], true
}

// BestAsk returns the top ask, if any.
func (o Orderbook) BestAsk() (Level, bool) {
	if len(o.Asks) == 0 {
		return Level{}, false
	}
	return o.Asks[0], true
}

type Trade struct {
	Platform  string          `json:"platform"`
	Symbol    string          `json:"symbol"`
	Action    Action          `json:"action"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Timestamp int64           `json:"timestamp"`
}

type Ticker struct {
	Platform  string          `json:"platform"`
	Symbol    string          `json:"symbol"`
	Ask       decimal.Decimal `json:"ask"`
	AskSize   decimal.Decimal `json:"ask_size"`
	Bid       decimal.Decimal `json:"bid"`
	BidSize   decimal.Decimal `json:"bid_size"`
	Last      decimal.Decimal `json:"last"`
	Volume24h decimal.Decimal `json:"volume_24h"`
	Timestamp int64           `json:"timestamp"`
}
