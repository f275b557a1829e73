// Package gateway defines the contract every execution venue implements and
// the callback set every strategy receives.
package gateway

import (
	"context"
	"errors"

	"github.com/gregtusar/tradecore/pkg/models"
	"github.com/shopspring/decimal"
)

var (
	ErrNotImplemented      = errors.New("not implemented")
	ErrOrderNotFound       = errors.New("order not found")
	ErrSymbolNotFound      = errors.New("symbol not found")
	ErrInvalidOrder        = errors.New("invalid order")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrParamMiss           = errors.New("param miss")
	ErrNotReady            = errors.New("gateway not ready")
)

// IndicateKind selects which private stream InvalidIndicate refreshes.
type IndicateKind string

const (
	IndicateOrder    IndicateKind = "ORDER"
	IndicateAsset    IndicateKind = "ASSET"
	IndicatePosition IndicateKind = "POSITION"
)

// Gateway is the operation set of a live or simulated venue.
type Gateway interface {
	GetOrders(ctx context.Context, symbol string) ([]models.Order, error)
	GetAssets(ctx context.Context) (models.Asset, error)
	// GetPosition fails with ErrNotImplemented on spot-only venues.
	GetPosition(ctx context.Context, symbol string) (models.Position, error)
	GetSymbolInfo(ctx context.Context, symbol string) (models.SymbolInfo, error)
	CreateOrder(ctx context.Context, symbol string, action models.Action, price, quantity decimal.Decimal, orderType models.OrderType) (string, error)
	// RevokeOrder cancels all orders of symbol when orderNos is empty, one
	// order when one id is given, and each listed order otherwise. See RevokeResult.
	RevokeOrder(ctx context.Context, symbol string, orderNos ...string) (RevokeResult, error)
	// InvalidIndicate forces a refresh and re-delivery of the matching callback.
	InvalidIndicate(ctx context.Context, symbol string, kind IndicateKind) (bool, error)
}

// Callbacks is the observer set a strategy implements. Deliverers call these
// synchronously and wait for them to return before advancing their stream.
type Callbacks interface {
	OnKlineUpdate(ctx context.Context, kline models.Kline)
	OnOrderbookUpdate(ctx context.Context, orderbook models.Orderbook)
	OnTradeUpdate(ctx context.Context, trade models.Trade)
	OnTickerUpdate(ctx context.Context, ticker models.Ticker)
	OnOrderUpdate(ctx context.Context, order models.Order)
	OnFillUpdate(ctx context.Context, fill models.Fill)
	OnPositionUpdate(ctx context.Context, position models.Position)
	OnAssetUpdate(ctx context.Context, asset models.Asset)
	OnStateUpdate(ctx context.Context, state models.State)
}

// NopCallbacks ignores everything. Embed it to implement only what you need.
type NopCallbacks struct{}

func (NopCallbacks) OnKlineUpdate(context.Context, models.Kline)         {}
func (NopCallbacks) OnOrderbookUpdate(context.Context, models.Orderbook) {}
func (NopCallbacks) OnTradeUpdate(context.Context, models.Trade)         {}
func (NopCallbacks) OnTickerUpdate(context.Context, models.Ticker)       {}
func (NopCallbacks) OnOrderUpdate(context.Context, models.Order)         {}
func (NopCallbacks) OnFillUpdate(context.Context, models.Fill)           {}
func (NopCallbacks) OnPositionUpdate(context.Context, models.Position)   {}
func (NopCallbacks) OnAssetUpdate(context.Context, models.Asset)         {}
func (NopCallbacks) OnStateUpdate(context.Context, models.State)         {}
