// Package portfolio keeps the process-local view of assets, positions,
// orders and fills, fed by intercepting gateway callbacks.
package portfolio

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/gregtusar/tradecore/pkg/gateway"
	"github.com/gregtusar/tradecore/pkg/models"
	"github.com/zeebo/xxh3"
)

// Key identifies a cache slot. It is the xxh3 hash of the joined parts.
type Key uint64

func key(parts ...string) Key {
	return Key(xxh3.HashString(strings.Join(parts, "\x00")))
}

// Manager is advisory: strategies and reporting read it, venues never do.
// It must be the first observer of a callback chain so strategies see
// state that already includes the event being delivered.
type Manager struct {
	gateway.NopCallbacks

	mu        sync.RWMutex
	assets    map[Key]models.Asset
	positions map[Key]models.Position
	orders    map[Key]map[string]models.Order // (platform, account, symbol) -> order_no -> open order
	fills     map[Key][]models.Fill           // (platform, account, symbol, order_no) -> fills
}

var _ gateway.Callbacks = (*Manager)(nil)

func NewManager() *Manager {
	return &Manager{
		assets:    make(map[Key]models.Asset),
		positions: make(map[Key]models.Position),
		orders:    make(map[Key]map[string]models.Order),
		fills:     make(map[Key][]models.Fill),
	}
}

func (m *Manager) OnAssetUpdate(_ context.Context, a models.Asset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets[key(a.Platform, a.Account)] = a.Clone()
}

func (m *Manager) OnPositionUpdate(_ context.Context, p models.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[key(p.Platform, p.Account, p.Symbol)] = p
}

// OnOrderUpdate caches open orders and evicts terminal ones.
func (m *Manager) OnOrderUpdate(_ context.Context, o models.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(o.Platform, o.Account, o.Symbol)
	book := m.orders[k]
	if o.Status.IsTerminal() {
		delete(book, o.OrderNo)
		if len(book) == 0 {
			delete(m.orders, k)
		}
		return
	}
	if book == nil {
		book = make(map[string]models.Order)
		m.orders[k] = book
	}
	book[o.OrderNo] = o
}

func (m *Manager) OnFillUpdate(_ context.Context, f models.Fill) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(f.Platform, f.Account, f.Symbol, f.OrderNo)
	m.fills[k] = append(m.fills[k], f)
}

// Asset returns the latest asset snapshot or a zero value.
func (m *Manager) Asset(platform, account string) models.Asset {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assets[key(platform, account)]
	if !ok {
		return models.Asset{Platform: platform, Account: account, Assets: map[string]models.Balance{}}
	}
	return a.Clone()
}

func (m *Manager) Position(platform, account, symbol string) models.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[key(platform, account, symbol)]
	if !ok {
		return models.Position{Platform: platform, Account: account, Symbol: symbol}
	}
	return p
}

// Orders returns the open orders of a symbol sorted by creation time.
func (m *Manager) Orders(platform, account, symbol string) []models.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	book := m.orders[key(platform, account, symbol)]
	out := make([]models.Order, 0, len(book))
	for _, o := range book {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ctime == out[j].Ctime {
			return out[i].OrderNo < out[j].OrderNo
		}
		return out[i].Ctime < out[j].Ctime
	})
	return out
}

// Order returns one open order. ok is false once it reached a terminal state.
func (m *Manager) Order(platform, account, symbol, orderNo string) (models.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[key(platform, account, symbol)][orderNo]
	return o, ok
}

func (m *Manager) Fills(platform, account, symbol, orderNo string) []models.Fill {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Fill(nil), m.fills[key(platform, account, symbol, orderNo)]...)
}

// LatestFill returns the most recent fill of an order.
func (m *Manager) LatestFill(platform, account, symbol, orderNo string) (models.Fill, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fills := m.fills[key(platform, account, symbol, orderNo)]
	if len(fills) == 0 {
		return models.Fill{}, false
	}
	return fills[len(fills)-1], true
}

// Snapshot is a point-in-time copy of everything the manager holds.
type Snapshot struct {
	Assets    []models.Asset    `json:"assets"`
	Positions []models.Position `json:"positions"`
	Orders    []models.Order    `json:"orders"`
	Fills     []models.Fill     `json:"fills"`
}

// Snapshot copies the cache. Slices are ordered for stable output.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		Assets:    make([]models.Asset, 0, len(m.assets)),
		Positions: make([]models.Position, 0, len(m.positions)),
		Orders:    []models.Order{},
		Fills:     []models.Fill{},
	}
	for _, a := range m.assets {
		snap.Assets = append(snap.Assets, a.Clone())
	}
	for _, p := range m.positions {
		snap.Positions = append(snap.Positions, p)
	}
	for _, book := range m.orders {
		for _, o := range book {
			snap.Orders = append(snap.Orders, o)
		}
	}
	for _, fills := range m.fills {
		snap.Fills = append(snap.Fills, fills...)
	}

	sort.Slice(snap.Assets, func(i, j int) bool {
		return snap.Assets[i].Platform+snap.Assets[i].Account < snap.Assets[j].Platform+snap.Assets[j].Account
	})
	sort.Slice(snap.Positions, func(i, j int) bool {
		a, b := snap.Positions[i], snap.Positions[j]
		return a.Platform+a.Account+a.Symbol < b.Platform+b.Account+b.Symbol
	})
	sort.Slice(snap.Orders, func(i, j int) bool {
		if snap.Orders[i].Ctime == snap.Orders[j].Ctime {
			return snap.Orders[i].OrderNo < snap.Orders[j].OrderNo
		}
		return snap.Orders[i].Ctime < snap.Orders[j].Ctime
	})
	sort.Slice(snap.Fills, func(i, j int) bool {
		if snap.Fills[i].Ctime == snap.Fills[j].Ctime {
			return snap.Fills[i].FillNo < snap.Fills[j].FillNo
		}
		return snap.Fills[i].Ctime < snap.Fills[j].Ctime
	})
	return snap
}
