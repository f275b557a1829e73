package backtest

import (
	"fmt"

	"github.com/gregtusar/tradecore/pkg/gateway"
	"github.com/gregtusar/tradecore/pkg/models"
	"github.com/shopspring/decimal"
)

type holding struct {
	free   decimal.Decimal
	locked decimal.Decimal
}

// Ledger holds the simulated balances of one (platform, account). It is
// driven from the replay goroutine only.
type Ledger struct {
	platform string
	account  string
	balances map[string]*holding
}

func NewLedger(platform, account string, initial map[string]decimal.Decimal) *Ledger {
	l := &Ledger{platform: platform, account: account, balances: make(map[string]*holding)}
	for c, amt := range initial {
		l.get(c).free = amt
	}
	return l
}

func (l *Ledger) get(currency string) *holding {
	h, ok := l.balances[currency]
	if !ok {
		h = &holding{}
		l.balances[currency] = h
	}
	return h
}

func (l *Ledger) Free(currency string) decimal.Decimal {
	if h, ok := l.balances[currency]; ok {
		return h.free
	}
	return decimal.Zero
}

func (l *Ledger) Locked(currency string) decimal.Decimal {
	if h, ok := l.balances[currency]; ok {
		return h.locked
	}
	return decimal.Zero
}

// Lock moves amt from free to locked.
func (l *Ledger) Lock(currency string, amt decimal.Decimal) error {
	h := l.get(currency)
	if h.free.LessThan(amt) {
		return fmt.Errorf("%w: %s free %s < %s", gateway.ErrInsufficientBalance, currency, h.free, amt)
	}
	h.free = h.free.Sub(amt)
	h.locked = h.locked.Add(amt)
	return nil
}

// Unlock moves amt from locked back to free, capped at what is locked.
func (l *Ledger) Unlock(currency string, amt decimal.Decimal) {
	h := l.get(currency)
	if amt.GreaterThan(h.locked) {
		amt = h.locked
	}
	h.locked = h.locked.Sub(amt)
	h.free = h.free.Add(amt)
}

func (l *Ledger) Credit(currency string, amt decimal.Decimal) {
	h := l.get(currency)
	h.free = h.free.Add(amt)
}

// Debit takes amt from free.
func (l *Ledger) Debit(currency string, amt decimal.Decimal) error {
	h := l.get(currency)
	if h.free.LessThan(amt) {
		return fmt.Errorf("%w: %s free %s < %s", gateway.ErrInsufficientBalance, currency, h.free, amt)
	}
	h.free = h.free.Sub(amt)
	return nil
}

// DebitLocked takes amt from locked.
func (l *Ledger) DebitLocked(currency string, amt decimal.Decimal) error {
	h := l.get(currency)
	if h.locked.LessThan(amt) {
		return fmt.Errorf("%w: %s locked %s < %s", gateway.ErrInsufficientBalance, currency, h.locked, amt)
	}
	h.locked = h.locked.Sub(amt)
	return nil
}

// Snapshot returns the balances as an Asset with total = free + locked.
func (l *Ledger) Snapshot(ts int64) models.Asset {
	a := models.Asset{
		Platform:  l.platform,
		Account:   l.account,
		Assets:    make(map[string]models.Balance, len(l.balances)),
		Timestamp: ts,
		Updated:   true,
	}
	for c, h := range l.balances {
		a.Assets[c] = models.NewBalance(h.free, h.locked)
	}
	return a
}
