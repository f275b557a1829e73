package models

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

type Balance struct {
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
	Total  decimal.Decimal `json:"total"`
}

// NewBalance derives Total from Free and Locked.
func NewBalance(free, locked decimal.Decimal) Balance {
	return Balance{Free: free, Locked: locked, Total: free.Add(locked)}
}

type Asset struct {
	Platform  string             `json:"platform"`
	Account   string             `json:"account"`
	Assets    map[string]Balance `json:"assets"`
	Timestamp int64              `json:"timestamp"`
	Updated   bool               `json:"updated"`
}

// Get returns the balance of currency, zero if absent.
func (a Asset) Get(currency string) Balance {
	return a.Assets[currency]
}

// Currencies returns the held currencies in lexical order.
func (a Asset) Currencies() []string {
	out := make([]string, 0, len(a.Assets))
	for c := range a.Assets {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Check verifies free + locked == total for every currency.
func (a Asset) Check() error {
	for _, c := range a.Currencies() {
		b := a.Assets[c]
		if !b.Free.Add(b.Locked).Equal(b.Total) {
			return fmt.Errorf("asset %s/%s %s: free %s + locked %s != total %s",
				a.Platform, a.Account, c, b.Free, b.Locked, b.Total)
		}
	}
	return nil
}

// Clone deep-copies the balance map so callers can't alias ledger state.
func (a Asset) Clone() Asset {
	out := a
	out.Assets = make(map[string]Balance, len(a.Assets))
	for k, v := range a.Assets {
		out.Assets[k] = v
	}
	return out
}
