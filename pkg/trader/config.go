package trader

import (
	"fmt"
	"strings"

	"github.com/gregtusar/tradecore/pkg/bus"
	"github.com/gregtusar/tradecore/pkg/gateway"
)

// Config describes one (platform, account) a strategy trades on.
//
// Enable*Update selects which streams reach the strategy. Market streams
// arrive straight from the venue when the matching Direct*Update is set and
// through the bus otherwise.
type Config struct {
	Strategy   string
	Platform   string
	Account    string
	AccessKey  string
	SecretKey  string
	Passphrase string
	Symbols    []string
	Host       string
	WSS        string

	EnableKlineUpdate     bool
	EnableOrderbookUpdate bool
	EnableTradeUpdate     bool
	EnableTickerUpdate    bool
	EnableOrderUpdate     bool
	EnableFillUpdate      bool
	EnablePositionUpdate  bool
	EnableAssetUpdate     bool

	DirectKlineUpdate     bool
	DirectOrderbookUpdate bool
	DirectTradeUpdate     bool
	DirectTickerUpdate    bool

	// Callbacks is the strategy. It is always the last observer.
	Callbacks gateway.Callbacks
}

// Validate checks required fields and flag consistency.
func (c Config) Validate() error {
	var missing []string
	if c.Strategy == "" {
		missing = append(missing, "strategy")
	}
	if c.Platform == "" {
		missing = append(missing, "platform")
	}
	if c.Account == "" {
		missing = append(missing, "account")
	}
	if len(c.Symbols) == 0 {
		missing = append(missing, "symbols")
	}
	if c.Callbacks == nil {
		missing = append(missing, "callbacks")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", gateway.ErrParamMiss, strings.Join(missing, ", "))
	}

	for _, f := range c.feeds() {
		if f.direct && !f.enabled {
			return fmt.Errorf("%w: direct_%s_update set without enable_%s_update", gateway.ErrParamMiss, f.kind, f.kind)
		}
	}
	return nil
}

type feed struct {
	kind    bus.Kind
	enabled bool
	direct  bool
}

func (c Config) feeds() []feed {
	return []feed{
		{bus.KindKline, c.EnableKlineUpdate, c.DirectKlineUpdate},
		{bus.KindOrderbook, c.EnableOrderbookUpdate, c.DirectOrderbookUpdate},
		{bus.KindTrade, c.EnableTradeUpdate, c.DirectTradeUpdate},
		{bus.KindTicker, c.EnableTickerUpdate, c.DirectTickerUpdate},
	}
}

// RelayedKinds lists the enabled market streams that come through the bus.
func (c Config) RelayedKinds() []bus.Kind {
	var out []bus.Kind
	for _, f := range c.feeds() {
		if f.enabled && !f.direct {
			out = append(out, f.kind)
		}
	}
	return out
}

// Direct reports whether the venue should deliver kind itself.
func (c Config) Direct(kind bus.Kind) bool {
	for _, f := range c.feeds() {
		if f.kind == kind {
			return f.enabled && f.direct
		}
	}
	return false
}
