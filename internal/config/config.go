package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gregtusar/tradecore/pkg/backtest"
	"github.com/gregtusar/tradecore/pkg/gateway"
	"github.com/gregtusar/tradecore/pkg/models"
	"github.com/gregtusar/tradecore/pkg/secrets"
	"github.com/gregtusar/tradecore/pkg/strategy"
	"github.com/gregtusar/tradecore/pkg/trader"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	EnvPrefix   = "TRADER"
	EnvConfig   = "TRADER_CONFIG"
	DefaultPath = "./config.json"
)

type Config struct {
	Server   ServerConfig    `mapstructure:"server"`
	Logging  LoggingConfig   `mapstructure:"logging"`
	Strategy string          `mapstructure:"strategy"`
	Database DatabaseConfig  `mapstructure:"database"`
	Accounts []AccountConfig `mapstructure:"accounts"`
	Backtest BacktestConfig  `mapstructure:"backtest"`
	Band     BandConfig      `mapstructure:"band"`
	GCP      GCPConfig       `mapstructure:"gcp"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type AccountConfig struct {
	Platform   string   `mapstructure:"platform"`
	Account    string   `mapstructure:"account"`
	Symbols    []string `mapstructure:"symbols"`
	AccessKey  string   `mapstructure:"access_key"`
	SecretKey  string   `mapstructure:"secret_key"`
	Passphrase string   `mapstructure:"passphrase"`
	Host       string   `mapstructure:"host"`
	WSS        string   `mapstructure:"wss"`

	EnableKlineUpdate     bool `mapstructure:"enable_kline_update"`
	EnableOrderbookUpdate bool `mapstructure:"enable_orderbook_update"`
	EnableTradeUpdate     bool `mapstructure:"enable_trade_update"`
	EnableTickerUpdate    bool `mapstructure:"enable_ticker_update"`
	EnableOrderUpdate     bool `mapstructure:"enable_order_update"`
	EnableFillUpdate      bool `mapstructure:"enable_fill_update"`
	EnablePositionUpdate  bool `mapstructure:"enable_position_update"`
	EnableAssetUpdate     bool `mapstructure:"enable_asset_update"`

	DirectKlineUpdate     bool `mapstructure:"direct_kline_update"`
	DirectOrderbookUpdate bool `mapstructure:"direct_orderbook_update"`
	DirectTradeUpdate     bool `mapstructure:"direct_trade_update"`
	DirectTickerUpdate    bool `mapstructure:"direct_ticker_update"`
}

// BacktestConfig describes the replay. Decimal fields are strings so JSON
// numbers and quoted values both decode exactly.
type BacktestConfig struct {
	StartTime string                   `mapstructure:"start_time"`
	PeriodDay int                      `mapstructure:"period_day"`
	Window    string                   `mapstructure:"window"`
	DriveType []string                 `mapstructure:"drive_type"`
	Feature   map[string]FeatureConfig `mapstructure:"feature"`
}

type FeatureConfig struct {
	SymInfo             map[string]SymbolInfoConfig `mapstructure:"syminfo"`
	Asset               map[string]string           `mapstructure:"asset"`
	MakerCommissionRate string                      `mapstructure:"maker_commission_rate"`
	TakerCommissionRate string                      `mapstructure:"taker_commission_rate"`
}

type SymbolInfoConfig struct {
	PriceTick          string `mapstructure:"price_tick"`
	SizeTick           string `mapstructure:"size_tick"`
	SizeLimit          string `mapstructure:"size_limit"`
	ValueTick          string `mapstructure:"value_tick"`
	ValueLimit         string `mapstructure:"value_limit"`
	BaseCurrency       string `mapstructure:"base_currency"`
	QuoteCurrency      string `mapstructure:"quote_currency"`
	SettlementCurrency string `mapstructure:"settlement_currency"`
}

// BandConfig parameterizes the band strategy. Fractions are decimal strings.
type BandConfig struct {
	Symbol      string `mapstructure:"symbol"`
	Window      int    `mapstructure:"window"`
	EnterBelow  string `mapstructure:"enter_below"`
	ExitAbove   string `mapstructure:"exit_above"`
	Quantity    string `mapstructure:"quantity"`
	MaxPosition string `mapstructure:"max_position"`
	Slippage    string `mapstructure:"slippage"`
}

type GCPConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	UseSecrets      bool   `mapstructure:"use_secrets"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// ResolvePath picks the explicit path, then $TRADER_CONFIG, then ./config.json.
func ResolvePath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv(EnvConfig); env != "" {
		return env
	}
	return DefaultPath
}

// Load reads the JSON config. A .env file in the working directory, if any,
// is loaded into the environment first; TRADER_* variables override file
// values. A missing or malformed file is an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env: %w", err)
	}

	path = ResolvePath(path)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("database.path", "./data/tradecore.db")
	v.SetDefault("backtest.window", "1h")
	v.SetDefault("backtest.drive_type", []string{string(backtest.RecordKline)})
	v.SetDefault("band.window", 20)
	v.SetDefault("band.enter_below", "0.01")
	v.SetDefault("band.exit_above", "0.01")
	v.SetDefault("gcp.use_secrets", false)
}

// NewLogger builds the process logger. Unknown levels fall back to info.
func (l LoggingConfig) NewLogger() *logrus.Logger {
	logger := logrus.New()
	if strings.EqualFold(l.Format, "text") {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		logger.WithError(err).Error("Invalid log level, using INFO")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// ResolveSecrets fills empty account credentials from src.
func (c *Config) ResolveSecrets(ctx context.Context, src secrets.Source, logger *logrus.Logger) {
	for i := range c.Accounts {
		a := &c.Accounts[i]
		creds := secrets.Credentials{AccessKey: a.AccessKey, SecretKey: a.SecretKey, Passphrase: a.Passphrase}
		secrets.Fill(ctx, src, a.Platform, a.Account, &creds, logger)
		a.AccessKey, a.SecretKey, a.Passphrase = creds.AccessKey, creds.SecretKey, creds.Passphrase
	}
}

// Trader converts one account entry into the trader config of strategy.
func (a AccountConfig) Trader(strategy string, cb gateway.Callbacks) trader.Config {
	return trader.Config{
		Strategy:              strategy,
		Platform:              a.Platform,
		Account:               a.Account,
		AccessKey:             a.AccessKey,
		SecretKey:             a.SecretKey,
		Passphrase:            a.Passphrase,
		Symbols:               upper(a.Symbols),
		Host:                  a.Host,
		WSS:                   a.WSS,
		EnableKlineUpdate:     a.EnableKlineUpdate,
		EnableOrderbookUpdate: a.EnableOrderbookUpdate,
		EnableTradeUpdate:     a.EnableTradeUpdate,
		EnableTickerUpdate:    a.EnableTickerUpdate,
		EnableOrderUpdate:     a.EnableOrderUpdate,
		EnableFillUpdate:      a.EnableFillUpdate,
		EnablePositionUpdate:  a.EnablePositionUpdate,
		EnableAssetUpdate:     a.EnableAssetUpdate,
		DirectKlineUpdate:     a.DirectKlineUpdate,
		DirectOrderbookUpdate: a.DirectOrderbookUpdate,
		DirectTradeUpdate:     a.DirectTradeUpdate,
		DirectTickerUpdate:    a.DirectTickerUpdate,
		Callbacks:             cb,
	}
}

// Strategy builds the band settings for one account. The symbol defaults to
// the account's first symbol. Live accounts wait for READY before trading.
func (b BandConfig) Strategy(name string, a AccountConfig, live bool) (strategy.BandConfig, error) {
	sc := strategy.BandConfig{
		Name:         name,
		Platform:     a.Platform,
		Account:      a.Account,
		Symbol:       strings.ToUpper(b.Symbol),
		Window:       b.Window,
		RequireReady: live,
	}
	if sc.Symbol == "" && len(a.Symbols) > 0 {
		sc.Symbol = strings.ToUpper(a.Symbols[0])
	}
	if sc.Symbol == "" {
		return strategy.BandConfig{}, fmt.Errorf("%w: band.symbol", gateway.ErrParamMiss)
	}
	if b.Quantity == "" {
		return strategy.BandConfig{}, fmt.Errorf("%w: band.quantity", gateway.ErrParamMiss)
	}
	// the band trades on closes and frees its slot on terminal order updates
	if !a.EnableKlineUpdate || !a.EnableOrderUpdate {
		return strategy.BandConfig{}, fmt.Errorf("%w: band needs enable_kline_update and enable_order_update", gateway.ErrParamMiss)
	}

	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"band.enter_below", b.EnterBelow, &sc.EnterBelow},
		{"band.exit_above", b.ExitAbove, &sc.ExitAbove},
		{"band.quantity", b.Quantity, &sc.Quantity},
		{"band.max_position", b.MaxPosition, &sc.MaxPosition},
		{"band.slippage", b.Slippage, &sc.Slippage},
	}
	for _, f := range fields {
		v, err := parseDecimal(f.name, f.raw)
		if err != nil {
			return strategy.BandConfig{}, err
		}
		*f.dst = v
	}
	if !sc.Quantity.IsPositive() {
		return strategy.BandConfig{}, fmt.Errorf("band.quantity %s must be positive", sc.Quantity)
	}
	return sc, nil
}

var timeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("start_time %q: want RFC3339 or YYYY-MM-DD[ HH:MM:SS]", s)
}

// History converts the replay window settings.
func (b BacktestConfig) History() (backtest.HistoryConfig, error) {
	if b.StartTime == "" {
		return backtest.HistoryConfig{}, fmt.Errorf("%w: backtest.start_time", gateway.ErrParamMiss)
	}
	start, err := parseTime(b.StartTime)
	if err != nil {
		return backtest.HistoryConfig{}, err
	}
	hc := backtest.HistoryConfig{Start: start, PeriodDay: b.PeriodDay}
	if b.Window != "" {
		if hc.Window, err = time.ParseDuration(b.Window); err != nil {
			return backtest.HistoryConfig{}, fmt.Errorf("backtest.window: %w", err)
		}
	}
	for _, k := range b.DriveType {
		kind := backtest.RecordKind(strings.ToLower(k))
		switch kind {
		case backtest.RecordKline, backtest.RecordTrade, backtest.RecordOrderbook:
			hc.DriveTypes = append(hc.DriveTypes, kind)
		default:
			return backtest.HistoryConfig{}, fmt.Errorf("backtest.drive_type: unknown kind %q", k)
		}
	}
	return hc, nil
}

// Venue builds the simulated venue settings of platform. Symbol and
// currency keys are upper-cased since the config layer folds key case.
func (b BacktestConfig) Venue(platform string) (backtest.VenueConfig, error) {
	f, ok := b.Feature[platform]
	if !ok {
		return backtest.VenueConfig{}, fmt.Errorf("%w: backtest.feature.%s", gateway.ErrParamMiss, platform)
	}
	vc := backtest.VenueConfig{
		Platform:   platform,
		SymbolInfo: make(map[string]models.SymbolInfo, len(f.SymInfo)),
		Assets:     make(map[string]decimal.Decimal, len(f.Asset)),
	}

	var err error
	if vc.MakerRate, err = parseDecimal("maker_commission_rate", f.MakerCommissionRate); err != nil {
		return backtest.VenueConfig{}, err
	}
	if vc.TakerRate, err = parseDecimal("taker_commission_rate", f.TakerCommissionRate); err != nil {
		return backtest.VenueConfig{}, err
	}
	for ccy, amt := range f.Asset {
		if vc.Assets[strings.ToUpper(ccy)], err = parseDecimal("asset."+ccy, amt); err != nil {
			return backtest.VenueConfig{}, err
		}
	}

	symbols := make([]string, 0, len(f.SymInfo))
	for s := range f.SymInfo {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	for _, s := range symbols {
		info, err := f.SymInfo[s].symbolInfo(platform, strings.ToUpper(s))
		if err != nil {
			return backtest.VenueConfig{}, err
		}
		vc.SymbolInfo[info.Symbol] = info
	}
	return vc, nil
}

func (s SymbolInfoConfig) symbolInfo(platform, symbol string) (models.SymbolInfo, error) {
	info := models.SymbolInfo{
		Platform:           platform,
		Symbol:             symbol,
		BaseCurrency:       strings.ToUpper(s.BaseCurrency),
		QuoteCurrency:      strings.ToUpper(s.QuoteCurrency),
		SettlementCurrency: strings.ToUpper(s.SettlementCurrency),
	}
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"price_tick", s.PriceTick, &info.PriceTick},
		{"size_tick", s.SizeTick, &info.SizeTick},
		{"size_limit", s.SizeLimit, &info.SizeLimit},
		{"value_tick", s.ValueTick, &info.ValueTick},
		{"value_limit", s.ValueLimit, &info.ValueLimit},
	}
	for _, f := range fields {
		v, err := parseDecimal(symbol+"."+f.name, f.raw)
		if err != nil {
			return models.SymbolInfo{}, err
		}
		*f.dst = v
	}
	if info.BaseCurrency == "" || info.QuoteCurrency == "" {
		return models.SymbolInfo{}, fmt.Errorf("%w: %s needs base_currency and quote_currency", gateway.ErrParamMiss, symbol)
	}
	if info.SettlementCurrency == "" {
		info.SettlementCurrency = info.QuoteCurrency
	}
	return info, nil
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", field, err)
	}
	return v, nil
}

func upper(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToUpper(s)
	}
	return out
}
