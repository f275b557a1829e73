package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gregtusar/tradecore/api"
	"github.com/gregtusar/tradecore/internal/config"
	"github.com/gregtusar/tradecore/pkg/backtest"
	"github.com/gregtusar/tradecore/pkg/bus"
	"github.com/gregtusar/tradecore/pkg/coinbase"
	"github.com/gregtusar/tradecore/pkg/gateway"
	"github.com/gregtusar/tradecore/pkg/locker"
	"github.com/gregtusar/tradecore/pkg/portfolio"
	"github.com/gregtusar/tradecore/pkg/secrets"
	"github.com/gregtusar/tradecore/pkg/store"
	"github.com/gregtusar/tradecore/pkg/strategy"
	"github.com/gregtusar/tradecore/pkg/trader"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	record  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "trader",
		Short:         "Strategy runtime for live and simulated crypto venues",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $TRADER_CONFIG or ./config.json)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Trade the configured accounts on their live venues",
		RunE:  runLive,
	}
	runCmd.Flags().BoolVar(&record, "record", false, "store received market data for later backtests")

	backtestCmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay stored market data through simulated venues",
		RunE:  runBacktest,
	}

	rootCmd.AddCommand(runCmd, backtestCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	return cfg, cfg.Logging.NewLogger(), nil
}

// resolveSecrets fills missing credentials from Secret Manager when enabled.
func resolveSecrets(ctx context.Context, cfg *config.Config, logger *logrus.Logger) {
	if !cfg.GCP.UseSecrets {
		return
	}
	sm, err := secrets.NewGCPSecretManager(ctx, cfg.GCP.ProjectID, cfg.GCP.CredentialsFile, logger)
	if err != nil {
		logger.WithError(err).Warn("Secret Manager unavailable, using configured credentials")
		return
	}
	defer sm.Close()
	cfg.ResolveSecrets(ctx, sm, logger)
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	resolveSecrets(ctx, cfg, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := api.NewMetrics(reg)
	if err != nil {
		return err
	}

	registry := trader.NewRegistry()
	if err := registry.Register(coinbase.Platform, coinbase.Factory()); err != nil {
		return err
	}

	pm := portfolio.NewManager()
	mb := bus.New(logger)
	lockers := locker.NewRegistry()
	observers := []gateway.Callbacks{metrics, bus.NewCollector(mb, logger)}

	if record {
		db, err := store.Open(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer db.Close()
		observers = append(observers, backtest.NewRecorder(db, logger))
	}

	var traders []*trader.Trader
	defer func() {
		for _, t := range traders {
			if err := t.Close(); err != nil {
				logger.WithError(err).Warn("Trader close failed")
			}
		}
	}()

	for _, acct := range cfg.Accounts {
		band, err := newBand(cfg, acct, true, pm, lockers, logger)
		if err != nil {
			return err
		}
		t, err := trader.New(ctx, acct.Trader(cfg.Strategy, band), trader.Options{
			Registry:  registry,
			Portfolio: pm,
			Bus:       mb,
			Observers: observers,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		traders = append(traders, t)
		band.Bind(t)
		if err := t.Start(ctx); err != nil {
			return err
		}
	}

	server := api.NewServer(pm, reg, logger, fmt.Sprintf(":%d", cfg.Server.Port))
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown error")
	}
	return nil
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	hc, err := cfg.Backtest.History()
	if err != nil {
		return err
	}
	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	lockers := locker.NewRegistry()
	history, err := backtest.NewHistory(hc, nil, lockers, logger)
	if err != nil {
		return err
	}

	registry := trader.NewRegistry()
	for _, acct := range cfg.Accounts {
		if _, err := registry.Lookup(acct.Platform); err == nil {
			continue
		}
		vc, err := cfg.Backtest.Venue(acct.Platform)
		if err != nil {
			return err
		}
		vc.Loader = backtest.StoreLoader{Store: db}
		if err := registry.Register(acct.Platform, backtest.Factory(history, vc)); err != nil {
			return err
		}
	}

	pm := portfolio.NewManager()
	for _, acct := range cfg.Accounts {
		band, err := newBand(cfg, acct, false, pm, lockers, logger)
		if err != nil {
			return err
		}
		// replay delivers every feed directly; no bus is wired
		tc := acct.Trader(cfg.Strategy, band)
		tc.DirectKlineUpdate = tc.EnableKlineUpdate
		tc.DirectTradeUpdate = tc.EnableTradeUpdate
		tc.DirectOrderbookUpdate = tc.EnableOrderbookUpdate
		tc.DirectTickerUpdate = tc.EnableTickerUpdate
		t, err := trader.New(ctx, tc, trader.Options{
			Registry:  registry,
			Portfolio: pm,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		band.Bind(t)
		history.OnComplete(band.Finish)
	}

	return history.Run(ctx)
}

func newBand(cfg *config.Config, acct config.AccountConfig, live bool, pm *portfolio.Manager, lockers *locker.Registry, logger *logrus.Logger) (*strategy.Band, error) {
	sc, err := cfg.Band.Strategy(cfg.Strategy, acct, live)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", acct.Platform, acct.Account, err)
	}
	// without asset updates the cache goes stale; ask the venue instead
	if !acct.EnableAssetUpdate {
		pm = nil
	}
	return strategy.NewBand(sc, pm, lockers, logger), nil
}
