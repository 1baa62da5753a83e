package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/vadiminshakov/stacker/config"
	"github.com/vadiminshakov/stacker/internal/domain"
	"github.com/vadiminshakov/stacker/internal/exchange"
	"github.com/vadiminshakov/stacker/internal/health"
	"github.com/vadiminshakov/stacker/internal/notify"
	"github.com/vadiminshakov/stacker/internal/scheduler"
	"github.com/vadiminshakov/stacker/internal/services/executor"
	"github.com/vadiminshakov/stacker/internal/services/rotation"
	signalengine "github.com/vadiminshakov/stacker/internal/services/signal"
	"github.com/vadiminshakov/stacker/internal/services/strategy"
	"github.com/vadiminshakov/stacker/internal/storage/dedupe"
	"github.com/vadiminshakov/stacker/internal/storage/postgres"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	configPath := flag.String("config", "config.yaml", "path to yaml config")
	flag.Parse()

	cfg, err := config.Get(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && ctx.Err() == nil {
		logger.Fatal("bot stopped with error", zap.Error(err))
	}
	logger.Info("bot stopped")
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	pg, err := postgres.New(ctx, postgres.ClientConfig{DSN: cfg.PostgresDSN})
	if err != nil {
		return err
	}
	defer pg.Close()
	if err := pg.RunMigrations(ctx); err != nil {
		return err
	}

	journal, err := dedupe.NewWALStore(cfg.WALDir)
	if err != nil {
		return err
	}
	defer journal.Close()

	stateStore := postgres.NewStateStore(pg)
	scheduleStore := postgres.NewScheduleStore(pg)
	ledgerStore := postgres.NewLedgerStore(pg)

	if err := seedNotionalCaps(ctx, stateStore, cfg); err != nil {
		return err
	}

	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.WebhookURL != "" {
		notifier = notify.NewMulti(notifier, notify.NewWebhookNotifier(cfg.WebhookURL, logger))
	}

	adapterOpts := exchange.Options{
		Pair:          cfg.Pair,
		DryRun:        cfg.DryRun,
		Testnet:       cfg.Testnet,
		BinanceKey:    cfg.BinanceKey,
		BinanceSecret: cfg.BinanceSecret,
		OKXKey:        cfg.OKXKey,
		OKXSecret:     cfg.OKXSecret,
		OKXPassphrase: cfg.OKXPassphrase,
		OKXSimulated:  cfg.OKXSimulated,
		OKXLive:       cfg.OKXLive,
		OKXMaxUSDT:    cfg.OKXMaxUSDT,
	}
	adapters := func(ex domain.Exchange) (exchange.Adapter, error) {
		return exchange.ForExchange(ex, adapterOpts)
	}

	guards := executor.NewGuards(executor.GuardConfig{
		MaxSpreadPct:         cfg.MaxSpreadPct,
		DepthEnabled:         cfg.DepthGuardEnabled,
		DepthMinNotionalUSDT: cfg.DepthMinNotionalUSDT,
		DepthBandPct:         cfg.DepthBandPct,
		DepthLevel:           cfg.DepthLevel,
		TWAPEnabled:          cfg.TWAPGuardEnabled,
		TWAPWindowMinutes:    cfg.TWAPWindowMinutes,
		TWAPMaxDeviationPct:  cfg.TWAPMaxDeviationPct,
	}, cfg.DryRun)

	exec := executor.New(adapters, stateStore, ledgerStore, notifier, guards, executor.Config{
		Pair:                         cfg.Pair,
		DryRun:                       cfg.DryRun,
		AnomalyPnLThresholdUSDT:      cfg.AnomalyPnLThresholdUSDT,
		AnomalyNotionalThresholdUSDT: cfg.AnomalyNotionalThresholdUSDT,
	}, logger)

	orch, err := strategy.NewOrchestrator(logger, journal)
	if err != nil {
		return err
	}
	orch.Register(domain.ActionDCABuy, exec.HandleDCABuy)
	orch.Register(domain.ActionReserveMove, exec.HandleReserveMove)
	orch.Register(domain.ActionHalfSell, exec.HandleHalfSell)
	orch.Register(domain.ActionReserveBuy, exec.HandleReserveBuy)

	var rotationSvc scheduler.RotationTicker
	if cfg.S4Enabled {
		svc, err := buildRotation(cfg, ledgerStore, notifier, logger)
		if err != nil {
			return err
		}
		rotationSvc = svc
	}

	engine := signalengine.NewEngine(logger)
	sched, err := scheduler.New(
		scheduler.Config{Timezone: cfg.Timezone},
		scheduleStore, stateStore, engine, adapters, orch, rotationSvc,
		notifier, logger,
	)
	if err != nil {
		return err
	}

	healthSrv := health.NewServer(cfg.HealthPort, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(ctx) })
	g.Go(func() error { return healthSrv.Start(ctx) })
	return g.Wait()
}

// seedNotionalCaps writes the env-configured per-venue order caps into the
// strategy state when no cap is persisted yet. Persisted values win so the
// admin surface can raise or lower them at runtime.
func seedNotionalCaps(ctx context.Context, store *postgres.StateStore, cfg config.Config) error {
	st, err := store.Load(ctx)
	if err != nil {
		return err
	}

	changed := false
	if cfg.BinanceMaxUSDT.IsPositive() && st.MaxNotionalByExchange[domain.ExchangeBinance].IsZero() {
		st.MaxNotionalByExchange[domain.ExchangeBinance] = cfg.BinanceMaxUSDT
		changed = true
	}
	if cfg.OKXMaxUSDT.IsPositive() && st.MaxNotionalByExchange[domain.ExchangeOKX].IsZero() {
		st.MaxNotionalByExchange[domain.ExchangeOKX] = cfg.OKXMaxUSDT
		changed = true
	}
	if !changed {
		return nil
	}
	return store.Save(ctx, st)
}

// buildRotation wires the gold rotation strategy: two adapters on the same
// venue, one for the BTC pair and one for the venue's gold token.
func buildRotation(cfg config.Config, ledger rotation.Ledger, notifier notify.Notifier, logger *zap.Logger) (*rotation.Service, error) {
	rotCfg := rotation.DefaultConfig()
	rotCfg.Enabled = true
	rotCfg.Exchange = cfg.S4Exchange
	rotCfg.DryRun = cfg.DryRun
	if cfg.S4MinFlipUSDT.IsPositive() {
		rotCfg.MinFlipUSDT = cfg.S4MinFlipUSDT
	}

	opts := exchange.Options{
		Pair:          domain.Pair{From: "BTC", To: "USDT"},
		DryRun:        cfg.DryRun,
		Testnet:       cfg.Testnet,
		BinanceKey:    cfg.BinanceKey,
		BinanceSecret: cfg.BinanceSecret,
		OKXKey:        cfg.OKXKey,
		OKXSecret:     cfg.OKXSecret,
		OKXPassphrase: cfg.OKXPassphrase,
		OKXSimulated:  cfg.OKXSimulated,
		OKXLive:       cfg.OKXLive,
		OKXMaxUSDT:    cfg.OKXMaxUSDT,
	}
	btcAdapter, err := exchange.ForExchange(rotCfg.Exchange, opts)
	if err != nil {
		return nil, err
	}

	goldOpts := opts
	goldOpts.Pair = domain.Pair{From: rotation.GoldAssetFor(rotCfg.Exchange), To: "USDT"}
	goldAdapter, err := exchange.ForExchange(rotCfg.Exchange, goldOpts)
	if err != nil {
		return nil, err
	}

	return rotation.New(rotCfg, btcAdapter, goldAdapter, ledger, notifier, logger), nil
}
