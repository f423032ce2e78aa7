package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jhudec/sandglass/cmd/sandglass"
	"github.com/jhudec/sandglass/cmd/sandglass/advisor"
	"github.com/jhudec/sandglass/internal/dbg"
	"github.com/jhudec/sandglass/pkg/account"
	"github.com/jhudec/sandglass/pkg/clock"
	"github.com/jhudec/sandglass/pkg/config"
	"github.com/jhudec/sandglass/pkg/exchange"
	"github.com/jhudec/sandglass/pkg/journal"
	"github.com/jhudec/sandglass/pkg/market"
	"github.com/jhudec/sandglass/pkg/market/duckdb"
	"github.com/jhudec/sandglass/pkg/market/feed"
	"github.com/jhudec/sandglass/pkg/session"
	"github.com/jhudec/sandglass/pkg/strategy"
	"github.com/jhudec/sandglass/pkg/utility/fixed"
)

const pollInterval = 2 * time.Second

func main() {
	configPath := flag.String("config", "live.yaml", "run configuration")
	resume := flag.Bool("resume", false, "resume from the saved snapshot")
	debug := flag.Bool("debug", false, "development logging")
	flag.Parse()

	logger := dbg.NewLogger(*debug)
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	logger.Info("sandglass started", zap.String("environment", "live"), zap.String("version", sandglass.Version))
	defer logger.Info("done")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	if cfg.Data.FeedUrl == "" {
		logger.Fatal("live mode needs a quote feed url")
	}

	// Historical bars back the trailing indicators and settlement marks; the
	// websocket feed supplies intraday quotes.
	static := market.NewStatic(fixed.FromFloat64(cfg.Costs.LimitRate))
	now := time.Now()
	if cfg.Data.DuckDBPath != "" {
		loader := duckdb.NewLoader(cfg.Data.DuckDBPath)
		if err := loader.Connect(); err != nil {
			logger.Fatal("error loading market data", zap.Error(err))
		}
		defer loader.Close()
		symbols := append(append([]string(nil), cfg.Symbols...), cfg.Benchmark)
		if err := loader.Load(ctx, static, symbols, now.AddDate(0, -3, 0), now.AddDate(0, 1, 0)); err != nil {
			logger.Fatal("error loading market data", zap.Error(err))
		}
	}

	quotes := feed.NewClient(cfg.Data.FeedUrl, logger)
	if err := quotes.Connect(ctx, cfg.Symbols); err != nil {
		logger.Fatal("error connecting quote feed", zap.Error(err))
	}
	defer quotes.Close()

	source := &feed.Composite{Live: quotes, Hist: static}
	cache := market.NewCache(source)

	var dayJournal exchange.Journal
	if cfg.JournalPath != "" {
		sqlJournal, err := journal.Open(cfg.JournalPath)
		if err != nil {
			logger.Fatal("error opening trade journal", zap.Error(err))
		}
		defer func() {
			_ = sqlJournal.Close()
		}()
		dayJournal = sqlJournal
	}

	freq, _ := clock.ParseFrequency(cfg.Frequency)
	clk := clock.NewSimClock(clock.ModeLive, freq, now, now)
	ledger := account.NewLedger(cfg.StartCash())

	broker := exchange.NewBroker(logger, clk, cache, ledger, exchange.Config{
		LotSize:        cfg.Account.LotSize,
		CommissionRate: fixed.FromFloat64(cfg.Costs.CommissionRate),
		MinCommission:  fixed.FromFloat64(cfg.Costs.MinCommission),
		TaxRate:        fixed.FromFloat64(cfg.Costs.TaxRate),
		Slippage:       fixed.FromFloat64(cfg.Costs.Slippage),
		QuoteFallback:  true,
	}, exchange.MatchPerTick)
	settlement := exchange.NewSettlement(logger, ledger, broker, cache, cfg.Benchmark, dayJournal)

	dispatcher := clock.NewDispatcher(logger)
	if err := dispatcher.Bind(advisor.New(logger, cfg.Symbols)); err != nil {
		logger.Fatal("invalid strategy registration", zap.Error(err))
	}

	var controller *session.Controller
	runner := clock.NewLive(logger, clk, dispatcher, broker, settlement, cache,
		func() clock.Signal { return controller.Signal() }, pollInterval)
	sctx := strategy.NewContext(ctx, cache, ledger, broker, runner.SkipRemainder)
	controller = session.NewController(logger, cfg.Strategy, clk, ledger, broker, settlement, cache, runner, sctx, session.NewStore(cfg.SnapshotDir))

	// A live session snapshots after every settlement, so a restart can pick
	// up from the last settled day.
	runner.AfterSettle = controller.SaveSnapshot

	run := controller.Run
	if *resume {
		run = controller.Resume
	}
	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, clock.ErrPaused) || errors.Is(err, clock.ErrCanceled) {
			return
		}
		logger.Fatal("error during live session", zap.Error(err))
	}
}
