package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

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
	"github.com/jhudec/sandglass/pkg/market/histfile"
	"github.com/jhudec/sandglass/pkg/session"
	"github.com/jhudec/sandglass/pkg/strategy"
	"github.com/jhudec/sandglass/pkg/utility/fixed"
)

func main() {
	configPath := flag.String("config", "backtest.yaml", "run configuration")
	resume := flag.Bool("resume", false, "resume from the saved snapshot")
	debug := flag.Bool("debug", false, "development logging")
	flag.Parse()

	logger := dbg.NewLogger(*debug)
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	logger.Info(fmt.Sprintf("sandglass backtest %s", sandglass.Version))
	defer logger.Info("done")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	mode, _ := clock.ParseMode(cfg.Mode)
	freq, _ := clock.ParseFrequency(cfg.Frequency)
	start, _ := cfg.StartTime()
	end, _ := cfg.EndTime()

	static := market.NewStatic(fixed.FromFloat64(cfg.Costs.LimitRate))
	if err := loadMarketData(ctx, cfg, static); err != nil {
		logger.Fatal("error loading market data", zap.Error(err))
	}
	cache := market.NewCache(static)

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

	clk := clock.NewSimClock(mode, freq, start, end)
	ledger := account.NewLedger(cfg.StartCash())

	matchMode := exchange.MatchDaily
	if freq != clock.FreqDay {
		matchMode = exchange.MatchPerTick
	}
	broker := exchange.NewBroker(logger, clk, cache, ledger, exchange.Config{
		LotSize:        cfg.Account.LotSize,
		CommissionRate: fixed.FromFloat64(cfg.Costs.CommissionRate),
		MinCommission:  fixed.FromFloat64(cfg.Costs.MinCommission),
		TaxRate:        fixed.FromFloat64(cfg.Costs.TaxRate),
		Slippage:       fixed.FromFloat64(cfg.Costs.Slippage),
	}, matchMode)
	settlement := exchange.NewSettlement(logger, ledger, broker, cache, cfg.Benchmark, dayJournal)

	dispatcher := clock.NewDispatcher(logger)
	if err := dispatcher.Bind(advisor.New(logger, cfg.Symbols)); err != nil {
		logger.Fatal("invalid strategy registration", zap.Error(err))
	}

	var controller *session.Controller
	runner := clock.NewHistorical(logger, clk, dispatcher, broker, settlement, cache,
		func() clock.Signal { return controller.Signal() })
	sctx := strategy.NewContext(ctx, cache, ledger, broker, runner.SkipRemainder)
	controller = session.NewController(logger, cfg.Strategy, clk, ledger, broker, settlement, cache, runner, sctx, session.NewStore(cfg.SnapshotDir))

	run := controller.Run
	if *resume {
		run = controller.Resume
	}
	if err := run(ctx); err != nil {
		if errors.Is(err, clock.ErrPaused) || errors.Is(err, clock.ErrCanceled) {
			return
		}
		logger.Fatal("error during simulation", zap.Error(err))
	}

	session.BuildReport(settlement.Snapshots()).Print(logger)
}

func loadMarketData(ctx context.Context, cfg *config.Config, dst *market.Static) error {
	start, _ := cfg.StartTime()
	end, _ := cfg.EndTime()

	// The trailing-mean lookback needs bars before the simulation start.
	histStart := start.AddDate(0, -3, 0)

	switch {
	case cfg.Data.DuckDBPath != "":
		loader := duckdb.NewLoader(cfg.Data.DuckDBPath)
		if err := loader.Connect(); err != nil {
			return err
		}
		defer loader.Close()
		return loader.Load(ctx, dst, withBenchmark(cfg), histStart, end)
	case cfg.Data.HistDir != "":
		for _, symbol := range withBenchmark(cfg) {
			reader, err := histfile.Open(filepath.Join(cfg.Data.HistDir, symbol+".bin"))
			if err != nil {
				return err
			}
			err = histfile.Load(reader, dst, symbol, histStart, end)
			_ = reader.Close()
			if err != nil {
				return err
			}
		}
		return nil
	}
	return errors.New("no market data source configured")
}

// withBenchmark makes sure the benchmark instrument is loaded alongside the
// traded symbols.
func withBenchmark(cfg *config.Config) []string {
	for _, symbol := range cfg.Symbols {
		if symbol == cfg.Benchmark {
			return cfg.Symbols
		}
	}
	return append(append([]string(nil), cfg.Symbols...), cfg.Benchmark)
}
