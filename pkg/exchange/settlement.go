package exchange

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jhudec/sandglass/pkg/account"
	"github.com/jhudec/sandglass/pkg/common"
	"github.com/jhudec/sandglass/pkg/market"
	"github.com/jhudec/sandglass/pkg/utility/fixed"
)

// Journal archives the settlement output of one trading day. A nil journal
// disables archiving.
type Journal interface {
	Append(ctx context.Context, snapshot common.EquitySnapshot, orders []common.Order) error
}

// SettlementState is the serializable part of the engine captured into
// session snapshots.
type SettlementState struct {
	BenchScale fixed.Point             `json:"bench_scale"`
	Snapshots  []common.EquitySnapshot `json:"snapshots"`
}

// Settlement reconciles the ledger against market data once per trading day,
// after the day's callbacks.
type Settlement struct {
	logger    *zap.Logger
	ledger    *account.Ledger
	broker    *Broker
	market    *market.Cache
	journal   Journal
	benchmark string

	// benchScale converts the benchmark close into a starting-cash-equivalent
	// equity. Zero until the first settled day fixes it.
	benchScale fixed.Point
	snapshots  []common.EquitySnapshot
}

func NewSettlement(logger *zap.Logger, ledger *account.Ledger, broker *Broker, cache *market.Cache, benchmark string, journal Journal) *Settlement {
	return &Settlement{
		logger:    logger,
		ledger:    ledger,
		broker:    broker,
		market:    cache,
		journal:   journal,
		benchmark: benchmark,
	}
}

// VerifyBenchmark checks that benchmark data exists for the first trading
// day. A missing benchmark is fatal before the session enters the running
// state.
func (s *Settlement) VerifyBenchmark(ctx context.Context, day time.Time) error {
	if _, err := s.market.DailyBar(ctx, s.benchmark, day); err != nil {
		return fmt.Errorf("benchmark %s unavailable at %s: %w", s.benchmark, day.Format(time.DateOnly), err)
	}
	return nil
}

// Close settles one trading day: cancel and archive the day's orders, mark
// every position to the closing price, append one equity snapshot, roll
// opened-today into closeable and clear the market-data cache.
func (s *Settlement) Close(ctx context.Context, day time.Time) (common.EquitySnapshot, error) {
	s.broker.CancelAllOpen()
	archived := s.broker.ArchiveDay()

	for symbol := range s.ledger.Positions {
		bar, err := s.market.DailyBar(ctx, symbol, day)
		if err != nil {
			s.logger.Warn("no closing bar, keeping previous mark",
				zap.String("symbol", symbol),
				zap.Time("day", day),
				zap.Error(err))
			continue
		}
		s.ledger.MarkToMarket(symbol, bar.Close)
	}

	snapshot := common.EquitySnapshot{
		Date:          common.DayStart(day),
		Equity:        s.ledger.Equity(),
		Benchmark:     s.benchmarkEquity(ctx, day),
		PositionValue: s.ledger.PositionValue(),
		Cash:          s.ledger.Cash(),
	}
	s.snapshots = append(s.snapshots, snapshot)

	if s.journal != nil {
		if err := s.journal.Append(ctx, snapshot, archived); err != nil {
			s.logger.Warn("journal append failed", zap.Error(err))
		}
	}

	s.ledger.RollOver()
	s.market.Reset()

	s.logger.Info("day settled",
		zap.Time("day", snapshot.Date),
		zap.String("equity", snapshot.Equity.String()),
		zap.String("cash", snapshot.Cash.String()),
		zap.Int("archived_orders", len(archived)))

	return snapshot, nil
}

// Snapshots returns the append-only equity series settled so far.
func (s *Settlement) Snapshots() []common.EquitySnapshot {
	return s.snapshots
}

func (s *Settlement) ExportState() SettlementState {
	return SettlementState{
		BenchScale: s.benchScale,
		Snapshots:  append([]common.EquitySnapshot(nil), s.snapshots...),
	}
}

func (s *Settlement) ImportState(state SettlementState) {
	s.benchScale = state.BenchScale
	s.snapshots = append([]common.EquitySnapshot(nil), state.Snapshots...)
}

func (s *Settlement) benchmarkEquity(ctx context.Context, day time.Time) fixed.Point {
	bar, err := s.market.DailyBar(ctx, s.benchmark, day)
	if err != nil {
		s.logger.Warn("benchmark bar unavailable, carrying previous value",
			zap.String("benchmark", s.benchmark),
			zap.Time("day", day),
			zap.Error(err))
		if len(s.snapshots) > 0 {
			return s.snapshots[len(s.snapshots)-1].Benchmark
		}
		return fixed.Zero
	}

	if s.benchScale.IsZero() {
		s.benchScale = s.ledger.StartCash.Div(bar.Close)
	}
	return bar.Close.Mul(s.benchScale)
}
