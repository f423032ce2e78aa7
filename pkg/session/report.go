package session

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jhudec/sandglass/pkg/common"
	"github.com/jhudec/sandglass/pkg/utility/fixed"
)

// Report summarizes a settled equity series at the end of a run. The heavy
// risk statistics live with external reporting; this covers what the core
// owns.
type Report struct {
	StartDate     time.Time
	EndDate       time.Time
	InitialEquity fixed.Point
	FinalEquity   fixed.Point
	TotalReturn   fixed.Point
	MaxDrawdown   fixed.Point
	Benchmark     fixed.Point
	SettledDays   int
	Volatility    fixed.Point
}

// BuildReport derives the run summary from the settlement snapshot sequence.
func BuildReport(snapshots []common.EquitySnapshot) Report {
	report := Report{SettledDays: len(snapshots)}
	if len(snapshots) == 0 {
		return report
	}

	first := snapshots[0]
	last := snapshots[len(snapshots)-1]

	report.StartDate = first.Date
	report.EndDate = last.Date
	report.InitialEquity = first.Equity
	report.FinalEquity = last.Equity
	report.Benchmark = last.Benchmark
	report.TotalReturn = last.Equity.Div(first.Equity).Sub(fixed.One).Mul(fixed.Hundred).Rescale(2)

	maxEquity := first.Equity
	for _, snap := range snapshots {
		if snap.Equity.Gt(maxEquity) {
			maxEquity = snap.Equity
		}
		drawdown := maxEquity.Sub(snap.Equity).Div(maxEquity)
		if drawdown.Gt(report.MaxDrawdown) {
			report.MaxDrawdown = drawdown
		}
	}
	report.MaxDrawdown = report.MaxDrawdown.Mul(fixed.Hundred).Rescale(2)

	returns := make([]fixed.Point, 0, len(snapshots)-1)
	for i := 1; i < len(snapshots); i++ {
		returns = append(returns, snapshots[i].Equity.Div(snapshots[i-1].Equity).Sub(fixed.One))
	}
	report.Volatility = fixed.StdDev(returns, fixed.Mean(returns)).Mul(fixed.Hundred).Rescale(4)

	return report
}

func (r Report) Print(logger *zap.Logger) {
	logger.Info("session report",
		zap.Time("start", r.StartDate),
		zap.Time("end", r.EndDate),
		zap.Int("settled_days", r.SettledDays),
		zap.String("initial_equity", r.InitialEquity.String()),
		zap.String("final_equity", r.FinalEquity.String()),
		zap.String("benchmark_equity", r.Benchmark.String()),
		zap.String("total_return", fmt.Sprintf("%s%%", r.TotalReturn)),
		zap.String("max_drawdown", fmt.Sprintf("%s%%", r.MaxDrawdown)),
		zap.String("daily_volatility", fmt.Sprintf("%s%%", r.Volatility)))
}
