package common

import (
	"github.com/jhudec/sandglass/pkg/utility/fixed"
)

// Position partitions the held quantity of one instrument into three
// disjoint, non-negative buckets:
//
//	Locked      reserved by open sell orders
//	Closeable   sellable today
//	OpenedToday bought today, sellable after the next settlement
type Position struct {
	Symbol      string `json:"symbol"`
	Locked      int64  `json:"locked"`
	Closeable   int64  `json:"closeable"`
	OpenedToday int64  `json:"opened_today"`

	// AvgCost is the running weighted average cost including fees. CumAvgCost
	// is the cost basis used for realized gains, adjusted only on reducing
	// trades.
	AvgCost    fixed.Point `json:"avg_cost"`
	CumAvgCost fixed.Point `json:"cum_avg_cost"`

	// LastPrice is the latest mark, updated by settlement and by the equity
	// computation.
	LastPrice fixed.Point `json:"last_price"`
}

func (p Position) Total() int64 {
	return p.Locked + p.Closeable + p.OpenedToday
}

func (p Position) MarketValue() fixed.Point {
	return p.LastPrice.MulInt64(p.Total())
}
