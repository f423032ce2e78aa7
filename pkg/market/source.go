package market

import (
	"context"
	"errors"
	"time"

	"github.com/jhudec/sandglass/pkg/common"
)

// ErrNoData reports that a source has no sample for the requested instrument
// and time. Callers are expected to log and skip, not abort the run.
var ErrNoData = errors.New("market: no data")

// Source is the market-data collaborator consumed by matching and settlement.
// All calls are synchronous and blocking.
type Source interface {
	// Quote returns the last known trade price and the daily price-limit band
	// for the instrument at the given simulated time.
	Quote(ctx context.Context, symbol string, at time.Time) (common.Quote, error)

	// DailyBar returns the single day bar of the instrument for the given
	// trading day.
	DailyBar(ctx context.Context, symbol string, day time.Time) (common.Bar, error)

	// MinuteBars returns the intraday minute curve of the instrument between
	// from and to, both inclusive, in time order.
	MinuteBars(ctx context.Context, symbol string, from, to time.Time) ([]common.Bar, error)

	// TradingDays lists the trading days in [from, to] in order.
	TradingDays(ctx context.Context, from, to time.Time) ([]time.Time, error)
}
