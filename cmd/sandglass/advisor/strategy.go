package advisor

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jhudec/sandglass/pkg/market"
	"github.com/jhudec/sandglass/pkg/strategy"
	"github.com/jhudec/sandglass/pkg/utility/fixed"
)

const lookbackDays = 20

// New builds a simple momentum rotation. Each symbol is bought when its last
// price trades above its trailing mean close and flattened when it falls
// back below. Allocation is equal-weight over the watched symbols.
func New(logger *zap.Logger, symbols []string) *strategy.Strategy {
	a := &advisor{logger: logger, symbols: symbols}

	return &strategy.Strategy{
		Name:       "momentum-rotation",
		BeforeOpen: a.onBeforeOpen,
		OnBar:      a.onBar,
		OnFinish:   a.onFinish,
	}
}

type advisor struct {
	logger  *zap.Logger
	symbols []string
}

func (a *advisor) onBeforeOpen(c *strategy.Context) error {
	a.logger.Debug("session opening",
		zap.Time("day", c.Time),
		zap.String("equity", c.Account.Equity().String()))
	return nil
}

func (a *advisor) onBar(c *strategy.Context) error {
	for _, symbol := range a.symbols {
		if err := a.rotate(c, symbol); err != nil {
			return fmt.Errorf("rotate %s: %w", symbol, err)
		}
	}
	return nil
}

func (a *advisor) rotate(c *strategy.Context, symbol string) error {
	quote, err := c.Market.Quote(c, symbol, c.Time)
	if err != nil {
		if errors.Is(err, market.ErrNoData) {
			return nil // suspended, leave the position alone
		}
		return err
	}

	mean, ok, err := a.trailingMean(c, symbol)
	if err != nil {
		return err
	}
	if !ok {
		return nil // not enough history yet
	}

	position := c.Position(symbol)

	switch {
	case quote.Last.Gt(mean) && position.Total() == 0:
		target := a.targetQuantity(c, quote.Last)
		if target == 0 {
			return nil
		}
		if _, err := c.SetTarget(symbol, target); err != nil {
			a.logger.Warn("entry rejected", zap.String("symbol", symbol), zap.Error(err))
		}
	case quote.Last.Lt(mean) && position.Closeable > 0:
		if _, err := c.SetTarget(symbol, 0); err != nil {
			a.logger.Warn("exit rejected", zap.String("symbol", symbol), zap.Error(err))
		}
	}
	return nil
}

// trailingMean averages the last lookbackDays daily closes before the
// current day. Days without a bar for the symbol are skipped.
func (a *advisor) trailingMean(c *strategy.Context, symbol string) (fixed.Point, bool, error) {
	days, err := c.Market.TradingDays(c, c.Time.AddDate(0, 0, -2*lookbackDays), c.Time.AddDate(0, 0, -1))
	if err != nil {
		return fixed.Zero, false, err
	}
	if len(days) > lookbackDays {
		days = days[len(days)-lookbackDays:]
	}

	var closes []fixed.Point
	for _, day := range days {
		bar, err := c.Market.DailyBar(c, symbol, day)
		if err != nil {
			continue
		}
		closes = append(closes, bar.Close)
	}
	if len(closes) < lookbackDays {
		return fixed.Zero, false, nil
	}
	return fixed.Mean(closes), true, nil
}

// targetQuantity sizes an equal-weight slice of current equity at the given
// price, in whole shares. The broker rounds down to lots.
func (a *advisor) targetQuantity(c *strategy.Context, price fixed.Point) int64 {
	slice := c.Account.Equity().DivInt(len(a.symbols))
	shares, _ := slice.Div(price).Float64()
	return int64(shares)
}

func (a *advisor) onFinish(c *strategy.Context) error {
	a.logger.Info("run finished",
		zap.Time("at", c.Time),
		zap.String("equity", c.Account.Equity().String()),
		zap.String("cash", c.Account.Cash().String()))
	return nil
}
