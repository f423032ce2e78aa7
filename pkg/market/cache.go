package market

import (
	"context"
	"time"

	"github.com/jhudec/sandglass/pkg/common"
)

type dayKey struct {
	symbol string
	day    time.Time
}

// Cache memoizes per-day bar lookups of an underlying source so that
// per-minute matching does not hit the collaborator once per tick. Settlement
// resets it at the end of every trading day, so the next day starts cold.
//
// The cache is confined to the simulation goroutine and needs no locking.
type Cache struct {
	source Source

	dailyBars  map[dayKey]common.Bar
	minuteBars map[dayKey][]common.Bar
}

func NewCache(source Source) *Cache {
	c := &Cache{source: source}
	c.Reset()
	return c
}

func (c *Cache) Quote(ctx context.Context, symbol string, at time.Time) (common.Quote, error) {
	return c.source.Quote(ctx, symbol, at)
}

func (c *Cache) DailyBar(ctx context.Context, symbol string, day time.Time) (common.Bar, error) {
	key := dayKey{symbol, common.DayStart(day)}
	if bar, ok := c.dailyBars[key]; ok {
		return bar, nil
	}
	bar, err := c.source.DailyBar(ctx, symbol, day)
	if err != nil {
		return common.Bar{}, err
	}
	c.dailyBars[key] = bar
	return bar, nil
}

func (c *Cache) MinuteBars(ctx context.Context, symbol string, from, to time.Time) ([]common.Bar, error) {
	key := dayKey{symbol, common.DayStart(from)}
	curve, ok := c.minuteBars[key]
	if !ok {
		var err error
		day := common.DayStart(from)
		curve, err = c.source.MinuteBars(ctx, symbol, common.DayAt(day, common.OpenTime), common.DayAt(day, common.CloseTime))
		if err != nil {
			return nil, err
		}
		// An empty curve is not memoized: a live source may still be filling
		// the current day in.
		if len(curve) > 0 {
			c.minuteBars[key] = curve
		}
	}

	bars := make([]common.Bar, 0, len(curve))
	for _, bar := range curve {
		if bar.TimeStamp.Before(from) || bar.TimeStamp.After(to) {
			continue
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func (c *Cache) TradingDays(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	return c.source.TradingDays(ctx, from, to)
}

// Reset drops all cached bars.
func (c *Cache) Reset() {
	c.dailyBars = make(map[dayKey]common.Bar)
	c.minuteBars = make(map[dayKey][]common.Bar)
}
