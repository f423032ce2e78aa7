package market

import (
	"context"
	"sort"
	"time"

	"github.com/jhudec/sandglass/pkg/common"
	"github.com/jhudec/sandglass/pkg/utility/fixed"
)

// Static is an in-memory source. Loaders fill it up front from flat files and
// the simulation then runs without touching any I/O collaborator.
type Static struct {
	limitRate fixed.Point

	days       []time.Time
	dailyBars  map[dayKey]common.Bar
	minuteBars map[dayKey][]common.Bar
}

func NewStatic(limitRate fixed.Point) *Static {
	return &Static{
		limitRate:  limitRate,
		dailyBars:  make(map[dayKey]common.Bar),
		minuteBars: make(map[dayKey][]common.Bar),
	}
}

// AddTradingDays registers trading days. Days are kept sorted and
// deduplicated.
func (s *Static) AddTradingDays(days ...time.Time) {
	for _, day := range days {
		s.days = append(s.days, common.DayStart(day))
	}
	sort.Slice(s.days, func(i, j int) bool { return s.days[i].Before(s.days[j]) })
	dedup := s.days[:0]
	for i, day := range s.days {
		if i == 0 || !day.Equal(dedup[len(dedup)-1]) {
			dedup = append(dedup, day)
		}
	}
	s.days = dedup
}

func (s *Static) AddDailyBar(bar common.Bar) {
	day := common.DayStart(bar.TimeStamp)
	s.dailyBars[dayKey{bar.Symbol, day}] = bar
	s.AddTradingDays(day)
}

// AddMinuteBars appends to the intraday curve of the bar's symbol and day.
// Bars must be added in time order.
func (s *Static) AddMinuteBars(bars ...common.Bar) {
	for _, bar := range bars {
		key := dayKey{bar.Symbol, common.DayStart(bar.TimeStamp)}
		s.minuteBars[key] = append(s.minuteBars[key], bar)
	}
}

func (s *Static) Quote(_ context.Context, symbol string, at time.Time) (common.Quote, error) {
	day := common.DayStart(at)

	last := fixed.Zero
	for _, bar := range s.minuteBars[dayKey{symbol, day}] {
		if bar.TimeStamp.After(at) {
			break
		}
		last = bar.Close
	}

	daily, haveDaily := s.dailyBars[dayKey{symbol, day}]
	if last.IsZero() {
		if !haveDaily {
			return common.Quote{}, ErrNoData
		}
		last = daily.Open
	}

	base := last
	if prev, ok := s.prevClose(symbol, day); ok {
		base = prev
	}
	return common.Quote{
		Symbol:    symbol,
		Last:      last,
		LimitUp:   base.Mul(fixed.One.Add(s.limitRate)),
		LimitDown: base.Mul(fixed.One.Sub(s.limitRate)),
		TimeStamp: at,
	}, nil
}

func (s *Static) DailyBar(_ context.Context, symbol string, day time.Time) (common.Bar, error) {
	bar, ok := s.dailyBars[dayKey{symbol, common.DayStart(day)}]
	if !ok {
		return common.Bar{}, ErrNoData
	}
	return bar, nil
}

// MinuteBars serves the intraday curve of the day containing from. Symbols
// loaded with daily bars only get a single synthesized bar carrying the daily
// range, stamped at the session close, so day-frequency matching still has a
// curve to cross.
func (s *Static) MinuteBars(_ context.Context, symbol string, from, to time.Time) ([]common.Bar, error) {
	day := common.DayStart(from)
	curve := s.minuteBars[dayKey{symbol, day}]
	if len(curve) == 0 {
		if daily, ok := s.dailyBars[dayKey{symbol, day}]; ok {
			daily.TimeStamp = common.DayAt(day, common.CloseTime)
			daily.Period = time.Minute
			curve = []common.Bar{daily}
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

func (s *Static) TradingDays(_ context.Context, from, to time.Time) ([]time.Time, error) {
	days := make([]time.Time, 0, len(s.days))
	for _, day := range s.days {
		if day.Before(common.DayStart(from)) || day.After(common.DayStart(to)) {
			continue
		}
		days = append(days, day)
	}
	return days, nil
}

func (s *Static) prevClose(symbol string, day time.Time) (fixed.Point, bool) {
	idx := sort.Search(len(s.days), func(i int) bool { return !s.days[i].Before(day) })
	for i := idx - 1; i >= 0; i-- {
		if bar, ok := s.dailyBars[dayKey{symbol, s.days[i]}]; ok {
			return bar.Close, true
		}
	}
	return fixed.Zero, false
}
