package clock

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jhudec/sandglass/pkg/account"
	"github.com/jhudec/sandglass/pkg/common"
	"github.com/jhudec/sandglass/pkg/exchange"
	"github.com/jhudec/sandglass/pkg/market"
	"github.com/jhudec/sandglass/pkg/strategy"
	"github.com/jhudec/sandglass/pkg/utility/fixed"
)

var (
	day1 = time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	day2 = time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)
)

type histRig struct {
	clock      *SimClock
	dispatcher *Dispatcher
	ledger     *account.Ledger
	broker     *exchange.Broker
	settlement *exchange.Settlement
	runner     *Historical
	sctx       *strategy.Context

	signal Signal
}

func newHistRig(t *testing.T, freq Frequency, withMinutes bool) *histRig {
	t.Helper()

	static := market.NewStatic(fixed.FromFloat64(0.1))
	for _, day := range []time.Time{day1, day2} {
		for _, symbol := range []string{"600000", "000300"} {
			static.AddDailyBar(common.Bar{
				Symbol:    symbol,
				TimeStamp: day,
				Close:     fixed.FromInt(10, 0),
				Open:      fixed.FromInt(10, 0),
				High:      fixed.FromInt(10, 0),
				Low:       fixed.FromInt(10, 0),
			})
		}
		if withMinutes {
			for _, minute := range common.SessionMinutes(day) {
				static.AddMinuteBars(common.Bar{
					Symbol:    "600000",
					TimeStamp: minute,
					Period:    time.Minute,
					Open:      fixed.FromInt(10, 0),
					High:      fixed.FromInt(10, 0),
					Low:       fixed.FromInt(10, 0),
					Close:     fixed.FromInt(10, 0),
				})
			}
		}
	}
	cache := market.NewCache(static)

	mode := exchange.MatchDaily
	if freq != FreqDay {
		mode = exchange.MatchPerTick
	}

	rig := &histRig{}
	rig.clock = NewSimClock(ModeHistorical, freq, day1, day2)
	rig.dispatcher = NewDispatcher(zap.NewNop())
	rig.ledger = account.NewLedger(fixed.FromInt(1_000_000, 0))
	rig.broker = exchange.NewBroker(zap.NewNop(), rig.clock, cache, rig.ledger, exchange.Config{
		LotSize:        100,
		CommissionRate: fixed.FromFloat64(0.0003),
		MinCommission:  fixed.FromInt(5, 0),
		TaxRate:        fixed.FromFloat64(0.001),
		Slippage:       fixed.FromFloat64(0.01),
	}, mode)
	rig.settlement = exchange.NewSettlement(zap.NewNop(), rig.ledger, rig.broker, cache, "000300", nil)
	rig.runner = NewHistorical(zap.NewNop(), rig.clock, rig.dispatcher, rig.broker, rig.settlement, cache,
		func() Signal { return rig.signal })
	rig.sctx = strategy.NewContext(context.Background(), cache, rig.ledger, rig.broker, rig.runner.SkipRemainder)
	rig.runner.Bind(rig.sctx)
	return rig
}

func TestHistorical_DayFrequencyCallbackOrder(t *testing.T) {
	rig := newHistRig(t, FreqDay, false)

	var log []string
	record := func(tag string) strategy.Handler {
		return func(c *strategy.Context) error {
			log = append(log, fmt.Sprintf("%s %s %s", c.Time.Format(time.DateOnly), common.TimeOfDay(c.Time), tag))
			return nil
		}
	}

	require.NoError(t, rig.dispatcher.Bind(&strategy.Strategy{
		BeforeOpen: record("before-open"),
		OnBar:      record("bar"),
		AfterClose: record("after-close"),
		OnFinish:   record("finish"),
		Timed: []strategy.TimedHandler{
			{At: "14:30:00", Handler: record("late-timed")},
			{At: "10:00:00", Handler: record("early-timed")},
		},
	}))

	require.NoError(t, rig.runner.Run(context.Background(), time.Time{}))

	assert.Equal(t, []string{
		"2024-03-11 09:15:00 before-open",
		"2024-03-11 09:30:00 bar",
		"2024-03-11 10:00:00 early-timed",
		"2024-03-11 14:30:00 late-timed",
		"2024-03-11 15:00:00 after-close",
		"2024-03-12 09:15:00 before-open",
		"2024-03-12 09:30:00 bar",
		"2024-03-12 10:00:00 early-timed",
		"2024-03-12 14:30:00 late-timed",
		"2024-03-12 15:00:00 after-close",
		"2024-03-12 15:30:00 finish",
	}, log)

	require.Len(t, rig.settlement.Snapshots(), 2)
}

func TestHistorical_MinuteFrequencyWakes(t *testing.T) {
	rig := newHistRig(t, FreqMinute, true)

	barWakes := 0
	require.NoError(t, rig.dispatcher.Bind(&strategy.Strategy{
		OnBar: func(c *strategy.Context) error {
			barWakes++
			return nil
		},
	}))

	require.NoError(t, rig.runner.Run(context.Background(), time.Time{}))

	// 242 session minutes per trading day.
	assert.Equal(t, 484, barWakes)
	assert.Len(t, rig.settlement.Snapshots(), 2)
}

func TestHistorical_MinuteFillsOnNextCycle(t *testing.T) {
	rig := newHistRig(t, FreqMinute, true)

	require.NoError(t, rig.dispatcher.Bind(&strategy.Strategy{
		Timed: []strategy.TimedHandler{
			{At: "10:00:00", Handler: func(c *strategy.Context) error {
				if c.Position("600000").Total() == 0 && common.DayStart(c.Time).Equal(day1) {
					_, err := c.Buy("600000", 200)
					return err
				}
				return nil
			}},
		},
	}))

	require.NoError(t, rig.runner.Run(context.Background(), time.Time{}))

	snapshots := rig.settlement.Snapshots()
	require.Len(t, snapshots, 2)

	// Position opened on day one, held through day two.
	position := rig.ledger.Position("600000")
	assert.Equal(t, int64(200), position.Total())
	assert.Equal(t, int64(200), position.Closeable)

	// Marked to the daily close at the day-one settlement.
	assert.True(t, snapshots[0].PositionValue.Eq(fixed.FromInt(2000, 0)))
}

func TestHistorical_SkipDay(t *testing.T) {
	rig := newHistRig(t, FreqMinute, true)

	barWakes := 0
	require.NoError(t, rig.dispatcher.Bind(&strategy.Strategy{
		OnBar: func(c *strategy.Context) error {
			barWakes++
			if common.DayStart(c.Time).Equal(day1) && common.TimeOfDay(c.Time) == "09:35:00" {
				c.SkipDay()
			}
			return nil
		},
	}))

	require.NoError(t, rig.runner.Run(context.Background(), time.Time{}))

	// Day one stops after six wakes; day two runs in full. Settlement still
	// settles both days.
	assert.Equal(t, 6+242, barWakes)
	assert.Len(t, rig.settlement.Snapshots(), 2)
}

func TestHistorical_PauseAndResume(t *testing.T) {
	rig := newHistRig(t, FreqDay, false)

	days := 0
	require.NoError(t, rig.dispatcher.Bind(&strategy.Strategy{
		BeforeOpen: func(c *strategy.Context) error {
			days++
			return nil
		},
		// The signal raised here is honored at the next day boundary, after
		// the current day has settled.
		AfterClose: func(c *strategy.Context) error {
			if common.DayStart(c.Time).Equal(day1) {
				rig.signal = SignalPause
			}
			return nil
		},
	}))

	err := rig.runner.Run(context.Background(), time.Time{})
	require.ErrorIs(t, err, ErrPaused)
	assert.Equal(t, 1, days)
	require.Len(t, rig.settlement.Snapshots(), 1)

	// Resume from the pause timestamp: only the second day runs.
	rig.signal = SignalNone
	require.NoError(t, rig.runner.Run(context.Background(), rig.clock.Now()))
	assert.Equal(t, 2, days)
	assert.Len(t, rig.settlement.Snapshots(), 2)
}
