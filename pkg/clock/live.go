package clock

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jhudec/sandglass/pkg/common"
	"github.com/jhudec/sandglass/pkg/exchange"
	"github.com/jhudec/sandglass/pkg/market"
	"github.com/jhudec/sandglass/pkg/strategy"
)

const (
	liveOpenPrepTime = "09:00:00"
)

// Live polls the wall clock on a fixed cadence and triggers the same callback
// classes as historical replay when the wall time crosses the corresponding
// boundaries: open preparation at 09:00, the trading window between 09:30 and
// 15:00, settlement at 15:30. Non-trading days sleep until the next poll.
type Live struct {
	logger     *zap.Logger
	clock      *SimClock
	dispatcher *Dispatcher
	broker     *exchange.Broker
	settlement *exchange.Settlement
	market     market.Source
	interrupt  func() Signal

	pollInterval time.Duration
	now          func() time.Time

	// AfterSettle, when set, runs after every settlement. The session
	// controller uses it to snapshot automatically so a crashed process can
	// resume from the last settled day.
	AfterSettle func(ctx context.Context) error

	sctx    *strategy.Context
	skipDay bool

	day        time.Time
	prepared   bool
	settled    bool
	lastMinute time.Time
}

func NewLive(logger *zap.Logger, clock *SimClock, dispatcher *Dispatcher, broker *exchange.Broker, settlement *exchange.Settlement, source market.Source, interrupt func() Signal, pollInterval time.Duration) *Live {
	return &Live{
		logger:       logger,
		clock:        clock,
		dispatcher:   dispatcher,
		broker:       broker,
		settlement:   settlement,
		market:       source,
		interrupt:    interrupt,
		pollInterval: pollInterval,
		now:          time.Now,
	}
}

func (l *Live) Bind(sctx *strategy.Context) {
	l.sctx = sctx
}

func (l *Live) SkipRemainder() {
	l.skipDay = true
}

// Run polls until cancelled. A resume timestamp marks boundaries already
// crossed on the resumed day so they do not fire twice.
func (l *Live) Run(ctx context.Context, resume time.Time) error {
	if !resume.IsZero() {
		l.restore(resume)
	}

	for {
		if sig := l.interrupt(); sig != SignalNone {
			return signalErr(sig)
		}

		if err := l.poll(ctx, l.now()); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.pollInterval):
		}
	}
}

func (l *Live) poll(ctx context.Context, now time.Time) error {
	day := common.DayStart(now)
	if !day.Equal(l.day) {
		l.day = day
		l.prepared = false
		l.settled = false
		l.skipDay = false
		l.lastMinute = time.Time{}
	}

	days, err := l.market.TradingDays(ctx, day, day)
	if err != nil {
		l.logger.Warn("trading calendar unavailable, treating day as non-trading",
			zap.Time("day", day), zap.Error(err))
		return nil
	}
	if len(days) == 0 {
		// Non-trading day, sleep until the next poll.
		return nil
	}

	tod := common.TimeOfDay(now)

	if !l.prepared && tod >= liveOpenPrepTime {
		l.prepared = true
		l.wake(now, func() { l.dispatcher.FireBeforeOpen(l.sctx) })
	}

	if l.prepared && !l.settled && !l.skipDay && common.InTradingSession(tod) {
		minute := now.Truncate(time.Minute)
		newMinute := minute.After(l.lastMinute)
		if newMinute {
			l.lastMinute = minute
			minuteTod := common.TimeOfDay(minute)
			l.wake(minute, func() { l.dispatcher.FireMinute(minuteTod, l.sctx) })
		}
		if l.clock.Frequency() == FreqTick {
			// Tick cadence sweeps the order book on every poll.
			l.clock.set(now)
			l.broker.MatchCycle(ctx)
		} else if newMinute {
			l.broker.MatchCycle(ctx)
		}
	}

	if l.prepared && !l.settled && tod >= common.SettleTime {
		l.settled = true
		l.wake(common.DayAt(day, common.CloseTime), func() { l.dispatcher.FireAfterClose(l.sctx) })

		l.clock.set(common.DayAt(day, common.SettleTime))
		if _, err := l.settlement.Close(ctx, day); err != nil {
			return fmt.Errorf("settlement failed on %s: %w", day.Format(time.DateOnly), err)
		}
		if l.AfterSettle != nil {
			if err := l.AfterSettle(ctx); err != nil {
				l.logger.Warn("post-settlement snapshot failed", zap.Error(err))
			}
		}
	}

	return nil
}

// restore marks the boundaries of the resumed day that were crossed before
// the snapshot was taken.
func (l *Live) restore(resume time.Time) {
	l.day = common.DayStart(resume)
	tod := common.TimeOfDay(resume)
	l.prepared = tod >= liveOpenPrepTime
	l.settled = tod >= common.SettleTime
	l.lastMinute = resume.Truncate(time.Minute)
}

func (l *Live) wake(at time.Time, dispatch func()) {
	l.clock.set(at)
	l.sctx.Time = at
	dispatch()
}
