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

// Historical replays trading days between the clock's start and end bounds.
// Day-frequency runs wake once for before-open, once for the daily bar, once
// per fixed trigger time and once for after-close. Minute-frequency runs
// additionally walk every trading minute of the session, with one broker
// matching cycle per minute.
type Historical struct {
	logger     *zap.Logger
	clock      *SimClock
	dispatcher *Dispatcher
	broker     *exchange.Broker
	settlement *exchange.Settlement
	market     market.Source
	interrupt  func() Signal

	sctx    *strategy.Context
	skipDay bool
}

func NewHistorical(logger *zap.Logger, clock *SimClock, dispatcher *Dispatcher, broker *exchange.Broker, settlement *exchange.Settlement, source market.Source, interrupt func() Signal) *Historical {
	h := &Historical{
		logger:     logger,
		clock:      clock,
		dispatcher: dispatcher,
		broker:     broker,
		settlement: settlement,
		market:     source,
		interrupt:  interrupt,
	}
	return h
}

// Bind attaches the callback context. Must be called once before Run.
func (h *Historical) Bind(sctx *strategy.Context) {
	h.sctx = sctx
}

// SkipRemainder truncates the current day's minute loop. Only meaningful
// when called from a running callback; settlement is unaffected.
func (h *Historical) SkipRemainder() {
	h.skipDay = true
}

// Run replays the configured period. A non-zero resume timestamp continues a
// paused run: days and minutes already settled or dispatched are skipped, so
// an interrupted run reproduces the same settlement sequence as an
// uninterrupted one.
func (h *Historical) Run(ctx context.Context, resume time.Time) error {
	days, err := h.market.TradingDays(ctx, h.clock.Start(), h.clock.End())
	if err != nil {
		return fmt.Errorf("trading days unavailable: %w", err)
	}

	for _, day := range days {
		if skip, reason := dayDone(day, resume); skip {
			h.logger.Debug("skipping settled day", zap.Time("day", day), zap.String("reason", reason))
			continue
		}

		if sig := h.interrupt(); sig != SignalNone {
			return signalErr(sig)
		}

		if err := h.runDay(ctx, day, resume); err != nil {
			return err
		}
	}

	h.wake(h.clock.Now(), func() { h.dispatcher.FireFinish(h.sctx) })
	return nil
}

func (h *Historical) runDay(ctx context.Context, day, resume time.Time) error {
	h.skipDay = false
	midDay := !resume.IsZero() && common.DayStart(resume).Equal(common.DayStart(day))

	if !midDay {
		h.wake(common.DayAt(day, common.PreOpenTime), func() { h.dispatcher.FireBeforeOpen(h.sctx) })
	}

	if h.clock.Frequency() == FreqDay {
		h.runDailyWakes(day)
	} else if err := h.runMinuteWakes(ctx, day, resume, midDay); err != nil {
		return err
	}

	h.wake(common.DayAt(day, common.CloseTime), func() { h.dispatcher.FireAfterClose(h.sctx) })

	h.clock.set(common.DayAt(day, common.SettleTime))
	if _, err := h.settlement.Close(ctx, day); err != nil {
		return fmt.Errorf("settlement failed on %s: %w", day.Format(time.DateOnly), err)
	}
	return nil
}

// runDailyWakes dispatches the single daily bar followed by the fixed
// trigger times in lexicographic order. Orders are matched on submission in
// day-frequency runs, so there is no separate matching step here.
func (h *Historical) runDailyWakes(day time.Time) {
	h.wake(common.DayAt(day, common.OpenTime), func() { h.dispatcher.FireBar(h.sctx) })

	for _, tod := range h.dispatcher.TimedTimes() {
		if h.skipDay {
			return
		}
		h.wake(common.DayAt(day, tod), func() { h.dispatcher.FireTimed(tod, h.sctx) })
	}
}

func (h *Historical) runMinuteWakes(ctx context.Context, day, resume time.Time, midDay bool) error {
	for _, minute := range common.SessionMinutes(day) {
		if midDay && !minute.After(resume) {
			continue
		}
		if h.skipDay {
			return nil
		}
		if sig := h.interrupt(); sig != SignalNone {
			return signalErr(sig)
		}

		tod := common.TimeOfDay(minute)
		h.wake(minute, func() { h.dispatcher.FireMinute(tod, h.sctx) })
		h.broker.MatchCycle(ctx)
	}
	return nil
}

// wake advances the clock to the scheduled moment and dispatches.
func (h *Historical) wake(at time.Time, dispatch func()) {
	h.clock.set(at)
	h.sctx.Time = at
	dispatch()
}

// dayDone reports whether a day was fully processed before the resume
// timestamp was captured.
func dayDone(day, resume time.Time) (bool, string) {
	if resume.IsZero() {
		return false, ""
	}
	resumeDay := common.DayStart(resume)
	if day.Before(resumeDay) {
		return true, "before resume day"
	}
	if day.Equal(resumeDay) && common.TimeOfDay(resume) >= common.SettleTime {
		return true, "already settled"
	}
	return false, ""
}

func signalErr(sig Signal) error {
	if sig == SignalCancel {
		return ErrCanceled
	}
	return ErrPaused
}
