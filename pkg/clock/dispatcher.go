package clock

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/jhudec/sandglass/pkg/common"
	"github.com/jhudec/sandglass/pkg/strategy"
)

type entry struct {
	seq     int64
	handler strategy.Handler
}

// Dispatcher owns the callback registry and invokes callbacks in a fixed
// deterministic order. Before-open callbacks always precede per-bar and
// fixed-time callbacks, which always precede after-close callbacks. Within a
// class, registration order is preserved; a prepend registration sorts ahead
// of everything registered before it.
//
// The registry is read-only once the run starts.
type Dispatcher struct {
	logger *zap.Logger

	beforeOpen []entry
	bar        []entry
	afterClose []entry
	finished   []entry
	timed      map[string][]entry

	nextSeq int64
}

func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		logger: logger,
		timed:  make(map[string][]entry),
	}
}

// Bind registers every non-nil slot of a strategy. Invalid fixed-time
// registrations are configuration errors and fail before the clock starts.
func (d *Dispatcher) Bind(st *strategy.Strategy) error {
	if st.BeforeOpen != nil {
		d.OnBeforeOpen(st.BeforeOpen, false)
	}
	if st.OnBar != nil {
		d.OnBar(st.OnBar, false)
	}
	if st.AfterClose != nil {
		d.OnAfterClose(st.AfterClose, false)
	}
	if st.OnFinish != nil {
		d.OnFinish(st.OnFinish, false)
	}
	for _, timed := range st.Timed {
		if err := d.At(timed.At, timed.Handler, timed.Prepend); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) OnBeforeOpen(h strategy.Handler, prepend bool) {
	d.beforeOpen = append(d.beforeOpen, d.entry(h, prepend))
}

func (d *Dispatcher) OnBar(h strategy.Handler, prepend bool) {
	d.bar = append(d.bar, d.entry(h, prepend))
}

func (d *Dispatcher) OnAfterClose(h strategy.Handler, prepend bool) {
	d.afterClose = append(d.afterClose, d.entry(h, prepend))
}

func (d *Dispatcher) OnFinish(h strategy.Handler, prepend bool) {
	d.finished = append(d.finished, d.entry(h, prepend))
}

// At registers a fixed-clock-time callback. The time of day must fall within
// the trading session; anything before the open, after the close or inside
// the midday break is rejected here, not at run time.
func (d *Dispatcher) At(tod string, h strategy.Handler, prepend bool) error {
	if _, err := common.ParseTimeOfDay(tod); err != nil {
		return err
	}
	if !common.InTradingSession(tod) {
		return fmt.Errorf("trigger time %q is outside the trading session", tod)
	}
	d.timed[tod] = append(d.timed[tod], d.entry(h, prepend))
	return nil
}

// TimedTimes lists the registered fixed trigger times sorted
// lexicographically, which for "HH:MM:SS" strings is time order.
func (d *Dispatcher) TimedTimes() []string {
	times := make([]string, 0, len(d.timed))
	for tod := range d.timed {
		times = append(times, tod)
	}
	sort.Strings(times)
	return times
}

func (d *Dispatcher) FireBeforeOpen(c *strategy.Context) { d.fire(d.beforeOpen, c) }
func (d *Dispatcher) FireAfterClose(c *strategy.Context) { d.fire(d.afterClose, c) }
func (d *Dispatcher) FireFinish(c *strategy.Context)     { d.fire(d.finished, c) }
func (d *Dispatcher) FireBar(c *strategy.Context)        { d.fire(d.bar, c) }

// FireTimed runs the callbacks registered for one exact trigger time.
func (d *Dispatcher) FireTimed(tod string, c *strategy.Context) {
	d.fire(d.timed[tod], c)
}

// FireMinute runs one minute wake: the per-bar callbacks merged with every
// fixed-time callback falling into that minute, ordered by registration
// sequence.
func (d *Dispatcher) FireMinute(tod string, c *strategy.Context) {
	merged := append([]entry(nil), d.bar...)
	for at, entries := range d.timed {
		if at[:5] == tod[:5] {
			merged = append(merged, entries...)
		}
	}
	d.fire(merged, c)
}

func (d *Dispatcher) entry(h strategy.Handler, prepend bool) entry {
	d.nextSeq++
	seq := d.nextSeq
	if prepend {
		seq = -seq
	}
	return entry{seq: seq, handler: h}
}

// fire invokes the entries ordered by registration sequence. A callback
// error or panic is logged and the run continues; one bad callback must not
// abort a multi-year backtest.
func (d *Dispatcher) fire(entries []entry, c *strategy.Context) {
	ordered := append([]entry(nil), entries...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].seq < ordered[j].seq })

	for _, e := range ordered {
		d.invoke(e, c)
	}
}

func (d *Dispatcher) invoke(e entry, c *strategy.Context) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("strategy callback panicked",
				zap.Time("at", c.Time),
				zap.Any("panic", r))
		}
	}()

	if err := e.handler(c); err != nil {
		d.logger.Error("strategy callback failed",
			zap.Time("at", c.Time),
			zap.Error(err))
	}
}
