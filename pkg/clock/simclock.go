package clock

import (
	"errors"
	"fmt"
	"time"
)

type Mode int
type Frequency int

const (
	ModeHistorical Mode = iota
	ModeLive
)

const (
	FreqDay Frequency = iota
	FreqMinute
	FreqTick
)

// Signal is the cross-thread control value the run loops poll between
// scheduled wakes. It is the only shared mutable state between the control
// thread and the simulation goroutine.
type Signal int32

const (
	SignalNone Signal = iota
	SignalPause
	SignalCancel
)

var (
	// ErrPaused and ErrCanceled report why a run loop returned early. Both
	// are honored at wake boundaries only, never mid-callback.
	ErrPaused   = errors.New("clock: paused")
	ErrCanceled = errors.New("clock: canceled")
)

func ParseMode(s string) (Mode, error) {
	switch s {
	case "historical", "backtest":
		return ModeHistorical, nil
	case "live":
		return ModeLive, nil
	}
	return 0, fmt.Errorf("invalid run mode %q", s)
}

func ParseFrequency(s string) (Frequency, error) {
	switch s {
	case "day":
		return FreqDay, nil
	case "minute":
		return FreqMinute, nil
	case "tick":
		return FreqTick, nil
	}
	return 0, fmt.Errorf("invalid run frequency %q", s)
}

func (m Mode) String() string {
	if m == ModeLive {
		return "live"
	}
	return "historical"
}

func (f Frequency) String() string {
	switch f {
	case FreqMinute:
		return "minute"
	case FreqTick:
		return "tick"
	}
	return "day"
}

// SimClock holds the current simulated timestamp, the run mode and frequency,
// and the historical bounds. Only the run loops in this package mutate it;
// every other component reads it through Now.
type SimClock struct {
	mode    Mode
	freq    Frequency
	start   time.Time
	end     time.Time
	current time.Time
}

func NewSimClock(mode Mode, freq Frequency, start, end time.Time) *SimClock {
	return &SimClock{mode: mode, freq: freq, start: start, end: end}
}

func (c *SimClock) Now() time.Time      { return c.current }
func (c *SimClock) Mode() Mode          { return c.mode }
func (c *SimClock) Frequency() Frequency { return c.freq }
func (c *SimClock) Start() time.Time    { return c.start }
func (c *SimClock) End() time.Time      { return c.end }

// Seek positions the clock, used when resuming from a snapshot.
func (c *SimClock) Seek(t time.Time) { c.current = t }

func (c *SimClock) set(t time.Time) { c.current = t }
