package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jhudec/sandglass/pkg/account"
	"github.com/jhudec/sandglass/pkg/clock"
	"github.com/jhudec/sandglass/pkg/exchange"
	"github.com/jhudec/sandglass/pkg/market"
	"github.com/jhudec/sandglass/pkg/strategy"
)

type State int32

const (
	StateNone State = iota
	StateRunning
	StateDone
	StateFailed
	StateCanceled
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateCanceled:
		return "canceled"
	case StatePaused:
		return "paused"
	}
	return "none"
}

// Runner is a clock run loop, historical or live.
type Runner interface {
	Bind(*strategy.Context)
	Run(ctx context.Context, resume time.Time) error
}

// Controller orchestrates one simulation session:
//
//	none -> running -> done | failed | canceled | paused
//
// Pause and Cancel may be called from a control thread; the simulation
// goroutine polls the shared signal at wake boundaries. Everything else is
// confined to the simulation goroutine.
type Controller struct {
	logger *zap.Logger
	name   string

	clk        *clock.SimClock
	ledger     *account.Ledger
	broker     *exchange.Broker
	settlement *exchange.Settlement
	market     market.Source
	runner     Runner
	sctx       *strategy.Context
	store      *Store

	state   atomic.Int32
	control atomic.Int32
}

func NewController(logger *zap.Logger, name string, clk *clock.SimClock, ledger *account.Ledger, broker *exchange.Broker, settlement *exchange.Settlement, source market.Source, runner Runner, sctx *strategy.Context, store *Store) *Controller {
	c := &Controller{
		logger:     logger,
		name:       name,
		clk:        clk,
		ledger:     ledger,
		broker:     broker,
		settlement: settlement,
		market:     source,
		runner:     runner,
		sctx:       sctx,
		store:      store,
	}
	runner.Bind(sctx)
	return c
}

// Signal returns the pending control signal. The run loops poll it between
// scheduled wakes.
func (c *Controller) Signal() clock.Signal {
	return clock.Signal(c.control.Load())
}

// Pause requests a cooperative pause at the next wake boundary.
func (c *Controller) Pause() {
	c.control.Store(int32(clock.SignalPause))
}

// Cancel requests a cooperative cancel at the next wake boundary.
func (c *Controller) Cancel() {
	c.control.Store(int32(clock.SignalCancel))
}

func (c *Controller) State() State {
	return State(c.state.Load())
}

// Run executes the session from the configured start. On historical runs the
// benchmark availability is verified before entering the running state;
// a wholly unavailable benchmark aborts the session.
func (c *Controller) Run(ctx context.Context) error {
	return c.run(ctx, time.Time{})
}

// Resume reloads the persisted snapshot and re-enters the clock loop from
// the saved timestamp.
func (c *Controller) Resume(ctx context.Context) error {
	snap, err := c.store.Load(c.name, c.clk.Mode().String())
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if err := c.restore(snap); err != nil {
		return err
	}
	c.logger.Info("resuming session",
		zap.String("strategy", c.name),
		zap.Time("from", snap.ClockTime))
	return c.run(ctx, snap.ClockTime)
}

func (c *Controller) run(ctx context.Context, resume time.Time) error {
	// A pause or cancel requested in a previous run must not stop this one.
	c.control.Store(int32(clock.SignalNone))

	if c.clk.Mode() == clock.ModeHistorical {
		if err := c.verifyBenchmark(ctx); err != nil {
			c.state.Store(int32(StateFailed))
			return err
		}
	}

	c.state.Store(int32(StateRunning))
	err := c.runner.Run(ctx, resume)

	switch {
	case err == nil:
		c.state.Store(int32(StateDone))
		return nil
	case errors.Is(err, clock.ErrPaused):
		c.state.Store(int32(StatePaused))
		if saveErr := c.SaveSnapshot(ctx); saveErr != nil {
			return fmt.Errorf("pause snapshot: %w", saveErr)
		}
		c.logger.Info("session paused", zap.Time("at", c.clk.Now()))
		return err
	case errors.Is(err, clock.ErrCanceled):
		c.state.Store(int32(StateCanceled))
		c.logger.Info("session canceled", zap.Time("at", c.clk.Now()))
		return err
	default:
		c.state.Store(int32(StateFailed))
		return err
	}
}

// SaveSnapshot persists all mutable session state: the clock position, the
// ledger, the live order set, the settled equity series and the
// strategy-defined variables.
func (c *Controller) SaveSnapshot(_ context.Context) error {
	if c.store == nil {
		return nil
	}
	return c.store.Save(Snapshot{
		Strategy:   c.name,
		Mode:       c.clk.Mode().String(),
		Frequency:  c.clk.Frequency().String(),
		ClockTime:  c.clk.Now(),
		Ledger:     c.ledger,
		Orders:     c.broker.ExportState(),
		Settlement: c.settlement.ExportState(),
		Vars:       c.sctx.Vars,
		SavedAt:    time.Now(),
	})
}

func (c *Controller) restore(snap Snapshot) error {
	if snap.Strategy != c.name {
		return fmt.Errorf("snapshot belongs to strategy %q, not %q", snap.Strategy, c.name)
	}
	if snap.Mode != c.clk.Mode().String() {
		return fmt.Errorf("snapshot mode %q does not match run mode %q", snap.Mode, c.clk.Mode())
	}

	c.clk.Seek(snap.ClockTime)
	*c.ledger = *snap.Ledger
	c.broker.ImportState(snap.Orders)
	c.settlement.ImportState(snap.Settlement)
	c.sctx.Vars = snap.Vars
	if c.sctx.Vars == nil {
		c.sctx.Vars = make(map[string]any)
	}
	return nil
}

func (c *Controller) verifyBenchmark(ctx context.Context) error {
	days, err := c.market.TradingDays(ctx, c.clk.Start(), c.clk.End())
	if err != nil {
		return fmt.Errorf("trading days unavailable: %w", err)
	}
	if len(days) == 0 {
		return errors.New("no trading days in the configured period")
	}
	return c.settlement.VerifyBenchmark(ctx, days[0])
}
