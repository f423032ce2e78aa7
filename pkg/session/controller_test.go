package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jhudec/sandglass/pkg/account"
	"github.com/jhudec/sandglass/pkg/clock"
	"github.com/jhudec/sandglass/pkg/common"
	"github.com/jhudec/sandglass/pkg/exchange"
	"github.com/jhudec/sandglass/pkg/market"
	"github.com/jhudec/sandglass/pkg/strategy"
	"github.com/jhudec/sandglass/pkg/utility/fixed"
)

var (
	day1 = time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	day2 = time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)
	day3 = time.Date(2024, 3, 13, 0, 0, 0, 0, time.UTC)
)

type sessionRig struct {
	controller *Controller
	settlement *exchange.Settlement
	ledger     *account.Ledger
}

// newSessionRig builds a full day-frequency historical session over three
// trading days with rising prices.
func newSessionRig(t *testing.T, dir string, st *strategy.Strategy) *sessionRig {
	t.Helper()

	static := market.NewStatic(fixed.FromFloat64(0.1))
	for i, day := range []time.Time{day1, day2, day3} {
		price := fixed.FromInt(int(10+i), 0)
		for _, symbol := range []string{"600000", "000300"} {
			static.AddDailyBar(common.Bar{
				Symbol:    symbol,
				TimeStamp: day,
				Open:      price,
				High:      price,
				Low:       price,
				Close:     price,
			})
		}
		for _, minute := range common.SessionMinutes(day) {
			static.AddMinuteBars(common.Bar{
				Symbol:    "600000",
				TimeStamp: minute,
				Period:    time.Minute,
				Open:      price,
				High:      price,
				Low:       price,
				Close:     price,
			})
		}
	}
	cache := market.NewCache(static)

	clk := clock.NewSimClock(clock.ModeHistorical, clock.FreqDay, day1, day3)
	ledger := account.NewLedger(fixed.FromInt(1_000_000, 0))
	broker := exchange.NewBroker(zap.NewNop(), clk, cache, ledger, exchange.Config{
		LotSize:        100,
		CommissionRate: fixed.FromFloat64(0.0003),
		MinCommission:  fixed.FromInt(5, 0),
		TaxRate:        fixed.FromFloat64(0.001),
		Slippage:       fixed.FromFloat64(0.01),
	}, exchange.MatchDaily)
	settlement := exchange.NewSettlement(zap.NewNop(), ledger, broker, cache, "000300", nil)

	dispatcher := clock.NewDispatcher(zap.NewNop())
	require.NoError(t, dispatcher.Bind(st))

	rig := &sessionRig{settlement: settlement, ledger: ledger}
	runner := clock.NewHistorical(zap.NewNop(), clk, dispatcher, broker, settlement, cache,
		func() clock.Signal { return rig.controller.Signal() })
	sctx := strategy.NewContext(context.Background(), cache, ledger, broker, runner.SkipRemainder)
	rig.controller = NewController(zap.NewNop(), "test", clk, ledger, broker, settlement, cache, runner, sctx, NewStore(dir))
	return rig
}

func buyOnceStrategy() *strategy.Strategy {
	return &strategy.Strategy{
		Name: "test",
		OnBar: func(c *strategy.Context) error {
			if c.Position("600000").Total() == 0 && common.DayStart(c.Time).Equal(day1) {
				_, err := c.Buy("600000", 200)
				return err
			}
			return nil
		},
	}
}

func TestController_Run(t *testing.T) {
	rig := newSessionRig(t, t.TempDir(), buyOnceStrategy())

	require.NoError(t, rig.controller.Run(context.Background()))
	assert.Equal(t, StateDone, rig.controller.State())

	snapshots := rig.settlement.Snapshots()
	require.Len(t, snapshots, 3)

	// 200 shares riding 10 -> 12 while the benchmark does the same.
	assert.Equal(t, int64(200), rig.ledger.Position("600000").Total())
	assert.True(t, snapshots[2].PositionValue.Eq(fixed.FromInt(2400, 0)))
}

func TestController_PauseResumeMatchesUninterrupted(t *testing.T) {
	baseline := newSessionRig(t, t.TempDir(), buyOnceStrategy())
	require.NoError(t, baseline.controller.Run(context.Background()))
	want := baseline.settlement.Snapshots()
	require.Len(t, want, 3)

	// Same run, paused after the first settled day.
	dir := t.TempDir()
	paused := buyOnceStrategy()
	var rig *sessionRig
	paused.AfterClose = func(c *strategy.Context) error {
		if common.DayStart(c.Time).Equal(day1) {
			rig.controller.Pause()
		}
		return nil
	}
	rig = newSessionRig(t, dir, paused)

	err := rig.controller.Run(context.Background())
	require.ErrorIs(t, err, clock.ErrPaused)
	assert.Equal(t, StatePaused, rig.controller.State())
	require.Len(t, rig.settlement.Snapshots(), 1)

	// A fresh process resumes from the stored snapshot.
	resumed := newSessionRig(t, dir, buyOnceStrategy())
	require.NoError(t, resumed.controller.Resume(context.Background()))
	assert.Equal(t, StateDone, resumed.controller.State())

	got := resumed.settlement.Snapshots()
	require.Len(t, got, 3)
	for i := range want {
		assert.True(t, got[i].Date.Equal(want[i].Date), "date %d", i)
		assert.True(t, got[i].Equity.Eq(want[i].Equity), "equity %d", i)
		assert.True(t, got[i].Benchmark.Eq(want[i].Benchmark), "benchmark %d", i)
		assert.True(t, got[i].Cash.Eq(want[i].Cash), "cash %d", i)
	}
	assert.Equal(t, int64(200), resumed.ledger.Position("600000").Total())
}

func TestController_ResumeInProcessAfterPause(t *testing.T) {
	dir := t.TempDir()
	st := buyOnceStrategy()
	var rig *sessionRig
	pausedOnce := false
	st.AfterClose = func(c *strategy.Context) error {
		if !pausedOnce && common.DayStart(c.Time).Equal(day1) {
			pausedOnce = true
			rig.controller.Pause()
		}
		return nil
	}
	rig = newSessionRig(t, dir, st)

	require.ErrorIs(t, rig.controller.Run(context.Background()), clock.ErrPaused)

	// The same controller resumes; the stale pause request must not re-fire.
	require.NoError(t, rig.controller.Resume(context.Background()))
	assert.Equal(t, StateDone, rig.controller.State())
	require.Len(t, rig.settlement.Snapshots(), 3)
}

func TestController_CancelStopsRun(t *testing.T) {
	st := buyOnceStrategy()
	var rig *sessionRig
	st.AfterClose = func(c *strategy.Context) error {
		rig.controller.Cancel()
		return nil
	}
	rig = newSessionRig(t, t.TempDir(), st)

	err := rig.controller.Run(context.Background())
	require.ErrorIs(t, err, clock.ErrCanceled)
	assert.Equal(t, StateCanceled, rig.controller.State())
}

func TestController_MissingBenchmarkFailsBeforeRunning(t *testing.T) {
	static := market.NewStatic(fixed.FromFloat64(0.1))
	static.AddDailyBar(common.Bar{Symbol: "600000", TimeStamp: day1, Close: fixed.FromInt(10, 0)})
	cache := market.NewCache(static)

	clk := clock.NewSimClock(clock.ModeHistorical, clock.FreqDay, day1, day1)
	ledger := account.NewLedger(fixed.FromInt(1_000_000, 0))
	broker := exchange.NewBroker(zap.NewNop(), clk, cache, ledger, exchange.Config{LotSize: 100}, exchange.MatchDaily)
	settlement := exchange.NewSettlement(zap.NewNop(), ledger, broker, cache, "000300", nil)
	dispatcher := clock.NewDispatcher(zap.NewNop())

	var controller *Controller
	runner := clock.NewHistorical(zap.NewNop(), clk, dispatcher, broker, settlement, cache,
		func() clock.Signal { return controller.Signal() })
	sctx := strategy.NewContext(context.Background(), cache, ledger, broker, runner.SkipRemainder)
	controller = NewController(zap.NewNop(), "test", clk, ledger, broker, settlement, cache, runner, sctx, NewStore(t.TempDir()))

	err := controller.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, controller.State())
}

func TestStore_RoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())

	_, err := store.Load("test", "historical")
	require.ErrorIs(t, err, ErrNotExists)

	snap := Snapshot{
		Strategy:  "test",
		Mode:      "historical",
		Frequency: "day",
		ClockTime: common.DayAt(day1, common.SettleTime),
		Ledger:    account.NewLedger(fixed.FromInt(500_000, 0)),
		Vars:      map[string]any{"note": "hello", "count": int64(3)},
		SavedAt:   time.Now().UTC(),
	}
	require.NoError(t, store.Save(snap))

	loaded, err := store.Load("test", "historical")
	require.NoError(t, err)
	assert.Equal(t, snap.Strategy, loaded.Strategy)
	assert.True(t, loaded.ClockTime.Equal(snap.ClockTime))
	assert.True(t, loaded.Ledger.Available.Eq(fixed.FromInt(500_000, 0)))
	assert.Equal(t, "hello", loaded.Vars["note"])
	// JSON numbers load back as float64.
	assert.Equal(t, float64(3), loaded.Vars["count"])

	// Saving again overwrites atomically.
	snap.Vars["note"] = "updated"
	require.NoError(t, store.Save(snap))
	loaded, err = store.Load("test", "historical")
	require.NoError(t, err)
	assert.Equal(t, "updated", loaded.Vars["note"])
}
