package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jhudec/sandglass/pkg/account"
	"github.com/jhudec/sandglass/pkg/common"
	"github.com/jhudec/sandglass/pkg/market"
	"github.com/jhudec/sandglass/pkg/utility/fixed"
)

type recordingJournal struct {
	snapshots []common.EquitySnapshot
	orders    [][]common.Order
}

func (j *recordingJournal) Append(_ context.Context, snapshot common.EquitySnapshot, orders []common.Order) error {
	j.snapshots = append(j.snapshots, snapshot)
	j.orders = append(j.orders, orders)
	return nil
}

func dailyBar(symbol string, day time.Time, close float64) common.Bar {
	return common.Bar{
		Symbol:    symbol,
		TimeStamp: day,
		Period:    24 * time.Hour,
		Open:      fixed.FromFloat64(close),
		High:      fixed.FromFloat64(close),
		Low:       fixed.FromFloat64(close),
		Close:     fixed.FromFloat64(close),
	}
}

func newTestSettlement(t *testing.T, bars ...common.Bar) (*Settlement, *Broker, *account.Ledger, *recordingJournal, *fakeClock) {
	t.Helper()

	static := market.NewStatic(fixed.FromFloat64(0.1))
	for _, bar := range bars {
		static.AddDailyBar(bar)
	}
	static.AddMinuteBars(minuteBar("600000", "09:59:00", 10.00, 10.02))
	cache := market.NewCache(static)

	clk := &fakeClock{now: common.DayAt(testDay, "10:00:00")}
	ledger := account.NewLedger(fixed.FromInt(1_000_000, 0))
	broker := NewBroker(zap.NewNop(), clk, cache, ledger, testConfig(), MatchPerTick)

	journal := &recordingJournal{}
	settlement := NewSettlement(zap.NewNop(), ledger, broker, cache, "000300", journal)
	return settlement, broker, ledger, journal, clk
}

func TestSettlement_Close(t *testing.T) {
	settlement, broker, ledger, journal, clk := newTestSettlement(t,
		dailyBar("600000", testDay, 10.50),
		dailyBar("000300", testDay, 4000))

	// One filled buy and one dangling open order going into the close.
	_, err := broker.Submit(context.Background(), "600000", 200, common.OrderStyleMarket, fixed.Zero)
	require.NoError(t, err)
	broker.MatchCycle(context.Background())
	clk.now = common.DayAt(testDay, "09:59:00")
	broker.MatchCycle(context.Background())
	require.Equal(t, int64(200), ledger.Position("600000").OpenedToday)

	_, err = broker.Submit(context.Background(), "600000", 100, common.OrderStyleLimit, fixed.FromFloat64(9.00))
	require.NoError(t, err)

	clk.now = common.DayAt(testDay, common.SettleTime)
	snapshot, err := settlement.Close(context.Background(), testDay)
	require.NoError(t, err)

	// The dangling order was cancelled and its reservation released.
	assert.Empty(t, broker.OpenOrders())
	assert.True(t, ledger.LockedCash.IsZero())

	// Marked to the 10.50 daily close.
	assert.True(t, ledger.Position("600000").LastPrice.Eq(fixed.FromFloat64(10.50)))
	assert.True(t, snapshot.PositionValue.Eq(fixed.FromFloat64(2100)))
	assert.True(t, snapshot.Equity.Eq(snapshot.Cash.Add(snapshot.PositionValue)))

	// First settled day pins the benchmark to the starting cash.
	assert.True(t, snapshot.Benchmark.Eq(fixed.FromInt(1_000_000, 0)))

	// T+1: the opened-today bucket became closeable.
	position := ledger.Position("600000")
	assert.Equal(t, int64(0), position.OpenedToday)
	assert.Equal(t, int64(200), position.Closeable)

	// The journal saw the snapshot and both terminal orders.
	require.Len(t, journal.snapshots, 1)
	require.Len(t, journal.orders[0], 2)

	require.Len(t, settlement.Snapshots(), 1)
}

func TestSettlement_BenchmarkTracksIndex(t *testing.T) {
	day2 := testDay.AddDate(0, 0, 1)
	settlement, _, _, _, clk := newTestSettlement(t,
		dailyBar("000300", testDay, 4000),
		dailyBar("000300", day2, 4400))

	clk.now = common.DayAt(testDay, common.SettleTime)
	first, err := settlement.Close(context.Background(), testDay)
	require.NoError(t, err)
	assert.True(t, first.Benchmark.Eq(fixed.FromInt(1_000_000, 0)))

	clk.now = common.DayAt(day2, common.SettleTime)
	second, err := settlement.Close(context.Background(), day2)
	require.NoError(t, err)

	// 4400/4000 of the starting cash.
	assert.True(t, second.Benchmark.Eq(fixed.FromInt(1_100_000, 0)))
}

func TestSettlement_MissingBenchmarkCarriesPrevious(t *testing.T) {
	day2 := testDay.AddDate(0, 0, 1)
	settlement, _, _, _, clk := newTestSettlement(t,
		dailyBar("000300", testDay, 4000),
		dailyBar("600000", day2, 10.00))

	clk.now = common.DayAt(testDay, common.SettleTime)
	_, err := settlement.Close(context.Background(), testDay)
	require.NoError(t, err)

	clk.now = common.DayAt(day2, common.SettleTime)
	second, err := settlement.Close(context.Background(), day2)
	require.NoError(t, err)
	assert.True(t, second.Benchmark.Eq(fixed.FromInt(1_000_000, 0)))
}

func TestSettlement_VerifyBenchmark(t *testing.T) {
	settlement, _, _, _, _ := newTestSettlement(t,
		dailyBar("000300", testDay, 4000))

	assert.NoError(t, settlement.VerifyBenchmark(context.Background(), testDay))
	assert.Error(t, settlement.VerifyBenchmark(context.Background(), testDay.AddDate(0, 0, 5)))
}

func TestSettlement_StateRoundTrip(t *testing.T) {
	settlement, _, _, _, clk := newTestSettlement(t,
		dailyBar("000300", testDay, 4000))

	clk.now = common.DayAt(testDay, common.SettleTime)
	_, err := settlement.Close(context.Background(), testDay)
	require.NoError(t, err)

	state := settlement.ExportState()

	restored, _, _, _, _ := newTestSettlement(t,
		dailyBar("000300", testDay, 4000))
	restored.ImportState(state)

	assert.Equal(t, settlement.Snapshots(), restored.Snapshots())
	assert.Equal(t, state.BenchScale, restored.ExportState().BenchScale)
}
