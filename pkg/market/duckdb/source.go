package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/jhudec/sandglass/pkg/common"
	"github.com/jhudec/sandglass/pkg/market"
	"github.com/jhudec/sandglass/pkg/utility/fixed"
)

// Loader reads daily and minute bars from a duckdb file and fills a
// market.Static, so the simulation itself never touches the database.
//
// Expected tables:
//
//	trading_days(day DATE)
//	daily_bars(symbol VARCHAR, day DATE, open, high, low, close DOUBLE, volume BIGINT, amount DOUBLE)
//	minute_bars(symbol VARCHAR, ts TIMESTAMP, open, high, low, close DOUBLE, volume BIGINT, amount DOUBLE)
type Loader struct {
	dataSourceName string
	db             *sql.DB
}

func NewLoader(dataSourceName string) *Loader {
	return &Loader{
		dataSourceName: dataSourceName,
	}
}

func (l *Loader) Connect() error {
	db, err := sql.Open("duckdb", l.dataSourceName)
	if err != nil {
		return fmt.Errorf("sql.Open: %w", err)
	}
	l.db = db
	return nil
}

func (l *Loader) Close() {
	_ = l.db.Close()
}

// Load fills dst with every bar of the given symbols between from and to.
func (l *Loader) Load(ctx context.Context, dst *market.Static, symbols []string, from, to time.Time) error {
	if err := l.loadTradingDays(ctx, dst, from, to); err != nil {
		return err
	}
	for _, symbol := range symbols {
		if err := l.loadDailyBars(ctx, dst, symbol, from, to); err != nil {
			return err
		}
		if err := l.loadMinuteBars(ctx, dst, symbol, from, to); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) loadTradingDays(ctx context.Context, dst *market.Static, from, to time.Time) error {
	rows, err := l.db.QueryContext(ctx,
		`SELECT day FROM trading_days WHERE day BETWEEN ? AND ? ORDER BY day`, from, to)
	if err != nil {
		return fmt.Errorf("error querying trading days: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var day time.Time
		if err := rows.Scan(&day); err != nil {
			return fmt.Errorf("error scanning row: %w", err)
		}
		dst.AddTradingDays(day)
	}
	return rows.Err()
}

func (l *Loader) loadDailyBars(ctx context.Context, dst *market.Static, symbol string, from, to time.Time) error {
	rows, err := l.db.QueryContext(ctx,
		`SELECT day, open, high, low, close, volume, amount FROM daily_bars
		 WHERE symbol = ? AND day BETWEEN ? AND ? ORDER BY day`, symbol, from, to)
	if err != nil {
		return fmt.Errorf("error querying daily bars: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		bar, err := scanBar(rows, symbol, 24*time.Hour)
		if err != nil {
			return err
		}
		dst.AddDailyBar(bar)
	}
	return rows.Err()
}

func (l *Loader) loadMinuteBars(ctx context.Context, dst *market.Static, symbol string, from, to time.Time) error {
	rows, err := l.db.QueryContext(ctx,
		`SELECT ts, open, high, low, close, volume, amount FROM minute_bars
		 WHERE symbol = ? AND ts BETWEEN ? AND ? ORDER BY ts`, symbol, from, to.Add(24*time.Hour))
	if err != nil {
		return fmt.Errorf("error querying minute bars: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		bar, err := scanBar(rows, symbol, time.Minute)
		if err != nil {
			return err
		}
		dst.AddMinuteBars(bar)
	}
	return rows.Err()
}

func scanBar(rows *sql.Rows, symbol string, period time.Duration) (common.Bar, error) {
	var (
		ts                      time.Time
		open, high, low, close_ float64
		volume                  int64
		amount                  float64
	)
	if err := rows.Scan(&ts, &open, &high, &low, &close_, &volume, &amount); err != nil {
		return common.Bar{}, fmt.Errorf("error scanning row: %w", err)
	}
	return common.Bar{
		Symbol:    symbol,
		TimeStamp: ts,
		Period:    period,
		Open:      fixed.FromFloat64(open),
		High:      fixed.FromFloat64(high),
		Low:       fixed.FromFloat64(low),
		Close:     fixed.FromFloat64(close_),
		Volume:    volume,
		Amount:    fixed.FromFloat64(amount),
	}, nil
}
