package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jhudec/sandglass/pkg/common"
)

// SQLite archives settlement output: one equity row per settled day plus the
// day's terminal orders. External reporting reads it; the core only appends.
type SQLite struct {
	db *sql.DB
}

func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	j := &SQLite{db: db}
	if err := j.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *SQLite) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS equity_snapshots (
			date TEXT PRIMARY KEY,
			equity TEXT NOT NULL,
			benchmark TEXT NOT NULL,
			position_value TEXT NOT NULL,
			cash TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			side INTEGER NOT NULL,
			quantity INTEGER NOT NULL,
			limit_price TEXT NOT NULL,
			status TEXT NOT NULL,
			filled_value TEXT NOT NULL,
			commission TEXT NOT NULL,
			realized_gain TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			filled_at DATETIME,
			cancelled_at DATETIME
		);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol);`,
	}

	for _, q := range queries {
		if _, err := j.db.Exec(q); err != nil {
			return fmt.Errorf("init journal schema: %w", err)
		}
	}
	return nil
}

// Append writes one settled day.
func (j *SQLite) Append(ctx context.Context, snapshot common.EquitySnapshot, orders []common.Order) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin journal tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO equity_snapshots (date, equity, benchmark, position_value, cash) VALUES (?, ?, ?, ?, ?)`,
		snapshot.Date.Format(time.DateOnly),
		snapshot.Equity.String(),
		snapshot.Benchmark.String(),
		snapshot.PositionValue.String(),
		snapshot.Cash.String(),
	); err != nil {
		return fmt.Errorf("insert equity snapshot: %w", err)
	}

	for _, order := range orders {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO orders (id, symbol, side, quantity, limit_price, status, filled_value, commission, realized_gain, created_at, filled_at, cancelled_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			order.Id, order.Symbol, order.Side, order.Quantity,
			order.LimitPrice.String(), string(order.Status),
			order.FilledValue.String(), order.Commission.String(), order.RealizedGain.String(),
			order.CreatedAt, nullableTime(order.FilledAt), nullableTime(order.CancelledAt),
		); err != nil {
			return fmt.Errorf("insert order %s: %w", order.Id, err)
		}
	}

	return tx.Commit()
}

func (j *SQLite) Close() error {
	return j.db.Close()
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
