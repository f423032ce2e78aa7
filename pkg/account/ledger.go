package account

import (
	"errors"
	"fmt"

	"github.com/jhudec/sandglass/pkg/common"
	"github.com/jhudec/sandglass/pkg/utility/fixed"
)

var (
	ErrInsufficientCash   = errors.New("account: insufficient available cash")
	ErrInsufficientShares = errors.New("account: insufficient closeable shares")
)

// Ledger is the single account book: starting cash, available cash, locked
// cash and the position map. It is mutated exclusively by the broker and the
// settlement engine on the simulation goroutine, so it carries no locking.
//
// Invariants held at every instant:
//
//	available >= 0
//	locked cash >= 0
//	position.Total() == Locked + Closeable + OpenedToday, each bucket >= 0
type Ledger struct {
	StartCash  fixed.Point                 `json:"start_cash"`
	Available  fixed.Point                 `json:"available"`
	LockedCash fixed.Point                 `json:"locked_cash"`
	Positions  map[string]*common.Position `json:"positions"`
}

func NewLedger(startCash fixed.Point) *Ledger {
	return &Ledger{
		StartCash:  startCash,
		Available:  startCash,
		LockedCash: fixed.Zero,
		Positions:  make(map[string]*common.Position),
	}
}

// ReserveCash moves amount from available into the locked bucket. It fails
// without mutation if the available cash would go negative.
func (l *Ledger) ReserveCash(amount fixed.Point) error {
	if amount.Gt(l.Available) {
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientCash, amount, l.Available)
	}
	l.Available = l.Available.Sub(amount)
	l.LockedCash = l.LockedCash.Add(amount)
	return nil
}

// ReleaseCash moves a previously reserved amount back into available.
func (l *Ledger) ReleaseCash(amount fixed.Point) {
	l.LockedCash = l.LockedCash.Sub(amount)
	l.Available = l.Available.Add(amount)
}

// ReserveShares moves quantity from the closeable into the locked bucket of
// the instrument's position. It fails without mutation if fewer than quantity
// shares are closeable.
func (l *Ledger) ReserveShares(symbol string, quantity int64) error {
	position, ok := l.Positions[symbol]
	if !ok || position.Closeable < quantity {
		return fmt.Errorf("%w: %s", ErrInsufficientShares, symbol)
	}
	position.Closeable -= quantity
	position.Locked += quantity
	return nil
}

// ReleaseShares moves quantity back from locked to closeable.
func (l *Ledger) ReleaseShares(symbol string, quantity int64) {
	position, ok := l.Positions[symbol]
	if !ok {
		return
	}
	position.Locked -= quantity
	position.Closeable += quantity
}

// ApplyBuyFill settles a filled buy order against the book: the reservation
// is released, the actual cost is withdrawn and the position is created or
// enlarged. Shares bought today land in the opened-today bucket and become
// closeable at the next settlement.
func (l *Ledger) ApplyBuyFill(symbol string, quantity int64, price, value, commission, reserved fixed.Point) {
	l.ReleaseCash(reserved)
	l.Available = l.Available.Sub(value).Sub(commission)

	cost := value.Add(commission)
	position, ok := l.Positions[symbol]
	if !ok {
		unitCost := cost.DivInt64(quantity)
		l.Positions[symbol] = &common.Position{
			Symbol:      symbol,
			OpenedToday: quantity,
			AvgCost:     unitCost,
			CumAvgCost:  unitCost,
			LastPrice:   price,
		}
		return
	}

	before := position.Total()
	position.AvgCost = position.AvgCost.MulInt64(before).Add(cost).DivInt64(before + quantity)
	position.OpenedToday += quantity
	position.LastPrice = price
}

// ApplySellFill settles a filled sell order: the locked shares leave the
// book, net proceeds are credited and the realized gain against the
// cumulative average cost is returned. The position is dropped once its total
// quantity reaches zero.
func (l *Ledger) ApplySellFill(symbol string, quantity int64, price, value, commission fixed.Point) fixed.Point {
	position := l.Positions[symbol]

	position.Locked -= quantity
	l.Available = l.Available.Add(value).Sub(commission)

	realized := value.Sub(commission).Sub(position.CumAvgCost.MulInt64(quantity))

	remaining := position.Total()
	if remaining == 0 {
		delete(l.Positions, symbol)
		return realized
	}

	// The cumulative average cost only moves on reducing trades: the net
	// proceeds dilute the remaining cost basis.
	basis := position.CumAvgCost.MulInt64(remaining + quantity).Sub(value.Sub(commission))
	position.CumAvgCost = basis.DivInt64(remaining)
	position.LastPrice = price
	return realized
}

// MarkToMarket updates the position's mark price.
func (l *Ledger) MarkToMarket(symbol string, price fixed.Point) {
	if position, ok := l.Positions[symbol]; ok {
		position.LastPrice = price
	}
}

// PositionValue sums position quantity times the latest mark over the book.
func (l *Ledger) PositionValue() fixed.Point {
	value := fixed.Zero
	for _, position := range l.Positions {
		value = value.Add(position.MarketValue())
	}
	return value
}

// Equity is available cash plus locked cash plus the marked position value.
func (l *Ledger) Equity() fixed.Point {
	return l.Available.Add(l.LockedCash).Add(l.PositionValue())
}

// Cash is the total cash balance, available plus locked.
func (l *Ledger) Cash() fixed.Point {
	return l.Available.Add(l.LockedCash)
}

// RollOver moves every opened-today quantity into closeable and drops
// positions whose total reached zero. Settlement runs it once per trading
// day, so shares bought today become sellable tomorrow exactly once.
func (l *Ledger) RollOver() {
	for symbol, position := range l.Positions {
		position.Closeable += position.OpenedToday
		position.OpenedToday = 0
		if position.Total() == 0 {
			delete(l.Positions, symbol)
		}
	}
}

// Position returns a copy of the instrument's position. The zero value is
// returned for instruments not held.
func (l *Ledger) Position(symbol string) common.Position {
	if position, ok := l.Positions[symbol]; ok {
		return *position
	}
	return common.Position{Symbol: symbol}
}
