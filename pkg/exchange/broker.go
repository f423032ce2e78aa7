package exchange

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jhudec/sandglass/pkg/account"
	"github.com/jhudec/sandglass/pkg/common"
	"github.com/jhudec/sandglass/pkg/market"
	"github.com/jhudec/sandglass/pkg/utility/fixed"
)

var (
	ErrZeroQuantity = errors.New("exchange: order quantity is zero")
	ErrBelowMinLot  = errors.New("exchange: quantity below minimum lot")
	ErrUnknownOrder = errors.New("exchange: unknown order")
	ErrNotOpen      = errors.New("exchange: order is not open")
	ErrNoQuote      = errors.New("exchange: no quote for instrument")
)

// MatchMode selects when open orders are matched. Day-frequency runs match an
// order immediately on submission against the remaining intraday curve;
// minute-frequency and live runs match once per clock tick.
type MatchMode int

const (
	MatchDaily MatchMode = iota
	MatchPerTick
)

// TimeSource yields the current simulated time.
type TimeSource interface {
	Now() time.Time
}

type Config struct {
	LotSize        int64
	CommissionRate fixed.Point
	MinCommission  fixed.Point
	TaxRate        fixed.Point
	Slippage       fixed.Point

	// QuoteFallback lets a matching sweep synthesize the current bar from the
	// latest quote when no minute bar exists. Live feeds publish quotes, not
	// bars, so live sessions cannot match without it.
	QuoteFallback bool
}

// OpenOrder is one entry of the live order set. Cycle records the match cycle
// the order was submitted in; it is not eligible for matching until the
// following cycle.
type OpenOrder struct {
	Order common.Order `json:"order"`
	Cycle int64        `json:"cycle"`
}

// State is the serializable broker state captured into session snapshots.
type State struct {
	Cycle int64       `json:"cycle"`
	Open  []OpenOrder `json:"open"`
}

// Broker is the order state machine. Orders move through
//
//	pending-new -> open -> filled | cancelled | rejected
//
// where pending-new is synchronous validation and never escapes Submit.
// Terminal orders are archived into the day history and leave the live set.
// The broker is the only writer of the ledger besides settlement.
type Broker struct {
	logger *zap.Logger
	clock  TimeSource
	market market.Source
	ledger *account.Ledger
	cfg    Config
	mode   MatchMode

	cycle   int64
	open    []*OpenOrder
	history []common.Order
}

func NewBroker(logger *zap.Logger, clock TimeSource, source market.Source, ledger *account.Ledger, cfg Config, mode MatchMode) *Broker {
	return &Broker{
		logger: logger,
		clock:  clock,
		market: source,
		ledger: ledger,
		cfg:    cfg,
		mode:   mode,
	}
}

// Submit validates an order request and either registers an open order or
// rejects it. Quantity is signed, the sign selects the side. A rejected
// request returns no order handle and leaves the ledger untouched.
func (b *Broker) Submit(ctx context.Context, symbol string, quantity int64, style common.OrderStyle, limit fixed.Point) (common.Order, error) {
	if quantity == 0 {
		return common.Order{}, ErrZeroQuantity
	}

	side := common.OrderSideBuy
	if quantity < 0 {
		side = common.OrderSideSell
		quantity = -quantity
	}

	instrument := common.Instrument{Symbol: symbol, LotSize: b.cfg.LotSize}
	rounded := instrument.RoundLot(quantity)
	if rounded == 0 {
		return common.Order{}, fmt.Errorf("%w: %d shares of %s", ErrBelowMinLot, quantity, symbol)
	}

	price, err := b.effectivePrice(ctx, symbol, side, style, limit)
	if err != nil {
		return common.Order{}, err
	}

	order := common.Order{
		Id:         uuid.NewString(),
		Symbol:     symbol,
		Side:       side,
		Style:      style,
		Quantity:   rounded,
		LimitPrice: price,
		Status:     common.OrderStatusPendingNew,
		CreatedAt:  b.clock.Now(),
	}

	if side == common.OrderSideBuy {
		order.Quantity = b.affordableQuantity(rounded, price)
		if order.Quantity == 0 {
			return common.Order{}, fmt.Errorf("%w: one lot of %s at %s", account.ErrInsufficientCash, symbol, price)
		}
		if order.Quantity < rounded {
			b.logger.Warn("buy quantity shrunk to affordable lots",
				zap.String("symbol", symbol),
				zap.Int64("requested", rounded),
				zap.Int64("granted", order.Quantity))
		}
		value := price.MulInt64(order.Quantity)
		order.ReservedCash = value.Add(b.commission(value, side))
		if err := b.ledger.ReserveCash(order.ReservedCash); err != nil {
			return common.Order{}, err
		}
	} else {
		if err := b.ledger.ReserveShares(symbol, order.Quantity); err != nil {
			return common.Order{}, err
		}
	}

	order.Status = common.OrderStatusOpen
	tracked := &OpenOrder{Order: order, Cycle: b.cycle}
	b.open = append(b.open, tracked)

	if b.mode == MatchDaily {
		b.matchAgainstCurve(ctx, tracked)
	}
	return tracked.Order, nil
}

// Cancel aborts an open order, releasing its reservation. Cancelling an order
// that is not open is a no-op returning ErrNotOpen.
func (b *Broker) Cancel(id common.OrderId) error {
	for _, tracked := range b.open {
		if tracked.Order.Id == id {
			b.cancel(tracked)
			b.prune()
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotOpen, id)
}

// SetTarget adjusts the holdings of an instrument to the target quantity: all
// open orders of the instrument are cancelled first, then a single market
// order for the remaining delta is submitted. Today's already-opened quantity
// is never reduced, because only closeable shares can back a sell.
func (b *Broker) SetTarget(ctx context.Context, symbol string, target int64) (common.Order, error) {
	for _, tracked := range b.open {
		if tracked.Order.Symbol == symbol {
			b.cancel(tracked)
		}
	}
	b.prune()

	position := b.ledger.Position(symbol)
	delta := target - position.Total()
	if delta < 0 && -delta > position.Closeable {
		delta = -position.Closeable
	}
	if delta == 0 {
		return common.Order{}, ErrZeroQuantity
	}
	return b.Submit(ctx, symbol, delta, common.OrderStyleMarket, fixed.Zero)
}

// MatchCycle runs one matching sweep over the live order set against the
// current bar of each instrument. Orders submitted during the current cycle
// stay untouched until the next one.
func (b *Broker) MatchCycle(ctx context.Context) {
	now := b.clock.Now()

	for _, tracked := range b.open {
		if tracked.Cycle >= b.cycle || tracked.Order.Status != common.OrderStatusOpen {
			continue
		}

		bars, err := b.market.MinuteBars(ctx, tracked.Order.Symbol, now, now)
		if err != nil || len(bars) == 0 {
			bar, ok := b.quoteBar(ctx, tracked.Order.Symbol, now)
			if !ok {
				b.logger.Warn("no bar for matching, skipping order this cycle",
					zap.String("symbol", tracked.Order.Symbol),
					zap.Time("at", now),
					zap.Error(err))
				continue
			}
			bars = []common.Bar{bar}
		}

		if crosses(tracked.Order, bars[0]) {
			b.fill(tracked, bars[0].TimeStamp)
		}
	}

	b.cycle++
	b.prune()
}

// quoteBar stands in for the missing current bar when quote fallback is on:
// the latest quote becomes a degenerate bar trading only at its last price.
func (b *Broker) quoteBar(ctx context.Context, symbol string, now time.Time) (common.Bar, bool) {
	if !b.cfg.QuoteFallback {
		return common.Bar{}, false
	}
	quote, err := b.market.Quote(ctx, symbol, now)
	if err != nil {
		return common.Bar{}, false
	}
	return common.Bar{
		Symbol:    symbol,
		TimeStamp: now,
		Period:    time.Minute,
		Open:      quote.Last,
		High:      quote.Last,
		Low:       quote.Last,
		Close:     quote.Last,
	}, true
}

// CancelAllOpen cancels every still-open order. Settlement runs it before
// archiving the day.
func (b *Broker) CancelAllOpen() {
	for _, tracked := range b.open {
		if tracked.Order.Status == common.OrderStatusOpen {
			b.cancel(tracked)
		}
	}
	b.prune()
}

// ArchiveDay returns the day's terminal orders and clears the history.
func (b *Broker) ArchiveDay() []common.Order {
	archived := b.history
	b.history = nil
	return archived
}

// OpenOrders returns a copy of the live order set.
func (b *Broker) OpenOrders() []common.Order {
	orders := make([]common.Order, 0, len(b.open))
	for _, tracked := range b.open {
		orders = append(orders, tracked.Order)
	}
	return orders
}

// ExportState captures the live order set for snapshotting.
func (b *Broker) ExportState() State {
	state := State{Cycle: b.cycle, Open: make([]OpenOrder, 0, len(b.open))}
	for _, tracked := range b.open {
		state.Open = append(state.Open, *tracked)
	}
	return state
}

// ImportState restores a previously captured live order set.
func (b *Broker) ImportState(state State) {
	b.cycle = state.Cycle
	b.open = make([]*OpenOrder, 0, len(state.Open))
	for idx := range state.Open {
		tracked := state.Open[idx]
		b.open = append(b.open, &tracked)
	}
}

// effectivePrice derives the working limit price. Market orders convert to a
// limit offset by the configured slippage; buy prices are clamped to the
// daily price-limit band.
func (b *Broker) effectivePrice(ctx context.Context, symbol string, side common.OrderSide, style common.OrderStyle, limit fixed.Point) (fixed.Point, error) {
	quote, err := b.market.Quote(ctx, symbol, b.clock.Now())
	if err != nil {
		if style == common.OrderStyleMarket {
			return fixed.Zero, fmt.Errorf("%w: %s: %v", ErrNoQuote, symbol, err)
		}
		b.logger.Warn("no quote, limit band not enforced",
			zap.String("symbol", symbol), zap.Error(err))
		return limit, nil
	}

	price := limit
	if style == common.OrderStyleMarket {
		if side == common.OrderSideBuy {
			price = quote.Last.Add(b.cfg.Slippage)
		} else {
			price = quote.Last.Sub(b.cfg.Slippage)
		}
	}

	if side == common.OrderSideBuy && !quote.LimitUp.IsZero() {
		clamped := price.Clamp(quote.LimitDown, quote.LimitUp)
		if !clamped.Eq(price) {
			b.logger.Warn("buy price clamped to daily limit band",
				zap.String("symbol", symbol),
				zap.String("price", price.String()),
				zap.String("clamped", clamped.String()))
			price = clamped
		}
	}
	return price, nil
}

// affordableQuantity shrinks a buy to the largest whole-lot quantity whose
// value plus commission fits into the available cash.
func (b *Broker) affordableQuantity(quantity int64, price fixed.Point) int64 {
	available := b.ledger.Available
	lotValue := price.MulInt64(b.cfg.LotSize)

	lots := quantity / b.cfg.LotSize
	if ratio, ok := available.Div(lotValue).Float64(); ok && int64(math.Floor(ratio)) < lots {
		lots = int64(math.Floor(ratio))
	}
	for lots > 0 {
		value := lotValue.MulInt64(lots)
		if value.Add(b.commission(value, common.OrderSideBuy)).Lte(available) {
			break
		}
		lots--
	}
	return lots * b.cfg.LotSize
}

// matchAgainstCurve matches a freshly submitted order against the remaining
// intraday bar sequence of the day. The first bar whose low (buy) or high
// (sell) crosses the limit fills the order at the limit price, with that
// bar's timestamp as fill time. Without a crossing bar the order stays open
// until the end-of-day settlement cancels it.
func (b *Broker) matchAgainstCurve(ctx context.Context, tracked *OpenOrder) {
	now := b.clock.Now()
	dayClose := common.DayAt(now, common.CloseTime)

	bars, err := b.market.MinuteBars(ctx, tracked.Order.Symbol, now, dayClose)
	if err != nil {
		b.logger.Warn("no intraday curve, order stays open",
			zap.String("symbol", tracked.Order.Symbol), zap.Error(err))
		return
	}

	for _, bar := range bars {
		if crosses(tracked.Order, bar) {
			b.fill(tracked, bar.TimeStamp)
			b.prune()
			return
		}
	}
}

func crosses(order common.Order, bar common.Bar) bool {
	if order.Side == common.OrderSideBuy {
		return bar.Low.Lte(order.LimitPrice)
	}
	return bar.High.Gte(order.LimitPrice)
}

func (b *Broker) fill(tracked *OpenOrder, at time.Time) {
	order := &tracked.Order
	value := order.LimitPrice.MulInt64(order.Quantity)
	commission := b.commission(value, order.Side)

	if order.Side == common.OrderSideBuy {
		b.ledger.ApplyBuyFill(order.Symbol, order.Quantity, order.LimitPrice, value, commission, order.ReservedCash)
	} else {
		order.RealizedGain = b.ledger.ApplySellFill(order.Symbol, order.Quantity, order.LimitPrice, value, commission)
	}

	order.Status = common.OrderStatusFilled
	order.FilledValue = value
	order.Commission = commission
	order.FilledAt = at
	b.archive(*order)

	b.logger.Debug("order filled",
		zap.String("id", order.Id),
		zap.String("symbol", order.Symbol),
		zap.Int64("quantity", order.Quantity),
		zap.String("price", order.LimitPrice.String()),
		zap.Time("at", at))
}

func (b *Broker) cancel(tracked *OpenOrder) {
	order := &tracked.Order
	if order.Side == common.OrderSideBuy {
		b.ledger.ReleaseCash(order.ReservedCash)
	} else {
		b.ledger.ReleaseShares(order.Symbol, order.Quantity)
	}
	order.Status = common.OrderStatusCancelled
	order.CancelledAt = b.clock.Now()
	b.archive(*order)
}

// archive moves a terminal order into the day history.
func (b *Broker) archive(order common.Order) {
	b.history = append(b.history, order)
}

// prune drops terminal orders from the live set.
func (b *Broker) prune() {
	live := b.open[:0]
	for _, tracked := range b.open {
		if !tracked.Order.Status.Terminal() {
			live = append(live, tracked)
		}
	}
	b.open = live
}

func (b *Broker) commission(value fixed.Point, side common.OrderSide) fixed.Point {
	commission := value.Mul(b.cfg.CommissionRate).Max(b.cfg.MinCommission)
	if side == common.OrderSideSell {
		commission = commission.Add(value.Mul(b.cfg.TaxRate))
	}
	return commission
}
