package strategy

import (
	"context"
	"time"

	"github.com/jhudec/sandglass/pkg/account"
	"github.com/jhudec/sandglass/pkg/common"
	"github.com/jhudec/sandglass/pkg/exchange"
	"github.com/jhudec/sandglass/pkg/market"
	"github.com/jhudec/sandglass/pkg/utility/fixed"
)

// Handler is one strategy callback. A returned error is logged and the run
// continues with the next scheduled wake.
type Handler func(*Context) error

// TimedHandler binds a handler to a fixed clock time of day. Prepend places
// it ahead of previously registered callbacks instead of after them.
type TimedHandler struct {
	At      string
	Handler Handler
	Prepend bool
}

// Strategy is a closed set of optional callback slots plus a table of
// fixed-clock-time callbacks. All slots may be nil.
type Strategy struct {
	Name string

	BeforeOpen Handler
	OnBar      Handler
	AfterClose Handler
	OnFinish   Handler

	Timed []TimedHandler
}

// Context is the account and market view handed to every callback. The same
// value lives for the whole run; only the simulated time changes between
// wakes. Vars survives pause/resume through the session snapshot; the
// snapshot is JSON, so after a resume every number in Vars reads back as
// float64 and anything else as its JSON-decoded shape.
type Context struct {
	context.Context

	Time    time.Time
	Market  market.Source
	Account *account.Ledger
	Vars    map[string]any

	broker *exchange.Broker
	skip   func()
}

// NewContext wires a callback context. The clock owns the instance and
// advances Time before each wake.
func NewContext(ctx context.Context, source market.Source, ledger *account.Ledger, broker *exchange.Broker, skip func()) *Context {
	return &Context{
		Context: ctx,
		Market:  source,
		Account: ledger,
		Vars:    make(map[string]any),
		broker:  broker,
		skip:    skip,
	}
}

// Buy submits a market buy for quantity shares.
func (c *Context) Buy(symbol string, quantity int64) (common.Order, error) {
	return c.broker.Submit(c, symbol, quantity, common.OrderStyleMarket, fixed.Zero)
}

// Sell submits a market sell for quantity shares.
func (c *Context) Sell(symbol string, quantity int64) (common.Order, error) {
	return c.broker.Submit(c, symbol, -quantity, common.OrderStyleMarket, fixed.Zero)
}

// LimitOrder submits a limit order. The sign of quantity selects the side.
func (c *Context) LimitOrder(symbol string, quantity int64, price fixed.Point) (common.Order, error) {
	return c.broker.Submit(c, symbol, quantity, common.OrderStyleLimit, price)
}

// SetTarget adjusts the holdings of symbol to the target quantity.
func (c *Context) SetTarget(symbol string, target int64) (common.Order, error) {
	return c.broker.SetTarget(c, symbol, target)
}

// Cancel aborts an open order.
func (c *Context) Cancel(id common.OrderId) error {
	return c.broker.Cancel(id)
}

// OpenOrders returns the live order set.
func (c *Context) OpenOrders() []common.Order {
	return c.broker.OpenOrders()
}

// Position returns the current position of symbol.
func (c *Context) Position(symbol string) common.Position {
	return c.Account.Position(symbol)
}

// SkipDay truncates the remainder of the current day's bar loop. Settlement
// still runs.
func (c *Context) SkipDay() {
	if c.skip != nil {
		c.skip()
	}
}
