package common

import (
	"time"

	"github.com/jhudec/sandglass/pkg/utility/fixed"
)

type OrderId = string
type OrderSide int
type OrderStyle int
type OrderStatus string

const (
	OrderSideBuy OrderSide = iota
	OrderSideSell
)

const (
	OrderStyleMarket OrderStyle = iota
	OrderStyleLimit
)

const (
	// OrderStatusPendingNew is transient. Validation happens synchronously
	// on submission, so the state is never observed outside the broker.
	OrderStatusPendingNew OrderStatus = "pending-new"
	OrderStatusOpen       OrderStatus = "open"
	OrderStatusFilled     OrderStatus = "filled"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRejected   OrderStatus = "rejected"
)

// Terminal reports whether the status is final. A terminal order never
// changes again.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

type Order struct {
	Id         OrderId     `json:"id"`
	Symbol     string      `json:"symbol"`
	Side       OrderSide   `json:"side"`
	Style      OrderStyle  `json:"style"`
	Quantity   int64       `json:"quantity"`
	LimitPrice fixed.Point `json:"limit_price"`
	Status     OrderStatus `json:"status"`

	// ReservedCash is the available cash moved into the locked bucket when a
	// buy order entered the open state. Zero for sells.
	ReservedCash fixed.Point `json:"reserved_cash"`

	FilledValue  fixed.Point `json:"filled_value"`
	Commission   fixed.Point `json:"commission"`
	RealizedGain fixed.Point `json:"realized_gain"`

	CreatedAt   time.Time `json:"created_at"`
	FilledAt    time.Time `json:"filled_at,omitzero"`
	CancelledAt time.Time `json:"cancelled_at,omitzero"`
}
