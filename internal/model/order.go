package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderState is the lifecycle state of an order. PENDING is the only
// non-terminal state; the three terminal states permit no further
// transitions.
type OrderState string

const (
	OrderPending  OrderState = "PENDING"
	OrderApproved OrderState = "APPROVED"
	OrderRejected OrderState = "REJECTED"
	OrderExpired  OrderState = "EXPIRED"
)

// Terminal reports whether no further transition is permitted out of s.
func (s OrderState) Terminal() bool {
	return s == OrderApproved || s == OrderRejected || s == OrderExpired
}

// Order is a buyer's purchase attempt against exactly one lot. While the
// order is PENDING its quantity is held in the lot's sold counter; leaving
// PENDING releases that hold exactly once (REJECTED/EXPIRED credit the lot
// back, APPROVED keeps the debit as the sale).
type Order struct {
	ID           string          // orders.id (UUID)
	BuyerID      uint64          // orders.buyer_id
	EventID      uint64          // orders.event_id
	LotID        uint64          // orders.lot_id (never reallocated)
	Quantity     uint32          // orders.quantity (1..10)
	Subtotal     decimal.Decimal // orders.subtotal = lot price * quantity
	Commission   decimal.Decimal // orders.commission
	Total        decimal.Decimal // orders.total = subtotal + commission
	State        OrderState      // orders.state
	PreferenceID *string         // orders.preference_id (nullable until a payment attempt)
	PaymentID    *string         // orders.payment_id (nullable until resolved)
	CreatedAt    time.Time       // orders.created_at
	ApprovedAt   *time.Time      // orders.approved_at (nullable)
	ExpiresAt    time.Time       // orders.expires_at = created_at + hold duration

	// CheckoutURL is the payment page returned by the gateway for a fresh
	// reservation. It is handed back to the caller and never persisted.
	CheckoutURL string
}

// ExpiredBy reports whether the hold should be reaped at the given time.
// Terminal orders are never considered expired.
func (o *Order) ExpiredBy(now time.Time) bool {
	return o.State == OrderPending && now.After(o.ExpiresAt)
}
