package model

import "time"

// Ticket is a single admission issued when an order is approved. Exactly
// quantity tickets exist per approved order, each independently scannable.
// BuyerID and LotID are denormalized so door validation does not need the
// order row.
type Ticket struct {
	ID          string     // tickets.id (UUID, also the QR payload)
	OrderID     string     // tickets.order_id
	BuyerID     uint64     // tickets.buyer_id
	LotID       uint64     // tickets.lot_id
	Used        bool       // tickets.used
	UsedAt      *time.Time // tickets.used_at (nullable)
	ValidatedBy *uint64    // tickets.validated_by (staff id, nullable)
	CreatedAt   time.Time  // tickets.created_at
}
