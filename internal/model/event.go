package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event is something tickets are sold for. Its inventory is split into
// tiered lots that sell out in a fixed order. Once an event is referenced
// by orders only the Active flag may change.
//
// Fields:
//  ID                – primary key identifier.
//  Title             – display title.
//  Description       – optional long description.
//  StartsAt          – when the event takes place.
//  Venue             – where the event takes place.
//  Active            – whether the event is on sale.
//  ChargesCommission – whether a flat per-ticket commission is added.
//  CommissionAmount  – commission charged per ticket when enabled.
type Event struct {
	ID                uint64          // events.id
	Title             string          // events.title
	Description       *string         // events.description (nullable)
	StartsAt          time.Time       // events.starts_at
	Venue             string          // events.venue
	Active            bool            // events.active
	ChargesCommission bool            // events.charges_commission
	CommissionAmount  decimal.Decimal // events.commission_amount
	CreatedAt         time.Time       // events.created_at
	UpdatedAt         time.Time       // events.updated_at
}

// Lot is one price tier of an event's inventory. Lots with a lower
// TierOrder sell first. Sold counts both confirmed sales and the stock
// held by PENDING orders; it is only ever mutated inside a transaction
// that also records the corresponding order state change.
type Lot struct {
	ID        uint64          // lots.id
	EventID   uint64          // lots.event_id
	Name      string          // lots.name
	Price     decimal.Decimal // lots.price
	Total     uint32          // lots.total (fixed at creation)
	Sold      uint32          // lots.sold (0 <= sold <= total)
	TierOrder uint32          // lots.tier_order (unique per event)
	Active    bool            // lots.active
	CreatedAt time.Time       // lots.created_at
}

// Available is the derived remaining stock. It is never persisted.
func (l *Lot) Available() uint32 {
	if l.Sold >= l.Total {
		return 0
	}
	return l.Total - l.Sold
}
