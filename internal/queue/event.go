// Package queue defines the payloads exchanged over the message broker and
// the background fulfillment consumer.
package queue

// OrderApprovedEvent is published after an order's approval transaction
// commits. It carries everything fulfillment needs (QR rendering, the
// confirmation email) so the consumer does not query the primary database.
type OrderApprovedEvent struct {
	OrderID    string   `json:"order_id"`
	BuyerID    uint64   `json:"buyer_id"`
	BuyerName  string   `json:"buyer_name"`
	BuyerEmail string   `json:"buyer_email"`
	EventID    uint64   `json:"event_id"`
	EventTitle string   `json:"event_title"`
	LotName    string   `json:"lot_name"`
	Quantity   uint32   `json:"quantity"`
	Total      string   `json:"total"`
	Currency   string   `json:"currency"`
	TicketIDs  []string `json:"ticket_ids"`
	ApprovedAt string   `json:"approved_at"`
}
