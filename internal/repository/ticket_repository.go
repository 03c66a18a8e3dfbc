package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/backyardbar/ticketing/internal/model"
)

// TicketRepo provides access to issued tickets. Tickets are only ever
// created inside the approval transaction, exactly once per order; the
// order state guard upstream makes re-approval a no-op, so there is no
// dedup logic here.
type TicketRepo struct {
	db *sql.DB
}

// NewTicketRepo returns a TicketRepo bound to the given database.
func NewTicketRepo(db *sql.DB) *TicketRepo { return &TicketRepo{db: db} }

// CreateBatchTx inserts all tickets for an approved order in a single
// statement. Passing an empty slice has no effect and returns nil.
func (r *TicketRepo) CreateBatchTx(ctx context.Context, tx *sql.Tx, tickets []model.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	query := `INSERT INTO tickets (id, order_id, buyer_id, lot_id) VALUES `
	args := make([]interface{}, 0, len(tickets)*4)
	for i, t := range tickets {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?)"
		args = append(args, t.ID, t.OrderID, t.BuyerID, t.LotID)
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

const ticketColumns = `id, order_id, buyer_id, lot_id, used, used_at, validated_by, created_at`

func scanTicket(row interface{ Scan(...any) error }) (model.Ticket, error) {
	var (
		t           model.Ticket
		usedAt      sql.NullTime
		validatedBy sql.NullInt64
	)
	err := row.Scan(&t.ID, &t.OrderID, &t.BuyerID, &t.LotID, &t.Used, &usedAt, &validatedBy, &t.CreatedAt)
	if err != nil {
		return model.Ticket{}, err
	}
	if usedAt.Valid {
		v := usedAt.Time
		t.UsedAt = &v
	}
	if validatedBy.Valid {
		v := uint64(validatedBy.Int64)
		t.ValidatedBy = &v
	}
	return t, nil
}

// GetByID fetches a ticket by its UUID (the QR payload).
func (r *TicketRepo) GetByID(ctx context.Context, id string) (model.Ticket, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id)
	return scanTicket(row)
}

// MarkUsed consumes a ticket at the door. The row is locked and re-checked
// so two scanners racing on the same QR cannot both succeed: the loser
// gets ErrConflict together with the already-used ticket for display.
func (r *TicketRepo) MarkUsed(ctx context.Context, id string, staffID uint64) (model.Ticket, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Ticket{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	row := tx.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE id = ? FOR UPDATE`, id)
	t, err := scanTicket(row)
	if err != nil {
		return model.Ticket{}, err
	}
	if t.Used {
		return t, ErrConflict
	}
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE tickets SET used = 1, used_at = ?, validated_by = ? WHERE id = ?`,
		now.Format("2006-01-02 15:04:05"), staffID, id); err != nil {
		return model.Ticket{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Ticket{}, err
	}
	committed = true
	t.Used = true
	t.UsedAt = &now
	t.ValidatedBy = &staffID
	return t, nil
}

// TicketDetail is a ticket joined with its lot and event for listings and
// the guest list export.
type TicketDetail struct {
	model.Ticket
	LotName    string
	LotPrice   string
	EventID    uint64
	EventTitle string
	BuyerName  string
	BuyerEmail string
	NationalID string
}

// ListByBuyer returns a buyer's tickets with lot and event info, newest
// first.
func (r *TicketRepo) ListByBuyer(ctx context.Context, buyerID uint64) ([]TicketDetail, error) {
	const q = `SELECT t.id, t.order_id, t.buyer_id, t.lot_id, t.used, t.used_at, t.validated_by, t.created_at,
	                  l.name, l.price, e.id, e.title
	           FROM tickets t
	           JOIN lots l ON l.id = t.lot_id
	           JOIN events e ON e.id = l.event_id
	           WHERE t.buyer_id = ?
	           ORDER BY t.created_at DESC`
	rows, err := r.db.QueryContext(ctx, q, buyerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDetails(rows, false)
}

// ListByEvent returns every ticket issued for an event joined with its
// buyer, for the staff guest list.
func (r *TicketRepo) ListByEvent(ctx context.Context, eventID uint64) ([]TicketDetail, error) {
	const q = `SELECT t.id, t.order_id, t.buyer_id, t.lot_id, t.used, t.used_at, t.validated_by, t.created_at,
	                  l.name, l.price, e.id, e.title,
	                  b.first_name, b.last_name, b.email, b.national_id
	           FROM tickets t
	           JOIN lots l ON l.id = t.lot_id
	           JOIN events e ON e.id = l.event_id
	           JOIN buyers b ON b.id = t.buyer_id
	           WHERE e.id = ?
	           ORDER BY t.created_at`
	rows, err := r.db.QueryContext(ctx, q, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDetails(rows, true)
}

func collectDetails(rows *sql.Rows, withBuyer bool) ([]TicketDetail, error) {
	var out []TicketDetail
	for rows.Next() {
		var (
			d           TicketDetail
			usedAt      sql.NullTime
			validatedBy sql.NullInt64
			first, last string
		)
		dest := []any{&d.ID, &d.OrderID, &d.BuyerID, &d.LotID, &d.Used, &usedAt, &validatedBy, &d.CreatedAt,
			&d.LotName, &d.LotPrice, &d.EventID, &d.EventTitle}
		if withBuyer {
			dest = append(dest, &first, &last, &d.BuyerEmail, &d.NationalID)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		if usedAt.Valid {
			v := usedAt.Time
			d.UsedAt = &v
		}
		if validatedBy.Valid {
			v := uint64(validatedBy.Int64)
			d.ValidatedBy = &v
		}
		if withBuyer {
			d.BuyerName = first + " " + last
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// CountsByEvent reports issued and used ticket counts for one event.
func (r *TicketRepo) CountsByEvent(ctx context.Context, eventID uint64) (issued, used uint64, err error) {
	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(used), 0)
		 FROM tickets t JOIN lots l ON l.id = t.lot_id
		 WHERE l.event_id = ?`, eventID).Scan(&issued, &used)
	return issued, used, err
}

// ListByOrder returns the tickets of one order in creation order.
func (r *TicketRepo) ListByOrder(ctx context.Context, orderID string) ([]model.Ticket, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE order_id = ? ORDER BY created_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
