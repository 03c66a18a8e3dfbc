package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/backyardbar/ticketing/internal/model"
)

// OrderRepo provides access to the orders table. Terminal state
// transitions always happen through the ...Tx methods so that the caller
// can hold the order row lock while also crediting the lot; the WHERE
// state = 'PENDING' guard on every transition is the second line of
// defense against double release.
type OrderRepo struct {
	db *sql.DB
}

// NewOrderRepo returns an OrderRepo bound to the given database.
func NewOrderRepo(db *sql.DB) *OrderRepo { return &OrderRepo{db: db} }

// DB exposes the underlying handle so services can begin transactions.
func (r *OrderRepo) DB() *sql.DB { return r.db }

const orderColumns = `id, buyer_id, event_id, lot_id, quantity, subtotal, commission, total,
	state, preference_id, payment_id, created_at, approved_at, expires_at`

func scanOrder(row interface{ Scan(...any) error }) (model.Order, error) {
	var (
		o          model.Order
		state      string
		prefID     sql.NullString
		payID      sql.NullString
		approvedAt sql.NullTime
	)
	err := row.Scan(&o.ID, &o.BuyerID, &o.EventID, &o.LotID, &o.Quantity,
		&o.Subtotal, &o.Commission, &o.Total,
		&state, &prefID, &payID, &o.CreatedAt, &approvedAt, &o.ExpiresAt)
	if err != nil {
		return model.Order{}, err
	}
	o.State = model.OrderState(state)
	if prefID.Valid {
		v := prefID.String
		o.PreferenceID = &v
	}
	if payID.Valid {
		v := payID.String
		o.PaymentID = &v
	}
	if approvedAt.Valid {
		t := approvedAt.Time
		o.ApprovedAt = &t
	}
	return o, nil
}

// CreateTx inserts a new PENDING order inside the reservation transaction.
// The caller supplies the UUID; CreatedAt defaults in the database.
func (r *OrderRepo) CreateTx(ctx context.Context, tx *sql.Tx, o *model.Order) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO orders (id, buyer_id, event_id, lot_id, quantity, subtotal, commission, total, state, expires_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.BuyerID, o.EventID, o.LotID, o.Quantity,
		o.Subtotal, o.Commission, o.Total, string(o.State),
		o.ExpiresAt.UTC().Format("2006-01-02 15:04:05"))
	return err
}

// GetForUpdateTx fetches an order by id and locks its row for the duration
// of the transaction. Concurrent webhook deliveries and the reaper
// serialize here; whoever loses the race re-reads a terminal state and
// no-ops.
func (r *OrderRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id string) (model.Order, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ? FOR UPDATE`, id)
	return scanOrder(row)
}

// GetByID fetches an order without locking.
func (r *OrderRepo) GetByID(ctx context.Context, id string) (model.Order, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	return scanOrder(row)
}

// MarkApprovedTx moves a PENDING order to APPROVED, recording the gateway
// payment id and the approval time. Zero affected rows means the order was
// no longer PENDING.
func (r *OrderRepo) MarkApprovedTx(ctx context.Context, tx *sql.Tx, id, paymentID string, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE orders SET state = ?, payment_id = ?, approved_at = ? WHERE id = ? AND state = ?`,
		string(model.OrderApproved), paymentID, at.UTC().Format("2006-01-02 15:04:05"),
		id, string(model.OrderPending))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// MarkTerminalTx moves a PENDING order to REJECTED or EXPIRED.
func (r *OrderRepo) MarkTerminalTx(ctx context.Context, tx *sql.Tx, id string, to model.OrderState) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE orders SET state = ? WHERE id = ? AND state = ?`,
		string(to), id, string(model.OrderPending))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// SetPreferenceID records the gateway checkout preference created for the
// order. Runs outside the reservation transaction since the gateway call
// happens after commit.
func (r *OrderRepo) SetPreferenceID(ctx context.Context, id, preferenceID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE orders SET preference_id = ? WHERE id = ?`, preferenceID, id)
	return err
}

// ListExpired returns PENDING orders whose hold deadline has passed. The
// reaper re-checks each order's state under lock before expiring it, so
// this snapshot may safely be stale by the time it is processed.
func (r *OrderRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]model.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE state = ? AND expires_at < ? ORDER BY expires_at LIMIT ?`,
		string(model.OrderPending), now.UTC().Format("2006-01-02 15:04:05"), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListByBuyer returns a buyer's orders, newest first.
func (r *OrderRepo) ListByBuyer(ctx context.Context, buyerID uint64) ([]model.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE buyer_id = ? ORDER BY created_at DESC`, buyerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// RevenueByEvent sums the totals of approved orders for one event.
// Returned as a string so the DECIMAL column survives the round trip
// untouched; callers parse it with the decimal package.
func (r *OrderRepo) RevenueByEvent(ctx context.Context, eventID uint64) (string, error) {
	var revenue string
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(total), 0) FROM orders WHERE event_id = ? AND state = ?`,
		eventID, string(model.OrderApproved)).Scan(&revenue)
	return revenue, err
}
