package repository

import (
	"context"
	"database/sql"

	"github.com/backyardbar/ticketing/internal/model"
)

// LotRepo is the stock ledger. Every mutation of a lot's sold counter goes
// through DebitTx or CreditTx inside a transaction that also persists the
// matching order state change; the row lock taken by LockByEventTx (or by
// the guarded UPDATE itself) linearizes concurrent debits so two buyers can
// never both observe stale availability.
type LotRepo struct {
	db *sql.DB
}

// NewLotRepo returns a LotRepo bound to the given database.
func NewLotRepo(db *sql.DB) *LotRepo { return &LotRepo{db: db} }

// LockByEventTx loads all active lots of an event in tier order and locks
// them for the duration of the transaction with SELECT ... FOR UPDATE.
// Lots of inactive events are excluded by the join. Callers iterate the
// result to pick the first lot that can satisfy the whole request.
func (r *LotRepo) LockByEventTx(ctx context.Context, tx *sql.Tx, eventID uint64) ([]model.Lot, error) {
	const q = `SELECT l.id, l.event_id, l.name, l.price, l.total, l.sold, l.tier_order, l.active
	           FROM lots l
	           JOIN events e ON e.id = l.event_id
	           WHERE l.event_id = ? AND l.active = 1 AND e.active = 1
	           ORDER BY l.tier_order
	           FOR UPDATE`
	rows, err := tx.QueryContext(ctx, q, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lots []model.Lot
	for rows.Next() {
		var l model.Lot
		if err := rows.Scan(&l.ID, &l.EventID, &l.Name, &l.Price, &l.Total, &l.Sold, &l.TierOrder, &l.Active); err != nil {
			return nil, err
		}
		lots = append(lots, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lots, nil
}

// DebitTx reserves qty units from a lot. The UPDATE is guarded so the
// counter can never exceed total: zero affected rows means the lot cannot
// satisfy the request and ErrInsufficientStock is returned with no side
// effect.
func (r *LotRepo) DebitTx(ctx context.Context, tx *sql.Tx, lotID uint64, qty uint32) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE lots SET sold = sold + ? WHERE id = ? AND sold + ? <= total`,
		qty, lotID, qty)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInsufficientStock
	}
	return nil
}

// CreditTx releases qty units back to a lot when a hold is extinguished.
// It must succeed even for lots that were deactivated after the order was
// placed, so there is no active check here. The sold >= qty guard keeps
// the counter non-negative; hitting it means the hold was already released
// elsewhere, which the caller prevents by re-checking the order state under
// lock.
func (r *LotRepo) CreditTx(ctx context.Context, tx *sql.Tx, lotID uint64, qty uint32) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE lots SET sold = sold - ? WHERE id = ? AND sold >= ?`,
		qty, lotID, qty)
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

// ListByEvent returns all lots of an event in tier order without locking.
// Used by the public browse endpoints to report availability.
func (r *LotRepo) ListByEvent(ctx context.Context, eventID uint64) ([]model.Lot, error) {
	const q = `SELECT id, event_id, name, price, total, sold, tier_order, active, created_at
	           FROM lots WHERE event_id = ? ORDER BY tier_order`
	rows, err := r.db.QueryContext(ctx, q, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lots []model.Lot
	for rows.Next() {
		var l model.Lot
		if err := rows.Scan(&l.ID, &l.EventID, &l.Name, &l.Price, &l.Total, &l.Sold, &l.TierOrder, &l.Active, &l.CreatedAt); err != nil {
			return nil, err
		}
		lots = append(lots, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lots, nil
}

// GetByID fetches a single lot without locking.
func (r *LotRepo) GetByID(ctx context.Context, id uint64) (model.Lot, error) {
	var l model.Lot
	err := r.db.QueryRowContext(ctx,
		`SELECT id, event_id, name, price, total, sold, tier_order, active, created_at
		 FROM lots WHERE id = ?`, id).
		Scan(&l.ID, &l.EventID, &l.Name, &l.Price, &l.Total, &l.Sold, &l.TierOrder, &l.Active, &l.CreatedAt)
	return l, err
}

// CreateTx inserts a lot for an event and populates the generated ID.
func (r *LotRepo) CreateTx(ctx context.Context, tx *sql.Tx, l *model.Lot) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO lots (event_id, name, price, total, sold, tier_order, active) VALUES (?,?,?,?,0,?,?)`,
		l.EventID, l.Name, l.Price, l.Total, l.TierOrder, l.Active)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	l.ID = uint64(id)
	return nil
}
