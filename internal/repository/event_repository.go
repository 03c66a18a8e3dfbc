package repository

import (
	"context"
	"database/sql"

	"github.com/backyardbar/ticketing/internal/model"
)

// EventRepo provides read access to events plus the staff-only creation
// path. Events are immutable once referenced by orders except for the
// active flag.
type EventRepo struct {
	db *sql.DB
}

// NewEventRepo returns an EventRepo bound to the given database.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

// DB exposes the underlying handle so services can begin transactions.
func (r *EventRepo) DB() *sql.DB { return r.db }

const eventColumns = `id, title, description, starts_at, venue, active,
	charges_commission, commission_amount, created_at, updated_at`

func scanEvent(row interface{ Scan(...any) error }) (model.Event, error) {
	var (
		e    model.Event
		desc sql.NullString
	)
	err := row.Scan(&e.ID, &e.Title, &desc, &e.StartsAt, &e.Venue, &e.Active,
		&e.ChargesCommission, &e.CommissionAmount, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return model.Event{}, err
	}
	if desc.Valid {
		v := desc.String
		e.Description = &v
	}
	return e, nil
}

// GetActive fetches an event by id, restricted to active events. Returns
// sql.ErrNoRows for missing or deactivated events; callers treat both as
// "not purchasable".
func (r *EventRepo) GetActive(ctx context.Context, id uint64) (model.Event, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = ? AND active = 1`, id)
	return scanEvent(row)
}

// ListActive returns all events currently on sale, soonest first.
func (r *EventRepo) ListActive(ctx context.Context) ([]model.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE active = 1 ORDER BY starts_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateTx inserts an event and populates the generated ID. Lots are
// created by the same transaction via LotRepo.CreateTx.
func (r *EventRepo) CreateTx(ctx context.Context, tx *sql.Tx, e *model.Event) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (title, description, starts_at, venue, active, charges_commission, commission_amount)
		 VALUES (?,?,?,?,?,?,?)`,
		e.Title, e.Description, e.StartsAt.UTC().Format("2006-01-02 15:04:05"), e.Venue,
		e.Active, e.ChargesCommission, e.CommissionAmount)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = uint64(id)
	return nil
}

// SetActive flips the on-sale flag, the only mutation events support.
func (r *EventRepo) SetActive(ctx context.Context, id uint64, active bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE events SET active = ? WHERE id = ?`, active, id)
	return err
}
