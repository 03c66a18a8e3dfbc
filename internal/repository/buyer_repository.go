package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/backyardbar/ticketing/internal/model"
)

// BuyerRepo persists buyer accounts. Staff accounts live in their own
// table (see StaffRepo); the two never share rows.
type BuyerRepo struct{ DB *sql.DB }

// NewBuyerRepo returns a BuyerRepo bound to the given database.
func NewBuyerRepo(db *sql.DB) *BuyerRepo { return &BuyerRepo{DB: db} }

// Create inserts a buyer and returns its ID. The password must already be
// hashed by the caller. Duplicate email or national id maps to
// ErrEmailExists (MySQL error 1062).
func (r *BuyerRepo) Create(ctx context.Context, b *model.Buyer) (uint64, error) {
	b.Email = strings.ToLower(strings.TrimSpace(b.Email))
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO buyers (national_id, first_name, last_name, email, phone, password_hash) VALUES (?,?,?,?,?,?)`,
		b.NationalID, b.FirstName, b.LastName, b.Email, b.Phone, b.PasswordHash)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "1062") {
			return 0, ErrEmailExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	b.ID = uint64(id)
	return b.ID, nil
}

const buyerColumns = `id, national_id, first_name, last_name, email, phone, password_hash, created_at`

// GetByEmail fetches a buyer by normalized email.
func (r *BuyerRepo) GetByEmail(ctx context.Context, email string) (model.Buyer, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var b model.Buyer
	err := r.DB.QueryRowContext(ctx,
		`SELECT `+buyerColumns+` FROM buyers WHERE email = ? LIMIT 1`, email).
		Scan(&b.ID, &b.NationalID, &b.FirstName, &b.LastName, &b.Email, &b.Phone, &b.PasswordHash, &b.CreatedAt)
	return b, err
}

// GetByID fetches a buyer by id.
func (r *BuyerRepo) GetByID(ctx context.Context, id uint64) (model.Buyer, error) {
	var b model.Buyer
	err := r.DB.QueryRowContext(ctx,
		`SELECT `+buyerColumns+` FROM buyers WHERE id = ? LIMIT 1`, id).
		Scan(&b.ID, &b.NationalID, &b.FirstName, &b.LastName, &b.Email, &b.Phone, &b.PasswordHash, &b.CreatedAt)
	return b, err
}

// StaffRepo persists staff (door/admin) accounts.
type StaffRepo struct{ DB *sql.DB }

// NewStaffRepo returns a StaffRepo bound to the given database.
func NewStaffRepo(db *sql.DB) *StaffRepo { return &StaffRepo{DB: db} }

// GetByEmail fetches a staff account by normalized email.
func (r *StaffRepo) GetByEmail(ctx context.Context, email string) (model.Staff, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var s model.Staff
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, email, password_hash, is_admin, created_at FROM staff WHERE email = ? LIMIT 1`, email).
		Scan(&s.ID, &s.Email, &s.PasswordHash, &s.IsAdmin, &s.CreatedAt)
	return s, err
}

// GetByID fetches a staff account by id.
func (r *StaffRepo) GetByID(ctx context.Context, id uint64) (model.Staff, error) {
	var s model.Staff
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, email, password_hash, is_admin, created_at FROM staff WHERE id = ? LIMIT 1`, id).
		Scan(&s.ID, &s.Email, &s.PasswordHash, &s.IsAdmin, &s.CreatedAt)
	return s, err
}
