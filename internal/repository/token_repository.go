package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/backyardbar/ticketing/internal/model"
)

// TokenRepo persists refresh token hashes for both buyer and staff
// principals. Only the SHA-256 of the raw token is stored.
type TokenRepo struct{ DB *sql.DB }

// NewTokenRepo returns a TokenRepo bound to the given database.
func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

// StoreRefresh inserts a refresh token hash row for a principal.
func (r *TokenRepo) StoreRefresh(ctx context.Context, p model.Principal, tokenHash string, exp time.Time) error {
	id := p.BuyerID
	if p.Kind == model.KindStaff {
		id = p.StaffID
	}
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO refresh_tokens (principal_kind, principal_id, token_hash, expires_at) VALUES (?,?,?,?)`,
		string(p.Kind), id, tokenHash, exp.UTC().Format("2006-01-02 15:04:05"))
	return err
}

// ValidateRefresh returns the owning principal if a non-revoked,
// non-expired token with this hash exists; otherwise sql.ErrNoRows.
func (r *TokenRepo) ValidateRefresh(ctx context.Context, tokenHash string) (model.Principal, error) {
	var (
		kind      string
		id        uint64
		expiresAt time.Time
		revokedAt sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT principal_kind, principal_id, expires_at, revoked_at FROM refresh_tokens WHERE token_hash = ? LIMIT 1`,
		tokenHash).Scan(&kind, &id, &expiresAt, &revokedAt)
	if err != nil {
		return model.Principal{}, err
	}
	if revokedAt.Valid || time.Now().UTC().After(expiresAt) {
		return model.Principal{}, sql.ErrNoRows
	}
	p := model.Principal{Kind: model.PrincipalKind(kind)}
	if p.Kind == model.KindStaff {
		p.StaffID = id
	} else {
		p.BuyerID = id
	}
	return p, nil
}

// RevokeByHash marks a token as revoked.
func (r *TokenRepo) RevokeByHash(ctx context.Context, tokenHash string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = NOW() WHERE token_hash = ? AND revoked_at IS NULL`,
		tokenHash)
	return err
}
