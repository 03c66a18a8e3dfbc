package repository

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebitTxGuardsAgainstOversell(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewLotRepo(db)
	debitSQL := regexp.QuoteMeta(`UPDATE lots SET sold = sold + ? WHERE id = ? AND sold + ? <= total`)

	mock.ExpectBegin()
	mock.ExpectExec(debitSQL).WithArgs(uint32(3), uint64(7), uint32(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, repo.DebitTx(context.Background(), tx, 7, 3))
	require.NoError(t, tx.Commit())

	// Zero affected rows means the guard fired: not enough stock left.
	mock.ExpectBegin()
	mock.ExpectExec(debitSQL).WithArgs(uint32(5), uint64(7), uint32(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tx, err = db.Begin()
	require.NoError(t, err)
	err = repo.DebitTx(context.Background(), tx, 7, 5)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	require.NoError(t, tx.Rollback())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditTxGuardsAgainstDoubleRelease(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewLotRepo(db)
	creditSQL := regexp.QuoteMeta(`UPDATE lots SET sold = sold - ? WHERE id = ? AND sold >= ?`)

	mock.ExpectBegin()
	mock.ExpectExec(creditSQL).WithArgs(uint32(2), uint64(7), uint32(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, repo.CreditTx(context.Background(), tx, 7, 2))
	require.NoError(t, tx.Commit())

	// Crediting more than is held would drive sold negative; the guard
	// turns that into ErrConflict.
	mock.ExpectBegin()
	mock.ExpectExec(creditSQL).WithArgs(uint32(9), uint64(7), uint32(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tx, err = db.Begin()
	require.NoError(t, err)
	err = repo.CreditTx(context.Background(), tx, 7, 9)
	assert.ErrorIs(t, err, ErrConflict)
	require.NoError(t, tx.Rollback())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockByEventTxOrdersByTier(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewLotRepo(db)
	rows := sqlmock.NewRows([]string{"id", "event_id", "name", "price", "total", "sold", "tier_order", "active"}).
		AddRow(1, 5, "Early Bird", "1000.00", 50, 50, 1, true).
		AddRow(2, 5, "General", "1500.00", 100, 20, 2, true)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM lots l(?s).*FOR UPDATE").WithArgs(uint64(5)).WillReturnRows(rows)
	mock.ExpectCommit()

	tx, err := db.Begin()
	require.NoError(t, err)
	lots, err := repo.LockByEventTx(context.Background(), tx, 5)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	require.Len(t, lots, 2)
	assert.Equal(t, "Early Bird", lots[0].Name)
	assert.Equal(t, uint32(0), lots[0].Available())
	assert.Equal(t, uint32(80), lots[1].Available())
	assert.Equal(t, "1500.00", lots[1].Price.StringFixed(2))
}
