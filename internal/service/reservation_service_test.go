package service

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backyardbar/ticketing/internal/model"
	"github.com/backyardbar/ticketing/internal/payment"
	"github.com/backyardbar/ticketing/internal/queue"
	"github.com/backyardbar/ticketing/internal/repository"
)

type fakeGateway struct {
	createFn func(ctx context.Context, p payment.PreferenceParams) (*payment.Preference, error)
	getFn    func(ctx context.Context, paymentID string) (*payment.Payment, error)
}

func (f *fakeGateway) CreatePreference(ctx context.Context, p payment.PreferenceParams) (*payment.Preference, error) {
	return f.createFn(ctx, p)
}

func (f *fakeGateway) GetPayment(ctx context.Context, paymentID string) (*payment.Payment, error) {
	return f.getFn(ctx, paymentID)
}

func okGateway() *fakeGateway {
	return &fakeGateway{
		createFn: func(context.Context, payment.PreferenceParams) (*payment.Preference, error) {
			return &payment.Preference{ID: "pref-1", InitPoint: "https://pay.example.com/pref-1"}, nil
		},
		getFn: func(_ context.Context, id string) (*payment.Payment, error) {
			return &payment.Payment{ID: id, Status: "approved", ExternalReference: "order-1"}, nil
		},
	}
}

func newMockService(t *testing.T, gw *fakeGateway) (*ReservationService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	svc := NewReservationService(db,
		repository.NewEventRepo(db),
		repository.NewLotRepo(db),
		repository.NewOrderRepo(db),
		repository.NewTicketRepo(db),
		repository.NewBuyerRepo(db),
		gw, 15, "ARS")
	svc.publish = func(context.Context, queue.OrderApprovedEvent) error { return nil }
	return svc, mock
}

var (
	eventCols = []string{"id", "title", "description", "starts_at", "venue", "active",
		"charges_commission", "commission_amount", "created_at", "updated_at"}
	buyerCols = []string{"id", "national_id", "first_name", "last_name", "email", "phone",
		"password_hash", "created_at"}
	lotLockCols = []string{"id", "event_id", "name", "price", "total", "sold", "tier_order", "active"}
	orderCols   = []string{"id", "buyer_id", "event_id", "lot_id", "quantity", "subtotal",
		"commission", "total", "state", "preference_id", "payment_id",
		"created_at", "approved_at", "expires_at"}
)

func eventRow() *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(eventCols).
		AddRow(5, "Opening Night", nil, now.Add(72*time.Hour), "Backyard Bar", true,
			true, "100.00", now, now)
}

func buyerRow() *sqlmock.Rows {
	return sqlmock.NewRows(buyerCols).
		AddRow(9, "30111222", "Ada", "Lovelace", "ada@example.com", "+549111", "x", time.Now().UTC())
}

func pendingOrderRow(id string, expiresAt time.Time) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(orderCols).
		AddRow(id, 9, 5, 2, 3, "4500.00", "300.00", "4800.00", "PENDING", nil, nil,
			now, nil, expiresAt)
}

func terminalOrderRow(id, state string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(orderCols).
		AddRow(id, 9, 5, 2, 3, "4500.00", "300.00", "4800.00", state, nil, "pay-1",
			now, now, now.Add(-time.Hour))
}

func TestPickLot(t *testing.T) {
	lots := []model.Lot{
		{ID: 1, Name: "Early Bird", Total: 50, Sold: 48, TierOrder: 1},
		{ID: 2, Name: "General", Total: 100, Sold: 10, TierOrder: 2},
		{ID: 3, Name: "Door", Total: 200, Sold: 0, TierOrder: 3},
	}

	// Fits in the first tier.
	got := pickLot(lots, 2)
	require.NotNil(t, got)
	assert.Equal(t, uint64(1), got.ID)

	// Too big for the first tier: skip to the next, never split.
	got = pickLot(lots, 5)
	require.NotNil(t, got)
	assert.Equal(t, uint64(2), got.ID)

	// Nothing can hold 150 except the last tier.
	got = pickLot(lots, 150)
	require.NotNil(t, got)
	assert.Equal(t, uint64(3), got.ID)

	assert.Nil(t, pickLot(lots, 500))
	assert.Nil(t, pickLot(nil, 1))
}

func TestReserveHappyPath(t *testing.T) {
	svc, mock := newMockService(t, okGateway())

	mock.ExpectQuery("FROM events WHERE id = \\? AND active = 1").
		WithArgs(uint64(5)).WillReturnRows(eventRow())
	mock.ExpectQuery(regexp.QuoteMeta("FROM buyers WHERE id = ?")).
		WithArgs(uint64(9)).WillReturnRows(buyerRow())

	mock.ExpectBegin()
	mock.ExpectQuery("FROM lots l(?s).*FOR UPDATE").WithArgs(uint64(5)).
		WillReturnRows(sqlmock.NewRows(lotLockCols).
			AddRow(1, 5, "Early Bird", "1000.00", 50, 50, 1, true).
			AddRow(2, 5, "General", "1500.00", 100, 10, 2, true))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE lots SET sold = sold + ?")).
		WithArgs(uint32(3), uint64(2), uint32(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders SET preference_id = ?")).
		WithArgs("pref-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	before := time.Now().UTC()
	order, err := svc.Reserve(context.Background(), 9, 5, 3)
	require.NoError(t, err)

	assert.Equal(t, model.OrderPending, order.State)
	assert.Equal(t, uint64(2), order.LotID, "early bird is sold out, general takes it")
	assert.Equal(t, "4500.00", order.Subtotal.StringFixed(2))
	assert.Equal(t, "300.00", order.Commission.StringFixed(2), "100.00 commission x 3 tickets")
	assert.Equal(t, "4800.00", order.Total.StringFixed(2))
	assert.Equal(t, "https://pay.example.com/pref-1", order.CheckoutURL)
	require.NotNil(t, order.PreferenceID)
	assert.Equal(t, "pref-1", *order.PreferenceID)

	wantExpiry := before.Add(15 * time.Minute)
	assert.WithinDuration(t, wantExpiry, order.ExpiresAt, 5*time.Second)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveQuantityBounds(t *testing.T) {
	svc, mock := newMockService(t, okGateway())

	_, err := svc.Reserve(context.Background(), 9, 5, 0)
	assert.ErrorIs(t, err, ErrQuantityOutOfRange)

	_, err = svc.Reserve(context.Background(), 9, 5, MaxQuantityPerOrder+1)
	assert.ErrorIs(t, err, ErrQuantityOutOfRange)

	assert.NoError(t, mock.ExpectationsWereMet(), "invalid quantities never touch the database")
}

func TestReserveInsufficientStock(t *testing.T) {
	svc, mock := newMockService(t, okGateway())

	mock.ExpectQuery("FROM events WHERE id = \\? AND active = 1").
		WithArgs(uint64(5)).WillReturnRows(eventRow())
	mock.ExpectQuery(regexp.QuoteMeta("FROM buyers WHERE id = ?")).
		WithArgs(uint64(9)).WillReturnRows(buyerRow())

	mock.ExpectBegin()
	mock.ExpectQuery("FROM lots l(?s).*FOR UPDATE").WithArgs(uint64(5)).
		WillReturnRows(sqlmock.NewRows(lotLockCols).
			AddRow(1, 5, "Early Bird", "1000.00", 50, 49, 1, true).
			AddRow(2, 5, "General", "1500.00", 100, 98, 2, true))
	mock.ExpectRollback()

	_, err := svc.Reserve(context.Background(), 9, 5, 4)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveCompensatesWhenGatewayFails(t *testing.T) {
	gw := okGateway()
	gw.createFn = func(context.Context, payment.PreferenceParams) (*payment.Preference, error) {
		return nil, errors.New("gateway down")
	}
	svc, mock := newMockService(t, gw)

	mock.ExpectQuery("FROM events WHERE id = \\? AND active = 1").
		WithArgs(uint64(5)).WillReturnRows(eventRow())
	mock.ExpectQuery(regexp.QuoteMeta("FROM buyers WHERE id = ?")).
		WithArgs(uint64(9)).WillReturnRows(buyerRow())

	mock.ExpectBegin()
	mock.ExpectQuery("FROM lots l(?s).*FOR UPDATE").WithArgs(uint64(5)).
		WillReturnRows(sqlmock.NewRows(lotLockCols).
			AddRow(2, 5, "General", "1500.00", 100, 10, 2, true))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE lots SET sold = sold + ?")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// Compensation: reject the order and credit the stock back, all under
	// the order row lock.
	mock.ExpectBegin()
	mock.ExpectQuery("FROM orders WHERE id = \\? FOR UPDATE").
		WillReturnRows(pendingOrderRow("order-1", time.Now().UTC().Add(15*time.Minute)))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders SET state = ? WHERE id = ? AND state = ?")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE lots SET sold = sold - ?")).
		WithArgs(uint32(3), uint64(2), uint32(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := svc.Reserve(context.Background(), 9, 5, 3)
	assert.ErrorIs(t, err, ErrPaymentGateway)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApproveIssuesTicketsOnce(t *testing.T) {
	svc, mock := newMockService(t, okGateway())
	var published queue.OrderApprovedEvent
	svc.publish = func(_ context.Context, ev queue.OrderApprovedEvent) error {
		published = ev
		return nil
	}

	mock.ExpectBegin()
	mock.ExpectQuery("FROM orders WHERE id = \\? FOR UPDATE").
		WithArgs("order-1").
		WillReturnRows(pendingOrderRow("order-1", time.Now().UTC().Add(10*time.Minute)))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders SET state = ?, payment_id = ?")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tickets")).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	// Fulfillment payload lookups after commit.
	mock.ExpectQuery(regexp.QuoteMeta("FROM buyers WHERE id = ?")).
		WithArgs(uint64(9)).WillReturnRows(buyerRow())
	mock.ExpectQuery(regexp.QuoteMeta("FROM lots WHERE id = ?")).
		WithArgs(uint64(2)).
		WillReturnRows(sqlmock.NewRows(append(lotLockCols, "created_at")).
			AddRow(2, 5, "General", "1500.00", 100, 13, 2, true, time.Now().UTC()))
	mock.ExpectQuery("FROM events WHERE id = \\? AND active = 1").
		WithArgs(uint64(5)).WillReturnRows(eventRow())

	err := svc.ApplyPaymentOutcome(context.Background(), "order-1", "pay-1", OutcomeApproved)
	require.NoError(t, err)

	assert.Equal(t, "order-1", published.OrderID)
	assert.Equal(t, "Ada Lovelace", published.BuyerName)
	assert.Equal(t, "General", published.LotName)
	assert.Len(t, published.TicketIDs, 3, "one ticket per purchased unit")
	assert.Equal(t, "4800.00", published.Total)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApproveIsIdempotent(t *testing.T) {
	svc, mock := newMockService(t, okGateway())

	mock.ExpectBegin()
	mock.ExpectQuery("FROM orders WHERE id = \\? FOR UPDATE").
		WithArgs("order-1").WillReturnRows(terminalOrderRow("order-1", "APPROVED"))
	mock.ExpectRollback()

	err := svc.ApplyPaymentOutcome(context.Background(), "order-1", "pay-1", OutcomeApproved)
	require.NoError(t, err, "redelivered approval is a clean no-op")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApproveAfterExpiryDoesNotResurrect(t *testing.T) {
	svc, mock := newMockService(t, okGateway())

	mock.ExpectBegin()
	mock.ExpectQuery("FROM orders WHERE id = \\? FOR UPDATE").
		WithArgs("order-1").WillReturnRows(terminalOrderRow("order-1", "EXPIRED"))
	mock.ExpectRollback()

	// The stock went back on expiry; re-debiting here could oversell, so
	// the payment is flagged for a manual refund instead.
	err := svc.ApplyPaymentOutcome(context.Background(), "order-1", "pay-1", OutcomeApproved)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRejectedPaymentReleasesStock(t *testing.T) {
	svc, mock := newMockService(t, okGateway())

	mock.ExpectBegin()
	mock.ExpectQuery("FROM orders WHERE id = \\? FOR UPDATE").
		WithArgs("order-1").
		WillReturnRows(pendingOrderRow("order-1", time.Now().UTC().Add(10*time.Minute)))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders SET state = ? WHERE id = ? AND state = ?")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE lots SET sold = sold - ?")).
		WithArgs(uint32(3), uint64(2), uint32(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := svc.ApplyPaymentOutcome(context.Background(), "order-1", "pay-1", OutcomeFailed)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReapSkipsOrderSettledAfterSnapshot(t *testing.T) {
	svc, mock := newMockService(t, okGateway())

	deadline := time.Now().UTC().Add(-time.Minute)
	mock.ExpectQuery("FROM orders WHERE state = \\? AND expires_at <").
		WillReturnRows(pendingOrderRow("order-1", deadline))

	// Between the snapshot and the lock a webhook approved the order; the
	// locked re-read sees APPROVED and the reaper must leave it alone.
	mock.ExpectBegin()
	mock.ExpectQuery("FROM orders WHERE id = \\? FOR UPDATE").
		WillReturnRows(terminalOrderRow("order-1", "APPROVED"))
	mock.ExpectRollback()

	expired, failed := svc.ReapExpired(context.Background())
	assert.Equal(t, 1, expired, "a clean no-op still counts as handled")
	assert.Equal(t, 0, failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReapExpiresOverdueHold(t *testing.T) {
	svc, mock := newMockService(t, okGateway())

	deadline := time.Now().UTC().Add(-time.Minute)
	mock.ExpectQuery("FROM orders WHERE state = \\? AND expires_at <").
		WillReturnRows(pendingOrderRow("order-1", deadline))

	mock.ExpectBegin()
	mock.ExpectQuery("FROM orders WHERE id = \\? FOR UPDATE").
		WillReturnRows(pendingOrderRow("order-1", deadline))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders SET state = ? WHERE id = ? AND state = ?")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE lots SET sold = sold - ?")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	expired, failed := svc.ReapExpired(context.Background())
	assert.Equal(t, 1, expired)
	assert.Equal(t, 0, failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutcomeFromStatus(t *testing.T) {
	assert.Equal(t, OutcomeApproved, OutcomeFromStatus("approved"))
	assert.Equal(t, OutcomeFailed, OutcomeFromStatus("rejected"))
	assert.Equal(t, OutcomeFailed, OutcomeFromStatus("cancelled"))
	assert.Equal(t, OutcomeFailed, OutcomeFromStatus("refunded"))
	assert.Equal(t, OutcomeFailed, OutcomeFromStatus("charged_back"))
	assert.Equal(t, OutcomeIgnored, OutcomeFromStatus("in_process"))
	assert.Equal(t, OutcomeIgnored, OutcomeFromStatus("pending"))
	assert.Equal(t, OutcomeIgnored, OutcomeFromStatus(""))
}

func TestHandleNotificationIgnoresOtherTopics(t *testing.T) {
	gw := okGateway()
	gw.getFn = func(context.Context, string) (*payment.Payment, error) {
		t.Fatal("gateway must not be queried for non-payment topics")
		return nil, nil
	}
	svc, mock := newMockService(t, gw)

	require.NoError(t, svc.HandleNotification(context.Background(), "merchant_order", "123"))
	require.NoError(t, svc.HandleNotification(context.Background(), "payment", ""))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleNotificationIgnoresInFlightStatus(t *testing.T) {
	gw := okGateway()
	gw.getFn = func(_ context.Context, id string) (*payment.Payment, error) {
		return &payment.Payment{ID: id, Status: "in_process", ExternalReference: "order-1"}, nil
	}
	svc, mock := newMockService(t, gw)

	require.NoError(t, svc.HandleNotification(context.Background(), "payment", "pay-1"))
	assert.NoError(t, mock.ExpectationsWereMet(), "in-flight payments touch nothing")
}

// TestAllocatorNeverOversells drives the lock-pick-debit protocol from
// many goroutines against an in-memory ledger that mimics the database
// guards: a mutex stands in for the row lock and the debit re-checks the
// guard exactly like the SQL does. Exactly capacity/qty reservations may
// succeed.
func TestAllocatorNeverOversells(t *testing.T) {
	const (
		capacity = 40
		qty      = 3
		buyers   = 100
	)
	lot := model.Lot{ID: 1, Total: capacity, TierOrder: 1}
	var mu sync.Mutex

	reserveOnce := func() bool {
		mu.Lock() // FOR UPDATE
		defer mu.Unlock()
		picked := pickLot([]model.Lot{lot}, qty)
		if picked == nil {
			return false
		}
		if lot.Sold+qty > lot.Total { // the debit guard
			return false
		}
		lot.Sold += qty
		return true
	}

	var wg sync.WaitGroup
	results := make(chan bool, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- reserveOnce()
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	assert.Equal(t, capacity/qty, wins, "exactly floor(capacity/qty) buyers can win")
	assert.LessOrEqual(t, lot.Sold, lot.Total, "sold may never exceed total")
}

func TestReserveUnknownEvent(t *testing.T) {
	svc, mock := newMockService(t, okGateway())

	mock.ExpectQuery("FROM events WHERE id = \\? AND active = 1").
		WithArgs(uint64(404)).WillReturnRows(sqlmock.NewRows(eventCols))

	_, err := svc.Reserve(context.Background(), 9, 404, 2)
	assert.ErrorIs(t, err, ErrEventNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Commission is only charged when the event says so.
func TestReserveWithoutCommission(t *testing.T) {
	svc, mock := newMockService(t, okGateway())

	now := time.Now().UTC()
	noCommission := sqlmock.NewRows(eventCols).
		AddRow(5, "Free Fees Night", nil, now.Add(24*time.Hour), "Backyard Bar", true,
			false, "0.00", now, now)

	mock.ExpectQuery("FROM events WHERE id = \\? AND active = 1").
		WithArgs(uint64(5)).WillReturnRows(noCommission)
	mock.ExpectQuery(regexp.QuoteMeta("FROM buyers WHERE id = ?")).
		WithArgs(uint64(9)).WillReturnRows(buyerRow())

	mock.ExpectBegin()
	mock.ExpectQuery("FROM lots l(?s).*FOR UPDATE").WithArgs(uint64(5)).
		WillReturnRows(sqlmock.NewRows(lotLockCols).
			AddRow(2, 5, "General", "1500.00", 100, 10, 2, true))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE lots SET sold = sold + ?")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders SET preference_id = ?")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	order, err := svc.Reserve(context.Background(), 9, 5, 2)
	require.NoError(t, err)
	assert.True(t, order.Commission.Equal(decimal.Zero))
	assert.Equal(t, "3000.00", order.Total.StringFixed(2))
	assert.NoError(t, mock.ExpectationsWereMet())
}
