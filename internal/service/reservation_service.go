// Package service holds the order lifecycle: reserving tiered stock under
// row locks, resolving payment outcomes idempotently and reaping expired
// holds. All state transitions out of PENDING run inside a single
// transaction that locks the order row first, so every release or approval
// happens exactly once no matter how many webhooks, reapers and manual
// confirmations race.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/backyardbar/ticketing/internal/model"
	"github.com/backyardbar/ticketing/internal/monitoring"
	"github.com/backyardbar/ticketing/internal/payment"
	"github.com/backyardbar/ticketing/internal/queue"
	"github.com/backyardbar/ticketing/internal/repository"
)

var (
	// ErrQuantityOutOfRange is returned when the requested quantity is not
	// between 1 and MaxQuantityPerOrder.
	ErrQuantityOutOfRange = errors.New("quantity out of range")
	// ErrEventNotFound is returned for missing or inactive events.
	ErrEventNotFound = errors.New("event not found")
	// ErrInsufficientStock is returned when no single lot can cover the
	// requested quantity. Requests are never split across lots.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrOrderNotFound is returned when an order id resolves to nothing.
	ErrOrderNotFound = errors.New("order not found")
	// ErrPaymentGateway is returned when checkout creation fails after the
	// stock was already held; by then the hold has been compensated.
	ErrPaymentGateway = errors.New("payment gateway unavailable")
)

// MaxQuantityPerOrder caps how many tickets one order may hold.
const MaxQuantityPerOrder = 10

// reapBatchSize bounds how many expired holds one sweep picks up.
const reapBatchSize = 200

// PaymentGateway is the slice of the payment client the service needs.
type PaymentGateway interface {
	CreatePreference(ctx context.Context, p payment.PreferenceParams) (*payment.Preference, error)
	GetPayment(ctx context.Context, paymentID string) (*payment.Payment, error)
}

// Outcome is the service-level verdict mapped from a gateway payment
// status.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeFailed   Outcome = "failed"
	OutcomeIgnored  Outcome = "ignored"
)

// OutcomeFromStatus maps a raw gateway status onto an Outcome. Unknown and
// in-flight statuses are ignored; a later notification settles them.
func OutcomeFromStatus(status string) Outcome {
	switch status {
	case "approved":
		return OutcomeApproved
	case "rejected", "cancelled", "refunded", "charged_back":
		return OutcomeFailed
	default:
		return OutcomeIgnored
	}
}

// ReservationService orchestrates reservations and their resolution.
type ReservationService struct {
	db      *sql.DB
	events  *repository.EventRepo
	lots    *repository.LotRepo
	orders  *repository.OrderRepo
	tickets *repository.TicketRepo
	buyers  *repository.BuyerRepo
	gateway PaymentGateway

	// publish sends the fulfillment event after approval commits.
	// Swappable in tests; defaults to queue.PublishOrderApproved.
	publish func(ctx context.Context, ev queue.OrderApprovedEvent) error

	holdDuration time.Duration
	currency     string
}

// NewReservationService wires the service. holdMinutes is how long a
// PENDING order keeps its stock before the reaper may expire it.
func NewReservationService(
	db *sql.DB,
	events *repository.EventRepo,
	lots *repository.LotRepo,
	orders *repository.OrderRepo,
	tickets *repository.TicketRepo,
	buyers *repository.BuyerRepo,
	gateway PaymentGateway,
	holdMinutes int,
	currency string,
) *ReservationService {
	return &ReservationService{
		db:           db,
		events:       events,
		lots:         lots,
		orders:       orders,
		tickets:      tickets,
		buyers:       buyers,
		gateway:      gateway,
		publish:      queue.PublishOrderApproved,
		holdDuration: time.Duration(holdMinutes) * time.Minute,
		currency:     currency,
	}
}

// pickLot returns the first lot in tier order that can satisfy the whole
// quantity, or nil. A lower tier with some stock left is skipped rather
// than split: a buyer gets all tickets from one lot at one price.
func pickLot(lots []model.Lot, qty uint32) *model.Lot {
	for i := range lots {
		if lots[i].Available() >= qty {
			return &lots[i]
		}
	}
	return nil
}

// Reserve holds qty tickets of the cheapest available tier for a buyer and
// opens a checkout session for the resulting PENDING order. The stock
// debit and the order insert commit atomically; the gateway call happens
// after commit and failure there compensates by rejecting the order, which
// credits the stock back.
func (s *ReservationService) Reserve(ctx context.Context, buyerID, eventID uint64, qty uint32) (model.Order, error) {
	start := time.Now()
	order, err := s.reserve(ctx, buyerID, eventID, qty)
	monitoring.ObserveReservation(reservationResult(err), time.Since(start).Seconds())
	return order, err
}

func reservationResult(err error) string {
	switch {
	case err == nil:
		return "reserved"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrQuantityOutOfRange), errors.Is(err, ErrEventNotFound):
		return "invalid"
	case errors.Is(err, ErrPaymentGateway):
		return "gateway_error"
	default:
		return "error"
	}
}

func (s *ReservationService) reserve(ctx context.Context, buyerID, eventID uint64, qty uint32) (model.Order, error) {
	if qty < 1 || qty > MaxQuantityPerOrder {
		return model.Order{}, ErrQuantityOutOfRange
	}

	ev, err := s.events.GetActive(ctx, eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Order{}, ErrEventNotFound
		}
		return model.Order{}, fmt.Errorf("load event: %w", err)
	}

	buyer, err := s.buyers.GetByID(ctx, buyerID)
	if err != nil {
		return model.Order{}, fmt.Errorf("load buyer: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Order{}, fmt.Errorf("begin reserve tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	lots, err := s.lots.LockByEventTx(ctx, tx, eventID)
	if err != nil {
		return model.Order{}, fmt.Errorf("lock lots: %w", err)
	}
	lot := pickLot(lots, qty)
	if lot == nil {
		return model.Order{}, ErrInsufficientStock
	}
	if err := s.lots.DebitTx(ctx, tx, lot.ID, qty); err != nil {
		if errors.Is(err, repository.ErrInsufficientStock) {
			return model.Order{}, ErrInsufficientStock
		}
		return model.Order{}, fmt.Errorf("debit lot %d: %w", lot.ID, err)
	}

	qtyDec := decimal.NewFromInt(int64(qty))
	subtotal := lot.Price.Mul(qtyDec)
	commission := decimal.Zero
	if ev.ChargesCommission {
		commission = ev.CommissionAmount.Mul(qtyDec)
	}

	now := time.Now().UTC()
	order := model.Order{
		ID:         uuid.NewString(),
		BuyerID:    buyerID,
		EventID:    eventID,
		LotID:      lot.ID,
		Quantity:   qty,
		Subtotal:   subtotal,
		Commission: commission,
		Total:      subtotal.Add(commission),
		State:      model.OrderPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.holdDuration),
	}
	if err := s.orders.CreateTx(ctx, tx, &order); err != nil {
		return model.Order{}, fmt.Errorf("create order: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Order{}, fmt.Errorf("commit reserve tx: %w", err)
	}
	committed = true

	// The hold is live from here on. Any failure below must extinguish it.
	unitPrice := order.Total.Div(qtyDec)
	pref, err := s.gateway.CreatePreference(ctx, payment.PreferenceParams{
		OrderRef:  order.ID,
		Title:     ev.Title + " - " + lot.Name,
		Quantity:  qty,
		UnitPrice: unitPrice,
		Payer: payment.Payer{
			Name:    buyer.FirstName,
			Surname: buyer.LastName,
			Email:   buyer.Email,
		},
	})
	if err != nil {
		logrus.WithError(err).WithField("order_id", order.ID).
			Error("reserve: checkout creation failed, compensating hold")
		if relErr := s.release(ctx, order.ID, model.OrderRejected, time.Time{}); relErr != nil {
			// The reaper picks this hold up once expires_at passes, so a
			// failed compensation delays the release instead of leaking it.
			logrus.WithError(relErr).WithField("order_id", order.ID).
				Error("reserve: compensation failed, reaper will collect")
		}
		return model.Order{}, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}

	if err := s.orders.SetPreferenceID(ctx, order.ID, pref.ID); err != nil {
		logrus.WithError(err).WithField("order_id", order.ID).
			Warn("reserve: storing preference id failed")
	}
	order.PreferenceID = &pref.ID
	order.CheckoutURL = pref.InitPoint

	logrus.WithFields(logrus.Fields{
		"order_id": order.ID,
		"buyer_id": buyerID,
		"event_id": eventID,
		"lot_id":   lot.ID,
		"quantity": qty,
		"total":    order.Total.StringFixed(2),
	}).Info("reserve: order placed")
	return order, nil
}

// ApplyPaymentOutcome applies a settled gateway verdict to an order.
// Approved settles the order and issues tickets; failed rejects it and
// returns the stock. The transition is idempotent: a repeat delivery of
// the same verdict, or any verdict for an already terminal order, is a
// no-op.
func (s *ReservationService) ApplyPaymentOutcome(ctx context.Context, orderID, paymentID string, outcome Outcome) error {
	switch outcome {
	case OutcomeApproved:
		return s.approve(ctx, orderID, paymentID)
	case OutcomeFailed:
		return s.release(ctx, orderID, model.OrderRejected, time.Time{})
	default:
		return nil
	}
}

// HandleNotification resolves a gateway webhook. The payload is never
// trusted: the payment is looked up at the gateway and the order is found
// through its external reference.
func (s *ReservationService) HandleNotification(ctx context.Context, topic, resourceID string) error {
	if topic != "payment" || resourceID == "" {
		monitoring.WebhookOutcome("ignored")
		return nil
	}
	pay, err := s.gateway.GetPayment(ctx, resourceID)
	if err != nil {
		return fmt.Errorf("resolve notification: %w", err)
	}
	outcome := OutcomeFromStatus(pay.Status)
	if outcome == OutcomeIgnored || pay.ExternalReference == "" {
		monitoring.WebhookOutcome("ignored")
		return nil
	}
	err = s.ApplyPaymentOutcome(ctx, pay.ExternalReference, pay.ID, outcome)
	switch {
	case errors.Is(err, ErrOrderNotFound):
		monitoring.WebhookOutcome("not_found")
		return err
	case err != nil:
		return err
	}
	monitoring.WebhookOutcome(string(outcome))
	return nil
}

// approve moves a PENDING order to APPROVED and issues its tickets in the
// same transaction. An order that already left PENDING is left untouched:
// a repeated approval is a success, anything else is logged for manual
// follow-up since the money moved after the hold was released.
func (s *ReservationService) approve(ctx context.Context, orderID, paymentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin approve tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	order, err := s.orders.GetForUpdateTx(ctx, tx, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("lock order: %w", err)
	}
	if order.State.Terminal() {
		if order.State != model.OrderApproved {
			logrus.WithFields(logrus.Fields{
				"order_id":   orderID,
				"state":      order.State,
				"payment_id": paymentID,
			}).Warn("approve: payment approved for released order, refund required")
		}
		return nil
	}

	now := time.Now().UTC()
	if err := s.orders.MarkApprovedTx(ctx, tx, orderID, paymentID, now); err != nil {
		return fmt.Errorf("mark approved: %w", err)
	}
	tickets := make([]model.Ticket, order.Quantity)
	for i := range tickets {
		tickets[i] = model.Ticket{
			ID:      uuid.NewString(),
			OrderID: order.ID,
			BuyerID: order.BuyerID,
			LotID:   order.LotID,
		}
	}
	if err := s.tickets.CreateBatchTx(ctx, tx, tickets); err != nil {
		return fmt.Errorf("issue tickets: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit approve tx: %w", err)
	}
	committed = true

	monitoring.OrderResolved(string(model.OrderApproved))
	monitoring.TicketsIssued(len(tickets))
	logrus.WithFields(logrus.Fields{
		"order_id":   orderID,
		"payment_id": paymentID,
		"tickets":    len(tickets),
	}).Info("approve: order approved")

	s.publishApproved(ctx, order, tickets, now)
	return nil
}

// publishApproved emits the fulfillment event. Best-effort: the approval
// already committed and tickets are queryable either way.
func (s *ReservationService) publishApproved(ctx context.Context, order model.Order, tickets []model.Ticket, approvedAt time.Time) {
	buyer, err := s.buyers.GetByID(ctx, order.BuyerID)
	if err != nil {
		logrus.WithError(err).WithField("order_id", order.ID).Warn("approve: load buyer for fulfillment failed")
		return
	}
	lot, err := s.lots.GetByID(ctx, order.LotID)
	if err != nil {
		logrus.WithError(err).WithField("order_id", order.ID).Warn("approve: load lot for fulfillment failed")
		return
	}
	ev, err := s.events.GetActive(ctx, order.EventID)
	title := ""
	if err != nil {
		// The event may have been deactivated since; fulfillment still runs.
		logrus.WithError(err).WithField("order_id", order.ID).Warn("approve: load event for fulfillment failed")
	} else {
		title = ev.Title
	}

	ids := make([]string, len(tickets))
	for i, t := range tickets {
		ids[i] = t.ID
	}
	msg := queue.OrderApprovedEvent{
		OrderID:    order.ID,
		BuyerID:    order.BuyerID,
		BuyerName:  buyer.FullName(),
		BuyerEmail: buyer.Email,
		EventID:    order.EventID,
		EventTitle: title,
		LotName:    lot.Name,
		Quantity:   order.Quantity,
		Total:      order.Total.StringFixed(2),
		Currency:   s.currency,
		TicketIDs:  ids,
		ApprovedAt: approvedAt.Format(time.RFC3339),
	}
	if err := s.publish(ctx, msg); err != nil {
		logrus.WithError(err).WithField("order_id", order.ID).Warn("approve: publish fulfillment event failed")
	}
}

// release moves a PENDING order to the given terminal state and credits
// its quantity back to the lot, both under the order row lock. When
// deadline is non-zero the order is only released if its hold expired
// before that instant; the reaper uses this to skip orders whose state or
// deadline changed between the sweep snapshot and the lock.
func (s *ReservationService) release(ctx context.Context, orderID string, to model.OrderState, deadline time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin release tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	order, err := s.orders.GetForUpdateTx(ctx, tx, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("lock order: %w", err)
	}
	if order.State.Terminal() {
		// Someone else settled it first; the hold was already released (or
		// kept, if approved) exactly once.
		return nil
	}
	if !deadline.IsZero() && !order.ExpiredBy(deadline) {
		return nil
	}

	if err := s.orders.MarkTerminalTx(ctx, tx, orderID, to); err != nil {
		return fmt.Errorf("mark %s: %w", to, err)
	}
	if err := s.lots.CreditTx(ctx, tx, order.LotID, order.Quantity); err != nil {
		return fmt.Errorf("credit lot %d: %w", order.LotID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit release tx: %w", err)
	}
	committed = true

	monitoring.OrderResolved(string(to))
	logrus.WithFields(logrus.Fields{
		"order_id": orderID,
		"state":    to,
		"quantity": order.Quantity,
		"lot_id":   order.LotID,
	}).Info("release: hold returned to stock")
	return nil
}

// ReapExpired sweeps PENDING orders whose hold deadline has passed and
// expires them one transaction each, so one poisoned order cannot block
// the rest of the batch. Returns how many orders were expired and how many
// failed.
func (s *ReservationService) ReapExpired(ctx context.Context) (expired, failed int) {
	now := time.Now().UTC()
	candidates, err := s.orders.ListExpired(ctx, now, reapBatchSize)
	if err != nil {
		logrus.WithError(err).Error("reaper: listing expired holds failed")
		return 0, 0
	}
	for _, o := range candidates {
		if ctx.Err() != nil {
			return expired, failed
		}
		if err := s.release(ctx, o.ID, model.OrderExpired, now); err != nil {
			logrus.WithError(err).WithField("order_id", o.ID).Error("reaper: expire failed")
			monitoring.ReaperResult("failed")
			failed++
			continue
		}
		monitoring.ReaperResult("expired")
		expired++
	}
	if expired > 0 || failed > 0 {
		logrus.WithFields(logrus.Fields{"expired": expired, "failed": failed}).Info("reaper: sweep done")
	}
	return expired, failed
}

// ConfirmOrder is the staff fallback for missed webhooks: it asks the
// gateway for the payment and applies the verdict through the same
// idempotent path the webhook uses.
func (s *ReservationService) ConfirmOrder(ctx context.Context, orderID, paymentID string) (model.Order, error) {
	if _, err := s.orders.GetByID(ctx, orderID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Order{}, ErrOrderNotFound
		}
		return model.Order{}, err
	}
	pay, err := s.gateway.GetPayment(ctx, paymentID)
	if err != nil {
		return model.Order{}, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}
	if pay.ExternalReference != "" && pay.ExternalReference != orderID {
		return model.Order{}, fmt.Errorf("payment %s belongs to order %s: %w", paymentID, pay.ExternalReference, repository.ErrConflict)
	}
	if err := s.ApplyPaymentOutcome(ctx, orderID, pay.ID, OutcomeFromStatus(pay.Status)); err != nil {
		return model.Order{}, err
	}
	return s.orders.GetByID(ctx, orderID)
}
