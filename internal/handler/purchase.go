package handler

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/backyardbar/ticketing/internal/middleware"
	"github.com/backyardbar/ticketing/internal/model"
	"github.com/backyardbar/ticketing/internal/repository"
	"github.com/backyardbar/ticketing/internal/service"
)

// Reserver is the slice of the reservation service the purchase endpoint
// needs.
type Reserver interface {
	Reserve(ctx context.Context, buyerID, eventID uint64, qty uint32) (model.Order, error)
}

// PurchaseHandler serves the buyer purchase flow: placing a reservation
// and reading back own orders.
type PurchaseHandler struct {
	Svc    Reserver
	Orders *repository.OrderRepo
}

func NewPurchaseHandler(svc Reserver, orders *repository.OrderRepo) *PurchaseHandler {
	return &PurchaseHandler{Svc: svc, Orders: orders}
}

type purchaseReq struct {
	EventID  uint64 `json:"event_id"`
	Quantity uint32 `json:"quantity"`
}

type orderView struct {
	ID          string     `json:"id"`
	EventID     uint64     `json:"event_id"`
	LotID       uint64     `json:"lot_id"`
	Quantity    uint32     `json:"quantity"`
	Subtotal    string     `json:"subtotal"`
	Commission  string     `json:"commission"`
	Total       string     `json:"total"`
	State       string     `json:"state"`
	CreatedAt   time.Time  `json:"created_at"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`
	CheckoutURL string     `json:"checkout_url,omitempty"`
}

func toOrderView(o model.Order) orderView {
	return orderView{
		ID:          o.ID,
		EventID:     o.EventID,
		LotID:       o.LotID,
		Quantity:    o.Quantity,
		Subtotal:    o.Subtotal.StringFixed(2),
		Commission:  o.Commission.StringFixed(2),
		Total:       o.Total.StringFixed(2),
		State:       string(o.State),
		CreatedAt:   o.CreatedAt,
		ApprovedAt:  o.ApprovedAt,
		ExpiresAt:   o.ExpiresAt,
		CheckoutURL: o.CheckoutURL,
	}
}

// Purchase places a reservation: holds stock, creates the PENDING order
// and returns the checkout URL the buyer must complete before the hold
// expires.
func (h *PurchaseHandler) Purchase(c echo.Context) error {
	p, ok := middleware.Principal(c)
	if !ok || !p.IsBuyer() {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req purchaseReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	// No timeout wrapper here: the gateway call inside Reserve has its own
	// and a premature cancel would orphan the hold until the reaper runs.
	order, err := h.Svc.Reserve(c.Request().Context(), p.BuyerID, req.EventID, req.Quantity)
	switch {
	case errors.Is(err, service.ErrQuantityOutOfRange):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "quantity must be between 1 and 10"})
	case errors.Is(err, service.ErrEventNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "event not found"})
	case errors.Is(err, service.ErrInsufficientStock):
		return c.JSON(http.StatusConflict, echo.Map{"error": "not enough tickets available"})
	case errors.Is(err, service.ErrPaymentGateway):
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "payment service unavailable, please retry"})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "purchase failed"})
	}
	return c.JSON(http.StatusCreated, toOrderView(order))
}

// MyOrders lists the caller's orders, newest first.
func (h *PurchaseHandler) MyOrders(c echo.Context) error {
	p, ok := middleware.Principal(c)
	if !ok || !p.IsBuyer() {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	orders, err := h.Orders.ListByBuyer(ctx, p.BuyerID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "list orders failed"})
	}
	out := make([]orderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderView(o))
	}
	return c.JSON(http.StatusOK, echo.Map{"orders": out})
}

// GetOrder returns one of the caller's orders, mainly for polling the
// state after returning from checkout.
func (h *PurchaseHandler) GetOrder(c echo.Context) error {
	p, ok := middleware.Principal(c)
	if !ok || !p.IsBuyer() {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id := c.Param("id")

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "order not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load order failed"})
	}
	if o.BuyerID != p.BuyerID {
		// Hide other buyers' orders entirely.
		return c.JSON(http.StatusNotFound, echo.Map{"error": "order not found"})
	}
	return c.JSON(http.StatusOK, toOrderView(o))
}
