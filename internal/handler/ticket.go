package handler

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/backyardbar/ticketing/internal/middleware"
	"github.com/backyardbar/ticketing/internal/repository"
	"github.com/backyardbar/ticketing/internal/utils"
)

// TicketHandler serves buyers their tickets and staff the door validation
// endpoint.
type TicketHandler struct {
	Tickets *repository.TicketRepo
}

func NewTicketHandler(t *repository.TicketRepo) *TicketHandler {
	return &TicketHandler{Tickets: t}
}

type ticketView struct {
	ID         string     `json:"id"`
	OrderID    string     `json:"order_id"`
	LotName    string     `json:"lot_name,omitempty"`
	EventID    uint64     `json:"event_id,omitempty"`
	EventTitle string     `json:"event_title,omitempty"`
	Used       bool       `json:"used"`
	UsedAt     *time.Time `json:"used_at,omitempty"`
}

// MyTickets lists the caller's tickets with event context.
func (h *TicketHandler) MyTickets(c echo.Context) error {
	p, ok := middleware.Principal(c)
	if !ok || !p.IsBuyer() {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	details, err := h.Tickets.ListByBuyer(ctx, p.BuyerID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "list tickets failed"})
	}
	out := make([]ticketView, 0, len(details))
	for _, d := range details {
		out = append(out, ticketView{
			ID:         d.ID,
			OrderID:    d.OrderID,
			LotName:    d.LotName,
			EventID:    d.EventID,
			EventTitle: d.EventTitle,
			Used:       d.Used,
			UsedAt:     d.UsedAt,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"tickets": out})
}

// QR streams the PNG QR code for one of the caller's tickets, for apps
// that fetch codes on demand instead of from the confirmation email.
func (h *TicketHandler) QR(c echo.Context) error {
	p, ok := middleware.Principal(c)
	if !ok || !p.IsBuyer() {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id := c.Param("id")

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	t, err := h.Tickets.GetByID(ctx, id)
	if err != nil || t.BuyerID != p.BuyerID {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "ticket not found"})
	}
	png, err := utils.RenderTicketQR(t.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "render qr failed"})
	}
	return c.Blob(http.StatusOK, "image/png", png)
}

type validateReq struct {
	TicketID string `json:"ticket_id"`
}

// Validate consumes a scanned ticket at the door. A second scan of the
// same code gets 409 with the original use timestamp so staff can see when
// it was first admitted.
func (h *TicketHandler) Validate(c echo.Context) error {
	p, ok := middleware.Principal(c)
	if !ok || !p.IsStaff() {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req validateReq
	if err := c.Bind(&req); err != nil || req.TicketID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "ticket_id required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	t, err := h.Tickets.MarkUsed(ctx, req.TicketID, p.StaffID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "ticket not found"})
	case errors.Is(err, repository.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{
			"error":   "ticket already used",
			"used_at": t.UsedAt,
		})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "validate failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"status":  "admitted",
		"ticket":  t.ID,
		"used_at": t.UsedAt,
	})
}
