package handler

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/backyardbar/ticketing/internal/model"
	"github.com/backyardbar/ticketing/internal/repository"
)

// AdminHandler serves the staff dashboard: event management, sales stats
// and the guest list export.
type AdminHandler struct {
	Events  *repository.EventRepo
	Lots    *repository.LotRepo
	Orders  *repository.OrderRepo
	Tickets *repository.TicketRepo
}

func NewAdminHandler(e *repository.EventRepo, l *repository.LotRepo, o *repository.OrderRepo, t *repository.TicketRepo) *AdminHandler {
	return &AdminHandler{Events: e, Lots: l, Orders: o, Tickets: t}
}

type createLotReq struct {
	Name      string `json:"name"`
	Price     string `json:"price"`
	Total     uint32 `json:"total"`
	TierOrder uint32 `json:"tier_order"`
}

type createEventReq struct {
	Title             string         `json:"title"`
	Description       string         `json:"description"`
	StartsAt          time.Time      `json:"starts_at"`
	Venue             string         `json:"venue"`
	ChargesCommission bool           `json:"charges_commission"`
	CommissionAmount  string         `json:"commission_amount"`
	Lots              []createLotReq `json:"lots"`
}

// CreateEvent creates an event together with its lots in one transaction.
// Tier orders must be unique; the schema enforces it and a violation rolls
// the whole thing back.
func (h *AdminHandler) CreateEvent(c echo.Context) error {
	var req createEventReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Title == "" || req.Venue == "" || req.StartsAt.IsZero() || len(req.Lots) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "title/venue/starts_at/lots required"})
	}
	commission := decimal.Zero
	if req.ChargesCommission {
		var err error
		commission, err = decimal.NewFromString(req.CommissionAmount)
		if err != nil || commission.IsNegative() {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid commission_amount"})
		}
	}
	lots := make([]model.Lot, 0, len(req.Lots))
	for _, lr := range req.Lots {
		price, err := decimal.NewFromString(lr.Price)
		if err != nil || price.IsNegative() {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": fmt.Sprintf("invalid price for lot %q", lr.Name)})
		}
		if lr.Name == "" || lr.Total == 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "each lot needs name and total"})
		}
		lots = append(lots, model.Lot{
			Name:      lr.Name,
			Price:     price,
			Total:     lr.Total,
			TierOrder: lr.TierOrder,
			Active:    true,
		})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	tx, err := h.Events.DB().BeginTx(ctx, nil)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create event failed"})
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	ev := model.Event{
		Title:             req.Title,
		StartsAt:          req.StartsAt,
		Venue:             req.Venue,
		Active:            true,
		ChargesCommission: req.ChargesCommission,
		CommissionAmount:  commission,
	}
	if req.Description != "" {
		ev.Description = &req.Description
	}
	if err := h.Events.CreateTx(ctx, tx, &ev); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create event failed"})
	}
	for i := range lots {
		lots[i].EventID = ev.ID
		if err := h.Lots.CreateTx(ctx, tx, &lots[i]); err != nil {
			return c.JSON(http.StatusConflict, echo.Map{"error": "create lots failed, tier orders must be unique"})
		}
	}
	if err := tx.Commit(); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create event failed"})
	}
	committed = true

	return c.JSON(http.StatusCreated, echo.Map{"id": ev.ID})
}

type setActiveReq struct {
	Active bool `json:"active"`
}

// SetActive flips an event's on-sale flag. Deactivating stops new
// reservations immediately; existing holds still settle normally.
func (h *AdminHandler) SetActive(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	var req setActiveReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Events.SetActive(ctx, id, req.Active); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"id": id, "active": req.Active})
}

type lotStats struct {
	ID        uint64 `json:"id"`
	Name      string `json:"name"`
	Price     string `json:"price"`
	Total     uint32 `json:"total"`
	Sold      uint32 `json:"sold"`
	Available uint32 `json:"available"`
}

// Stats reports per-lot sales, ticket counts and approved revenue for one
// event. Sold includes live PENDING holds, which is the number that
// matters for "can we still sell".
func (h *AdminHandler) Stats(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	lots, err := h.Lots.ListByEvent(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load lots failed"})
	}
	issued, used, err := h.Tickets.CountsByEvent(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "count tickets failed"})
	}
	revenue, err := h.Orders.RevenueByEvent(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "sum revenue failed"})
	}

	ls := make([]lotStats, 0, len(lots))
	for i := range lots {
		l := &lots[i]
		ls = append(ls, lotStats{
			ID:        l.ID,
			Name:      l.Name,
			Price:     l.Price.StringFixed(2),
			Total:     l.Total,
			Sold:      l.Sold,
			Available: l.Available(),
		})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"event_id":       id,
		"lots":           ls,
		"tickets_issued": issued,
		"tickets_used":   used,
		"revenue":        revenue,
	})
}

// GuestList streams the event's issued tickets as CSV for printed door
// lists and offline fallback.
func (h *AdminHandler) GuestList(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	details, err := h.Tickets.ListByEvent(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load guest list failed"})
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/csv")
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="guestlist-event-%d.csv"`, id))
	c.Response().WriteHeader(http.StatusOK)

	w := csv.NewWriter(c.Response())
	_ = w.Write([]string{"ticket_id", "order_id", "name", "national_id", "email", "lot", "used", "used_at"})
	for _, d := range details {
		usedAt := ""
		if d.UsedAt != nil {
			usedAt = d.UsedAt.UTC().Format(time.RFC3339)
		}
		_ = w.Write([]string{
			d.ID, d.OrderID, d.BuyerName, d.NationalID, d.BuyerEmail,
			d.LotName, strconv.FormatBool(d.Used), usedAt,
		})
	}
	w.Flush()
	return w.Error()
}
