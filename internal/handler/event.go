package handler

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/backyardbar/ticketing/internal/model"
	"github.com/backyardbar/ticketing/internal/repository"
)

// EventHandler serves the public browse endpoints. These sit behind the
// response cache; availability shown here is advisory and re-checked under
// lock at purchase time.
type EventHandler struct {
	Events *repository.EventRepo
	Lots   *repository.LotRepo
}

func NewEventHandler(e *repository.EventRepo, l *repository.LotRepo) *EventHandler {
	return &EventHandler{Events: e, Lots: l}
}

type lotView struct {
	ID        uint64 `json:"id"`
	Name      string `json:"name"`
	Price     string `json:"price"`
	Available uint32 `json:"available"`
	TierOrder uint32 `json:"tier_order"`
	SoldOut   bool   `json:"sold_out"`
}

type eventView struct {
	ID          uint64    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	StartsAt    time.Time `json:"starts_at"`
	Venue       string    `json:"venue"`
	Lots        []lotView `json:"lots,omitempty"`
}

func toEventView(e model.Event) eventView {
	v := eventView{ID: e.ID, Title: e.Title, StartsAt: e.StartsAt, Venue: e.Venue}
	if e.Description != nil {
		v.Description = *e.Description
	}
	return v
}

func toLotViews(lots []model.Lot) []lotView {
	out := make([]lotView, 0, len(lots))
	for i := range lots {
		l := &lots[i]
		if !l.Active {
			continue
		}
		out = append(out, lotView{
			ID:        l.ID,
			Name:      l.Name,
			Price:     l.Price.StringFixed(2),
			Available: l.Available(),
			TierOrder: l.TierOrder,
			SoldOut:   l.Available() == 0,
		})
	}
	return out
}

// List returns all events currently on sale.
func (h *EventHandler) List(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	events, err := h.Events.ListActive(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "list events failed"})
	}
	out := make([]eventView, 0, len(events))
	for _, e := range events {
		out = append(out, toEventView(e))
	}
	return c.JSON(http.StatusOK, echo.Map{"events": out})
}

// Get returns one active event with its lots and live availability.
func (h *EventHandler) Get(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	e, err := h.Events.GetActive(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "event not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load event failed"})
	}
	lots, err := h.Lots.ListByEvent(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load lots failed"})
	}

	v := toEventView(e)
	v.Lots = toLotViews(lots)
	return c.JSON(http.StatusOK, v)
}
