package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/backyardbar/ticketing/internal/model"
	"github.com/backyardbar/ticketing/internal/service"
)

// OutcomeApplier is the slice of the reservation service the payment
// endpoints need.
type OutcomeApplier interface {
	HandleNotification(ctx context.Context, topic, resourceID string) error
	ConfirmOrder(ctx context.Context, orderID, paymentID string) (model.Order, error)
}

// WebhookHandler receives gateway notifications and the staff fallback
// confirmation.
type WebhookHandler struct {
	Svc OutcomeApplier
}

func NewWebhookHandler(svc OutcomeApplier) *WebhookHandler {
	return &WebhookHandler{Svc: svc}
}

// Notify is the gateway webhook. The gateway sends the topic and resource
// id as query parameters (with a couple of legacy spellings); the payload
// itself is untrusted and ignored. Replies are always 200 for handled and
// ignorable notifications so the gateway stops retrying; only genuine
// processing failures return 500 to trigger a retry.
func (h *WebhookHandler) Notify(c echo.Context) error {
	topic := c.QueryParam("topic")
	if topic == "" {
		topic = c.QueryParam("type")
	}
	id := c.QueryParam("id")
	if id == "" {
		id = c.QueryParam("data.id")
	}

	err := h.Svc.HandleNotification(c.Request().Context(), topic, id)
	switch {
	case errors.Is(err, service.ErrOrderNotFound):
		// A payment referencing an order we never created. Log it loudly;
		// retrying will not help.
		logrus.WithFields(logrus.Fields{"topic": topic, "resource": id}).
			Error("webhook: payment for unknown order")
		return c.JSON(http.StatusOK, echo.Map{"status": "ignored"})
	case err != nil:
		logrus.WithError(err).WithFields(logrus.Fields{"topic": topic, "resource": id}).
			Error("webhook: processing failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "processing failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

type confirmReq struct {
	PaymentID string `json:"payment_id"`
}

// Confirm lets staff resolve an order whose webhook never arrived. The
// gateway is still consulted for the authoritative status; staff supply
// the payment id from the gateway's dashboard.
func (h *WebhookHandler) Confirm(c echo.Context) error {
	orderID := c.Param("id")
	var req confirmReq
	if err := c.Bind(&req); err != nil || req.PaymentID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "payment_id required"})
	}

	order, err := h.Svc.ConfirmOrder(c.Request().Context(), orderID, req.PaymentID)
	switch {
	case errors.Is(err, service.ErrOrderNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "order not found"})
	case errors.Is(err, service.ErrPaymentGateway):
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "payment service unavailable"})
	case err != nil:
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, toOrderView(order))
}
