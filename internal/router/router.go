// Package router wires HTTP routes to their handlers and middleware.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/backyardbar/ticketing/internal/config"
	"github.com/backyardbar/ticketing/internal/handler"
	"github.com/backyardbar/ticketing/internal/middleware"
	"github.com/backyardbar/ticketing/internal/model"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Auth     *handler.AuthHandler
	Events   *handler.EventHandler
	Purchase *handler.PurchaseHandler
	Webhook  *handler.WebhookHandler
	Tickets  *handler.TicketHandler
	Admin    *handler.AdminHandler
}

// Register mounts all routes. Public browse endpoints get the response
// cache; everything gets the rate limiter; buyer and staff surfaces are
// split by role.
func Register(e *echo.Echo, h Handlers, cfg config.Config, rdb *redis.Client) {
	rl := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)
	cache := middleware.NewRedisCache(config.LoadCacheConfig(), rdb)

	e.GET("/healthz", handler.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// The gateway calls this; no auth, the payload is not trusted anyway.
	e.POST("/v1/webhooks/payment", h.Webhook.Notify, rl)

	auth := e.Group("/v1/auth", rl)
	auth.POST("/register", h.Auth.Register)
	auth.POST("/login", h.Auth.Login)
	auth.POST("/staff/login", h.Auth.StaffLogin)
	auth.POST("/refresh", h.Auth.Refresh)
	auth.POST("/logout", h.Auth.Logout)

	// Public browse, cached.
	pub := e.Group("/v1", rl, cache)
	pub.GET("/events", h.Events.List)
	pub.GET("/events/:id", h.Events.Get)

	// Authenticated (any role).
	me := e.Group("/v1", rl, middleware.JWTAuth(cfg.JWTSecret))
	me.GET("/me", h.Auth.Me)

	// Buyer surface.
	buyer := e.Group("/v1", rl,
		middleware.JWTAuth(cfg.JWTSecret),
		middleware.RequireRole(string(model.KindBuyer)))
	buyer.POST("/purchase", h.Purchase.Purchase)
	buyer.GET("/orders", h.Purchase.MyOrders)
	buyer.GET("/orders/:id", h.Purchase.GetOrder)
	buyer.GET("/tickets", h.Tickets.MyTickets)
	buyer.GET("/tickets/:id/qr", h.Tickets.QR)

	// Staff surface: door validation plus the webhook fallback.
	staff := e.Group("/v1/staff", rl,
		middleware.JWTAuth(cfg.JWTSecret),
		middleware.RequireRole(string(model.KindStaff)))
	staff.POST("/validate", h.Tickets.Validate)
	staff.POST("/orders/:id/confirm", h.Webhook.Confirm)

	// Admin-only event management and reporting.
	admin := e.Group("/v1/staff", rl,
		middleware.JWTAuth(cfg.JWTSecret),
		middleware.RequireRole(string(model.KindStaff)),
		middleware.RequireAdmin())
	admin.POST("/events", h.Admin.CreateEvent)
	admin.PATCH("/events/:id/active", h.Admin.SetActive)
	admin.GET("/events/:id/stats", h.Admin.Stats)
	admin.GET("/events/:id/guestlist", h.Admin.GuestList)
}
