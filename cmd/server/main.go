package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/backyardbar/ticketing/internal/config"
	"github.com/backyardbar/ticketing/internal/database"
	"github.com/backyardbar/ticketing/internal/handler"
	"github.com/backyardbar/ticketing/internal/payment"
	"github.com/backyardbar/ticketing/internal/queue"
	"github.com/backyardbar/ticketing/internal/repository"
	"github.com/backyardbar/ticketing/internal/router"
	"github.com/backyardbar/ticketing/internal/service"
)

func main() {
	_ = godotenv.Load() // .env is optional; real deployments set the environment

	logrus.SetFormatter(&logrus.JSONFormatter{})
	cfg := config.Load()
	if cfg.Env == "dev" {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		logrus.SetLevel(logrus.DebugLevel)
	}

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		logrus.WithError(err).Fatal("database connection failed")
	}
	defer db.Close()

	rdb := config.NewRedisClient()
	if rdb == nil {
		logrus.Warn("redis unavailable, rate limiting and response cache disabled")
	}

	events := repository.NewEventRepo(db)
	lots := repository.NewLotRepo(db)
	orders := repository.NewOrderRepo(db)
	tickets := repository.NewTicketRepo(db)
	buyers := repository.NewBuyerRepo(db)
	staff := repository.NewStaffRepo(db)
	tokens := repository.NewTokenRepo(db)

	gateway := payment.New(payment.Config{
		BaseURL:         cfg.PaymentBaseURL,
		AccessToken:     cfg.PaymentAccessToken,
		Currency:        cfg.Currency,
		BackURL:         cfg.PaymentBackURL,
		NotificationURL: cfg.PaymentNotificationURL,
	})

	svc := service.NewReservationService(db, events, lots, orders, tickets, buyers,
		gateway, cfg.HoldMinutes, cfg.Currency)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go service.NewReaper(svc, cfg.ReaperInterval).Run(ctx)
	go func() {
		if err := queue.StartFulfillmentConsumer(); err != nil {
			logrus.WithError(err).Error("fulfillment consumer stopped")
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	router.Register(e, router.Handlers{
		Auth:     handler.NewAuthHandler(cfg, buyers, staff, tokens),
		Events:   handler.NewEventHandler(events, lots),
		Purchase: handler.NewPurchaseHandler(svc, orders),
		Webhook:  handler.NewWebhookHandler(svc),
		Tickets:  handler.NewTicketHandler(tickets),
		Admin:    handler.NewAdminHandler(events, lots, orders, tickets),
	}, cfg, rdb)

	go func() {
		addr := ":" + cfg.Port
		logrus.WithFields(logrus.Fields{"addr": addr, "env": cfg.Env}).Info("listening")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	logrus.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("shutdown failed")
	}
}
