// One-shot expiration sweep for cron-style deployments that prefer an
// external scheduler over the in-process reaper.
package main

import (
	"context"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/backyardbar/ticketing/internal/config"
	"github.com/backyardbar/ticketing/internal/database"
	"github.com/backyardbar/ticketing/internal/payment"
	"github.com/backyardbar/ticketing/internal/repository"
	"github.com/backyardbar/ticketing/internal/service"
)

func main() {
	_ = godotenv.Load()
	logrus.SetFormatter(&logrus.JSONFormatter{})
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		logrus.WithError(err).Fatal("database connection failed")
	}
	defer db.Close()

	svc := service.NewReservationService(db,
		repository.NewEventRepo(db),
		repository.NewLotRepo(db),
		repository.NewOrderRepo(db),
		repository.NewTicketRepo(db),
		repository.NewBuyerRepo(db),
		payment.New(payment.Config{
			BaseURL:     cfg.PaymentBaseURL,
			AccessToken: cfg.PaymentAccessToken,
			Currency:    cfg.Currency,
		}),
		cfg.HoldMinutes, cfg.Currency)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	expired, failed := svc.ReapExpired(ctx)
	logrus.WithFields(logrus.Fields{"expired": expired, "failed": failed}).Info("sweep complete")
}
