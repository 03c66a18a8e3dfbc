package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Reaper periodically sweeps expired holds back into stock. It is the
// safety net behind webhooks: a buyer who abandons checkout never pings
// the gateway, so only the clock can free their hold.
type Reaper struct {
	svc      *ReservationService
	interval time.Duration
}

// NewReaper returns a Reaper sweeping at the given interval.
func NewReaper(svc *ReservationService, interval time.Duration) *Reaper {
	return &Reaper{svc: svc, interval: interval}
}

// Run blocks, sweeping once immediately and then on every tick until the
// context is cancelled. Intended to be launched as a goroutine next to the
// HTTP server; a standalone one-shot binary exists for cron setups.
func (r *Reaper) Run(ctx context.Context) {
	logrus.WithField("interval", r.interval.String()).Info("reaper: started")
	r.svc.ReapExpired(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logrus.Info("reaper: stopped")
			return
		case <-ticker.C:
			r.svc.ReapExpired(ctx)
		}
	}
}
