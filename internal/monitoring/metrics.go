// Package monitoring registers the service's Prometheus metrics. All
// collectors are created with promauto so registration happens at package
// load; the /metrics endpoint is mounted by the router.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reservations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservations_total",
			Help: "Reservation attempts by result",
		},
		[]string{"result"}, // reserved | insufficient_stock | invalid | gateway_error | error
	)

	ticketsIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tickets_issued_total",
			Help: "Tickets created by approved orders",
		},
	)

	ordersResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_resolved_total",
			Help: "Orders reaching a terminal state",
		},
		[]string{"state"}, // APPROVED | REJECTED | EXPIRED
	)

	webhookOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_notifications_total",
			Help: "Payment notifications by mapped outcome",
		},
		[]string{"outcome"}, // approved | failed | ignored | not_found
	)

	reaperRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reaper_orders_total",
			Help: "Orders handled by the expiration reaper",
		},
		[]string{"result"}, // expired | failed
	)

	reserveDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reserve_duration_seconds",
			Help:    "End-to-end duration of reservation calls",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)
)

// ObserveReservation records one reservation attempt and its latency.
func ObserveReservation(result string, seconds float64) {
	reservations.WithLabelValues(result).Inc()
	reserveDuration.Observe(seconds)
}

// TicketsIssued adds n to the issued-ticket counter.
func TicketsIssued(n int) { ticketsIssued.Add(float64(n)) }

// OrderResolved records one terminal transition.
func OrderResolved(state string) { ordersResolved.WithLabelValues(state).Inc() }

// WebhookOutcome records one processed payment notification.
func WebhookOutcome(outcome string) { webhookOutcomes.WithLabelValues(outcome).Inc() }

// ReaperResult records one order handled by a reaper sweep.
func ReaperResult(result string) { reaperRuns.WithLabelValues(result).Inc() }
