package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine-level outcome counters. HTTP metrics live in the api package.
var (
	transfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "freightops_transfers_total",
		Help: "Ledger transfers by outcome (completed, rejected, error)",
	}, []string{"outcome"})

	reservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "freightops_reservations_total",
		Help: "Wagon reservation attempts by outcome (reserved, contended, diverged, error)",
	}, []string{"outcome"})

	paymentEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "freightops_payment_events_total",
		Help: "Inbound payment events by outcome (applied, duplicate, error)",
	}, []string{"outcome"})

	staleReservationsReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "freightops_stale_reservations_reclaimed_total",
		Help: "Reserved wagons reclaimed by the expiry sweep",
	})
)
