// Package metrics exposes Prometheus collectors for the raffle engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the engine-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	ticketsIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raffle_engine",
			Subsystem: "ledger",
			Name:      "tickets_issued_total",
			Help:      "Total number of tickets issued.",
		},
		[]string{"source"},
	)

	issuanceRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raffle_engine",
			Subsystem: "ledger",
			Name:      "issuance_rejected_total",
			Help:      "Total number of rejected issuance attempts.",
		},
		[]string{"reason"},
	)

	duplicateDeliveries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "raffle_engine",
			Subsystem: "ledger",
			Name:      "duplicate_deliveries_total",
			Help:      "Upstream events deduplicated by the ledger.",
		},
	)

	drawsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "raffle_engine",
			Subsystem: "draw",
			Name:      "completed_total",
			Help:      "Total number of completed draws.",
		},
	)

	drawDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "raffle_engine",
			Subsystem: "draw",
			Name:      "duration_seconds",
			Help:      "Duration of winner selection runs.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	winnersSelected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "raffle_engine",
			Subsystem: "draw",
			Name:      "winners_selected_total",
			Help:      "Total number of winners selected.",
		},
	)

	activeRaffles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "raffle_engine",
			Subsystem: "orchestrator",
			Name:      "active_raffles",
			Help:      "Raffles currently in the active state.",
		},
	)
)

func init() {
	Registry.MustRegister(
		ticketsIssued,
		issuanceRejected,
		duplicateDeliveries,
		drawsCompleted,
		drawDuration,
		winnersSelected,
		activeRaffles,
	)
}

// RecordTicketsIssued counts tickets issued per source.
func RecordTicketsIssued(source string, count int) {
	ticketsIssued.WithLabelValues(source).Add(float64(count))
}

// RecordIssuanceRejected counts a rejected issuance attempt.
func RecordIssuanceRejected(reason string) {
	issuanceRejected.WithLabelValues(reason).Inc()
}

// RecordDuplicateDelivery counts an idempotent duplicate delivery.
func RecordDuplicateDelivery() {
	duplicateDeliveries.Inc()
}

// RecordDrawCompleted records a completed draw and its duration.
func RecordDrawCompleted(duration time.Duration, winners int) {
	drawsCompleted.Inc()
	drawDuration.Observe(duration.Seconds())
	winnersSelected.Add(float64(winners))
}

// SetActiveRaffles updates the active raffle gauge.
func SetActiveRaffles(n int) {
	activeRaffles.Set(float64(n))
}

// Handler returns an HTTP handler exposing the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
