package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the ledger and generation collectors. A nil registerer
// builds unregistered collectors, which is what tests use.
type Metrics struct {
	ledgerOps          *prometheus.CounterVec
	creditsReserved    prometheus.Counter
	creditsCommitted   prometheus.Counter
	creditsReleased    prometheus.Counter
	generations        *prometheus.CounterVec
	generationDuration prometheus.Histogram
	inFlight           prometheus.Gauge
	reaped             *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ledgerOps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "creditforge_ledger_operations_total",
			Help: "Ledger operations by kind and outcome",
		}, []string{"op", "outcome"}),
		creditsReserved: factory.NewCounter(prometheus.CounterOpts{
			Name: "creditforge_credits_reserved_total",
			Help: "Credits placed on hold",
		}),
		creditsCommitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "creditforge_credits_committed_total",
			Help: "Credits permanently debited",
		}),
		creditsReleased: factory.NewCounter(prometheus.CounterOpts{
			Name: "creditforge_credits_released_total",
			Help: "Credits returned to spendable balances",
		}),
		generations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "creditforge_generations_total",
			Help: "Generation requests by category and outcome",
		}, []string{"category", "outcome"}),
		generationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "creditforge_generation_duration_seconds",
			Help:    "Time from reservation to commit or release",
			Buckets: prometheus.DefBuckets,
		}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "creditforge_generations_in_flight",
			Help: "Reservations waiting on the content provider",
		}),
		reaped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "creditforge_reservations_reaped_total",
			Help: "Stale reservations resolved by the reaper",
		}, []string{"resolution"}),
	}
}

func (m *Metrics) ledgerOp(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.ledgerOps.WithLabelValues(op, outcome).Inc()
}
