package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	allocations         *prometheus.CounterVec
	shortages           *prometheus.CounterVec
	reversals           *prometheus.CounterVec
	transitions         *prometheus.CounterVec
	integrityMismatches prometheus.Counter
	opDuration          *prometheus.HistogramVec
}

// NewMetrics registers the engine collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "allocations_total",
			Help:      "FIFO allocations applied to the ledger, by purpose.",
		}, []string{"purpose"}),
		shortages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "shortages_total",
			Help:      "Allocations refused because available stock was insufficient.",
		}, []string{"purpose"}),
		reversals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "reversals_total",
			Help:      "Ledger effects undone, by record kind.",
		}, []string{"kind"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "usage_transitions_total",
			Help:      "Usage workflow transitions, by target status and ledger effect.",
		}, []string{"to", "effect"}),
		integrityMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "integrity_mismatches_total",
			Help:      "Current stock rows found diverging from their batches.",
		}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Duration of ledger-mutating operations including their transaction.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.allocations, m.shortages, m.reversals, m.transitions, m.integrityMismatches, m.opDuration)
	}
	return m
}

func (m *Metrics) allocated(purpose string) {
	if m != nil {
		m.allocations.WithLabelValues(purpose).Inc()
	}
}

func (m *Metrics) shortage(purpose string) {
	if m != nil {
		m.shortages.WithLabelValues(purpose).Inc()
	}
}

func (m *Metrics) reversed(kind string) {
	if m != nil {
		m.reversals.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) transitioned(to UsageStatus, effect LedgerEffect) {
	if m != nil {
		m.transitions.WithLabelValues(string(to), effect.String()).Inc()
	}
}

func (m *Metrics) mismatch() {
	if m != nil {
		m.integrityMismatches.Inc()
	}
}

// observe returns a func that records the elapsed time of op when called.
func (m *Metrics) observe(op string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() { m.opDuration.WithLabelValues(op).Observe(time.Since(start).Seconds()) }
}
