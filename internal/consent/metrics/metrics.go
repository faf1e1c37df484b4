package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for consent operations.
type Metrics struct {
	Transitions      *prometheus.CounterVec
	OperationsFailed *prometheus.CounterVec
	ViewDecisions    *prometheus.CounterVec
	OperationLatency *prometheus.HistogramVec

	// Per-record lock contention
	LockWaitDuration prometheus.Histogram
	LockAcquisitions prometheus.Counter

	// Performance metrics
	StoreOperationLatency *prometheus.HistogramVec
	RecordsPerParticipant prometheus.Histogram
}

// New registers consent collectors on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consentledger_consent_transitions_total",
			Help: "Confirmed consent transitions, labeled by action",
		}, []string{"action"}),
		OperationsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consentledger_consent_operations_failed_total",
			Help: "Consent operations that did not complete, labeled by action and error code",
		}, []string{"action", "code"}),
		ViewDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consentledger_consent_view_decisions_total",
			Help: "View access decisions, labeled by reason",
		}, []string{"reason"}),
		OperationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "consentledger_consent_operation_latency_seconds",
			Help:    "End-to-end latency of consent operations including ledger confirmation",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"action"}),

		LockWaitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "consentledger_consent_lock_wait_seconds",
			Help:    "Time spent waiting to acquire a per-record lock",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}),
		LockAcquisitions: f.NewCounter(prometheus.CounterOpts{
			Name: "consentledger_consent_lock_acquisitions_total",
			Help: "Total number of per-record lock acquisitions",
		}),

		StoreOperationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "consentledger_consent_store_operation_latency_seconds",
			Help:    "Latency of consent store operations in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"operation"}),
		RecordsPerParticipant: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "consentledger_consent_records_per_participant",
			Help:    "Distribution of consent record counts returned per listing",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
	}
}

func (m *Metrics) IncrementTransition(action string) {
	m.Transitions.WithLabelValues(action).Inc()
}

func (m *Metrics) IncrementFailed(action, code string) {
	m.OperationsFailed.WithLabelValues(action, code).Inc()
}

func (m *Metrics) IncrementViewDecision(reason string) {
	m.ViewDecisions.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveOperationLatency(action string, durationSeconds float64) {
	m.OperationLatency.WithLabelValues(action).Observe(durationSeconds)
}

func (m *Metrics) ObserveLockWait(durationSeconds float64) {
	m.LockWaitDuration.Observe(durationSeconds)
	m.LockAcquisitions.Inc()
}

// ObserveStoreOperationLatency records the latency of a store operation.
func (m *Metrics) ObserveStoreOperationLatency(operation string, durationSeconds float64) {
	m.StoreOperationLatency.WithLabelValues(operation).Observe(durationSeconds)
}

// ObserveRecordsPerParticipant records the size of one listing.
func (m *Metrics) ObserveRecordsPerParticipant(count float64) {
	m.RecordsPerParticipant.Observe(count)
}
