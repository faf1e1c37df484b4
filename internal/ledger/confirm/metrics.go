package confirm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the confirmation protocol.
type Metrics struct {
	Outcomes         *prometheus.CounterVec
	Rejections       prometheus.Counter
	SignerDenials    prometheus.Counter
	ParamRetries     prometheus.Counter
	TransientQueries prometheus.Counter
	Replays          prometheus.Counter
	PollsPerTx       prometheus.Histogram
	ConfirmLatency   prometheus.Histogram
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consentledger_confirm_outcomes_total",
			Help: "Submission outcomes, labeled by state and whether confirmation was optimistic",
		}, []string{"state", "optimistic"}),
		Rejections: f.NewCounter(prometheus.CounterOpts{
			Name: "consentledger_confirm_rejections_total",
			Help: "Signed transactions rejected by the ledger",
		}),
		SignerDenials: f.NewCounter(prometheus.CounterOpts{
			Name: "consentledger_confirm_signer_denials_total",
			Help: "Transactions the signer refused to authorize",
		}),
		ParamRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "consentledger_confirm_param_retries_total",
			Help: "Retried submission parameter fetches",
		}),
		TransientQueries: f.NewCounter(prometheus.CounterOpts{
			Name: "consentledger_confirm_transient_queries_total",
			Help: "Status polls that failed in transport and were retried",
		}),
		Replays: f.NewCounter(prometheus.CounterOpts{
			Name: "consentledger_confirm_replays_total",
			Help: "Submissions answered from an earlier attempt with the same correlation id",
		}),
		PollsPerTx: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "consentledger_confirm_polls",
			Help:    "Status polls issued per submission",
			Buckets: []float64{1, 2, 3, 5, 6, 10, 20, 30},
		}),
		ConfirmLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "consentledger_confirm_latency_seconds",
			Help:    "Time from submission to terminal outcome",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
	}
}

func (m *Metrics) observeOutcome(o Outcome, seconds float64) {
	optimistic := "false"
	if o.Optimistic {
		optimistic = "true"
	}
	m.Outcomes.WithLabelValues(string(o.State), optimistic).Inc()
	m.PollsPerTx.Observe(float64(o.Polls))
	if o.Terminal() {
		m.ConfirmLatency.Observe(seconds)
	}
}
