package request

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	EndpointLatency *prometheus.HistogramVec
	Responses       *prometheus.CounterVec
}

// NewMetrics registers HTTP collectors on reg; nil means the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		EndpointLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "consentledger_http_request_duration_seconds",
			Help:    "Latency of HTTP endpoints in seconds",
			Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 15, 30, 60},
		}, []string{"method", "route"}),
		Responses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consentledger_http_responses_total",
			Help: "HTTP responses by route and status code",
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) ObserveEndpointLatency(method, route string, status int, durationSeconds float64) {
	m.EndpointLatency.WithLabelValues(method, route).Observe(durationSeconds)
	m.Responses.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
