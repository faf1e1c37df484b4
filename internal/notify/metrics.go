package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Delivered *prometheus.CounterVec
	Dropped   *prometheus.CounterVec
	Failed    *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Delivered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consentledger_notifications_delivered_total",
			Help: "Lifecycle notifications delivered, by sink and kind",
		}, []string{"sink", "kind"}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consentledger_notifications_dropped_total",
			Help: "Lifecycle notifications dropped because the queue was full",
		}, []string{"kind"}),
		Failed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consentledger_notification_failures_total",
			Help: "Lifecycle notification deliveries that returned an error",
		}, []string{"sink"}),
	}
}
