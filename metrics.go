package mediasession

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts request outcomes so that not-found and hardware failures
// stay distinguishable from plain denials.
type Metrics struct {
	requests *prometheus.CounterVec
	captures *prometheus.CounterVec
	bound    prometheus.Gauge
}

// NewMetrics registers the session collectors on reg. A nil reg keeps the
// collectors unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mediasession",
			Name:      "permission_requests_total",
			Help:      "Permission request runs by media kind and outcome.",
		}, []string{"kind", "outcome"}),
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mediasession",
			Name:      "captures_total",
			Help:      "Still image captures by result.",
		}, []string{"result"}),
		bound: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mediasession",
			Name:      "streams_bound",
			Help:      "Live streams currently bound to a page.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.captures, m.bound)
	}
	return m
}

func (m *Metrics) observeRequest(kind MediaKind, outcome string) {
	m.requests.WithLabelValues(kind.String(), outcome).Inc()
}

func (m *Metrics) observeCapture(result string) {
	m.captures.WithLabelValues(result).Inc()
}

func (m *Metrics) streamBound(delta float64) {
	m.bound.Add(delta)
}
