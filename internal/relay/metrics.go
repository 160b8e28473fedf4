package relay

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics counts relay traffic. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	received  *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	published *prometheus.CounterVec
	rejected  prometheus.Counter
	diffs     prometheus.Counter
	uploads   *prometheus.CounterVec
}

// NewMetrics registers the relay collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gunrelay",
			Name:      "requests_received_total",
			Help:      "Inbound requests accepted onto the event loop.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gunrelay",
			Name:      "requests_dropped_total",
			Help:      "Inbound messages dropped before the event loop.",
		}, []string{"channel"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gunrelay",
			Name:      "publications_total",
			Help:      "Messages published, by channel family.",
		}, []string{"family"}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gunrelay",
			Name:      "writes_rejected_total",
			Help:      "Writes refused by the validity oracle.",
		}),
		diffs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gunrelay",
			Name:      "diffs_committed_total",
			Help:      "Writes that changed at least one field.",
		}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gunrelay",
			Name:      "uploads_total",
			Help:      "Thing uploads, by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(m.received, m.dropped, m.published, m.rejected, m.diffs, m.uploads)
	return m
}

// Registry exposes the collectors, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) requestReceived(kind string) {
	if m != nil {
		m.received.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) requestDropped(channel string) {
	if m != nil {
		m.dropped.WithLabelValues(channel).Inc()
	}
}

func (m *Metrics) publication(family string) {
	if m != nil {
		m.published.WithLabelValues(family).Inc()
	}
}

func (m *Metrics) writeRejected() {
	if m != nil {
		m.rejected.Inc()
	}
}

func (m *Metrics) diffCommitted() {
	if m != nil {
		m.diffs.Inc()
	}
}

func (m *Metrics) upload(outcome string) {
	if m != nil {
		m.uploads.WithLabelValues(outcome).Inc()
	}
}
