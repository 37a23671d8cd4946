package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "marketchat"

type Metrics struct {
	reg *prometheus.Registry

	persisted      prometheus.Counter
	failures       *prometheus.CounterVec
	sessionsActive prometheus.Gauge
	published      prometheus.Counter
	delivered      prometheus.Counter
}

// New registers collectors on a private registry (plus go/process collectors).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		persisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_persisted_total",
			Help:      "Messages durably appended to a chat.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Rejected sends by reason.",
		}, []string{"reason"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_sessions_active",
			Help:      "Open realtime sessions.",
		}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_published_total",
			Help:      "Room publishes.",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_delivered_total",
			Help:      "Events handed to room subscribers.",
		}),
	}
	reg.MustRegister(
		m.persisted, m.failures, m.sessionsActive, m.published, m.delivered,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) MessagePersisted() { m.persisted.Inc() }

func (m *Metrics) DeliveryFailed(reason string) { m.failures.WithLabelValues(reason).Inc() }

func (m *Metrics) SessionsActive(n int) { m.sessionsActive.Set(float64(n)) }

func (m *Metrics) Published(_ string, delivered int) {
	m.published.Inc()
	m.delivered.Add(float64(delivered))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }
