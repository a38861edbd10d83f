// Package metrics exposes relay counters to Prometheus.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/dkeye/Relay/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "relay"

type Metrics struct {
	sessionsActive prometheus.Gauge
	binds          *prometheus.CounterVec
	dataFrames     *prometheus.CounterVec
	notifications  *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live sessions",
		}),
		binds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identity_binds_total",
			Help:      "Identity bind attempts by kind and outcome",
		}, []string{"kind", "outcome"}),
		dataFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_frames_total",
			Help:      "Data frames routed to recipients",
		}, []string{"result"}),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications delivered by event",
		}, []string{"event"}),
	}
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

// Bind records one identity bind; kind is "user" or "room".
func (m *Metrics) Bind(kind string, out session.BindOutcome) {
	if m == nil {
		return
	}
	m.binds.WithLabelValues(kind, out.String()).Inc()
}

func (m *Metrics) DataRouted(sent, dropped int) {
	if m == nil {
		return
	}
	m.dataFrames.WithLabelValues("sent").Add(float64(sent))
	m.dataFrames.WithLabelValues("dropped").Add(float64(dropped))
}

func (m *Metrics) Notified(event string, n int) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(event).Add(float64(n))
}
