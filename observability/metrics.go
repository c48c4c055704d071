package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeDropped = "dropped"
)

// Metrics groups the counters of the relay. Each instance owns its registry
// so tests can build as many as they need.
type Metrics struct {
	Registry       *prometheus.Registry
	Events         *prometheus.CounterVec
	Pushes         *prometheus.CounterVec
	Sessions       prometheus.Gauge
	WorkerRestarts *prometheus.CounterVec
	ChannelLength  *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_events_total",
			Help: "Inbound events handled, by event name and outcome.",
		}, []string{"event", "outcome"}),
		Pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_pushes_total",
			Help: "Outbound pushes to sessions, by outcome.",
		}, []string{"outcome"}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_sessions",
			Help: "Sessions currently bound to a user.",
		}),
		WorkerRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_worker_restarts_total",
			Help: "Supervised worker restarts after a crash or a panic.",
		}, []string{"worker"}),
		ChannelLength: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chat_channel_length",
			Help: "Items waiting in an internal channel, sampled periodically.",
		}, []string{"channel"}),
	}
	m.Registry.MustRegister(
		m.Events,
		m.Pushes,
		m.Sessions,
		m.WorkerRestarts,
		m.ChannelLength,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Event(name, outcome string) {
	m.Events.WithLabelValues(name, outcome).Inc()
}

func (m *Metrics) Push(outcome string) {
	m.Pushes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) WorkerRestarted(worker string) {
	m.WorkerRestarts.WithLabelValues(worker).Inc()
}
