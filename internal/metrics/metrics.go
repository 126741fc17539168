// Package metrics holds the prometheus collectors for the sync core. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	LoadSource      *prometheus.CounterVec
	Reconciles      *prometheus.CounterVec
	PushEvents      *prometheus.CounterVec
	Mutations       *prometheus.CounterVec
	RemoteDuration  *prometheus.HistogramVec
	PushConnections prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LoadSource: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contentdesk_load_total",
				Help: "Startup loads by the source the project list was adopted from",
			},
			[]string{"source"}, // remote, local, seed
		),
		Reconciles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contentdesk_reconcile_total",
				Help: "Reconciliation runs by result",
			},
			[]string{"result"},
		),
		PushEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contentdesk_push_events_total",
				Help: "Push events applied by type",
			},
			[]string{"type"},
		),
		Mutations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contentdesk_mutations_total",
				Help: "Project and thread mutations by operation and result",
			},
			[]string{"op", "result"},
		),
		RemoteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "contentdesk_remote_request_duration_seconds",
				Help:    "Remote API request duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
			},
			[]string{"method", "status"},
		),
		PushConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "contentdesk_push_connected",
				Help: "1 while the push channel is connected",
			},
		),
	}
}

func (m *Metrics) RecordLoad(source string) {
	if m == nil {
		return
	}
	m.LoadSource.WithLabelValues(source).Inc()
}

func (m *Metrics) RecordReconcile(err error) {
	if m == nil {
		return
	}
	m.Reconciles.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) RecordPushEvent(eventType string) {
	if m == nil {
		return
	}
	m.PushEvents.WithLabelValues(eventType).Inc()
}

func (m *Metrics) RecordMutation(op string, err error) {
	if m == nil {
		return
	}
	m.Mutations.WithLabelValues(op, result(err)).Inc()
}

// RecordRemote observes one remote call; status is the HTTP status text or
// "transport" when no response arrived.
func (m *Metrics) RecordRemote(method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RemoteDuration.WithLabelValues(method, status).Observe(duration.Seconds())
}

func (m *Metrics) SetPushConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.PushConnections.Set(1)
		return
	}
	m.PushConnections.Set(0)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
