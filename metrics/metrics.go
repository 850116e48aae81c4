// Package metrics exposes Prometheus collectors for the authenticated client.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "authclient"

// Refresh results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

type Metrics struct {
	refreshes     *prometheus.CounterVec
	queued        prometheus.Counter
	pending       prometheus.Gauge
	replays       *prometheus.CounterVec
	notifications *prometheus.CounterVec
	invalidations prometheus.Counter
}

// New creates the collectors and registers them with reg when reg is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Refresh endpoint calls by result.",
		}, []string{"result", "trigger"}),
		queued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pending_calls_total",
			Help:      "Calls queued behind an in-flight refresh.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_calls",
			Help:      "Calls currently waiting for a refresh.",
		}),
		replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replay_total",
			Help:      "Calls resent after a refresh, by result.",
		}, []string{"result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_total",
			Help:      "User-visible failure notifications by kind.",
		}, []string{"kind"}),
		invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_invalidation_total",
			Help:      "Session teardowns after unrecoverable refresh failures.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.refreshes, m.queued, m.pending, m.replays, m.notifications, m.invalidations)
	}
	return m
}

func (m *Metrics) Refresh(trigger, result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result, trigger).Inc()
}

func (m *Metrics) Queued() {
	if m == nil {
		return
	}
	m.queued.Inc()
	m.pending.Inc()
}

func (m *Metrics) Released(n int) {
	if m == nil {
		return
	}
	m.pending.Sub(float64(n))
}

func (m *Metrics) Replay(result string) {
	if m == nil {
		return
	}
	m.replays.WithLabelValues(result).Inc()
}

func (m *Metrics) Notification(kind string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind).Inc()
}

func (m *Metrics) Invalidation() {
	if m == nil {
		return
	}
	m.invalidations.Inc()
}
