// Package metrics exposes Prometheus counters for relay sessions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hexrelay"

// Metrics groups the relay's counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	Bytes       *prometheus.CounterVec
	Chunks      *prometheus.CounterVec
	Sessions    *prometheus.CounterVec
	SetupErrors *prometheus.CounterVec
}

// New creates the counters and registers them with reg. It panics if they
// are already registered there.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Bytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "relayed_bytes_total",
				Help:      "Bytes forwarded, by direction.",
			},
			[]string{"direction"},
		),
		Chunks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "relayed_chunks_total",
				Help:      "Chunks forwarded, by direction.",
			},
			[]string{"direction"},
		),
		Sessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Relay sessions ended, by outcome.",
			},
			[]string{"outcome"},
		),
		SetupErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "setup_errors_total",
				Help:      "Listen, accept and connect failures, by operation and kind.",
			},
			[]string{"op", "kind"},
		),
	}

	reg.MustRegister(m.Bytes, m.Chunks, m.Sessions, m.SetupErrors)
	return m
}

// AddChunk records one forwarded chunk of n bytes.
func (m *Metrics) AddChunk(direction string, n int) {
	if m == nil {
		return
	}
	m.Chunks.WithLabelValues(direction).Inc()
	m.Bytes.WithLabelValues(direction).Add(float64(n))
}

// SessionEnded records how a relay session finished.
func (m *Metrics) SessionEnded(outcome string) {
	if m == nil {
		return
	}
	m.Sessions.WithLabelValues(outcome).Inc()
}

// SetupFailed records a listen/accept/connect failure.
func (m *Metrics) SetupFailed(op, kind string) {
	if m == nil {
		return
	}
	m.SetupErrors.WithLabelValues(op, kind).Inc()
}
