// Package metrics exposes Prometheus instrumentation for the broker connection
// and the forwarder.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/illmade-knight/go-bridge/pkg/broker"
	"github.com/illmade-knight/go-bridge/pkg/forwarder"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bridge"

var allStates = []broker.State{broker.Unconnected, broker.Connecting, broker.Connected, broker.Failed}

// Metrics implements broker.Observer and forwarder.Recorder.
type Metrics struct {
	connectAttempts  *prometheus.CounterVec
	stateTransitions *prometheus.CounterVec
	connectionState  *prometheus.GaugeVec
	forwardTotal     *prometheus.CounterVec
	forwardBytes     *prometheus.CounterVec
	forwardLatency   *prometheus.HistogramVec
}

var (
	_ broker.Observer    = (*Metrics)(nil)
	_ forwarder.Recorder = (*Metrics)(nil)
)

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		connectAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Total number of broker dial attempts.",
		}, []string{"result"}),
		stateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_state_transitions_total",
			Help:      "Total number of broker connection state transitions.",
		}, []string{"from", "to"}),
		connectionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Current broker connection state (1 for the active state).",
		}, []string{"state"}),
		forwardTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forward_total",
			Help:      "Total number of forward operations.",
		}, []string{"topic", "result"}),
		forwardBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forward_bytes_total",
			Help:      "Total payload bytes successfully forwarded.",
		}, []string{"topic"}),
		forwardLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "forward_latency_seconds",
			Help:      "Latency distribution for forward operations.",
			Buckets: []float64{
				0.001, 0.002, 0.005,
				0.01, 0.02, 0.05,
				0.1, 0.2, 0.5,
				1, 2, 5, 10,
			},
		}, []string{"topic", "result"}),
	}
	m.setState(broker.Unconnected)
	return m
}

func (m *Metrics) setState(current broker.State) {
	for _, s := range allStates {
		v := 0.0
		if s == current {
			v = 1
		}
		m.connectionState.WithLabelValues(s.String()).Set(v)
	}
}

func (m *Metrics) StateChanged(from, to broker.State) {
	m.stateTransitions.WithLabelValues(from.String(), to.String()).Inc()
	m.setState(to)
}

func (m *Metrics) ConnectAttempt(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.connectAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) Forwarded(topic string, size int, elapsed time.Duration, err error) {
	result := Result(err)
	m.forwardTotal.WithLabelValues(topic, result).Inc()
	m.forwardLatency.WithLabelValues(topic, result).Observe(elapsed.Seconds())
	if err == nil {
		m.forwardBytes.WithLabelValues(topic).Add(float64(size))
	}
}

// Result classifies a Forward error into a metric label.
func Result(err error) string {
	var connErr *broker.ConnectionError
	var pubErr *forwarder.PublishError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &pubErr):
		return "publish_error"
	case errors.As(err, &connErr):
		return "connection_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, broker.ErrClosed):
		return "closed"
	default:
		return "error"
	}
}
