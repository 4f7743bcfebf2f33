// Package prometheus implements the client metrics interface on top of
// prometheus/client_golang. Importing this package (blank import is enough)
// installs the constructor into pkg/metrics.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/voltclient/pkg/metrics"
)

func init() {
	metrics.RegisterClientMetricsConstructor(newClientMetrics)
}

// clientMetrics is the Prometheus implementation of metrics.ClientMetrics.
type clientMetrics struct {
	calls          *prometheus.CounterVec
	roundTrip      *prometheus.HistogramVec
	timeouts       prometheus.Counter
	backpressure   prometheus.Counter
	connectionLost prometheus.Counter
	reconnects     *prometheus.CounterVec
	inflight       *prometheus.GaugeVec
	pings          prometheus.Counter
}

func newClientMetrics() metrics.ClientMetrics {
	reg := metrics.GetRegistry()
	if reg == nil {
		return nil
	}

	return &clientMetrics{
		calls: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "voltclient_calls_total",
				Help: "Total procedure invocations admitted, by procedure name",
			},
			[]string{"procedure"},
		),
		roundTrip: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voltclient_round_trip_seconds",
				Help:    "Client-observed call latency from admission to completion",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
			},
			[]string{"procedure"},
		),
		timeouts: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "voltclient_timeouts_total",
				Help: "Calls resolved locally because their deadline fired",
			},
		),
		backpressure: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "voltclient_backpressure_total",
				Help: "Fail-fast admissions refused because a node was at its in-flight ceiling",
			},
		),
		connectionLost: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "voltclient_connection_lost_total",
				Help: "Calls failed because their connection went away",
			},
		),
		reconnects: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "voltclient_reconnect_attempts_total",
				Help: "Reconnection attempts per node endpoint and outcome",
			},
			[]string{"endpoint", "outcome"},
		),
		inflight: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "voltclient_inflight",
				Help: "Admitted-but-unresolved calls per node endpoint",
			},
			[]string{"endpoint"},
		),
		pings: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "voltclient_keepalive_pings_total",
				Help: "Keep-alive pings synthesized by idle writers",
			},
		),
	}
}

func (m *clientMetrics) RecordCall(procedure string) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(procedure).Inc()
}

func (m *clientMetrics) ObserveRoundTrip(procedure string, d time.Duration) {
	if m == nil {
		return
	}
	m.roundTrip.WithLabelValues(procedure).Observe(d.Seconds())
}

func (m *clientMetrics) RecordTimeout() {
	if m == nil {
		return
	}
	m.timeouts.Inc()
}

func (m *clientMetrics) RecordBackpressure() {
	if m == nil {
		return
	}
	m.backpressure.Inc()
}

func (m *clientMetrics) RecordConnectionLost(n int) {
	if m == nil {
		return
	}
	m.connectionLost.Add(float64(n))
}

func (m *clientMetrics) RecordReconnect(endpoint string, ok bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	m.reconnects.WithLabelValues(endpoint, outcome).Inc()
}

func (m *clientMetrics) SetInflight(endpoint string, n int) {
	if m == nil {
		return
	}
	m.inflight.WithLabelValues(endpoint).Set(float64(n))
}

func (m *clientMetrics) RecordPing() {
	if m == nil {
		return
	}
	m.pings.Inc()
}
