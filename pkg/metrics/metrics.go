// Package metrics defines the client's observability surface.
//
// The pool and executors record through the ClientMetrics interface; the
// Prometheus implementation lives in pkg/metrics/prometheus and registers
// itself on import. When the registry is never initialized, NewClientMetrics
// returns nil and every call site skips recording at zero cost.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu       sync.Mutex
	registry *prometheus.Registry
)

// InitRegistry enables metrics collection with a fresh registry.
func InitRegistry() {
	mu.Lock()
	defer mu.Unlock()
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
}

// InitWithRegistry enables metrics collection against a caller-owned
// registry, for applications that already expose one.
func InitWithRegistry(r *prometheus.Registry) {
	mu.Lock()
	defer mu.Unlock()
	registry = r
}

// IsEnabled reports whether a registry has been initialized.
func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return registry != nil
}

// GetRegistry returns the active registry, or nil when disabled.
func GetRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	return registry
}

// ClientMetrics records per-call and per-connection events. Implementations
// must be safe for concurrent use.
type ClientMetrics interface {
	// RecordCall counts one admitted invocation of the named procedure.
	RecordCall(procedure string)

	// ObserveRoundTrip records the client-observed latency of a completed
	// call.
	ObserveRoundTrip(procedure string, d time.Duration)

	// RecordTimeout counts a call failed locally because its deadline fired:
	// while waiting for admission, while queued, or in the sweeper.
	RecordTimeout()

	// RecordBackpressure counts a fail-fast admission refusal.
	RecordBackpressure()

	// RecordConnectionLost counts calls failed by a connection loss.
	RecordConnectionLost(n int)

	// RecordReconnect counts a reconnection attempt outcome for a node.
	RecordReconnect(endpoint string, ok bool)

	// SetInflight tracks the pending+outbound depth of a node.
	SetInflight(endpoint string, n int)

	// RecordPing counts a synthesized keep-alive.
	RecordPing()
}

// newClientMetrics is installed by pkg/metrics/prometheus on import.
var newClientMetrics func() ClientMetrics

// clientOnce guards collector registration: the recorder is built once and
// shared, so a second pool on the same registry does not re-register.
var (
	clientOnce sync.Once
	clientInst ClientMetrics
)

// RegisterClientMetricsConstructor installs the backing implementation.
// Called by pkg/metrics/prometheus during package initialization.
func RegisterClientMetricsConstructor(constructor func() ClientMetrics) {
	newClientMetrics = constructor
}

// NewClientMetrics returns a recorder backed by the active registry, or nil
// when metrics are disabled or no implementation is linked in.
func NewClientMetrics() ClientMetrics {
	if !IsEnabled() || newClientMetrics == nil {
		return nil
	}
	clientOnce.Do(func() { clientInst = newClientMetrics() })
	return clientInst
}
