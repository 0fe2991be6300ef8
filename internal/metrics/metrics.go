// Package metrics defines the Prometheus instrumentation shared by the
// broker and device endpoints.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lexisync/lexisync/internal/session"
)

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// Metrics holds all Prometheus metrics for lexisync.
type Metrics struct {
	// Broker side
	SessionsCreated prometheus.Counter
	SessionsJoined  prometheus.Counter
	RelayPairs      prometheus.Counter
	RelaysActive    prometheus.Gauge
	RelayBytes      prometheus.Counter

	// Device side
	StateTransitions *prometheus.CounterVec // lexisync_session_transitions_total{to}
	SyncRounds       *prometheus.CounterVec // lexisync_sync_rounds_total{outcome}
}

// Init initializes the metrics singleton. Metrics are registered once;
// subsequent calls return the same instance. A nil registry uses the
// default Prometheus registry.
func Init(registry prometheus.Registerer) *Metrics {
	metricsOnce.Do(func() {
		if registry == nil {
			registry = prometheus.DefaultRegisterer
		}
		metricsInstance = &Metrics{
			SessionsCreated: promauto.With(registry).NewCounter(prometheus.CounterOpts{
				Name: "lexisync_broker_sessions_created_total",
				Help: "Sessions registered by receivers",
			}),
			SessionsJoined: promauto.With(registry).NewCounter(prometheus.CounterOpts{
				Name: "lexisync_broker_sessions_joined_total",
				Help: "Sessions joined by senders",
			}),
			RelayPairs: promauto.With(registry).NewCounter(prometheus.CounterOpts{
				Name: "lexisync_broker_relay_pairs_total",
				Help: "Relay bridges established between two devices",
			}),
			RelaysActive: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
				Name: "lexisync_broker_relays_active",
				Help: "Relay bridges currently forwarding traffic",
			}),
			RelayBytes: promauto.With(registry).NewCounter(prometheus.CounterOpts{
				Name: "lexisync_broker_relay_bytes_total",
				Help: "Bytes forwarded across all relay bridges",
			}),
			StateTransitions: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
				Name: "lexisync_session_transitions_total",
				Help: "Session state machine transitions by target state",
			}, []string{"to"}),
			SyncRounds: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
				Name: "lexisync_sync_rounds_total",
				Help: "Sync rounds by outcome",
			}, []string{"outcome"}),
		}
	})

	return metricsInstance
}

// SessionObserver returns an observer that counts session transitions.
func (m *Metrics) SessionObserver() session.Observer {
	return session.ObserverFunc(func(t session.Transition) {
		m.StateTransitions.WithLabelValues(t.To.String()).Inc()
	})
}
