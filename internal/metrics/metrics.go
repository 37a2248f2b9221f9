// Package metrics provides Prometheus metrics collection for the
// controller process, modeled on the reference platform's
// infrastructure/metrics package but scaled down to the handful of
// gauges/counters a single embedded controller needs.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every collector the controller registers.
type Metrics struct {
	QueueDepth    prometheus.Gauge
	BacklogDepth  prometheus.Gauge
	DeadDepth     prometheus.Gauge
	CacheSize     prometheus.Gauge
	Transitions   *prometheus.CounterVec
	BackendErrors *prometheus.CounterVec
	StateGauge    *prometheus.GaugeVec
}

// New creates a Metrics instance registered against the default
// registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against a
// custom registerer, so tests can use a throwaway registry.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fuelflux_controller_queue_depth",
			Help: "Number of events waiting in the controller's event loop queue.",
		}),
		BacklogDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fuelflux_store_backlog_depth",
			Help: "Number of transaction reports waiting to be replayed to the backend.",
		}),
		DeadDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fuelflux_store_dead_depth",
			Help: "Number of transaction reports moved to the dead queue after the backend rejected them.",
		}),
		CacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fuelflux_cache_entries",
			Help: "Number of users in the active offline allowance cache table.",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fuelflux_statemachine_transitions_total",
			Help: "Total number of state machine transitions, labeled by origin state, event, and destination state.",
		}, []string{"from", "event", "to"}),
		BackendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fuelflux_backend_errors_total",
			Help: "Total number of backend API errors, labeled by classification.",
		}, []string{"kind"}),
		StateGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fuelflux_controller_state",
			Help: "1 for the state the controller currently occupies, 0 for all others.",
		}, []string{"state"}),
	}

	registerer.MustRegister(
		m.QueueDepth,
		m.BacklogDepth,
		m.DeadDepth,
		m.CacheSize,
		m.Transitions,
		m.BackendErrors,
		m.StateGauge,
	)
	return m
}

// RecordTransition increments the transition counter and updates the
// current-state gauge set.
func (m *Metrics) RecordTransition(from, event, to string) {
	m.Transitions.WithLabelValues(from, event, to).Inc()
	if from != to {
		m.StateGauge.WithLabelValues(from).Set(0)
	}
	m.StateGauge.WithLabelValues(to).Set(1)
}

// RecordBackendError increments the backend error counter for kind
// ("network", "application", "forbidden").
func (m *Metrics) RecordBackendError(kind string) {
	m.BackendErrors.WithLabelValues(kind).Inc()
}

// SampleGauges overwrites the point-in-time gauges from the supplied
// readings. Called periodically by the process entry point, since
// these values (unlike transition/error counts) have no natural
// increment-on-event trigger.
func (m *Metrics) SampleGauges(queueDepth, backlogDepth, deadDepth, cacheSize int) {
	m.QueueDepth.Set(float64(queueDepth))
	m.BacklogDepth.Set(float64(backlogDepth))
	m.DeadDepth.Set(float64(deadDepth))
	m.CacheSize.Set(float64(cacheSize))
}
