// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SensorEvents counts raw events reduced by the state machine. Labels: kind.
	SensorEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "walklog_sensor_events_total",
		Help: "Raw sensor and control events reduced by the walking state machine.",
	}, []string{"kind"})

	// SensorDrops counts events a source could not hand to the bus. Labels: source.
	SensorDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "walklog_sensor_drops_total",
		Help: "Sensor events dropped because the source was stopped or its buffer was full.",
	}, []string{"source"})

	StepRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "walklog_step_rejections_total",
		Help: "Raw step readings rejected as implausible.",
	})

	StepClamps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "walklog_step_clamps_total",
		Help: "Validated step counts lower than the current count.",
	})

	RecoveryWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "walklog_recovery_writes_total",
		Help: "Recovery record writes. Labels: mode (sync, flush), outcome.",
	}, []string{"mode", "outcome"})

	PersistDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "walklog_persist_duration_seconds",
		Help:    "Time to persist a completed walking session.",
		Buckets: []float64{.005, .01, .05, .1, .5, 1, 5},
	}, []string{"outcome"})

	// SyncOutcomes counts sync attempts. Labels: outcome (success, already_syncing, network, rejected, error).
	SyncOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "walklog_sync_total",
		Help: "Session sync attempts by outcome.",
	}, []string{"outcome"})

	SyncInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "walklog_sync_in_flight",
		Help: "Session pushes currently running.",
	})

	// BreakerState is 0 closed, 1 half-open, 2 open.
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "walklog_circuit_breaker_state",
		Help: "Remote sync circuit breaker state.",
	}, []string{"name"})
)
