package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camrelay",
			Subsystem: "session",
			Name:      "state_transitions_total",
			Help:      "Number of session state transitions.",
		}, []string{"camera", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "camrelay",
			Subsystem: "session",
			Name:      "current_state",
			Help:      "Current session state (1 = active state, 0 = inactive).",
		}, []string{"camera", "state"},
	)
	resolveFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camrelay",
			Subsystem: "session",
			Name:      "resolve_failures_total",
			Help:      "Number of live-source acquisition failures by kind.",
		}, []string{"camera", "kind"},
	)
	processStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camrelay",
			Subsystem: "transcoder",
			Name:      "starts_total",
			Help:      "Number of transcoder process starts by source kind.",
		}, []string{"camera", "source"},
	)
	processExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camrelay",
			Subsystem: "transcoder",
			Name:      "exits_total",
			Help:      "Number of unexpected transcoder exits.",
		}, []string{"camera"},
	)
	stalenessEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camrelay",
			Subsystem: "watchdog",
			Name:      "staleness_events_total",
			Help:      "Number of stalled-output detections.",
		}, []string{"camera"},
	)
	backoffDelay = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "camrelay",
			Subsystem: "session",
			Name:      "backoff_delay_seconds",
			Help:      "Scheduled retry delays after failed live acquisition.",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 16, 32, 64},
		}, []string{"camera"},
	)
)

// Register registers all metrics with the provided registerer.
// Safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		stateTransitions, currentStates, resolveFailures,
		processStarts, processExits, stalenessEvents, backoffDelay,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves Prometheus metrics for the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func RecordTransition(camera, from, to string) {
	if !regOK.Load() {
		return
	}
	stateTransitions.WithLabelValues(camera, from, to).Inc()
	currentStates.WithLabelValues(camera, from).Set(0)
	currentStates.WithLabelValues(camera, to).Set(1)
}

func IncResolveFailure(camera, kind string) {
	if regOK.Load() {
		resolveFailures.WithLabelValues(camera, kind).Inc()
	}
}

func IncProcessStart(camera, sourceKind string) {
	if regOK.Load() {
		processStarts.WithLabelValues(camera, sourceKind).Inc()
	}
}

func IncProcessExit(camera string) {
	if regOK.Load() {
		processExits.WithLabelValues(camera).Inc()
	}
}

func IncStaleness(camera string) {
	if regOK.Load() {
		stalenessEvents.WithLabelValues(camera).Inc()
	}
}

func ObserveBackoff(camera string, seconds float64) {
	if regOK.Load() {
		backoffDelay.WithLabelValues(camera).Observe(seconds)
	}
}
