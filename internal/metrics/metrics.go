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

	childStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gameward",
			Subsystem: "child",
			Name:      "starts_total",
			Help:      "Number of successful child spawns.",
		},
	)
	childRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gameward",
			Subsystem: "child",
			Name:      "restarts_total",
			Help:      "Number of automatic restarts after a crash.",
		},
	)
	childCrashes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gameward",
			Subsystem: "child",
			Name:      "crashes_total",
			Help:      "Number of abnormal child exits.",
		},
	)
	childStalls = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gameward",
			Subsystem: "child",
			Name:      "stalls_total",
			Help:      "Number of watchdog-detected stalls.",
		},
	)
	childUptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gameward",
			Subsystem: "child",
			Name:      "uptime_seconds",
			Help:      "Seconds since the current child was spawned, 0 when down.",
		},
	)
	restartBudget = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gameward",
			Subsystem: "child",
			Name:      "restarts_in_window",
			Help:      "Restarts recorded inside the current sliding window.",
		},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gameward",
			Subsystem: "child",
			Name:      "state_transitions_total",
			Help:      "Number of supervisor state transitions.",
		}, []string{"from", "to"},
	)
	currentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gameward",
			Subsystem: "child",
			Name:      "current_state",
			Help:      "Current supervisor state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{childStarts, childRestarts, childCrashes, childStalls, childUptime, restartBudget, stateTransitions, currentState}
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

// Handler returns an http.Handler serving the DefaultGatherer. The caller
// wires the route and server.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers used by the supervisor. They no-op before Register succeeds.

func IncStart() {
	if regOK.Load() {
		childStarts.Inc()
	}
}

func IncRestart() {
	if regOK.Load() {
		childRestarts.Inc()
	}
}

func IncCrash() {
	if regOK.Load() {
		childCrashes.Inc()
	}
}

func IncStall() {
	if regOK.Load() {
		childStalls.Inc()
	}
}

func SetUptime(seconds float64) {
	if regOK.Load() {
		childUptime.Set(seconds)
	}
}

func SetRestartsInWindow(n int) {
	if regOK.Load() {
		restartBudget.Set(float64(n))
	}
}

func RecordStateTransition(from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(from, to).Inc()
	}
}

func SetCurrentState(state string, active bool) {
	if regOK.Load() {
		var value float64
		if active {
			value = 1
		}
		currentState.WithLabelValues(state).Set(value)
	}
}
