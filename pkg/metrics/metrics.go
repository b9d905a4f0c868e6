// Package metrics exposes Prometheus instruments for the call session and
// the wake detector.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-voicecall/pkg/call"
	"github.com/teslashibe/go-voicecall/pkg/wake"
)

const namespace = "voicecall"

// Metrics holds every instrument on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	CallState         *prometheus.GaugeVec
	CallTransitions   *prometheus.CounterVec
	CallAttempts      *prometheus.CounterVec
	CallSetupDuration prometheus.Histogram

	WakeTriggers  prometheus.Counter
	WakeRestarts  prometheus.Counter
	WakeErrors    prometheus.Counter
	StatusUpdates prometheus.Counter
	StatusClients prometheus.Gauge

	HTTPRequests *prometheus.CounterVec
}

var callStates = []call.State{
	call.StateIdle,
	call.StateAcquiring,
	call.StateOffering,
	call.StateAwaitingAnswer,
	call.StateConnected,
	call.StateClosing,
}

// New creates and registers all instruments.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		CallState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "call_state",
			Help:      "1 for the current call session state, 0 otherwise",
		}, []string{"state"}),
		CallTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_transitions_total",
			Help:      "Call session state transitions",
		}, []string{"from", "to"}),
		CallAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_attempts_total",
			Help:      "Finished call start attempts by outcome",
		}, []string{"outcome"}),
		CallSetupDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_setup_duration_seconds",
			Help:      "Time from Start to Connected or failure",
			Buckets:   []float64{.1, .25, .5, 1, 2, 4, 8, 16},
		}),
		WakeTriggers: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wake_triggers_total",
			Help:      "Wake phrase matches that started a call",
		}),
		WakeRestarts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wake_recognizer_restarts_total",
			Help:      "Automatic recognizer restarts after an end",
		}),
		WakeErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wake_recognizer_errors_total",
			Help:      "Recognizer runtime errors",
		}),
		StatusUpdates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_updates_total",
			Help:      "Status line changes",
		}),
		StatusClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "status_clients",
			Help:      "Connected status websocket clients",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
	}
	m.CallState.WithLabelValues(call.StateIdle.String()).Set(1)
	return m
}

// Registry returns the registry the instruments live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StateChanged implements call.Observer.
func (m *Metrics) StateChanged(from, to call.State) {
	m.CallTransitions.WithLabelValues(from.String(), to.String()).Inc()
	for _, s := range callStates {
		v := 0.0
		if s == to {
			v = 1
		}
		m.CallState.WithLabelValues(s.String()).Set(v)
	}
}

// AttemptFinished implements call.Observer.
func (m *Metrics) AttemptFinished(err error, elapsed time.Duration) {
	outcome := call.Kind(err)
	if err == nil {
		outcome = "connected"
	}
	m.CallAttempts.WithLabelValues(outcome).Inc()
	m.CallSetupDuration.Observe(elapsed.Seconds())
}

// Triggered implements wake.Observer.
func (m *Metrics) Triggered() { m.WakeTriggers.Inc() }

// Restarted implements wake.Observer.
func (m *Metrics) Restarted() { m.WakeRestarts.Inc() }

// RecognizerError implements wake.Observer.
func (m *Metrics) RecognizerError() { m.WakeErrors.Inc() }

var (
	_ call.Observer = (*Metrics)(nil)
	_ wake.Observer = (*Metrics)(nil)
)
