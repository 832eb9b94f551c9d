// Package metrics exports machine activity as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	hsm "github.com/stateforward/hsm-engine"
)

// Observer counts transitions and times actions. Register it with a
// prometheus.Registerer and subscribe it to machines with Machine.Observe.
type Observer struct {
	transitions    *prometheus.CounterVec
	declined       *prometheus.CounterVec
	failures       *prometheus.CounterVec
	actionDuration *prometheus.HistogramVec
	lifecycle      *prometheus.CounterVec
}

func NewObserver(namespace string) *Observer {
	return &Observer{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hsm_transitions_total",
			Help:      "Completed transitions by machine, source and target state.",
		}, []string{"machine", "from", "to", "event"}),
		declined: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hsm_declined_events_total",
			Help:      "Events no transition accepted.",
		}, []string{"machine", "state", "event"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hsm_action_failures_total",
			Help:      "Actions that failed or timed out.",
		}, []string{"machine", "action"}),
		actionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "hsm_action_duration_seconds",
			Help:      "Duration of executed actions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"machine", "action"}),
		lifecycle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hsm_lifecycle_total",
			Help:      "Machine starts and terminations.",
		}, []string{"machine", "signal"}),
	}
}

func (o *Observer) Describe(ch chan<- *prometheus.Desc) {
	o.transitions.Describe(ch)
	o.declined.Describe(ch)
	o.failures.Describe(ch)
	o.actionDuration.Describe(ch)
	o.lifecycle.Describe(ch)
}

func (o *Observer) Collect(ch chan<- prometheus.Metric) {
	o.transitions.Collect(ch)
	o.declined.Collect(ch)
	o.failures.Collect(ch)
	o.actionDuration.Collect(ch)
	o.lifecycle.Collect(ch)
}

func (o *Observer) Notify(n hsm.Notification) {
	machine := ""
	if n.Machine != nil {
		machine = n.Machine.Name()
	}
	switch n.Signal {
	case hsm.SignalStart, hsm.SignalTerminate:
		o.lifecycle.WithLabelValues(machine, n.Signal.String()).Inc()
	case hsm.SignalTransitionComplete:
		o.transitions.WithLabelValues(machine, n.From, n.To, string(n.Event)).Inc()
	case hsm.SignalTransitionDeclined:
		o.declined.WithLabelValues(machine, n.From, string(n.Event)).Inc()
	case hsm.SignalActionException:
		o.failures.WithLabelValues(machine, n.Action).Inc()
	case hsm.SignalAfterAction:
		if !n.Skipped && n.Err == nil {
			o.actionDuration.WithLabelValues(machine, n.Action).Observe(n.Duration.Seconds())
		}
	}
}

var (
	_ prometheus.Collector = (*Observer)(nil)
	_ hsm.Observer         = (*Observer)(nil)
)
