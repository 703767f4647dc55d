// Package metrics exports runtime activity as Prometheus metrics.
//
// Observer implements fsm.Observer and counts node starts, posted events
// and fired transitions. Each Observer owns its registry, so several runs
// in one process do not collide on metric names.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/statenet/internal/fsm"
)

// Namespace prefixes every metric name.
const Namespace = "statenet"

// Observer counts what happens on one runtime.
type Observer struct {
	registry *prometheus.Registry

	nodeStarts  *prometheus.CounterVec
	nodeStops   *prometheus.CounterVec
	running     prometheus.Gauge
	events      *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

var _ fsm.Observer = (*Observer)(nil)

// NewObserver creates an observer registered on a fresh registry.
func NewObserver() *Observer {
	o := &Observer{
		registry: prometheus.NewRegistry(),
		nodeStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "node_starts_total",
			Help:      "Total number of node starts, by node path.",
		}, []string{"node"}),
		nodeStops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "node_stops_total",
			Help:      "Total number of node stops, by node path.",
		}, []string{"node"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "nodes_running",
			Help:      "Number of nodes currently running.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "events_posted_total",
			Help:      "Total number of events posted on the bus, by kind.",
		}, []string{"kind"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "transitions_fired_total",
			Help:      "Total number of transition firings, by transition name and kind.",
		}, []string{"transition", "kind"}),
	}
	o.registry.MustRegister(o.nodeStarts, o.nodeStops, o.running, o.events, o.transitions)
	return o
}

// Registry returns the registry the observer's metrics live on.
func (o *Observer) Registry() *prometheus.Registry { return o.registry }

// Handler serves the observer's metrics in the Prometheus text format.
func (o *Observer) Handler() http.Handler {
	return promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{})
}

func (o *Observer) NodeStarted(n *fsm.Node, _ *fsm.Event) {
	o.nodeStarts.WithLabelValues(n.Path()).Inc()
	o.running.Inc()
}

func (o *Observer) NodeStopped(n *fsm.Node) {
	o.nodeStops.WithLabelValues(n.Path()).Inc()
	o.running.Dec()
}

func (o *Observer) EventPosted(ev fsm.Event) {
	o.events.WithLabelValues(string(ev.Kind())).Inc()
}

func (o *Observer) TransitionFired(t *fsm.Transition, _ *fsm.Event) {
	o.transitions.WithLabelValues(t.Name(), string(t.Kind())).Inc()
}
