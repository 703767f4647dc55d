package fsm

import (
	"log/slog"
)

// Observer is notified of everything that happens on a graph's timeline.
// Observers run synchronously on the timeline and must not block.
type Observer interface {
	NodeStarted(n *Node, ev *Event)
	NodeStopped(n *Node)
	EventPosted(ev Event)
	TransitionFired(t *Transition, ev *Event)
}

// NopObserver implements Observer with no-ops; embed it to override a subset.
type NopObserver struct{}

func (NopObserver) NodeStarted(*Node, *Event)           {}
func (NopObserver) NodeStopped(*Node)                   {}
func (NopObserver) EventPosted(Event)                   {}
func (NopObserver) TransitionFired(*Transition, *Event) {}

// LogObserver logs every engine step at debug level.
type LogObserver struct {
	Logger *slog.Logger
}

// NewLogObserver returns a LogObserver writing to logger (slog.Default if nil).
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{Logger: logger}
}

func (o *LogObserver) NodeStarted(n *Node, ev *Event) {
	if ev != nil {
		o.Logger.Debug("node starting", "node", n.Path(), "event", ev.String(), "now", n.Now())
		return
	}
	o.Logger.Debug("node starting", "node", n.Path(), "now", n.Now())
}

func (o *LogObserver) NodeStopped(n *Node) {
	o.Logger.Debug("node stopping", "node", n.Path(), "now", n.Now())
}

func (o *LogObserver) EventPosted(ev Event) {
	o.Logger.Debug("event posted", "event", ev.String(), "seq", ev.Seq())
}

func (o *LogObserver) TransitionFired(t *Transition, ev *Event) {
	if ev != nil {
		o.Logger.Debug("transition firing", "transition", t.String(), "event", ev.String())
		return
	}
	o.Logger.Debug("transition firing", "transition", t.String())
}
