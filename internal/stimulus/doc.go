// Package stimulus feeds external events into a running graph.
//
// Two surfaces are provided: an HTTP API routed with chi, and a bridge
// that turns Redis pub/sub messages into text and tap events. Both live on
// goroutines of their own and touch the runtime only through
// fsm.Runtime.Inject and fsm.Runtime.Do, so the timeline stays
// single-threaded.
package stimulus

import "github.com/roach88/statenet/internal/fsm"

// Target is a running graph. engine.Session implements it.
type Target interface {
	Runtime() *fsm.Runtime
	Graph() *fsm.Graph
}
