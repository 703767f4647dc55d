package fsm

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/statenet/internal/sched"
)

// State is a node's lifecycle flag.
type State int

const (
	// StateIdle means the node has never been started.
	StateIdle State = iota
	// StateRunning means the node is started and not yet stopped.
	StateRunning
	// StateStopped means the node was started and then stopped.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ChildPolicy decides which children a node starts when it starts.
type ChildPolicy int

const (
	// StartFirst starts only the first child, in declaration order.
	StartFirst ChildPolicy = iota
	// StartAll starts every child, in declaration order.
	StartAll
	// StartNone leaves children to the node's behavior.
	StartNone
)

func (p ChildPolicy) String() string {
	switch p {
	case StartFirst:
		return "first"
	case StartAll:
		return "all"
	case StartNone:
		return "none"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParseChildPolicy maps "first", "all" and "none" to a ChildPolicy.
// The empty string means StartFirst.
func ParseChildPolicy(s string) (ChildPolicy, error) {
	switch s {
	case "", "first":
		return StartFirst, nil
	case "all":
		return StartAll, nil
	case "none":
		return StartNone, nil
	default:
		return StartFirst, fmt.Errorf("unknown child policy %q", s)
	}
}

// Behavior is the node-specific work run when a node starts.
//
// Behaviors report their outcome through the node (PostSuccess,
// PostFailure, PostCompletion), either synchronously inside Start or later
// from a callback scheduled with Node.Soon or Node.After.
type Behavior interface {
	Start(n *Node, ev *Event)
}

// Stopper is implemented by behaviors that must release resources when
// their node stops.
type Stopper interface {
	Stop(n *Node)
}

// BehaviorFunc adapts a function to the Behavior interface.
type BehaviorFunc func(n *Node, ev *Event)

// Start calls f(n, ev).
func (f BehaviorFunc) Start(n *Node, ev *Event) {
	f(n, ev)
}

// Node is the lifecycle unit of a graph.
//
// A node exclusively owns its named children. Its running state is
// independent from its parent's beyond what its ChildPolicy does on start
// and the fact that stopping a parent stops its children.
type Node struct {
	name     string
	parent   *Node
	children []*Node
	byName   map[string]*Node

	transitions []*Transition
	behavior    Behavior
	policy      ChildPolicy

	state  State
	starts int
	rt     *Runtime
	owned  []*sched.Handle
}

// NodeOption configures a Node.
type NodeOption func(*Node)

// WithChildPolicy sets which children start with the node.
func WithChildPolicy(p ChildPolicy) NodeOption {
	return func(n *Node) {
		n.policy = p
	}
}

// NewNode creates an idle node. A nil behavior makes a pure composite.
func NewNode(name string, behavior Behavior, opts ...NodeOption) *Node {
	n := &Node{
		name:     name,
		behavior: behavior,
		byName:   make(map[string]*Node),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Name returns the node's name within its parent's scope.
func (n *Node) Name() string { return n.name }

// Path returns the slash-separated names from the root down to n.
func (n *Node) Path() string {
	if n.parent == nil {
		return n.name
	}
	var parts []string
	for p := n; p != nil; p = p.parent {
		parts = append(parts, p.name)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/")
}

func (n *Node) String() string { return n.Path() }

// Parent returns the owning node, nil for a root.
func (n *Node) Parent() *Node { return n.parent }

// Children returns the children in declaration order.
func (n *Node) Children() []*Node { return n.children }

// Child returns the child with the given name, nil if none.
func (n *Node) Child(name string) *Node { return n.byName[name] }

// Transitions returns the transitions n is a source of, in wiring order.
func (n *Node) Transitions() []*Transition { return n.transitions }

// Behavior returns the node's behavior, nil for a pure composite.
func (n *Node) Behavior() Behavior { return n.behavior }

// ChildPolicy returns which children start with the node.
func (n *Node) ChildPolicy() ChildPolicy { return n.policy }

// State returns the lifecycle flag.
func (n *Node) State() State { return n.state }

// Running reports whether the node is started and not stopped.
func (n *Node) Running() bool { return n.state == StateRunning }

// Starts returns how many times the node has gone from not running to running.
func (n *Node) Starts() int { return n.starts }

// Runtime returns the runtime the node was bound to when its graph was built.
func (n *Node) Runtime() *Runtime { return n.rt }

// Agent returns the runtime's agent handle.
func (n *Node) Agent() any { return n.rt.agent }

// Logger returns the runtime's logger annotated with the node path.
func (n *Node) Logger() *slog.Logger { return n.rt.logger.With("node", n.Path()) }

// Now returns the current time on the node's timeline, zero before binding.
func (n *Node) Now() time.Duration {
	if n.rt == nil {
		return 0
	}
	return n.rt.sched.Now()
}

// AddChild makes c a child of n.
func (n *Node) AddChild(c *Node) error {
	if c.parent != nil {
		return &EngineError{
			Code:    ErrCodeParentAlreadySet,
			Message: fmt.Sprintf("already a child of %s", c.parent.Path()),
			Node:    c.Path(),
		}
	}
	if _, dup := n.byName[c.name]; dup {
		return &EngineError{
			Code:    ErrCodeDuplicateName,
			Message: fmt.Sprintf("%s already has a child named %q", n.Path(), c.name),
			Node:    n.Path() + "/" + c.name,
		}
	}
	c.parent = n
	n.children = append(n.children, c)
	n.byName[c.name] = c
	return nil
}

// SetParent makes n a child of p.
func (n *Node) SetParent(p *Node) error {
	return p.AddChild(n)
}

func (n *Node) addTransition(t *Transition) {
	for _, existing := range n.transitions {
		if existing == t {
			return
		}
	}
	n.transitions = append(n.transitions, t)
}

// bind attaches n and its subtree to a runtime.
func (n *Node) bind(rt *Runtime) {
	n.rt = rt
	for _, c := range n.children {
		c.bind(rt)
	}
}

func (n *Node) mustBeBound() {
	if n.rt == nil {
		panic(fmt.Sprintf("fsm: node %q used before its graph was built", n.Path()))
	}
}

// Start runs the node. A second Start while running is a no-op.
//
// Outgoing transitions are armed before children start and before the
// behavior runs, because either may post an event one of them waits for.
func (n *Node) Start(ev *Event) {
	n.mustBeBound()
	if n.state == StateRunning {
		return
	}
	n.state = StateRunning
	n.starts++
	n.rt.nodeStarted(n, ev)

	for _, t := range n.transitions {
		t.Start(ev)
	}

	switch n.policy {
	case StartFirst:
		if len(n.children) > 0 && n.Running() {
			n.children[0].Start(nil)
		}
	case StartAll:
		for _, c := range n.children {
			if !n.Running() {
				break
			}
			c.Start(nil)
		}
	}

	// A child's outcome may already have moved control elsewhere.
	if n.behavior != nil && n.Running() {
		n.behavior.Start(n, ev)
	}
}

// Stop halts the node. Stop on a node that is not running is a no-op.
//
// Children stop first, then outgoing transitions (cancelling their timers
// and bus registrations), then the behavior's Stop hook, then every
// callback scheduled through Node.Soon or Node.After.
func (n *Node) Stop() {
	if n.state != StateRunning {
		return
	}
	n.state = StateStopped

	for _, c := range n.children {
		c.Stop()
	}
	for _, t := range n.transitions {
		t.Stop()
	}
	if s, ok := n.behavior.(Stopper); ok {
		s.Stop(n)
	}
	for _, h := range n.owned {
		h.Cancel()
	}
	n.owned = nil

	n.rt.nodeStopped(n)
}

// Soon schedules fn on the next tick. It is cancelled if n stops first.
func (n *Node) Soon(fn func()) *sched.Handle {
	n.mustBeBound()
	h := n.rt.sched.Soon(fn)
	n.own(h)
	return h
}

// After schedules fn once d has elapsed. It is cancelled if n stops first.
func (n *Node) After(d time.Duration, fn func()) *sched.Handle {
	n.mustBeBound()
	h := n.rt.sched.After(d, fn)
	n.own(h)
	return h
}

func (n *Node) own(h *sched.Handle) {
	kept := n.owned[:0]
	for _, o := range n.owned {
		if o.Pending() {
			kept = append(kept, o)
		}
	}
	n.owned = append(kept, h)
}

// Post emits an event of kind with n as its source.
func (n *Node) Post(kind Kind, payload any) Event {
	n.mustBeBound()
	return n.rt.bus.Post(NewEvent(kind, n, payload))
}

// PostCompletion reports that n finished.
func (n *Node) PostCompletion() {
	n.Post(KindCompletion, nil)
}

// PostSuccess reports that n accomplished its task.
func (n *Node) PostSuccess(details any) {
	n.Post(KindSuccess, details)
}

// PostFailure reports that n could not accomplish its task.
func (n *Node) PostFailure(details any) {
	n.Post(KindFailure, details)
}

// PostData broadcasts a data item from n.
func (n *Node) PostData(data any) {
	n.Post(KindData, data)
}
