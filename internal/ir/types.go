package ir

// GraphSpec is a compiled graph description.
type GraphSpec struct {
	Name        string           `json:"name"`
	Root        string           `json:"root,omitempty"` // empty = the single top-level node
	Nodes       []NodeSpec       `json:"nodes"`
	Transitions []TransitionSpec `json:"transitions"`
}

// NodeSpec declares one node.
type NodeSpec struct {
	Name     string         `json:"name"`
	Parent   string         `json:"parent,omitempty"`   // empty = top level
	Behavior string         `json:"behavior,omitempty"` // registry name, empty = "noop"
	Children string         `json:"children,omitempty"` // "first" | "all" | "none", empty = "first"
	Params   map[string]any `json:"params,omitempty"`
}

// TransitionSpec declares one transition.
type TransitionSpec struct {
	Name     string   `json:"name"`
	Kind     string   `json:"kind"` // one of ValidTransitionKinds
	From     []string `json:"from"`
	To       []string `json:"to"`
	Count    int      `json:"count,omitempty"`    // joins only, 0 = every source
	Duration string   `json:"duration,omitempty"` // timer only
	Match    any      `json:"match,omitempty"`    // tap/data/text filter, nil = any
}

// ValidTransitionKinds defines allowed transition kinds.
var ValidTransitionKinds = map[string]bool{
	"immediate":  true,
	"completion": true,
	"success":    true,
	"failure":    true,
	"timer":      true,
	"tap":        true,
	"data":       true,
	"text":       true,
	"random":     true,
}

// MatchKinds are the transition kinds that accept a match filter.
var MatchKinds = map[string]bool{
	"tap":  true,
	"data": true,
	"text": true,
}

// ValidChildPolicies defines allowed child start policies.
var ValidChildPolicies = map[string]bool{
	"":      true,
	"first": true,
	"all":   true,
	"none":  true,
}

// Node returns the node declared with name.
func (g *GraphSpec) Node(name string) (NodeSpec, bool) {
	for _, n := range g.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return NodeSpec{}, false
}

// Children returns the nodes whose parent is name, in declaration order.
// An empty name returns the top-level nodes.
func (g *GraphSpec) Children(name string) []NodeSpec {
	var out []NodeSpec
	for _, n := range g.Nodes {
		if n.Parent == name {
			out = append(out, n)
		}
	}
	return out
}

// RootName returns the declared root or, failing that, the first
// top-level node.
func (g *GraphSpec) RootName() string {
	if g.Root != "" {
		return g.Root
	}
	if top := g.Children(""); len(top) > 0 {
		return top[0].Name
	}
	return ""
}

// Path returns the slash-separated path of the named node, the same path
// the engine reports for it at run time.
func (g *GraphSpec) Path(name string) string {
	n, ok := g.Node(name)
	if !ok {
		return name
	}
	seen := map[string]bool{name: true}
	path := n.Name
	for n.Parent != "" && !seen[n.Parent] {
		seen[n.Parent] = true
		parent, ok := g.Node(n.Parent)
		if !ok {
			break
		}
		path = parent.Name + "/" + path
		n = parent
	}
	return path
}
