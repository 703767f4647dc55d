// Package render draws graph descriptions as Mermaid flowcharts.
package render

import (
	"fmt"
	"strings"

	"github.com/roach88/statenet/internal/ir"
)

// Overlay marks run state on a rendered graph. Entries are node paths.
type Overlay struct {
	Visited []string
	Running []string
}

// Mermaid renders spec as a Mermaid flowchart.
//
// Nodes with children become subgraphs. Leaves are boxes labelled with
// their name and behavior; the root is a circle when it is a leaf.
// Transitions with one source and one destination are direct edges;
// joins, fan-outs and random choices get a junction node. Edge style
// follows the transition kind:
//   - immediate and joins: solid
//   - timer: dotted
//   - tap, text and data: thick
func Mermaid(spec *ir.GraphSpec, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("flowchart TD\n")

	seen := make(map[string]bool)
	root := spec.RootName()
	var writeNode func(n ir.NodeSpec, depth int)
	writeNode = func(n ir.NodeSpec, depth int) {
		if seen[n.Name] {
			return
		}
		seen[n.Name] = true
		indent := strings.Repeat("    ", depth)
		id := nodeID(spec, n.Name)

		children := spec.Children(n.Name)
		if len(children) == 0 {
			opener, closer := "[", "]"
			if n.Name == root {
				opener, closer = "((", "))"
			}
			fmt.Fprintf(&sb, "%s%s%s\"%s\"%s\n", indent, id, opener, nodeLabel(n), closer)
			return
		}

		fmt.Fprintf(&sb, "%ssubgraph %s[\"%s\"]\n", indent, id, nodeLabel(n))
		if n.Children == "all" || n.Children == "none" {
			fmt.Fprintf(&sb, "%s    direction LR\n", indent)
		}
		for _, c := range children {
			writeNode(c, depth+1)
		}
		fmt.Fprintf(&sb, "%send\n", indent)
	}
	for _, n := range spec.Children("") {
		writeNode(n, 1)
	}

	for _, t := range spec.Transitions {
		writeTransition(&sb, spec, t)
	}

	if overlay != nil {
		sb.WriteString("\n    %% Run overlay\n")
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef running fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")
		writeClass(&sb, "visited", overlay.Visited)
		writeClass(&sb, "running", overlay.Running)
	}

	return sb.String()
}

func writeTransition(sb *strings.Builder, spec *ir.GraphSpec, t ir.TransitionSpec) {
	label := escapeLabel(EdgeLabel(t))
	edge := arrow(t.Kind)

	if len(t.From) == 1 && len(t.To) == 1 {
		fmt.Fprintf(sb, "    %s %s|\"%s\"| %s\n", nodeID(spec, t.From[0]), edge, label, nodeID(spec, t.To[0]))
		return
	}

	junction := "t_" + sanitizeID(t.Name)
	fmt.Fprintf(sb, "    %s{{\"%s\"}}\n", junction, label)
	for _, from := range t.From {
		fmt.Fprintf(sb, "    %s --- %s\n", nodeID(spec, from), junction)
	}
	for _, to := range t.To {
		fmt.Fprintf(sb, "    %s %s %s\n", junction, edge, nodeID(spec, to))
	}
}

func arrow(kind string) string {
	switch kind {
	case "timer":
		return "-.->"
	case "tap", "text", "data":
		return "==>"
	default:
		return "-->"
	}
}

// EdgeLabel describes a transition: its name, kind and the argument that
// decides when it fires.
func EdgeLabel(t ir.TransitionSpec) string {
	desc := t.Kind
	switch t.Kind {
	case "completion", "success", "failure":
		if t.Count > 0 && t.Count < len(t.From) {
			desc = fmt.Sprintf("%s %d/%d", t.Kind, t.Count, len(t.From))
		}
	case "timer":
		desc = t.Kind + " " + t.Duration
	case "tap", "text", "data":
		if t.Match != nil {
			desc = t.Kind + " " + formatMatch(t.Match)
		}
	}
	if t.Name == "" {
		return desc
	}
	return t.Name + ": " + desc
}

func nodeLabel(n ir.NodeSpec) string {
	if n.Behavior == "" {
		return escapeLabel(n.Name)
	}
	return escapeLabel(n.Name) + "<br/>" + escapeLabel(n.Behavior)
}

func writeClass(sb *strings.Builder, class string, paths []string) {
	done := make(map[string]bool)
	for _, p := range paths {
		id := sanitizeID(p)
		if id == "" || done[id] {
			continue
		}
		done[id] = true
		fmt.Fprintf(sb, "    class %s %s;\n", id, class)
	}
}

func nodeID(spec *ir.GraphSpec, name string) string {
	return sanitizeID(spec.Path(name))
}

func escapeLabel(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

func sanitizeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", "/", "_", "\\", "_", " ", "_")
	return r.Replace(id)
}

// OverlayFromRecords builds an overlay from a stored trace: every node
// that started is visited, and nodes whose last record is a start are
// running.
func OverlayFromRecords(records []ir.Record) *Overlay {
	overlay := &Overlay{}
	running := make(map[string]bool)
	var order []string
	for _, r := range records {
		switch r.Type {
		case ir.RecordNodeStarted:
			if _, ok := running[r.Node]; !ok {
				order = append(order, r.Node)
			}
			running[r.Node] = true
		case ir.RecordNodeStopped:
			running[r.Node] = false
		}
	}
	overlay.Visited = order
	for _, p := range order {
		if running[p] {
			overlay.Running = append(overlay.Running, p)
		}
	}
	return overlay
}

func formatMatch(v any) string {
	if b, err := ir.MarshalCanonical(v); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%v", v)
}
