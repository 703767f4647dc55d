package compiler

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/statenet/internal/ir"
)

// CycleWarning represents a loop of transitions that never waits.
//
// Loops are warnings, not errors, because a random transition inside one
// may be intended to settle eventually. A loop made only of immediate
// transitions spins until the scheduler's tick quota stops the run.
type CycleWarning struct {
	Path    []string `json:"path"`    // Transition names: ["a", "b", "a"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning" or "info"
}

// AnalyzeCycles finds loops of eager transitions in a graph.
//
// An eager transition (immediate or random) fires on the scheduler's next
// turn without waiting for time or input. The analysis:
//  1. Builds a transition → transition graph: a → b when both are eager
//     and b leaves a node that a enters
//  2. Uses Tarjan's algorithm to find strongly connected components
//  3. Reports each SCC with size > 1 or a self-loop
//
// A loop with only immediate transitions is a "warning"; one that passes
// through a random transition may leave it and is reported as "info".
// Output order follows transition declaration order.
func AnalyzeCycles(spec *ir.GraphSpec) []CycleWarning {
	graph, order := buildEagerGraph(spec)
	if len(order) == 0 {
		return []CycleWarning{}
	}

	sccs := tarjanSCC(graph, order)

	position := make(map[string]int, len(order))
	for i, name := range order {
		position[name] = i
	}
	kinds := make(map[string]string, len(spec.Transitions))
	for _, t := range spec.Transitions {
		kinds[t.Name] = t.Kind
	}

	warnings := []CycleWarning{}
	for _, scc := range sccs {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			sortByPosition(scc, position)
			warnings = append(warnings, cycleSCCToWarning(scc, graph, kinds))
		}
	}
	sortWarnings(warnings, position)
	return warnings
}

// dependencyGraph maps transition name → transitions it can enable.
type dependencyGraph map[string][]string

func isEager(kind string) bool {
	return kind == "immediate" || kind == "random"
}

// buildEagerGraph returns the graph plus its vertices in declaration order.
func buildEagerGraph(spec *ir.GraphSpec) (dependencyGraph, []string) {
	graph := make(dependencyGraph)
	var order []string

	// node → eager transitions leaving it
	leaving := make(map[string][]string)
	for _, t := range spec.Transitions {
		if !isEager(t.Kind) {
			continue
		}
		if _, dup := graph[t.Name]; dup {
			continue
		}
		graph[t.Name] = []string{}
		order = append(order, t.Name)
		for _, src := range t.From {
			leaving[src] = append(leaving[src], t.Name)
		}
	}

	for _, t := range spec.Transitions {
		if !isEager(t.Kind) {
			continue
		}
		seen := make(map[string]bool)
		for _, dst := range t.To {
			for _, next := range leaving[dst] {
				if !seen[next] {
					seen[next] = true
					graph[t.Name] = append(graph[t.Name], next)
				}
			}
		}
	}

	return graph, order
}

// hasSelfLoop checks if a vertex has an edge to itself.
func hasSelfLoop(node string, graph dependencyGraph) bool {
	for _, neighbor := range graph[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm,
// visiting roots in the given order.
func tarjanSCC(graph dependencyGraph, order []string) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, node := range order {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

func cycleSCCToWarning(scc []string, graph dependencyGraph, kinds map[string]string) CycleWarning {
	level := "warning"
	for _, name := range scc {
		if kinds[name] == "random" {
			level = "info"
			break
		}
	}

	if len(scc) == 1 {
		name := scc[0]
		return CycleWarning{
			Path:    []string{name, name},
			Message: fmt.Sprintf("Transition re-enters its own source: %s → %s", name, name),
			Level:   level,
		}
	}

	path := reconstructCyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("Transitions loop without waiting: %s", strings.Join(path, " → ")),
		Level:   level,
	}
}

// reconstructCyclePath follows edges inside the SCC from its first member
// until it returns there.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	sccSet := make(map[string]bool)
	for _, node := range scc {
		sccSet[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if sccSet[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}

		if next == "" {
			break
		}

		path = append(path, next)

		if next == start {
			break
		}

		current = next
	}

	return path
}

func sortByPosition(names []string, position map[string]int) {
	slices.SortFunc(names, func(a, b string) int {
		return cmp.Compare(position[a], position[b])
	})
}

func sortWarnings(ws []CycleWarning, position map[string]int) {
	slices.SortFunc(ws, func(a, b CycleWarning) int {
		return cmp.Compare(position[a.Path[0]], position[b.Path[0]])
	})
}
