package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/tempo/internal/ir"
)

// CausalityLoop is a cycle of reactions connected through ports. Each
// reaction in the loop would have to run before itself within one instant,
// so no priority assignment can satisfy it.
//
// Actions break loops: scheduling is always at least one microstep later,
// so only port edges count.
type CausalityLoop struct {
	Path    []string `json:"path"`    // Loop path: ["a", "b", "a"]
	Message string   `json:"message"` // Human-readable description
}

// AnalyzeCausality finds causality loops among the reactions of spec.
//
// The algorithm:
//  1. Build reaction → reaction edges: writer of a port → readers of it
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or a self-loop
//
// An acyclic program returns an empty list.
func AnalyzeCausality(spec *ir.ProgramSpec) []CausalityLoop {
	graph := buildDependencyGraph(spec)

	loops := []CausalityLoop{}
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			loops = append(loops, sccToLoop(scc, graph))
		}
	}
	return loops
}

// dependencyGraph maps reaction name → reactions that must run after it in
// the same instant. nodes keeps declaration order so results are stable.
type dependencyGraph struct {
	nodes []string
	edges map[string][]string
}

func buildDependencyGraph(spec *ir.ProgramSpec) dependencyGraph {
	graph := dependencyGraph{edges: make(map[string][]string)}

	ports := make(map[string]bool)
	for _, t := range spec.Triggers {
		if t.Kind == "port" {
			ports[t.Name] = true
		}
	}

	// port → reactions triggered by it
	readers := make(map[string][]string)
	for _, r := range spec.Reactions {
		graph.nodes = append(graph.nodes, r.Name)
		for _, t := range r.Triggers {
			if ports[t] {
				readers[t] = append(readers[t], r.Name)
			}
		}
	}

	for _, r := range spec.Reactions {
		for _, e := range r.Effects {
			if !ports[e] {
				continue
			}
			for _, down := range readers[e] {
				if !slices.Contains(graph.edges[r.Name], down) {
					graph.edges[r.Name] = append(graph.edges[r.Name], down)
				}
			}
		}
	}
	return graph
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph dependencyGraph) bool {
	return slices.Contains(graph.edges[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(graph dependencyGraph) [][]string {
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

		for _, w := range graph.edges[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// Root node: pop the stack and create an SCC
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

	for _, node := range graph.nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

func sccToLoop(scc []string, graph dependencyGraph) CausalityLoop {
	if len(scc) == 1 {
		return CausalityLoop{
			Path:    []string{scc[0], scc[0]},
			Message: fmt.Sprintf("reaction %s reads a port it writes", scc[0]),
		}
	}
	path := reconstructCyclePath(scc, graph)
	return CausalityLoop{
		Path:    path,
		Message: fmt.Sprintf("causality loop: %s", strings.Join(path, " → ")),
	}
}

// reconstructCyclePath follows edges inside the SCC from its first member
// until it returns there.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	inSCC := make(map[string]bool, len(scc))
	for _, node := range scc {
		inSCC[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph.edges[current] {
			if inSCC[neighbor] && (!visited[neighbor] || neighbor == start) {
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

// topoOrder orders reactions so every port writer precedes its readers,
// breaking ties by declaration order. It fails on a causality loop.
func topoOrder(spec *ir.ProgramSpec) ([]string, error) {
	graph := buildDependencyGraph(spec)

	indegree := make(map[string]int, len(graph.nodes))
	for _, n := range graph.nodes {
		for _, down := range graph.edges[n] {
			indegree[down]++
		}
	}

	order := make([]string, 0, len(graph.nodes))
	done := make(map[string]bool, len(graph.nodes))
	for len(order) < len(graph.nodes) {
		next := ""
		for _, n := range graph.nodes {
			if !done[n] && indegree[n] == 0 {
				next = n
				break
			}
		}
		if next == "" {
			loops := AnalyzeCausality(spec)
			if len(loops) > 0 {
				return nil, fmt.Errorf("%s", loops[0].Message)
			}
			return nil, fmt.Errorf("reactions cannot be ordered")
		}
		done[next] = true
		order = append(order, next)
		for _, down := range graph.edges[next] {
			indegree[down]--
		}
	}
	return order, nil
}
