package graph

import (
	"github.com/pkg/errors"
	"github.com/tsawler/go-onnx/onnx"
)

// PruneGraph removes main-graph nodes whose outputs cannot reach any
// declared graph output, to a fixed point (removing one node can orphan
// its upstream producers). Nodes referenced from nested subgraphs count
// as reachable. Returns the number of nodes removed.
//
// After the sweep the declared outputs must still be produced and the
// graph must still sort topologically; a violation means a fusion rule
// misbehaved and is returned as an error rather than discarded.
func (m *Model) PruneGraph() (int, error) {
	main := m.proto.Graph

	keep := make(map[*onnx.NodeProto]bool)
	var frontier []string
	for _, out := range main.Output {
		frontier = append(frontier, out.Name)
	}
	// Tensors consumed inside subgraph bodies may resolve to outer
	// scope producers; treat them as roots too.
	for _, g := range m.graphs {
		if g == main {
			continue
		}
		for _, n := range g.Node {
			frontier = append(frontier, n.Input...)
		}
		for _, out := range g.Output {
			frontier = append(frontier, out.Name)
		}
	}

	for len(frontier) > 0 {
		name := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		producer := m.producers[name]
		if producer == nil || keep[producer] {
			continue
		}
		keep[producer] = true
		frontier = append(frontier, producer.Input...)
	}

	var dead []*onnx.NodeProto
	for _, n := range main.Node {
		if !keep[n] {
			dead = append(dead, n)
		}
	}
	m.RemoveNodes(dead)

	for _, out := range main.Output {
		if m.producers[out.Name] == nil && !m.IsGraphInput(out.Name) && !m.IsInitializer(out.Name) {
			return len(dead), errors.Errorf("graph: declared output %q lost its producer after cleanup", out.Name)
		}
	}
	if err := m.TopologicalSort(); err != nil {
		return len(dead), err
	}
	return len(dead), nil
}

// TopologicalSort reorders every graph's node list producers-first. A
// cycle is a structural violation and is reported with an offending
// node name.
func (m *Model) TopologicalSort() error {
	for _, g := range m.graphs {
		if err := m.sortGraph(g); err != nil {
			return err
		}
	}
	return nil
}

// sortGraph runs Kahn's algorithm over one graph, considering only
// producer edges between nodes of that graph. Ready nodes are taken in
// declaration order so the sort is stable and deterministic.
func (m *Model) sortGraph(g *onnx.GraphProto) error {
	indegree := make(map[*onnx.NodeProto]int, len(g.Node))
	dependents := make(map[*onnx.NodeProto][]*onnx.NodeProto, len(g.Node))
	for _, n := range g.Node {
		for _, in := range n.Input {
			p := m.producers[in]
			if p == nil || m.nodeGraph[p] != g || p == n {
				continue
			}
			indegree[n]++
			dependents[p] = append(dependents[p], n)
		}
	}

	sorted := make([]*onnx.NodeProto, 0, len(g.Node))
	var ready []*onnx.NodeProto
	for _, n := range g.Node {
		if indegree[n] == 0 {
			ready = append(ready, n)
		}
	}
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		sorted = append(sorted, n)
		for _, d := range dependents[n] {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}
	if len(sorted) != len(g.Node) {
		for _, n := range g.Node {
			if indegree[n] > 0 {
				return errors.Errorf("graph: cycle detected involving node %q", n.Name)
			}
		}
		return errors.New("graph: cycle detected")
	}
	g.Node = sorted
	return nil
}
