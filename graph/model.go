// Package graph provides a mutable in-memory view over an ONNX graph:
// producer/consumer indices by tensor name, structural queries, path
// matching, node naming and dead-node cleanup. It is the substrate the
// fusion rules operate on.
package graph

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/tsawler/go-onnx/onnx"
)

// Model wraps an ONNX model with derived edge indices. The indices are
// updated incrementally on every structural mutation, so lookups stay
// cheap during matching. All mutation must go through Model methods;
// writing to the underlying protos directly leaves the indices stale.
type Model struct {
	proto        *onnx.ModelProto
	graphs       []*onnx.GraphProto
	graphsByName map[string]*onnx.GraphProto
	nodeGraph    map[*onnx.NodeProto]*onnx.GraphProto

	// producers maps tensor name to the single node producing it;
	// consumers maps tensor name to the nodes reading it, in node
	// declaration order.
	producers map[string]*onnx.NodeProto
	consumers map[string][]*onnx.NodeProto

	// nodeNames tracks names of indexed nodes; reserved tracks every
	// name CreateNodeName ever handed out, for the model's lifetime.
	nodeNames    map[string]struct{}
	reserved     map[string]struct{}
	nameCounters map[string]int
}

// NewModel indexes an ONNX model. It fails when the model violates the
// single-producer invariant, which indicates a malformed input graph.
func NewModel(proto *onnx.ModelProto) (*Model, error) {
	if proto == nil || proto.Graph == nil {
		return nil, errors.New("graph: model has no graph")
	}
	m := &Model{
		proto:        proto,
		graphsByName: make(map[string]*onnx.GraphProto),
		nodeGraph:    make(map[*onnx.NodeProto]*onnx.GraphProto),
		producers:    make(map[string]*onnx.NodeProto),
		consumers:    make(map[string][]*onnx.NodeProto),
		nodeNames:    make(map[string]struct{}),
		reserved:     make(map[string]struct{}),
		nameCounters: make(map[string]int),
	}
	m.collectGraphs(proto.Graph)
	for _, g := range m.graphs {
		for _, n := range g.Node {
			if err := m.indexNode(n, g); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// collectGraphs registers a graph and every nested subgraph carried in
// node attributes (If/Loop/Scan bodies).
func (m *Model) collectGraphs(g *onnx.GraphProto) {
	m.graphs = append(m.graphs, g)
	m.graphsByName[g.Name] = g
	for _, n := range g.Node {
		for _, attr := range n.Attribute {
			if attr.G != nil {
				m.collectGraphs(attr.G)
			}
			for _, sub := range attr.Graphs {
				m.collectGraphs(sub)
			}
		}
	}
}

// Proto returns the underlying model.
func (m *Model) Proto() *onnx.ModelProto {
	return m.proto
}

// MainGraph returns the top-level graph.
func (m *Model) MainGraph() *onnx.GraphProto {
	return m.proto.Graph
}

// Nodes returns a snapshot of every node across the main graph and all
// nested subgraphs, in declaration order. Safe to iterate while the
// model is mutated.
func (m *Model) Nodes() []*onnx.NodeProto {
	var out []*onnx.NodeProto
	for _, g := range m.graphs {
		out = append(out, g.Node...)
	}
	return out
}

// Producer returns the node producing the named tensor, or nil when the
// name is a graph-level input, an initializer, or unbound.
func (m *Model) Producer(name string) *onnx.NodeProto {
	return m.producers[name]
}

// Consumers returns the nodes reading the named tensor.
func (m *Model) Consumers(name string) []*onnx.NodeProto {
	return m.consumers[name]
}

// GraphOf returns the subgraph a node belongs to, or nil for nodes not
// owned by this model.
func (m *Model) GraphOf(n *onnx.NodeProto) *onnx.GraphProto {
	return m.nodeGraph[n]
}

// IsGraphInput reports whether the name is a declared input of any
// graph in the model.
func (m *Model) IsGraphInput(name string) bool {
	for _, g := range m.graphs {
		for _, vi := range g.Input {
			if vi.Name == name {
				return true
			}
		}
	}
	return false
}

// IsInitializer reports whether the name is bound to a constant tensor.
func (m *Model) IsInitializer(name string) bool {
	for _, g := range m.graphs {
		for _, t := range g.Initializer {
			if t.Name == name {
				return true
			}
		}
	}
	return false
}

// AddNode inserts a node into the named subgraph scope. An empty scope
// targets the main graph. Name collisions and unknown scopes are
// structural violations.
func (m *Model) AddNode(n *onnx.NodeProto, graphName string) error {
	g := m.proto.Graph
	if graphName != "" {
		var ok bool
		g, ok = m.graphsByName[graphName]
		if !ok {
			return errors.Errorf("graph: unknown subgraph scope %q for node %q", graphName, n.Name)
		}
	}
	if n.Name != "" {
		if _, exists := m.nodeNames[n.Name]; exists {
			return errors.Errorf("graph: node name collision %q", n.Name)
		}
	}
	if err := m.indexNode(n, g); err != nil {
		return err
	}
	g.Node = append(g.Node, n)
	return nil
}

// RemoveNodes deletes nodes and reindexes. It does not cascade: callers
// schedule a prune pass when removals can orphan upstream producers.
func (m *Model) RemoveNodes(nodes []*onnx.NodeProto) {
	doomed := make(map[*onnx.NodeProto]bool, len(nodes))
	for _, n := range nodes {
		if m.nodeGraph[n] != nil {
			doomed[n] = true
		}
	}
	if len(doomed) == 0 {
		return
	}
	for n := range doomed {
		m.unindexNode(n)
	}
	for _, g := range m.graphs {
		kept := g.Node[:0]
		for _, n := range g.Node {
			if !doomed[n] {
				kept = append(kept, n)
			}
		}
		g.Node = kept
	}
}

// ReplaceInput rewires one input slot of a node to a new tensor name,
// keeping the consumer index consistent.
func (m *Model) ReplaceInput(n *onnx.NodeProto, index int, name string) error {
	if index < 0 || index >= len(n.Input) {
		return errors.Errorf("graph: node %q has no input slot %d", n.Name, index)
	}
	old := n.Input[index]
	if old == name {
		return nil
	}
	n.Input[index] = name
	if !consumesTensor(n, old) {
		m.consumers[old] = removeConsumer(m.consumers[old], n)
	}
	m.addConsumer(name, n)
	return nil
}

// CreateNodeName generates a name unique against every existing node
// name and every name previously generated by this model.
func (m *Model) CreateNodeName(prefix string) string {
	for {
		m.nameCounters[prefix]++
		name := fmt.Sprintf("%s_%d", prefix, m.nameCounters[prefix])
		_, taken := m.nodeNames[name]
		if !taken {
			_, taken = m.reserved[name]
		}
		if !taken {
			m.reserved[name] = struct{}{}
			return name
		}
	}
}

func (m *Model) indexNode(n *onnx.NodeProto, g *onnx.GraphProto) error {
	for _, out := range n.Output {
		if out == "" {
			continue
		}
		if prev, exists := m.producers[out]; exists && prev != n {
			return errors.Errorf("graph: tensor %q produced by both %q and %q", out, prev.Name, n.Name)
		}
		m.producers[out] = n
	}
	for _, in := range n.Input {
		if in == "" {
			continue
		}
		m.addConsumer(in, n)
	}
	m.nodeGraph[n] = g
	if n.Name != "" {
		m.nodeNames[n.Name] = struct{}{}
	}
	return nil
}

func (m *Model) unindexNode(n *onnx.NodeProto) {
	for _, out := range n.Output {
		if m.producers[out] == n {
			delete(m.producers, out)
		}
	}
	for _, in := range n.Input {
		if in == "" {
			continue
		}
		m.consumers[in] = removeConsumer(m.consumers[in], n)
	}
	delete(m.nodeGraph, n)
	if n.Name != "" {
		delete(m.nodeNames, n.Name)
	}
}

func (m *Model) addConsumer(name string, n *onnx.NodeProto) {
	for _, c := range m.consumers[name] {
		if c == n {
			return
		}
	}
	m.consumers[name] = append(m.consumers[name], n)
}

func consumesTensor(n *onnx.NodeProto, name string) bool {
	for _, in := range n.Input {
		if in == name {
			return true
		}
	}
	return false
}

func removeConsumer(list []*onnx.NodeProto, n *onnx.NodeProto) []*onnx.NodeProto {
	kept := list[:0]
	for _, c := range list {
		if c != n {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}
