package graph

import (
	"testing"

	"github.com/tsawler/go-onnx/onnx"
)

// chainModel builds input -> A(MatMul) -> B(Add) -> C(Relu) -> out.
func chainModel(t *testing.T) *Model {
	t.Helper()
	g := &onnx.GraphProto{
		Name: "main",
		Node: []*onnx.NodeProto{
			onnx.MakeNode("MatMul", []string{"input", "weight"}, []string{"a_out"}, "A"),
			onnx.MakeNode("Add", []string{"a_out", "bias"}, []string{"b_out"}, "B"),
			onnx.MakeNode("Relu", []string{"b_out"}, []string{"c_out"}, "C"),
		},
		Input:  []*onnx.ValueInfoProto{onnx.MakeTensorValueInfo("input", onnx.DataTypeFloat, []interface{}{"batch", 8})},
		Output: []*onnx.ValueInfoProto{onnx.MakeTensorValueInfo("c_out", onnx.DataTypeFloat, []interface{}{"batch", 8})},
	}
	m, err := NewModel(&onnx.ModelProto{Graph: g})
	if err != nil {
		t.Fatalf("failed to index model: %v", err)
	}
	return m
}

func TestProducerConsumerIndices(t *testing.T) {
	m := chainModel(t)

	a := m.Producer("a_out")
	if a == nil || a.Name != "A" {
		t.Fatalf("expected A to produce a_out, got %v", a)
	}
	if m.Producer("input") != nil {
		t.Errorf("graph input must have no producer")
	}
	if m.Producer("unbound") != nil {
		t.Errorf("unbound tensor must have no producer")
	}

	consumers := m.Consumers("a_out")
	if len(consumers) != 1 || consumers[0].Name != "B" {
		t.Errorf("expected consumers(a_out) = [B], got %d entries", len(consumers))
	}
	if !m.IsGraphInput("input") {
		t.Errorf("input should be a graph input")
	}
	if m.IsGraphInput("a_out") {
		t.Errorf("a_out is not a graph input")
	}
}

func TestDuplicateProducerRejected(t *testing.T) {
	g := &onnx.GraphProto{
		Name: "main",
		Node: []*onnx.NodeProto{
			onnx.MakeNode("Relu", []string{"x"}, []string{"dup"}, "P1"),
			onnx.MakeNode("Relu", []string{"x"}, []string{"dup"}, "P2"),
		},
	}
	if _, err := NewModel(&onnx.ModelProto{Graph: g}); err == nil {
		t.Fatal("expected error for tensor with two producers")
	}
}

func TestAddNode(t *testing.T) {
	m := chainModel(t)

	n := onnx.MakeNode("Mul", []string{"c_out", "scale"}, []string{"d_out"}, "D")
	if err := m.AddNode(n, ""); err != nil {
		t.Fatalf("failed to add node: %v", err)
	}
	if m.Producer("d_out") != n {
		t.Errorf("added node not indexed as producer")
	}
	if got := m.Consumers("c_out"); len(got) != 1 || got[0] != n {
		t.Errorf("added node not indexed as consumer of c_out")
	}
	if len(m.MainGraph().Node) != 4 {
		t.Errorf("expected 4 nodes in main graph, got %d", len(m.MainGraph().Node))
	}
}

func TestAddNodeNameCollision(t *testing.T) {
	m := chainModel(t)
	n := onnx.MakeNode("Relu", []string{"c_out"}, []string{"x_out"}, "B")
	if err := m.AddNode(n, ""); err == nil {
		t.Fatal("expected collision error for duplicate node name B")
	}
}

func TestAddNodeUnknownScope(t *testing.T) {
	m := chainModel(t)
	n := onnx.MakeNode("Relu", []string{"c_out"}, []string{"x_out"}, "X")
	if err := m.AddNode(n, "no_such_graph"); err == nil {
		t.Fatal("expected error for unknown subgraph scope")
	}
}

func TestCreateNodeNameUniqueness(t *testing.T) {
	g := &onnx.GraphProto{
		Name: "main",
		Node: []*onnx.NodeProto{
			onnx.MakeNode("Relu", []string{"x"}, []string{"y"}, "Attention_1"),
		},
	}
	m, err := NewModel(&onnx.ModelProto{Graph: g})
	if err != nil {
		t.Fatalf("failed to index model: %v", err)
	}

	seen := map[string]bool{"Attention_1": true}
	for i := 0; i < 100; i++ {
		name := m.CreateNodeName("Attention")
		if seen[name] {
			t.Fatalf("generated name %q collides", name)
		}
		seen[name] = true
	}
	// A generated name stays reserved even if never attached to a node.
	for i := 0; i < 100; i++ {
		name := m.CreateNodeName("Transpose")
		if seen[name] {
			t.Fatalf("generated name %q collides", name)
		}
		seen[name] = true
	}
}

func TestRemoveNodesReindex(t *testing.T) {
	m := chainModel(t)
	b := m.Producer("b_out")
	m.RemoveNodes([]*onnx.NodeProto{b})

	if m.Producer("b_out") != nil {
		t.Errorf("removed node still indexed as producer")
	}
	if got := m.Consumers("a_out"); len(got) != 0 {
		t.Errorf("removed node still indexed as consumer, got %d", len(got))
	}
	if len(m.MainGraph().Node) != 2 {
		t.Errorf("expected 2 nodes after removal, got %d", len(m.MainGraph().Node))
	}
}

func TestReplaceInput(t *testing.T) {
	m := chainModel(t)
	c := m.Producer("c_out")

	if err := m.ReplaceInput(c, 0, "a_out"); err != nil {
		t.Fatalf("failed to replace input: %v", err)
	}
	if c.Input[0] != "a_out" {
		t.Errorf("input not rewired, got %q", c.Input[0])
	}
	if got := m.Consumers("b_out"); len(got) != 0 {
		t.Errorf("old consumer entry not dropped, got %d", len(got))
	}
	found := false
	for _, n := range m.Consumers("a_out") {
		if n == c {
			found = true
		}
	}
	if !found {
		t.Errorf("rewired node missing from consumers of a_out")
	}

	if err := m.ReplaceInput(c, 5, "a_out"); err == nil {
		t.Errorf("expected error for out-of-range slot")
	}
}

func TestPruneGraphSweepsOrphanChain(t *testing.T) {
	m := chainModel(t)

	// Dead side chain: its tip feeds nothing, and removing the tip
	// orphans the node upstream of it, so the sweep must iterate.
	dead1 := onnx.MakeNode("Relu", []string{"a_out"}, []string{"dead1_out"}, "Dead1")
	dead2 := onnx.MakeNode("Relu", []string{"dead1_out"}, []string{"dead2_out"}, "Dead2")
	if err := m.AddNode(dead1, ""); err != nil {
		t.Fatalf("add dead1: %v", err)
	}
	if err := m.AddNode(dead2, ""); err != nil {
		t.Fatalf("add dead2: %v", err)
	}

	removed, err := m.PruneGraph()
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 nodes pruned, got %d", removed)
	}
	for _, n := range m.MainGraph().Node {
		if n.Name == "Dead1" || n.Name == "Dead2" {
			t.Errorf("dead node %s survived the sweep", n.Name)
		}
	}
	if len(m.MainGraph().Node) != 3 {
		t.Errorf("live chain damaged, %d nodes left", len(m.MainGraph().Node))
	}
}

func TestPruneGraphKeepsSubgraphReferences(t *testing.T) {
	// A node whose output is only read inside an If-branch body must
	// survive the sweep of the main graph.
	branch := &onnx.GraphProto{
		Name: "then_branch",
		Node: []*onnx.NodeProto{
			onnx.MakeNode("Relu", []string{"side_out"}, []string{"branch_out"}, "BranchRelu"),
		},
		Output: []*onnx.ValueInfoProto{onnx.MakeTensorValueInfo("branch_out", onnx.DataTypeFloat, nil)},
	}
	ifNode := onnx.MakeNode("If", []string{"cond"}, []string{"if_out"}, "IfNode")
	ifNode.Attribute = []*onnx.AttributeProto{{Name: "then_branch", Type: onnx.AttributeGraph, G: branch}}

	g := &onnx.GraphProto{
		Name: "main",
		Node: []*onnx.NodeProto{
			onnx.MakeNode("Relu", []string{"input"}, []string{"side_out"}, "Side"),
			ifNode,
		},
		Input:  []*onnx.ValueInfoProto{onnx.MakeTensorValueInfo("input", onnx.DataTypeFloat, nil)},
		Output: []*onnx.ValueInfoProto{onnx.MakeTensorValueInfo("if_out", onnx.DataTypeFloat, nil)},
	}
	m, err := NewModel(&onnx.ModelProto{Graph: g})
	if err != nil {
		t.Fatalf("failed to index model: %v", err)
	}

	if _, err := m.PruneGraph(); err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if m.Producer("side_out") == nil {
		t.Errorf("node referenced only from subgraph body was pruned")
	}
}

func TestPruneGraphReportsLostOutput(t *testing.T) {
	g := &onnx.GraphProto{
		Name: "main",
		Node: []*onnx.NodeProto{
			onnx.MakeNode("Relu", []string{"input"}, []string{"other"}, "A"),
		},
		Input:  []*onnx.ValueInfoProto{onnx.MakeTensorValueInfo("input", onnx.DataTypeFloat, nil)},
		Output: []*onnx.ValueInfoProto{onnx.MakeTensorValueInfo("missing_out", onnx.DataTypeFloat, nil)},
	}
	m, err := NewModel(&onnx.ModelProto{Graph: g})
	if err != nil {
		t.Fatalf("failed to index model: %v", err)
	}
	if _, err := m.PruneGraph(); err == nil {
		t.Fatal("expected postcondition error for output without producer")
	}
}

func TestTopologicalSortReorders(t *testing.T) {
	// Declared consumer-first; the sort must put producers first.
	g := &onnx.GraphProto{
		Name: "main",
		Node: []*onnx.NodeProto{
			onnx.MakeNode("Relu", []string{"b_out"}, []string{"c_out"}, "C"),
			onnx.MakeNode("Add", []string{"a_out", "bias"}, []string{"b_out"}, "B"),
			onnx.MakeNode("MatMul", []string{"input", "weight"}, []string{"a_out"}, "A"),
		},
		Input:  []*onnx.ValueInfoProto{onnx.MakeTensorValueInfo("input", onnx.DataTypeFloat, nil)},
		Output: []*onnx.ValueInfoProto{onnx.MakeTensorValueInfo("c_out", onnx.DataTypeFloat, nil)},
	}
	m, err := NewModel(&onnx.ModelProto{Graph: g})
	if err != nil {
		t.Fatalf("failed to index model: %v", err)
	}

	if err := m.TopologicalSort(); err != nil {
		t.Fatalf("sort failed: %v", err)
	}
	order := map[string]int{}
	for i, n := range m.MainGraph().Node {
		order[n.Name] = i
	}
	if !(order["A"] < order["B"] && order["B"] < order["C"]) {
		t.Errorf("nodes not in topological order: %v", order)
	}
}

func TestTopologicalSortDetectsCycle(t *testing.T) {
	g := &onnx.GraphProto{
		Name: "main",
		Node: []*onnx.NodeProto{
			onnx.MakeNode("Relu", []string{"b_out"}, []string{"a_out"}, "A"),
			onnx.MakeNode("Relu", []string{"a_out"}, []string{"b_out"}, "B"),
		},
		Output: []*onnx.ValueInfoProto{onnx.MakeTensorValueInfo("b_out", onnx.DataTypeFloat, nil)},
	}
	m, err := NewModel(&onnx.ModelProto{Graph: g})
	if err != nil {
		t.Fatalf("failed to index model: %v", err)
	}
	if err := m.TopologicalSort(); err == nil {
		t.Fatal("expected cycle error")
	}
}
