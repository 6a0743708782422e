// Package fusion implements subgraph pattern fusion for ONNX models: a
// rule framework that matches declared node paths around a candidate
// node and replaces the matched subgraph with a single fused operator,
// plus the concrete rules for transformer attention, bias expansion and
// redundant transposes.
package fusion

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tsawler/go-onnx/graph"
	"github.com/tsawler/go-onnx/onnx"
)

// Rule is one fusion policy. Fuse inspects a candidate node whose
// operator type is in TriggerOpTypes and either stages a replacement or
// declines by returning without staging anything. A nil error with no
// staged mutation is the normal decline path; an error is reserved for
// structural violations that must abort the whole pass.
type Rule interface {
	Name() string
	TriggerOpTypes() []string
	Fuse(m *graph.Model, node *onnx.NodeProto, staged *Staged) error
}

type stagedAdd struct {
	node      *onnx.NodeProto
	graphName string
}

type stagedRewire struct {
	node   *onnx.NodeProto
	index  int
	tensor string
}

// Staged accumulates graph edits during a scan so the live graph stays
// stable until commit.
type Staged struct {
	adds     []stagedAdd
	rewires  []stagedRewire
	removals []*onnx.NodeProto
	removed  map[*onnx.NodeProto]bool
}

// NewStaged returns an empty mutation set.
func NewStaged() *Staged {
	return &Staged{removed: make(map[*onnx.NodeProto]bool)}
}

// AddNode stages a node for insertion into the named subgraph scope
// (empty scope targets the main graph).
func (s *Staged) AddNode(node *onnx.NodeProto, graphName string) {
	s.adds = append(s.adds, stagedAdd{node: node, graphName: graphName})
}

// RewireInput stages the rewiring of one input slot to a new tensor.
func (s *Staged) RewireInput(node *onnx.NodeProto, index int, tensor string) {
	s.rewires = append(s.rewires, stagedRewire{node: node, index: index, tensor: tensor})
}

// RemoveNodes stages nodes for removal.
func (s *Staged) RemoveNodes(nodes ...*onnx.NodeProto) {
	for _, n := range nodes {
		if !s.removed[n] {
			s.removed[n] = true
			s.removals = append(s.removals, n)
		}
	}
}

// Removed reports whether a node is already staged for removal, so the
// scan can skip candidates claimed by an earlier match in the same
// pass.
func (s *Staged) Removed(n *onnx.NodeProto) bool {
	return s.removed[n]
}

// Empty reports whether the pass staged any work.
func (s *Staged) Empty() bool {
	return len(s.adds) == 0 && len(s.rewires) == 0 && len(s.removals) == 0
}

// commit applies removals, then additions, then input rewires. A fused
// replacement takes over the output tensor name of the subgraph it
// replaces, so the matched nodes must leave the producer index before
// the replacement enters it. Staged additions are fresh nodes that were
// never part of the scanned graph, so the removal step cannot touch
// them; the explicit check below guards against a rule staging the same
// node on both sides anyway.
func (s *Staged) commit(m *graph.Model) error {
	for _, add := range s.adds {
		if s.removed[add.node] {
			return errors.Errorf("fusion: node %q staged for both addition and removal", add.node.Name)
		}
	}
	m.RemoveNodes(s.removals)
	for _, add := range s.adds {
		if err := m.AddNode(add.node, add.graphName); err != nil {
			return err
		}
	}
	for _, rw := range s.rewires {
		if err := m.ReplaceInput(rw.node, rw.index, rw.tensor); err != nil {
			return err
		}
	}
	return nil
}

// Apply runs one rewrite pass of a single rule: scan a snapshot of the
// node list, invoke the rule on every trigger candidate, then commit
// the staged additions, rewires and removals and clean up dead nodes.
// The returned flag reports whether the graph changed. Any error leaves
// the scan aborted before commit, except cleanup postcondition failures
// which are reported after the structural edits were applied.
func Apply(m *graph.Model, rule Rule) (bool, error) {
	triggers := make(map[string]bool, len(rule.TriggerOpTypes()))
	for _, t := range rule.TriggerOpTypes() {
		triggers[t] = true
	}

	staged := NewStaged()
	candidates := 0
	for _, node := range m.Nodes() {
		if !triggers[node.OpType] || staged.Removed(node) {
			continue
		}
		candidates++
		if err := rule.Fuse(m, node, staged); err != nil {
			return false, errors.Wrapf(err, "fusion: rule %s on node %q", rule.Name(), node.Name)
		}
	}
	if staged.Empty() {
		logrus.Debugf("fusion: rule %s made no match in %d candidates", rule.Name(), candidates)
		return false, nil
	}
	if err := staged.commit(m); err != nil {
		return false, errors.Wrapf(err, "fusion: rule %s commit", rule.Name())
	}
	pruned, err := m.PruneGraph()
	if err != nil {
		return true, errors.Wrapf(err, "fusion: rule %s cleanup", rule.Name())
	}
	logrus.Debugf("fusion: rule %s fused %d node(s), added %d, pruned %d",
		rule.Name(), len(staged.removals), len(staged.adds), pruned)
	return true, nil
}

// ApplyToFixedPoint re-runs a rule until a pass reports no change and
// returns the number of changing passes.
func ApplyToFixedPoint(m *graph.Model, rule Rule) (int, error) {
	passes := 0
	for {
		changed, err := Apply(m, rule)
		if err != nil {
			return passes, err
		}
		if !changed {
			return passes, nil
		}
		passes++
	}
}

// Pipeline is an ordered rule sequence applied once each.
type Pipeline struct {
	rules []Rule
}

// NewPipeline builds a pipeline from rules in application order.
func NewPipeline(rules ...Rule) *Pipeline {
	return &Pipeline{rules: rules}
}

// Run applies every rule once, in order, and reports whether any pass
// changed the graph.
func (p *Pipeline) Run(m *graph.Model) (bool, error) {
	changed := false
	for _, rule := range p.rules {
		c, err := Apply(m, rule)
		if err != nil {
			return changed, err
		}
		if c {
			logrus.Infof("fusion: rule %s changed the graph", rule.Name())
			changed = true
		}
	}
	return changed, nil
}
