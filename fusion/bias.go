package fusion

import (
	"github.com/tsawler/go-onnx/graph"
	"github.com/tsawler/go-onnx/onnx"
)

// BiasFusion removes the Expand(bias, Shape(x)) idiom some exporters
// emit before a broadcast Add: the Add broadcasts on its own, so its
// second input is rewired straight to the un-expanded bias and the
// Expand/Shape pair is dropped.
type BiasFusion struct{}

// NewBiasFusion builds the rule.
func NewBiasFusion() *BiasFusion {
	return &BiasFusion{}
}

func (f *BiasFusion) Name() string {
	return "BiasFusion"
}

func (f *BiasFusion) TriggerOpTypes() []string {
	return []string{"Add"}
}

func (f *BiasFusion) Fuse(m *graph.Model, node *onnx.NodeProto, staged *Staged) error {
	expandNodes := m.MatchParentPath(node, []string{"Expand", "Shape"}, []int{1, 1})
	if expandNodes == nil {
		return nil
	}
	expand := expandNodes[0]
	if len(expand.Input) < 1 {
		return nil
	}
	staged.RewireInput(node, 1, expand.Input[0])
	staged.RemoveNodes(expandNodes...)
	return nil
}
