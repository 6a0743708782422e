package fusion

import (
	"github.com/tsawler/go-onnx/graph"
	"github.com/tsawler/go-onnx/onnx"
)

// TransposeRemover bypasses a Transpose feeding the first input of a
// layout-insensitive consumer, rewiring the consumer to the transpose's
// source. The transpose node itself is left in place; once nothing
// reads its output the dead-node sweep collects it, and transposes with
// other live consumers survive untouched.
type TransposeRemover struct{}

// NewTransposeRemover builds the rule.
func NewTransposeRemover() *TransposeRemover {
	return &TransposeRemover{}
}

func (f *TransposeRemover) Name() string {
	return "TransposeRemover"
}

func (f *TransposeRemover) TriggerOpTypes() []string {
	return []string{"LayerNormalization", "SkipLayerNormalization", "Attention", "MatMul"}
}

func (f *TransposeRemover) Fuse(m *graph.Model, node *onnx.NodeProto, staged *Staged) error {
	transposeNodes := m.MatchParentPath(node, []string{"Transpose"}, []int{0})
	if transposeNodes == nil {
		return nil
	}
	transpose := transposeNodes[0]
	if len(transpose.Input) < 1 {
		return nil
	}
	staged.RewireInput(node, 0, transpose.Input[0])
	return nil
}
