package fusion

import (
	"github.com/tsawler/go-onnx/graph"
	"github.com/tsawler/go-onnx/onnx"
)

// Path templates for the GPT-style attention block with past state.
// These are configuration: they describe one exporter's layout of the
// attention subgraph and make no claim of matching other architectures.
var (
	// The Where node holds the mask condition in slot 0 and the raw
	// scores in slot 1, so the stem hop through it is declared
	// explicitly while the mask path takes the default slot 0.
	attentionStemPath = []string{
		"Reshape", "Transpose", "Reshape", "MatMul", "Reshape",
		"Softmax", "Where", "Reshape", "Add", "Mul", "MatMul",
	}
	attentionStemSlots = []int{0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0}
	attentionQKVPath   = []string{"Transpose", "Reshape", "Add", "Mul", "Split", "Reshape", "Add", "MatMul"}
	attentionQKVSlots  = []int{0, 0, 0, 0, 0, 0, 0, 1}
	attentionMaskPath  = []string{"Slice", "Slice"}
	attentionPastPath  = []string{"Transpose", "Reshape", "Concat", "Squeeze", "Split"}
	attentionPastSlots = []int{1, 0, 0, 0, 0}
)

// AttentionFusion folds a decoder attention subgraph with past state
// into a single com.microsoft Attention node, bracketed by two
// Transpose nodes that adapt the fused node's [seq, batch, hidden]
// layout to the surrounding graph.
type AttentionFusion struct {
	numHeads int64
	scale    float32
}

// NewAttentionFusion configures the rule with the model's head count
// and the attention scale factor (1/sqrt(head_size) of the target
// model).
func NewAttentionFusion(numHeads int64, scale float32) *AttentionFusion {
	return &AttentionFusion{numHeads: numHeads, scale: scale}
}

func (f *AttentionFusion) Name() string {
	return "AttentionFusion"
}

// TriggerOpTypes anchors the scan at the output projection MatMul that
// consumes the attention subgraph's final Reshape.
func (f *AttentionFusion) TriggerOpTypes() []string {
	return []string{"MatMul"}
}

// Fuse matches the attention stem walking up from the candidate, then
// chains three more queries off nodes found by earlier ones: the QKV
// projection path from the query/key MatMul, the mask slicing path from
// the Where node, and the past-state path from the key side of the same
// MatMul. Any miss declines silently with nothing staged.
func (f *AttentionFusion) Fuse(m *graph.Model, node *onnx.NodeProto, staged *Staged) error {
	stem := m.MatchParentPath(node, attentionStemPath, attentionStemSlots)
	if stem == nil {
		return nil
	}
	qkMatMul := stem[len(stem)-1]

	qkv := m.MatchParentPath(qkMatMul, attentionQKVPath, attentionQKVSlots)
	if qkv == nil {
		return nil
	}

	whereNode := stem[len(stem)-5]
	mask := m.MatchParentPath(whereNode, attentionMaskPath, nil)
	if mask == nil {
		return nil
	}

	past := m.MatchParentPath(qkMatMul, attentionPastPath, attentionPastSlots)
	if past == nil {
		return nil
	}

	// The present tensor is assembled downstream of the past Concat:
	// Concat -> Unsqueeze -> Concat. Forward hops tolerate fan-out, so
	// take the first matching child in declaration order.
	concat := past[len(past)-3]
	unsqueeze := m.FindFirstChildByType(concat, "Unsqueeze")
	if unsqueeze == nil {
		return nil
	}
	presentConcat := m.FindFirstChildByType(unsqueeze, "Concat")
	if presentConcat == nil {
		return nil
	}

	qkvProj := qkv[len(qkv)-1]
	if len(qkvProj.Input) < 2 || len(qkv[len(qkv)-2].Input) < 1 ||
		len(mask[len(mask)-1].Input) < 1 || len(past[len(past)-1].Input) < 1 ||
		len(node.Input) < 1 || len(presentConcat.Output) < 1 {
		return nil
	}

	input := qkvProj.Input[0]
	fcWeight := qkvProj.Input[1]
	fcBias := qkv[len(qkv)-2].Input[0]
	attnMask := mask[len(mask)-1].Input[0]
	pastState := past[len(past)-1].Input[0]
	output := node.Input[0]
	present := presentConcat.Output[0]

	scope := ""
	if g := m.GraphOf(node); g != nil {
		scope = g.Name
	}

	attention := onnx.MakeNode(
		"Attention",
		[]string{input, fcWeight, fcBias, attnMask, pastState},
		[]string{output, present},
		m.CreateNodeName("Attention"),
	)
	attention.Domain = "com.microsoft"
	attention.Attribute = []*onnx.AttributeProto{
		onnx.MakeAttributeInt("num_heads", f.numHeads),
		onnx.MakeAttributeInt("unidirectional", 1),
		onnx.MakeAttributeInt("do_rotary", 1),
		onnx.MakeAttributeFloat("scale", f.scale),
	}

	// The fused kernel works in [seq, batch, hidden]; bracket it with
	// layout transposes.
	transposeBefore := makeTransposeNode(m, attention.Input[0], []int64{1, 0, 2}, "")
	attention.Input[0] = transposeBefore.Output[0]
	transposeAfter := makeTransposeNode(m, attention.Output[0], []int64{1, 0, 2}, "")

	staged.AddNode(attention, scope)
	staged.AddNode(transposeBefore, scope)
	staged.AddNode(transposeAfter, scope)
	staged.RewireInput(node, 0, transposeAfter.Output[0])

	staged.RemoveNodes(stem...)
	staged.RemoveNodes(qkv...)
	staged.RemoveNodes(mask...)
	staged.RemoveNodes(past...)
	staged.RemoveNodes(presentConcat)
	return nil
}

// makeTransposeNode builds a Transpose reading the given tensor. When
// outputName is empty a collision-free one is derived from the node
// name and the input.
func makeTransposeNode(m *graph.Model, inputName string, perm []int64, outputName string) *onnx.NodeProto {
	name := m.CreateNodeName("Transpose")
	if outputName == "" {
		outputName = name + "_out-" + inputName
	}
	n := onnx.MakeNode("Transpose", []string{inputName}, []string{outputName}, name)
	n.Attribute = []*onnx.AttributeProto{onnx.MakeAttributeInts("perm", perm)}
	return n
}
