package fusion

import (
	"strings"

	"github.com/tsawler/go-onnx/onnx"
)

// pastPresentPerm reorders the 5-D past/present cache layout from
// [2, batch, heads, seq, head_size] to the fused Attention kernel's
// [2, heads, seq, batch, head_size].
var pastPresentPerm = []int{0, 2, 3, 1, 4}

// RetypeBoundary rewrites the graph-level input/output declarations the
// attention fusion invalidated. It is a pure metadata transform: the
// attention_mask input narrows to int32 with shape [batch_size,
// seq_len], past/present cache tensors get their declared dims permuted
// to the fused layout, and the logits output narrows to float16. Every
// declaration it does not target is left untouched and declaration
// order is preserved.
func RetypeBoundary(g *onnx.GraphProto) {
	for i, vi := range g.Input {
		switch {
		case vi.Name == "attention_mask":
			g.Input[i] = onnx.MakeTensorValueInfo(
				vi.Name,
				onnx.DataTypeInt32,
				[]interface{}{"batch_size", "seq_len"},
			)
		case strings.Contains(vi.Name, "past"):
			g.Input[i] = permuteValueInfo(vi)
		}
	}
	for i, vi := range g.Output {
		switch {
		case vi.Name == "logits":
			g.Output[i] = retypeValueInfo(vi, onnx.DataTypeFloat16)
		case strings.Contains(vi.Name, "present"):
			g.Output[i] = permuteValueInfo(vi)
		}
	}
}

// permuteValueInfo rebuilds a declaration with its dims reordered by
// pastPresentPerm. Declarations without the expected rank are returned
// unchanged rather than corrupted.
func permuteValueInfo(vi *onnx.ValueInfoProto) *onnx.ValueInfoProto {
	dims := onnx.ShapeOf(vi)
	if len(dims) != len(pastPresentPerm) {
		return vi
	}
	permuted := make([]interface{}, len(dims))
	for i, src := range pastPresentPerm {
		permuted[i] = dims[src]
	}
	return onnx.MakeTensorValueInfo(vi.Name, onnx.ElemTypeOf(vi), permuted)
}

// retypeValueInfo rebuilds a declaration with a new element type and
// the shape it already had.
func retypeValueInfo(vi *onnx.ValueInfoProto, elemType onnx.DataType) *onnx.ValueInfoProto {
	dims := onnx.ShapeOf(vi)
	shape := make([]interface{}, len(dims))
	for i, d := range dims {
		shape[i] = d
	}
	return onnx.MakeTensorValueInfo(vi.Name, elemType, shape)
}
