package graph

import "github.com/tsawler/go-onnx/onnx"

// MatchParentPath walks backward from anchor, one hop per entry in
// opTypes. At step i the walk follows the current node's input at
// inputIndexes[i] (slot 0 when inputIndexes is nil) to its producer and
// requires the producer's operator type to equal opTypes[i]. The walk
// fails on the first type mismatch, on a missing input slot, or when
// the tensor has no producer (graph input or initializer).
//
// On success the result is ordered anchor-outward: element 0 is the
// direct parent, the last element is the far end of the path. A nil
// result is the normal "this candidate does not apply" outcome, never
// an error.
func (m *Model) MatchParentPath(anchor *onnx.NodeProto, opTypes []string, inputIndexes []int) []*onnx.NodeProto {
	if anchor == nil || len(opTypes) == 0 {
		return nil
	}
	if inputIndexes != nil && len(inputIndexes) != len(opTypes) {
		return nil
	}
	matched := make([]*onnx.NodeProto, 0, len(opTypes))
	current := anchor
	for i, opType := range opTypes {
		slot := 0
		if inputIndexes != nil {
			slot = inputIndexes[i]
		}
		if slot < 0 || slot >= len(current.Input) {
			return nil
		}
		tensor := current.Input[slot]
		if tensor == "" {
			return nil
		}
		parent := m.Producer(tensor)
		if parent == nil || parent.OpType != opType {
			return nil
		}
		matched = append(matched, parent)
		current = parent
	}
	return matched
}

// GetParent resolves the producer of one input slot, or nil when the
// slot does not exist or the tensor is a graph boundary.
func (m *Model) GetParent(n *onnx.NodeProto, index int) *onnx.NodeProto {
	if index < 0 || index >= len(n.Input) {
		return nil
	}
	return m.Producer(n.Input[index])
}

// MatchChildPath is the forward counterpart of MatchParentPath: it
// walks through consumers of the output at outputIndexes[i] (slot 0
// when nil) and requires exactly one consumer of the expected type at
// each step. Multiple matching consumers is a match failure; rules that
// want relaxed first-match semantics use FindFirstChildByType.
func (m *Model) MatchChildPath(anchor *onnx.NodeProto, opTypes []string, outputIndexes []int) []*onnx.NodeProto {
	if anchor == nil || len(opTypes) == 0 {
		return nil
	}
	if outputIndexes != nil && len(outputIndexes) != len(opTypes) {
		return nil
	}
	matched := make([]*onnx.NodeProto, 0, len(opTypes))
	current := anchor
	for i, opType := range opTypes {
		slot := 0
		if outputIndexes != nil {
			slot = outputIndexes[i]
		}
		if slot < 0 || slot >= len(current.Output) {
			return nil
		}
		var child *onnx.NodeProto
		for _, c := range m.Consumers(current.Output[slot]) {
			if c.OpType != opType {
				continue
			}
			if child != nil {
				// ambiguous fan-out, not a match
				return nil
			}
			child = c
		}
		if child == nil {
			return nil
		}
		matched = append(matched, child)
		current = child
	}
	return matched
}

// FindFirstChildByType returns the first consumer of any of the node's
// outputs with the given operator type, in node declaration order, or
// nil when there is none.
func (m *Model) FindFirstChildByType(n *onnx.NodeProto, opType string) *onnx.NodeProto {
	if n == nil {
		return nil
	}
	for _, out := range n.Output {
		if out == "" {
			continue
		}
		for _, c := range m.Consumers(out) {
			if c.OpType == opType {
				return c
			}
		}
	}
	return nil
}
