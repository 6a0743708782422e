package onnx

// MakeNode builds a NodeProto from an operator type, ordered input and
// output tensor names, and a node name. Attributes are attached
// separately with the MakeAttribute* constructors.
func MakeNode(opType string, inputs, outputs []string, name string) *NodeProto {
	return &NodeProto{
		OpType: opType,
		Name:   name,
		Input:  append([]string(nil), inputs...),
		Output: append([]string(nil), outputs...),
	}
}

// MakeAttributeInt builds an integer attribute.
func MakeAttributeInt(name string, value int64) *AttributeProto {
	return &AttributeProto{Name: name, Type: AttributeInt, I: value}
}

// MakeAttributeFloat builds a float attribute.
func MakeAttributeFloat(name string, value float32) *AttributeProto {
	return &AttributeProto{Name: name, Type: AttributeFloat, F: value}
}

// MakeAttributeInts builds an integer-list attribute.
func MakeAttributeInts(name string, values []int64) *AttributeProto {
	return &AttributeProto{Name: name, Type: AttributeInts, Ints: append([]int64(nil), values...)}
}

// MakeAttributeFloats builds a float-list attribute.
func MakeAttributeFloats(name string, values []float32) *AttributeProto {
	return &AttributeProto{Name: name, Type: AttributeFloats, Floats: append([]float32(nil), values...)}
}

// MakeAttributeString builds a string attribute.
func MakeAttributeString(name, value string) *AttributeProto {
	return &AttributeProto{Name: name, Type: AttributeString, S: []byte(value)}
}

// Dim builds a fixed dimension.
func Dim(value int64) *Dimension {
	return &Dimension{DimValue: value}
}

// SymbolicDim builds a named dimension.
func SymbolicDim(param string) *Dimension {
	return &Dimension{DimParam: param}
}

// MakeTensorValueInfo declares a named tensor boundary with an element
// type and a shape. Each shape entry is either an int64 (fixed) or a
// string (symbolic).
func MakeTensorValueInfo(name string, elemType DataType, shape []interface{}) *ValueInfoProto {
	dims := make([]*Dimension, 0, len(shape))
	for _, d := range shape {
		switch v := d.(type) {
		case int64:
			dims = append(dims, Dim(v))
		case int:
			dims = append(dims, Dim(int64(v)))
		case string:
			dims = append(dims, SymbolicDim(v))
		case *Dimension:
			dims = append(dims, v)
		}
	}
	return &ValueInfoProto{
		Name: name,
		Type: &TypeProto{
			TensorType: &TensorTypeProto{
				ElemType: elemType,
				Shape:    &TensorShapeProto{Dim: dims},
			},
		},
	}
}

// ShapeOf returns the declared shape of a value info as a dimension
// slice, or nil when no tensor type is declared.
func ShapeOf(vi *ValueInfoProto) []*Dimension {
	if vi == nil || vi.Type == nil || vi.Type.TensorType == nil || vi.Type.TensorType.Shape == nil {
		return nil
	}
	return vi.Type.TensorType.Shape.Dim
}

// ElemTypeOf returns the declared element type of a value info, or
// DataTypeUndefined when no tensor type is declared.
func ElemTypeOf(vi *ValueInfoProto) DataType {
	if vi == nil || vi.Type == nil || vi.Type.TensorType == nil {
		return DataTypeUndefined
	}
	return vi.Type.TensorType.ElemType
}
