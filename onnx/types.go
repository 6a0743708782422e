// Package onnx holds the subset of the ONNX model format the graph
// rewriter operates on, together with constructors and a wire codec.
//
// The structs mirror the ONNX protobuf messages (onnx.proto) field for
// field, so a model loaded with this package and saved again is
// byte-compatible with onnxruntime and other ONNX tooling for every
// field the rewriter touches.
package onnx

// DataType identifies the element type of a tensor.
type DataType int32

const (
	DataTypeUndefined DataType = 0
	DataTypeFloat     DataType = 1
	DataTypeUint8     DataType = 2
	DataTypeInt8      DataType = 3
	DataTypeUint16    DataType = 4
	DataTypeInt16     DataType = 5
	DataTypeInt32     DataType = 6
	DataTypeInt64     DataType = 7
	DataTypeString    DataType = 8
	DataTypeBool      DataType = 9
	DataTypeFloat16   DataType = 10
	DataTypeDouble    DataType = 11
	DataTypeUint32    DataType = 12
	DataTypeUint64    DataType = 13
	DataTypeBFloat16  DataType = 16
)

func (dt DataType) String() string {
	switch dt {
	case DataTypeFloat:
		return "float32"
	case DataTypeUint8:
		return "uint8"
	case DataTypeInt8:
		return "int8"
	case DataTypeUint16:
		return "uint16"
	case DataTypeInt16:
		return "int16"
	case DataTypeInt32:
		return "int32"
	case DataTypeInt64:
		return "int64"
	case DataTypeString:
		return "string"
	case DataTypeBool:
		return "bool"
	case DataTypeFloat16:
		return "float16"
	case DataTypeDouble:
		return "float64"
	case DataTypeUint32:
		return "uint32"
	case DataTypeUint64:
		return "uint64"
	case DataTypeBFloat16:
		return "bfloat16"
	default:
		return "undefined"
	}
}

// AttributeType tags which value field of an AttributeProto is set.
type AttributeType int32

const (
	AttributeUndefined AttributeType = 0
	AttributeFloat     AttributeType = 1
	AttributeInt       AttributeType = 2
	AttributeString    AttributeType = 3
	AttributeTensor    AttributeType = 4
	AttributeGraph     AttributeType = 5
	AttributeFloats    AttributeType = 6
	AttributeInts      AttributeType = 7
	AttributeStrings   AttributeType = 8
	AttributeTensors   AttributeType = 9
	AttributeGraphs    AttributeType = 10
)

func (at AttributeType) String() string {
	switch at {
	case AttributeFloat:
		return "FLOAT"
	case AttributeInt:
		return "INT"
	case AttributeString:
		return "STRING"
	case AttributeTensor:
		return "TENSOR"
	case AttributeGraph:
		return "GRAPH"
	case AttributeFloats:
		return "FLOATS"
	case AttributeInts:
		return "INTS"
	case AttributeStrings:
		return "STRINGS"
	case AttributeTensors:
		return "TENSORS"
	case AttributeGraphs:
		return "GRAPHS"
	default:
		return "UNDEFINED"
	}
}

// ModelProto is the top-level ONNX model container.
type ModelProto struct {
	IrVersion       int64
	ProducerName    string
	ProducerVersion string
	Domain          string
	ModelVersion    int64
	DocString       string
	Graph           *GraphProto
	OpsetImport     []*OperatorSetIDProto
}

// OperatorSetIDProto declares which operator set a model was built against.
type OperatorSetIDProto struct {
	Domain  string
	Version int64
}

// GraphProto is a named computation graph: an ordered node list plus the
// declared graph-level inputs, outputs and initializers.
type GraphProto struct {
	Node        []*NodeProto
	Name        string
	Initializer []*TensorProto
	DocString   string
	Input       []*ValueInfoProto
	Output      []*ValueInfoProto
	ValueInfo   []*ValueInfoProto
}

// NodeProto is one operator invocation. Inputs and outputs are tensor
// names; an empty name means the optional slot is unused.
type NodeProto struct {
	Input     []string
	Output    []string
	Name      string
	OpType    string
	Attribute []*AttributeProto
	DocString string
	Domain    string
}

// GetAttribute returns the named attribute, or nil if the node does not
// carry it.
func (n *NodeProto) GetAttribute(name string) *AttributeProto {
	for _, attr := range n.Attribute {
		if attr.Name == name {
			return attr
		}
	}
	return nil
}

// AttributeProto is a tagged variant holding one operator attribute.
// Exactly one value field is meaningful, selected by Type.
type AttributeProto struct {
	Name      string
	DocString string
	Type      AttributeType
	F         float32
	I         int64
	S         []byte
	T         *TensorProto
	G         *GraphProto
	Floats    []float32
	Ints      []int64
	Strings   [][]byte
	Tensors   []*TensorProto
	Graphs    []*GraphProto
}

// TensorProto holds a constant tensor (graph initializer or attribute
// value).
type TensorProto struct {
	Dims       []int64
	DataType   DataType
	FloatData  []float32
	Int32Data  []int32
	StringData [][]byte
	Int64Data  []int64
	Name       string
	RawData    []byte
	DocString  string
}

// ValueInfoProto declares the type and shape of a named tensor boundary.
type ValueInfoProto struct {
	Name      string
	Type      *TypeProto
	DocString string
}

// TypeProto wraps the tensor type; other ONNX type kinds (sequence, map)
// are not used by the rewriter.
type TypeProto struct {
	TensorType *TensorTypeProto
}

// TensorTypeProto is the element type and shape of a tensor-valued name.
type TensorTypeProto struct {
	ElemType DataType
	Shape    *TensorShapeProto
}

// TensorShapeProto is an ordered dimension list.
type TensorShapeProto struct {
	Dim []*Dimension
}

// Dimension is one shape entry: symbolic when DimParam is non-empty,
// otherwise fixed at DimValue.
type Dimension struct {
	DimValue   int64
	DimParam   string
	Denotation string
}

// IsSymbolic reports whether the dimension is named rather than fixed.
func (d *Dimension) IsSymbolic() bool {
	return d.DimParam != ""
}
