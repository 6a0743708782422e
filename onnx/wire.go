package onnx

import (
	"math"
	"os"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers from onnx.proto. The codec round-trips every field the
// rewriter reads or writes; unknown fields are skipped on decode.
const (
	modelFieldIrVersion       = 1
	modelFieldProducerName    = 2
	modelFieldProducerVersion = 3
	modelFieldDomain          = 4
	modelFieldModelVersion    = 5
	modelFieldDocString       = 6
	modelFieldGraph           = 7
	modelFieldOpsetImport     = 8

	graphFieldNode        = 1
	graphFieldName        = 2
	graphFieldInitializer = 5
	graphFieldDocString   = 10
	graphFieldInput       = 11
	graphFieldOutput      = 12
	graphFieldValueInfo   = 13

	nodeFieldInput     = 1
	nodeFieldOutput    = 2
	nodeFieldName      = 3
	nodeFieldOpType    = 4
	nodeFieldAttribute = 5
	nodeFieldDocString = 6
	nodeFieldDomain    = 7

	attrFieldName      = 1
	attrFieldF         = 2
	attrFieldI         = 3
	attrFieldS         = 4
	attrFieldT         = 5
	attrFieldG         = 6
	attrFieldFloats    = 7
	attrFieldInts      = 8
	attrFieldStrings   = 9
	attrFieldTensors   = 10
	attrFieldGraphs    = 11
	attrFieldDocString = 13
	attrFieldType      = 20

	tensorFieldDims       = 1
	tensorFieldDataType   = 2
	tensorFieldFloatData  = 4
	tensorFieldInt32Data  = 5
	tensorFieldStringData = 6
	tensorFieldInt64Data  = 7
	tensorFieldName       = 8
	tensorFieldRawData    = 9
	tensorFieldDocString  = 12

	valueInfoFieldName      = 1
	valueInfoFieldType      = 2
	valueInfoFieldDocString = 3

	typeFieldTensorType = 1

	tensorTypeFieldElemType = 1
	tensorTypeFieldShape    = 2

	shapeFieldDim = 1

	dimFieldDimValue   = 1
	dimFieldDimParam   = 2
	dimFieldDenotation = 3

	opsetFieldDomain  = 1
	opsetFieldVersion = 2
)

// Marshal serializes a model in the ONNX protobuf wire format.
func Marshal(m *ModelProto) ([]byte, error) {
	if m == nil {
		return nil, errors.New("onnx: cannot marshal nil model")
	}
	return appendModel(nil, m), nil
}

// Unmarshal parses a serialized ONNX model.
func Unmarshal(data []byte) (*ModelProto, error) {
	m, err := parseModel(data)
	if err != nil {
		return nil, errors.Wrap(err, "onnx: unmarshal model")
	}
	return m, nil
}

// LoadModel reads and parses an ONNX model file.
func LoadModel(path string) (*ModelProto, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "onnx: read %s", path)
	}
	return Unmarshal(data)
}

// SaveModel serializes a model and writes it to path.
func SaveModel(m *ModelProto, path string) error {
	data, err := Marshal(m)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "onnx: write %s", path)
	}
	return nil
}

// encoding

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarint(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendFloat(b []byte, num protowire.Number, v float32) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(v))
}

func appendMessage(b []byte, num protowire.Number, body []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, body)
}

func appendModel(b []byte, m *ModelProto) []byte {
	b = appendVarint(b, modelFieldIrVersion, m.IrVersion)
	b = appendString(b, modelFieldProducerName, m.ProducerName)
	b = appendString(b, modelFieldProducerVersion, m.ProducerVersion)
	b = appendString(b, modelFieldDomain, m.Domain)
	b = appendVarint(b, modelFieldModelVersion, m.ModelVersion)
	b = appendString(b, modelFieldDocString, m.DocString)
	if m.Graph != nil {
		b = appendMessage(b, modelFieldGraph, appendGraph(nil, m.Graph))
	}
	for _, op := range m.OpsetImport {
		b = appendMessage(b, modelFieldOpsetImport, appendOpset(nil, op))
	}
	return b
}

func appendOpset(b []byte, op *OperatorSetIDProto) []byte {
	b = appendString(b, opsetFieldDomain, op.Domain)
	b = appendVarint(b, opsetFieldVersion, op.Version)
	return b
}

func appendGraph(b []byte, g *GraphProto) []byte {
	for _, n := range g.Node {
		b = appendMessage(b, graphFieldNode, appendNode(nil, n))
	}
	b = appendString(b, graphFieldName, g.Name)
	for _, t := range g.Initializer {
		b = appendMessage(b, graphFieldInitializer, appendTensor(nil, t))
	}
	b = appendString(b, graphFieldDocString, g.DocString)
	for _, vi := range g.Input {
		b = appendMessage(b, graphFieldInput, appendValueInfo(nil, vi))
	}
	for _, vi := range g.Output {
		b = appendMessage(b, graphFieldOutput, appendValueInfo(nil, vi))
	}
	for _, vi := range g.ValueInfo {
		b = appendMessage(b, graphFieldValueInfo, appendValueInfo(nil, vi))
	}
	return b
}

func appendNode(b []byte, n *NodeProto) []byte {
	for _, in := range n.Input {
		b = protowire.AppendTag(b, nodeFieldInput, protowire.BytesType)
		b = protowire.AppendString(b, in)
	}
	for _, out := range n.Output {
		b = protowire.AppendTag(b, nodeFieldOutput, protowire.BytesType)
		b = protowire.AppendString(b, out)
	}
	b = appendString(b, nodeFieldName, n.Name)
	b = appendString(b, nodeFieldOpType, n.OpType)
	for _, a := range n.Attribute {
		b = appendMessage(b, nodeFieldAttribute, appendAttribute(nil, a))
	}
	b = appendString(b, nodeFieldDocString, n.DocString)
	b = appendString(b, nodeFieldDomain, n.Domain)
	return b
}

func appendAttribute(b []byte, a *AttributeProto) []byte {
	b = appendString(b, attrFieldName, a.Name)
	typ := a.Type
	if typ == AttributeUndefined {
		typ = inferAttributeType(a)
	}
	switch typ {
	case AttributeFloat:
		b = appendFloat(b, attrFieldF, a.F)
	case AttributeInt:
		// zero is a legal attribute value, force the field out
		b = protowire.AppendTag(b, attrFieldI, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.I))
	case AttributeString:
		b = appendBytes(b, attrFieldS, a.S)
	case AttributeTensor:
		if a.T != nil {
			b = appendMessage(b, attrFieldT, appendTensor(nil, a.T))
		}
	case AttributeGraph:
		if a.G != nil {
			b = appendMessage(b, attrFieldG, appendGraph(nil, a.G))
		}
	case AttributeFloats:
		for _, f := range a.Floats {
			b = appendFloat(b, attrFieldFloats, f)
		}
	case AttributeInts:
		for _, i := range a.Ints {
			b = protowire.AppendTag(b, attrFieldInts, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(i))
		}
	case AttributeStrings:
		for _, s := range a.Strings {
			b = appendBytes(b, attrFieldStrings, s)
		}
	case AttributeTensors:
		for _, t := range a.Tensors {
			b = appendMessage(b, attrFieldTensors, appendTensor(nil, t))
		}
	case AttributeGraphs:
		for _, g := range a.Graphs {
			b = appendMessage(b, attrFieldGraphs, appendGraph(nil, g))
		}
	}
	b = appendString(b, attrFieldDocString, a.DocString)
	b = appendVarint(b, attrFieldType, int64(typ))
	return b
}

func appendTensor(b []byte, t *TensorProto) []byte {
	for _, d := range t.Dims {
		b = protowire.AppendTag(b, tensorFieldDims, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(d))
	}
	b = appendVarint(b, tensorFieldDataType, int64(t.DataType))
	if len(t.FloatData) > 0 {
		packed := make([]byte, 0, 4*len(t.FloatData))
		for _, f := range t.FloatData {
			packed = protowire.AppendFixed32(packed, math.Float32bits(f))
		}
		b = appendMessage(b, tensorFieldFloatData, packed)
	}
	if len(t.Int32Data) > 0 {
		packed := make([]byte, 0, len(t.Int32Data))
		for _, v := range t.Int32Data {
			packed = protowire.AppendVarint(packed, uint64(int64(v)))
		}
		b = appendMessage(b, tensorFieldInt32Data, packed)
	}
	for _, s := range t.StringData {
		b = appendBytes(b, tensorFieldStringData, s)
	}
	if len(t.Int64Data) > 0 {
		packed := make([]byte, 0, len(t.Int64Data))
		for _, v := range t.Int64Data {
			packed = protowire.AppendVarint(packed, uint64(v))
		}
		b = appendMessage(b, tensorFieldInt64Data, packed)
	}
	b = appendString(b, tensorFieldName, t.Name)
	if len(t.RawData) > 0 {
		b = appendBytes(b, tensorFieldRawData, t.RawData)
	}
	b = appendString(b, tensorFieldDocString, t.DocString)
	return b
}

func appendValueInfo(b []byte, vi *ValueInfoProto) []byte {
	b = appendString(b, valueInfoFieldName, vi.Name)
	if vi.Type != nil {
		b = appendMessage(b, valueInfoFieldType, appendType(nil, vi.Type))
	}
	b = appendString(b, valueInfoFieldDocString, vi.DocString)
	return b
}

func appendType(b []byte, t *TypeProto) []byte {
	if t.TensorType != nil {
		b = appendMessage(b, typeFieldTensorType, appendTensorType(nil, t.TensorType))
	}
	return b
}

func appendTensorType(b []byte, tt *TensorTypeProto) []byte {
	b = appendVarint(b, tensorTypeFieldElemType, int64(tt.ElemType))
	if tt.Shape != nil {
		b = appendMessage(b, tensorTypeFieldShape, appendShape(nil, tt.Shape))
	}
	return b
}

func appendShape(b []byte, s *TensorShapeProto) []byte {
	for _, d := range s.Dim {
		b = appendMessage(b, shapeFieldDim, appendDim(nil, d))
	}
	return b
}

func appendDim(b []byte, d *Dimension) []byte {
	if d.DimParam != "" {
		b = appendString(b, dimFieldDimParam, d.DimParam)
	} else {
		b = protowire.AppendTag(b, dimFieldDimValue, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(d.DimValue))
	}
	b = appendString(b, dimFieldDenotation, d.Denotation)
	return b
}

// decoding

type fieldVisitor func(num protowire.Number, typ protowire.Type, value []byte) error

// walkFields drives a visitor over every field of one message. The
// value passed for varint and fixed fields is the raw field bytes; for
// length-delimited fields it is the unwrapped payload.
func walkFields(data []byte, visit fieldVisitor) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return errors.New("bad field tag")
		}
		data = data[n:]
		switch typ {
		case protowire.VarintType:
			_, n = protowire.ConsumeVarint(data)
		case protowire.Fixed32Type:
			n = 4
		case protowire.Fixed64Type:
			n = 8
		case protowire.BytesType:
			var payload []byte
			payload, n = protowire.ConsumeBytes(data)
			if n < 0 {
				return errors.New("bad length-delimited field")
			}
			if err := visit(num, typ, payload); err != nil {
				return err
			}
			data = data[n:]
			continue
		default:
			return errors.Errorf("unsupported wire type %d", typ)
		}
		if n < 0 || n > len(data) {
			return errors.New("truncated field")
		}
		if err := visit(num, typ, data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

func decodeVarint(value []byte) (int64, error) {
	v, n := protowire.ConsumeVarint(value)
	if n < 0 {
		return 0, errors.New("bad varint")
	}
	return int64(v), nil
}

func decodeFloat(value []byte) (float32, error) {
	v, n := protowire.ConsumeFixed32(value)
	if n < 0 {
		return 0, errors.New("bad fixed32")
	}
	return math.Float32frombits(v), nil
}

// decodePackedVarints accepts both packed and unpacked encodings of a
// repeated varint field.
func decodePackedVarints(typ protowire.Type, value []byte, out *[]int64) error {
	if typ == protowire.VarintType {
		v, err := decodeVarint(value)
		if err != nil {
			return err
		}
		*out = append(*out, v)
		return nil
	}
	for len(value) > 0 {
		v, n := protowire.ConsumeVarint(value)
		if n < 0 {
			return errors.New("bad packed varint")
		}
		*out = append(*out, int64(v))
		value = value[n:]
	}
	return nil
}

func decodePackedFloats(typ protowire.Type, value []byte, out *[]float32) error {
	if typ == protowire.Fixed32Type {
		f, err := decodeFloat(value)
		if err != nil {
			return err
		}
		*out = append(*out, f)
		return nil
	}
	for len(value) > 0 {
		v, n := protowire.ConsumeFixed32(value)
		if n < 0 {
			return errors.New("bad packed float")
		}
		*out = append(*out, math.Float32frombits(v))
		value = value[n:]
	}
	return nil
}

func parseModel(data []byte) (*ModelProto, error) {
	m := &ModelProto{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, value []byte) error {
		switch num {
		case modelFieldIrVersion:
			v, err := decodeVarint(value)
			m.IrVersion = v
			return err
		case modelFieldProducerName:
			m.ProducerName = string(value)
		case modelFieldProducerVersion:
			m.ProducerVersion = string(value)
		case modelFieldDomain:
			m.Domain = string(value)
		case modelFieldModelVersion:
			v, err := decodeVarint(value)
			m.ModelVersion = v
			return err
		case modelFieldDocString:
			m.DocString = string(value)
		case modelFieldGraph:
			g, err := parseGraph(value)
			if err != nil {
				return errors.Wrap(err, "graph")
			}
			m.Graph = g
		case modelFieldOpsetImport:
			op, err := parseOpset(value)
			if err != nil {
				return err
			}
			m.OpsetImport = append(m.OpsetImport, op)
		}
		return nil
	})
	return m, err
}

func parseOpset(data []byte) (*OperatorSetIDProto, error) {
	op := &OperatorSetIDProto{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, value []byte) error {
		switch num {
		case opsetFieldDomain:
			op.Domain = string(value)
		case opsetFieldVersion:
			v, err := decodeVarint(value)
			op.Version = v
			return err
		}
		return nil
	})
	return op, err
}

func parseGraph(data []byte) (*GraphProto, error) {
	g := &GraphProto{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, value []byte) error {
		switch num {
		case graphFieldNode:
			n, err := parseNode(value)
			if err != nil {
				return errors.Wrap(err, "node")
			}
			g.Node = append(g.Node, n)
		case graphFieldName:
			g.Name = string(value)
		case graphFieldInitializer:
			t, err := parseTensor(value)
			if err != nil {
				return errors.Wrap(err, "initializer")
			}
			g.Initializer = append(g.Initializer, t)
		case graphFieldDocString:
			g.DocString = string(value)
		case graphFieldInput:
			vi, err := parseValueInfo(value)
			if err != nil {
				return errors.Wrap(err, "input")
			}
			g.Input = append(g.Input, vi)
		case graphFieldOutput:
			vi, err := parseValueInfo(value)
			if err != nil {
				return errors.Wrap(err, "output")
			}
			g.Output = append(g.Output, vi)
		case graphFieldValueInfo:
			vi, err := parseValueInfo(value)
			if err != nil {
				return errors.Wrap(err, "value_info")
			}
			g.ValueInfo = append(g.ValueInfo, vi)
		}
		return nil
	})
	return g, err
}

func parseNode(data []byte) (*NodeProto, error) {
	n := &NodeProto{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, value []byte) error {
		switch num {
		case nodeFieldInput:
			n.Input = append(n.Input, string(value))
		case nodeFieldOutput:
			n.Output = append(n.Output, string(value))
		case nodeFieldName:
			n.Name = string(value)
		case nodeFieldOpType:
			n.OpType = string(value)
		case nodeFieldAttribute:
			a, err := parseAttribute(value)
			if err != nil {
				return errors.Wrap(err, "attribute")
			}
			n.Attribute = append(n.Attribute, a)
		case nodeFieldDocString:
			n.DocString = string(value)
		case nodeFieldDomain:
			n.Domain = string(value)
		}
		return nil
	})
	return n, err
}

func parseAttribute(data []byte) (*AttributeProto, error) {
	a := &AttributeProto{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, value []byte) error {
		switch num {
		case attrFieldName:
			a.Name = string(value)
		case attrFieldF:
			f, err := decodeFloat(value)
			a.F = f
			return err
		case attrFieldI:
			v, err := decodeVarint(value)
			a.I = v
			return err
		case attrFieldS:
			a.S = append([]byte(nil), value...)
		case attrFieldT:
			t, err := parseTensor(value)
			if err != nil {
				return err
			}
			a.T = t
		case attrFieldG:
			g, err := parseGraph(value)
			if err != nil {
				return err
			}
			a.G = g
		case attrFieldFloats:
			return decodePackedFloats(typ, value, &a.Floats)
		case attrFieldInts:
			return decodePackedVarints(typ, value, &a.Ints)
		case attrFieldStrings:
			a.Strings = append(a.Strings, append([]byte(nil), value...))
		case attrFieldTensors:
			t, err := parseTensor(value)
			if err != nil {
				return err
			}
			a.Tensors = append(a.Tensors, t)
		case attrFieldGraphs:
			g, err := parseGraph(value)
			if err != nil {
				return err
			}
			a.Graphs = append(a.Graphs, g)
		case attrFieldDocString:
			a.DocString = string(value)
		case attrFieldType:
			v, err := decodeVarint(value)
			a.Type = AttributeType(v)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if a.Type == AttributeUndefined {
		a.Type = inferAttributeType(a)
	}
	return a, nil
}

// inferAttributeType recovers the variant tag for producers that omit
// the explicit type field.
func inferAttributeType(a *AttributeProto) AttributeType {
	switch {
	case len(a.Floats) > 0:
		return AttributeFloats
	case len(a.Ints) > 0:
		return AttributeInts
	case len(a.Strings) > 0:
		return AttributeStrings
	case len(a.Tensors) > 0:
		return AttributeTensors
	case len(a.Graphs) > 0:
		return AttributeGraphs
	case a.T != nil:
		return AttributeTensor
	case a.G != nil:
		return AttributeGraph
	case len(a.S) > 0:
		return AttributeString
	case a.F != 0:
		return AttributeFloat
	default:
		return AttributeInt
	}
}

func parseTensor(data []byte) (*TensorProto, error) {
	t := &TensorProto{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, value []byte) error {
		switch num {
		case tensorFieldDims:
			return decodePackedVarints(typ, value, &t.Dims)
		case tensorFieldDataType:
			v, err := decodeVarint(value)
			t.DataType = DataType(v)
			return err
		case tensorFieldFloatData:
			return decodePackedFloats(typ, value, &t.FloatData)
		case tensorFieldInt32Data:
			var vs []int64
			if err := decodePackedVarints(typ, value, &vs); err != nil {
				return err
			}
			for _, v := range vs {
				t.Int32Data = append(t.Int32Data, int32(v))
			}
		case tensorFieldStringData:
			t.StringData = append(t.StringData, append([]byte(nil), value...))
		case tensorFieldInt64Data:
			return decodePackedVarints(typ, value, &t.Int64Data)
		case tensorFieldName:
			t.Name = string(value)
		case tensorFieldRawData:
			t.RawData = append([]byte(nil), value...)
		case tensorFieldDocString:
			t.DocString = string(value)
		}
		return nil
	})
	return t, err
}

func parseValueInfo(data []byte) (*ValueInfoProto, error) {
	vi := &ValueInfoProto{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, value []byte) error {
		switch num {
		case valueInfoFieldName:
			vi.Name = string(value)
		case valueInfoFieldType:
			t, err := parseType(value)
			if err != nil {
				return err
			}
			vi.Type = t
		case valueInfoFieldDocString:
			vi.DocString = string(value)
		}
		return nil
	})
	return vi, err
}

func parseType(data []byte) (*TypeProto, error) {
	t := &TypeProto{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, value []byte) error {
		if num == typeFieldTensorType {
			tt, err := parseTensorType(value)
			if err != nil {
				return err
			}
			t.TensorType = tt
		}
		return nil
	})
	return t, err
}

func parseTensorType(data []byte) (*TensorTypeProto, error) {
	tt := &TensorTypeProto{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, value []byte) error {
		switch num {
		case tensorTypeFieldElemType:
			v, err := decodeVarint(value)
			tt.ElemType = DataType(v)
			return err
		case tensorTypeFieldShape:
			s, err := parseShape(value)
			if err != nil {
				return err
			}
			tt.Shape = s
		}
		return nil
	})
	return tt, err
}

func parseShape(data []byte) (*TensorShapeProto, error) {
	s := &TensorShapeProto{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, value []byte) error {
		if num == shapeFieldDim {
			d, err := parseDim(value)
			if err != nil {
				return err
			}
			s.Dim = append(s.Dim, d)
		}
		return nil
	})
	return s, err
}

func parseDim(data []byte) (*Dimension, error) {
	d := &Dimension{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, value []byte) error {
		switch num {
		case dimFieldDimValue:
			v, err := decodeVarint(value)
			d.DimValue = v
			return err
		case dimFieldDimParam:
			d.DimParam = string(value)
		case dimFieldDenotation:
			d.Denotation = string(value)
		}
		return nil
	})
	return d, err
}
