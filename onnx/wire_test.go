package onnx

import (
	"reflect"
	"testing"
)

func testModel() *ModelProto {
	attention := MakeNode("Attention",
		[]string{"hidden", "fc_weight", "fc_bias", "attention_mask", "past"},
		[]string{"attn_out", "present"},
		"Attention_1")
	attention.Domain = "com.microsoft"
	attention.Attribute = []*AttributeProto{
		MakeAttributeInt("num_heads", 16),
		MakeAttributeInt("unidirectional", 1),
		MakeAttributeFloat("scale", 0.125),
		MakeAttributeInts("perm", []int64{1, 0, 2}),
		MakeAttributeString("mode", "causal"),
	}
	return &ModelProto{
		IrVersion:    7,
		ProducerName: "go-onnx",
		ModelVersion: 1,
		OpsetImport:  []*OperatorSetIDProto{{Domain: "", Version: 13}},
		Graph: &GraphProto{
			Name: "main",
			Node: []*NodeProto{
				MakeNode("MatMul", []string{"input", "weight"}, []string{"hidden"}, "proj"),
				attention,
			},
			Initializer: []*TensorProto{
				{Name: "weight", DataType: DataTypeFloat, Dims: []int64{4, 4}, FloatData: []float32{1, 2, 3, 4}},
				{Name: "fc_bias", DataType: DataTypeInt64, Dims: []int64{2}, Int64Data: []int64{7, -3}},
			},
			Input: []*ValueInfoProto{
				MakeTensorValueInfo("input", DataTypeFloat, []interface{}{"batch_size", int64(4)}),
				MakeTensorValueInfo("attention_mask", DataTypeInt32, []interface{}{"batch_size", "seq_len"}),
			},
			Output: []*ValueInfoProto{
				MakeTensorValueInfo("attn_out", DataTypeFloat16, []interface{}{"batch_size", int64(4)}),
			},
		},
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	original := testModel()

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	decoded, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if !reflect.DeepEqual(original, decoded) {
		t.Errorf("round trip changed the model:\n got %+v\nwant %+v", decoded, original)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	m := testModel()
	a, err := Marshal(m)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	b, err := Marshal(m)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(a) != string(b) {
		t.Error("marshal is not deterministic")
	}
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	data, err := Marshal(testModel())
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	// Append an unknown varint field (field 99) at the model level.
	data = append(data, 0x98, 0x06, 0x2A)
	if _, err := Unmarshal(data); err != nil {
		t.Errorf("unknown field broke decoding: %v", err)
	}
}

func TestUnmarshalRejectsTruncated(t *testing.T) {
	data, err := Marshal(testModel())
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if _, err := Unmarshal(data[:len(data)/2]); err == nil {
		t.Error("expected error for truncated payload")
	}
}

func TestAttributeTypeInference(t *testing.T) {
	// Some exporters omit the explicit attribute type tag; the decoder
	// recovers it from whichever value field is populated.
	n := MakeNode("Transpose", []string{"x"}, []string{"y"}, "T")
	attr := MakeAttributeInts("perm", []int64{1, 0})
	attr.Type = AttributeUndefined
	n.Attribute = []*AttributeProto{attr}

	data, err := Marshal(&ModelProto{Graph: &GraphProto{Name: "g", Node: []*NodeProto{n}}})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	decoded, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	got := decoded.Graph.Node[0].GetAttribute("perm")
	if got == nil || got.Type != AttributeInts || !reflect.DeepEqual(got.Ints, []int64{1, 0}) {
		t.Errorf("attribute type not inferred: %+v", got)
	}
}
