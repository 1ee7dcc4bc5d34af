package protos

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeTestModel builds a small but representative model: two nodes, an
// initializer with raw data, typed IO with both static and symbolic
// dimensions, attributes and metadata.
func makeTestModel() *ModelProto {
	batch := "batch"
	four := int64(4)
	shape := &TensorShapeProto{Dim: []*TensorShapeProto_Dimension{
		{DimParam: batch},
		{DimValue: &four},
	}}
	vi := func(name string) *ValueInfoProto {
		return &ValueInfoProto{
			Name: name,
			Type: &TypeProto{TensorType: &TypeProto_Tensor{
				ElemType: TensorProto_FLOAT,
				Shape:    shape.Clone(),
			}},
		}
	}
	return &ModelProto{
		IrVersion:    8,
		ProducerName: "test",
		Graph: &GraphProto{
			Name: "main",
			Node: []*NodeProto{
				{
					Name: "transpose0", OpType: "Transpose",
					Input: []string{"X"}, Output: []string{"xt"},
					Attribute: []*AttributeProto{
						{Name: "perm", Type: AttributeProto_INTS, Ints: []int64{1, 0}},
					},
				},
				{
					Name: "matmul0", OpType: "MatMul",
					Input: []string{"xt", "W"}, Output: []string{"Y"},
				},
			},
			Initializer: []*TensorProto{
				{Name: "W", DataType: TensorProto_FLOAT, Dims: []int64{4, 4}, RawData: make([]byte, 4*4*4)},
			},
			Input:     []*ValueInfoProto{vi("X")},
			Output:    []*ValueInfoProto{vi("Y")},
			ValueInfo: []*ValueInfoProto{vi("xt")},
		},
		OpsetImport:   []*OperatorSetIdProto{{Version: 17}},
		MetadataProps: []*StringStringEntryProto{{Key: "split_assignments", Value: "a=0;b=1"}},
	}
}

func TestRoundTrip(t *testing.T) {
	original := makeTestModel()
	encoded := Marshal(original)

	decoded, err := Unmarshal(encoded)
	require.NoError(t, err)

	assert.Equal(t, int64(8), decoded.IrVersion)
	assert.Equal(t, "test", decoded.ProducerName)
	require.Len(t, decoded.OpsetImport, 1)
	assert.Equal(t, int64(17), decoded.OpsetImport[0].Version)
	require.Len(t, decoded.MetadataProps, 1)
	assert.Equal(t, "split_assignments", decoded.MetadataProps[0].Key)
	assert.Equal(t, "a=0;b=1", decoded.MetadataProps[0].Value)

	graph := decoded.Graph
	require.NotNil(t, graph)
	assert.Equal(t, "main", graph.Name)
	require.Len(t, graph.Node, 2)
	assert.Equal(t, "Transpose", graph.Node[0].OpType)
	assert.Equal(t, []string{"xt", "W"}, graph.Node[1].Input)
	require.Len(t, graph.Node[0].Attribute, 1)
	assert.Equal(t, "perm", graph.Node[0].Attribute[0].Name)
	assert.Equal(t, []int64{1, 0}, graph.Node[0].Attribute[0].Ints)

	require.Len(t, graph.Initializer, 1)
	assert.Equal(t, "W", graph.Initializer[0].Name)
	assert.Equal(t, TensorProto_FLOAT, graph.Initializer[0].DataType)
	assert.Equal(t, []int64{4, 4}, graph.Initializer[0].Dims)
	assert.Len(t, graph.Initializer[0].RawData, 64)

	require.Len(t, graph.Input, 1)
	tensorType := graph.Input[0].Type.TensorType
	require.NotNil(t, tensorType)
	assert.Equal(t, TensorProto_FLOAT, tensorType.ElemType)
	require.Len(t, tensorType.Shape.Dim, 2)
	assert.Equal(t, "batch", tensorType.Shape.Dim[0].DimParam)
	require.NotNil(t, tensorType.Shape.Dim[1].DimValue)
	assert.Equal(t, int64(4), *tensorType.Shape.Dim[1].DimValue)
}

// Re-encoding a decoded model must be byte-identical: decoded attributes
// and tensors carry their original wire bytes, and every rebuilt message
// encodes fields in field-number order.
func TestReencodeIsByteIdentical(t *testing.T) {
	encoded := Marshal(makeTestModel())
	decoded, err := Unmarshal(encoded)
	require.NoError(t, err)
	assert.Equal(t, encoded, Marshal(decoded))
}

func TestCloneIsDeep(t *testing.T) {
	node := makeTestModel().Graph.Node[0]
	clone := node.Clone()
	clone.Input[0] = "mutated"
	clone.Attribute[0].Ints[0] = 99
	assert.Equal(t, "X", node.Input[0])
	assert.Equal(t, int64(1), node.Attribute[0].Ints[0])

	tensor := makeTestModel().Graph.Initializer[0]
	tensorClone := tensor.Clone()
	tensorClone.RawData[0] = 0xff
	assert.Equal(t, byte(0), tensor.RawData[0])
}

func TestUnmarshalMalformed(t *testing.T) {
	_, err := Unmarshal([]byte{0xff, 0xff, 0xff})
	require.Error(t, err)
}

// Optional inputs are encoded as empty strings and must survive the trip:
// dropping them would shift the positional meaning of later inputs.
func TestEmptyOptionalInputsPreserved(t *testing.T) {
	model := &ModelProto{Graph: &GraphProto{
		Name: "g",
		Node: []*NodeProto{
			{Name: "clip0", OpType: "Clip", Input: []string{"x", "", "max"}, Output: []string{"y"}},
		},
	}}
	decoded, err := Unmarshal(Marshal(model))
	require.NoError(t, err)
	require.Len(t, decoded.Graph.Node, 1)
	assert.Equal(t, []string{"x", "", "max"}, decoded.Graph.Node[0].Input)
}
