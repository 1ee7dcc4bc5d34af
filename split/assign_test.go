package split

import (
	"testing"

	"github.com/admin-relentlessglobal/Olive/internal/protos"
	"github.com/admin-relentlessglobal/Olive/onnx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeValueInfo(name string, dims ...int64) *protos.ValueInfoProto {
	shape := &protos.TensorShapeProto{}
	for _, d := range dims {
		d := d
		shape.Dim = append(shape.Dim, &protos.TensorShapeProto_Dimension{DimValue: &d})
	}
	return &protos.ValueInfoProto{
		Name: name,
		Type: &protos.TypeProto{TensorType: &protos.TypeProto_Tensor{
			ElemType: protos.TensorProto_FLOAT,
			Shape:    shape,
		}},
	}
}

func makeNode(name, opType string, inputs, outputs []string) *protos.NodeProto {
	return &protos.NodeProto{Name: name, OpType: opType, Input: inputs, Output: outputs}
}

func makeFloatInitializer(name string, dims ...int64) *protos.TensorProto {
	numElements := int64(1)
	for _, d := range dims {
		numElements *= d
	}
	return &protos.TensorProto{
		Name:      name,
		DataType:  protos.TensorProto_FLOAT,
		Dims:      dims,
		FloatData: make([]float32, numElements),
	}
}

func mustDAG(t *testing.T, graph *protos.GraphProto) *onnx.DAG {
	t.Helper()
	dag, err := onnx.NewDAG(graph)
	require.NoError(t, err)
	return dag
}

func TestParseAssignments(t *testing.T) {
	assignments, err := ParseAssignments("encoder=0;decoder.block=1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"encoder": 0, "decoder.block": 1}, assignments)

	for _, malformed := range []string{"", "encoder", "=0", "encoder=x", "encoder=-1"} {
		_, err := ParseAssignments(malformed)
		assert.Error(t, err, "value %q", malformed)
	}
}

func TestNumSplits(t *testing.T) {
	n, err := numSplits(map[string]int{"a": 0, "b": 1, "c": 1, "d": 2})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Indices must be exactly 0..n-1.
	_, err = numSplits(map[string]int{"a": 0, "b": 2})
	require.ErrorContains(t, err, "index 1 is missing")
}

func TestNamespaceDepth(t *testing.T) {
	depth, err := namespaceDepth(map[string]int{"model.layers.0": 0, "model.layers.1": 1})
	require.NoError(t, err)
	assert.Equal(t, 3, depth)

	_, err = namespaceDepth(map[string]int{"model.layers.0": 0, "model": 1})
	require.ErrorContains(t, err, "non-uniform depth")

	_, err = namespaceDepth(map[string]int{})
	require.ErrorContains(t, err, "no split assignments")
}

func TestNodeNamespace(t *testing.T) {
	assert.Equal(t, "model.layers", nodeNamespace("/model/layers/0/attn/MatMul", 2))
	assert.Equal(t, "model", nodeNamespace("model.layers.0", 1))
	// Shallow names are used whole.
	assert.Equal(t, "gemm0", nodeNamespace("gemm0", 3))
}

// pipelineGraph is the shared assignment fixture:
//
//	X -> pre -> layer0/fc -> mid -> layer1/fc -> post -> Y
//	          konst -> (layer0/fc, layer1/fc)
//	X -> side -> S
//
// With layer0=0 and layer1=1, "pre" and "side" sit before the first split,
// "mid" between the splits and "post" after the last one.
func pipelineGraph() *protos.GraphProto {
	return &protos.GraphProto{
		Name: "pipeline",
		Node: []*protos.NodeProto{
			makeNode("pre", "Relu", []string{"X"}, []string{"p"}),
			makeNode("konst", "Constant", nil, []string{"k"}),
			makeNode("/layer0/fc", "Add", []string{"p", "k"}, []string{"a0"}),
			makeNode("mid", "Relu", []string{"a0"}, []string{"m"}),
			makeNode("/layer1/fc", "Add", []string{"m", "k"}, []string{"b1"}),
			makeNode("post", "Relu", []string{"b1"}, []string{"Y"}),
			makeNode("side", "Relu", []string{"X"}, []string{"S"}),
		},
		Input:  []*protos.ValueInfoProto{makeValueInfo("X", 1, 4)},
		Output: []*protos.ValueInfoProto{makeValueInfo("Y", 1, 4), makeValueInfo("S", 1, 4)},
	}
}

func pipelineAssignments() map[string]int {
	return map[string]int{"layer0": 0, "layer1": 1}
}

func TestAssignNodesInclusive(t *testing.T) {
	dag := mustDAG(t, pipelineGraph())
	result := assignNodes(dag, pipelineAssignments(), 1, true)

	assert.Equal(t, map[string]assignment{
		"pre":        singleSplit(0), // pulled forward into the first split it feeds
		"/layer0/fc": singleSplit(0),
		"mid":        singleSplit(0), // latest assigned parent
		"/layer1/fc": singleSplit(1),
		"post":       singleSplit(1), // latest assigned parent
		"side":       singleSplit(0), // no path to any split: defaults to 0
		"konst":      replicatedSplits([]int{0, 1}),
	}, result)
}

func TestAssignNodesExclusive(t *testing.T) {
	dag := mustDAG(t, pipelineGraph())
	result := assignNodes(dag, pipelineAssignments(), 1, false)

	// "pre" has a non-constant unassigned input, "post" has no forward path
	// to a split and "side" has neither: all three are dropped.
	assert.Equal(t, map[string]assignment{
		"/layer0/fc": singleSplit(0),
		"mid":        singleSplit(0),
		"/layer1/fc": singleSplit(1),
		"konst":      replicatedSplits([]int{0, 1}),
	}, result)
}

func TestAssignNodesExclusiveAllConstantInputs(t *testing.T) {
	// An unlabeled head whose inputs are all initializers is pulled
	// just-in-time into the first split that needs its value.
	graph := &protos.GraphProto{
		Name: "constHead",
		Node: []*protos.NodeProto{
			makeNode("prep", "Relu", []string{"W"}, []string{"w0"}),
			makeNode("/layer0/fc", "Add", []string{"X", "w0"}, []string{"Y"}),
		},
		Initializer: []*protos.TensorProto{makeFloatInitializer("W", 4)},
		Input:       []*protos.ValueInfoProto{makeValueInfo("X", 4)},
		Output:      []*protos.ValueInfoProto{makeValueInfo("Y", 4)},
	}
	result := assignNodes(mustDAG(t, graph), map[string]int{"layer0": 0}, 1, false)
	assert.Equal(t, map[string]assignment{
		"prep":       singleSplit(0),
		"/layer0/fc": singleSplit(0),
	}, result)
}

func TestAssignNodesExclusiveCastReconciliation(t *testing.T) {
	// Single-consumer Cast nodes straddling the graph boundary are pulled
	// into the adjacent split: Input -> Cast -> split, split -> Cast -> Output.
	graph := &protos.GraphProto{
		Name: "casts",
		Node: []*protos.NodeProto{
			makeNode("castIn", "Cast", []string{"X"}, []string{"c"}),
			makeNode("/layer0/fc", "Relu", []string{"c"}, []string{"a0"}),
			makeNode("castOut", "Cast", []string{"a0"}, []string{"Y"}),
		},
		Input:  []*protos.ValueInfoProto{makeValueInfo("X", 4)},
		Output: []*protos.ValueInfoProto{makeValueInfo("Y", 4)},
	}
	result := assignNodes(mustDAG(t, graph), map[string]int{"layer0": 0}, 1, false)
	assert.Equal(t, map[string]assignment{
		"castIn":     singleSplit(0),
		"/layer0/fc": singleSplit(0),
		"castOut":    singleSplit(0),
	}, result)
}

func TestAssignNodesExclusiveCastWithFanOutStays(t *testing.T) {
	// A boundary Cast with more than one consumer is not reconciled.
	graph := &protos.GraphProto{
		Name: "castFanOut",
		Node: []*protos.NodeProto{
			makeNode("castIn", "Cast", []string{"X"}, []string{"c"}),
			makeNode("/layer0/fc", "Relu", []string{"c"}, []string{"a0"}),
			makeNode("/layer0/fc2", "Add", []string{"c", "a0"}, []string{"Y"}),
		},
		Input:  []*protos.ValueInfoProto{makeValueInfo("X", 4)},
		Output: []*protos.ValueInfoProto{makeValueInfo("Y", 4)},
	}
	result := assignNodes(mustDAG(t, graph), map[string]int{"layer0": 0}, 1, false)
	_, found := result["castIn"]
	assert.False(t, found)
}

func TestAssignNodesDropsUnreachedConstant(t *testing.T) {
	// A constant consumed only by dropped nodes is itself dropped.
	graph := &protos.GraphProto{
		Name: "deadConst",
		Node: []*protos.NodeProto{
			makeNode("/layer0/fc", "Relu", []string{"X"}, []string{"a0"}),
			makeNode("konst", "Constant", nil, []string{"k"}),
			makeNode("post", "Add", []string{"a0", "k"}, []string{"Y"}),
		},
		Input:  []*protos.ValueInfoProto{makeValueInfo("X", 4)},
		Output: []*protos.ValueInfoProto{makeValueInfo("Y", 4)},
	}
	result := assignNodes(mustDAG(t, graph), map[string]int{"layer0": 0}, 1, false)
	assert.Equal(t, map[string]assignment{
		"/layer0/fc": singleSplit(0),
	}, result)
}
