package benchmarks

import (
	"flag"
	"fmt"
	"strings"
	"testing"

	"github.com/admin-relentlessglobal/Olive/internal/protos"
	"github.com/admin-relentlessglobal/Olive/onnx"
	"github.com/admin-relentlessglobal/Olive/split"
	"github.com/janpfeifer/go-benchmarks"
	"github.com/janpfeifer/must"
)

var flagBenchDuration = flag.Duration("bench_duration", 0,
	"Benchmark duration, typically use 10 seconds. If left as 0, benchmark tests are disabled")

// makeLayeredModel builds a synthetic transformer-like chain of numLayers
// Add+Relu layers, each with its own weight initializer, annotated with
// split assignments distributing the layers over numSplits stages.
func makeLayeredModel(numLayers, numSplits int) *onnx.Model {
	const width = 256
	graph := &protos.GraphProto{
		Name:   fmt.Sprintf("layered_%d", numLayers),
		Input:  []*protos.ValueInfoProto{makeBenchValueInfo("X", 1, width)},
		Output: []*protos.ValueInfoProto{makeBenchValueInfo("Y", 1, width)},
	}

	assignments := make([]string, 0, numLayers)
	layersPerSplit := (numLayers + numSplits - 1) / numSplits
	previous := "X"
	for layer := range numLayers {
		weight := fmt.Sprintf("layer%d_w", layer)
		sum := fmt.Sprintf("layer%d_sum", layer)
		activation := fmt.Sprintf("layer%d_out", layer)
		if layer == numLayers-1 {
			activation = "Y"
		}
		graph.Initializer = append(graph.Initializer, &protos.TensorProto{
			Name:      weight,
			DataType:  protos.TensorProto_FLOAT,
			Dims:      []int64{width},
			FloatData: make([]float32, width),
		})
		graph.Node = append(graph.Node,
			&protos.NodeProto{
				Name: fmt.Sprintf("/layer%d/add", layer), OpType: "Add",
				Input: []string{previous, weight}, Output: []string{sum},
			},
			&protos.NodeProto{
				Name: fmt.Sprintf("/layer%d/relu", layer), OpType: "Relu",
				Input: []string{sum}, Output: []string{activation},
			},
		)
		graph.ValueInfo = append(graph.ValueInfo,
			makeBenchValueInfo(sum, 1, width), makeBenchValueInfo(activation, 1, width))
		assignments = append(assignments, fmt.Sprintf("layer%d=%d", layer, layer/layersPerSplit))
		previous = activation
	}
	// The last activation is the graph output; its value info duplicate is
	// ignored by the builder.
	return &onnx.Model{Proto: &protos.ModelProto{
		IrVersion:   8,
		Graph:       graph,
		OpsetImport: []*protos.OperatorSetIdProto{{Version: 17}},
		MetadataProps: []*protos.StringStringEntryProto{
			{Key: split.AssignmentsMetadataKey, Value: strings.Join(assignments, ";")},
		},
	}}
}

func makeBenchValueInfo(name string, dims ...int64) *protos.ValueInfoProto {
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

func TestBenchSplitApply(t *testing.T) {
	if testing.Short() || *flagBenchDuration == 0 {
		t.SkipNow()
	}
	for _, config := range []struct{ layers, splits int }{
		{layers: 32, splits: 2},
		{layers: 128, splits: 4},
		{layers: 512, splits: 8},
	} {
		model := makeLayeredModel(config.layers, config.splits)
		testFn := benchmarks.NamedFunction{
			Name: fmt.Sprintf("Split/Apply/layers=%d/splits=%d", config.layers, config.splits),
			Func: func() {
				must.M1(split.Apply(model, nil))
			},
		}
		benchmarks.New(testFn).
			WithWarmUps(10).
			WithDuration(*flagBenchDuration).
			Done()
	}
}

func TestBenchModelCodec(t *testing.T) {
	if testing.Short() || *flagBenchDuration == 0 {
		t.SkipNow()
	}
	model := makeLayeredModel(128, 4)
	encoded := protos.Marshal(model.Proto)

	testFns := []benchmarks.NamedFunction{
		{
			Name: "Codec/Marshal/layers=128",
			Func: func() {
				_ = protos.Marshal(model.Proto)
			},
		},
		{
			Name: "Codec/Unmarshal/layers=128",
			Func: func() {
				must.M1(protos.Unmarshal(encoded))
			},
		},
	}
	benchmarks.New(testFns...).
		WithWarmUps(10).
		WithDuration(*flagBenchDuration).
		Done()
}

func BenchmarkSplitApply128(b *testing.B) {
	model := makeLayeredModel(128, 4)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		must.M1(split.Apply(model, nil))
	}
}
