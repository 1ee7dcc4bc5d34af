// Package split partitions an ONNX computation graph into independently
// servable sub-models, guided by a namespace → split assignment carried in
// the model's metadata (pipeline partitioning across stages or devices).
//
// Nodes whose namespace is assigned go to their split directly. Unlabeled
// nodes are propagated under one of two policies:
//
//   - Inclusive (Options.IncludeAllNodes, the default): every node ends up
//     in exactly one split. A node fed by assigned parents joins the
//     latest of them; a node strictly before the first split joins the
//     earliest split reachable through its consumers; anything else
//     defaults to split 0.
//   - Exclusive: nodes strictly after the last split, and head nodes with
//     neither assigned parents nor all-constant inputs, are dropped from
//     every output. Single-consumer Cast nodes bridging a graph input or
//     output to a split are pulled into that split.
//
// Constant nodes are replicated into every split with an assigned
// consumer. Cross-split tensors become typed inputs/outputs of the
// sub-models; types the model does not annotate are backfilled through a
// ShapeInferencer collaborator.
package split

import (
	"fmt"

	"github.com/admin-relentlessglobal/Olive/internal/protos"
	"github.com/admin-relentlessglobal/Olive/onnx"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ProducerName is recorded in every sub-model produced by the pass.
const ProducerName = "onnxsplit"

// Options configures the split pass.
type Options struct {
	// IncludeAllNodes selects the inclusive policy: every node is placed
	// in some split. When false, nodes outside the split cone are
	// excluded from all outputs.
	IncludeAllNodes bool

	// Inferencer backfills missing type/shape metadata. It is only
	// consulted when the model leaves cross-split tensors unannotated;
	// a run that needs it but has none configured fails.
	Inferencer ShapeInferencer
}

// DefaultOptions returns the default configuration: inclusive policy, no
// shape inferencer.
func DefaultOptions() *Options {
	return &Options{IncludeAllNodes: true}
}

// Component is one sub-model of a composite, with its deterministic name
// ("split_<i>").
type Component struct {
	Name  string
	Model *onnx.Model
}

// Composite is the ordered collection of sub-models produced by one run.
type Composite struct {
	Components []Component
}

// Apply splits the model into sub-models per its split_assignments
// metadata. It either returns the full composite or fails with no partial
// output; nothing is retried.
func Apply(model *onnx.Model, opts *Options) (*Composite, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if model.Proto.Graph == nil {
		return nil, errors.New("model has no graph")
	}
	if len(model.Proto.Functions) > 0 {
		return nil, errors.New("models with local functions are not supported")
	}
	if len(model.Proto.Graph.SparseInitializer) > 0 {
		return nil, errors.New("models with sparse initializers are not supported")
	}

	metadata, found := model.Metadata(AssignmentsMetadataKey)
	if !found {
		return nil, errors.New("no split assignments found in the model metadata")
	}
	splitAssignments, err := ParseAssignments(metadata)
	if err != nil {
		return nil, err
	}
	nSplits, err := numSplits(splitAssignments)
	if err != nil {
		return nil, err
	}
	depth, err := namespaceDepth(splitAssignments)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("splitting %q into %d sub-models (namespace depth %d, includeAllNodes=%v)",
		model.Proto.Graph.Name, nSplits, depth, opts.IncludeAllNodes)

	// The split never descends into nested graphs: only the main graph is
	// modeled and partitioned.
	dag, err := onnx.NewDAG(model.Proto.Graph)
	if err != nil {
		return nil, err
	}
	if removed := dag.RemoveIdentityNodes(); removed > 0 {
		klog.V(1).Infof("removed %d identity nodes before splitting", removed)
	}

	var splitDags []*onnx.DAG
	var deferred []deferredValueInfo
	err = exceptions.TryCatch[error](func() {
		assignments := assignNodes(dag, splitAssignments, depth, opts.IncludeAllNodes)
		splitDags, deferred = materialize(dag, assignments, model.Proto.Graph.Name, nSplits)
	})
	if err != nil {
		return nil, err
	}

	if len(deferred) > 0 {
		if err := backfillValueInfo(model, splitDags, deferred, opts.Inferencer); err != nil {
			return nil, err
		}
	}

	composite := &Composite{}
	for i, splitDag := range splitDags {
		graph, err := splitDag.Finalize()
		if err != nil {
			return nil, errors.WithMessagef(err, "while finalizing split %d", i)
		}
		composite.Components = append(composite.Components, Component{
			Name:  fmt.Sprintf("split_%d", i),
			Model: &onnx.Model{Proto: newSplitProto(model.Proto, graph)},
		})
	}
	return composite, nil
}

// backfillValueInfo runs shape inference once against the original,
// unsplit model and overwrites every deferred placeholder. A tensor still
// unresolved afterwards is a structurally invalid reference and aborts the
// run.
func backfillValueInfo(model *onnx.Model, splitDags []*onnx.DAG, deferred []deferredValueInfo, inferencer ShapeInferencer) error {
	klog.V(1).Infof("missing value info for %d tensors; running shape inference", len(deferred))
	if inferencer == nil {
		return errors.Errorf("%d tensors are missing value info and no shape inferencer is configured", len(deferred))
	}
	inferredProto, err := inferencer.InferShapes(model.Proto, true)
	if err != nil {
		return errors.WithMessage(err, "shape inference failed")
	}
	inferredDag, err := onnx.NewDAG(inferredProto.Graph)
	if err != nil {
		return errors.WithMessage(err, "shape inference returned a malformed model")
	}
	for _, def := range deferred {
		vi := inferredDag.ValueInfo(def.name)
		if vi == nil || vi.Type == nil {
			return errors.Errorf("missing value info for %q in split %d, even after shape inference", def.name, def.split)
		}
		splitDags[def.split].AddValueInfo(vi, true)
	}
	return nil
}

// newSplitProto wraps a split graph in a model that inherits the source
// model's IR version and operator sets.
func newSplitProto(source *protos.ModelProto, graph *protos.GraphProto) *protos.ModelProto {
	proto := &protos.ModelProto{
		IrVersion:    source.IrVersion,
		ProducerName: ProducerName,
		Graph:        graph,
	}
	for _, opset := range source.OpsetImport {
		proto.OpsetImport = append(proto.OpsetImport, &protos.OperatorSetIdProto{
			Domain:  opset.Domain,
			Version: opset.Version,
		})
	}
	return proto
}
